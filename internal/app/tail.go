package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/chainkit/txsim/internal/domain"
)

// TailParams carries the CLI arguments of the tail program.
type TailParams struct {
	// Backlog is how many stored stream entries to print before following
	// live events. Zero skips the backlog.
	Backlog int

	// Out receives one JSON event per line.
	Out io.Writer
}

// RunTail prints transaction events from the bus: the most recent stored
// events first, then live pub/sub events until the context is cancelled.
func (a *App) RunTail(ctx context.Context, p TailParams) error {
	deps, err := a.wire(ctx, domain.ProgramTail)
	if err != nil {
		return err
	}
	defer a.Close()

	if deps.Events == nil {
		return fmt.Errorf("app: tail needs redis enabled")
	}
	return a.tailEvents(ctx, deps.Events, p)
}

// tailEvents prints the newest Backlog stream entries in chronological
// order, then follows the live event channel.
func (a *App) tailEvents(ctx context.Context, source EventSource, p TailParams) error {
	if p.Backlog > 0 {
		messages, err := source.StreamTail(ctx, EventStream, p.Backlog)
		if err != nil {
			return err
		}
		for _, msg := range messages {
			fmt.Fprintln(p.Out, string(msg.Payload))
		}
	}

	events, err := source.Subscribe(ctx, EventChannel)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				return nil
			}
			fmt.Fprintln(p.Out, string(payload))
		}
	}
}
