// Package notify fans transaction alerts out to operator channels
// (Telegram, Discord). Alerts carry an event type so operators can filter
// down to the ones they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chainkit/txsim/internal/domain"
)

// Event types emitted by the programs.
const (
	EventTxSent          = "tx_sent"
	EventTxFailed        = "tx_failed"
	EventSwapComplete    = "swap_complete"
	EventSwapFailed      = "swap_failed"
	EventArchiveComplete = "archive_complete"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to every configured Sender, filtered by event
// type. An empty allow list lets everything through.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders. Only event types in
// events pass the filter; an empty slice allows all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers a titled message for the given event type if it passes the
// filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyTx formats and delivers an alert for one transaction attempt. The
// event type follows from the transaction's status and kind.
func (n *Notifier) NotifyTx(ctx context.Context, ev domain.TxEvent) error {
	event := EventTxSent
	switch {
	case ev.Kind == domain.TxKindSwap && ev.Status == domain.TxSuccess:
		event = EventSwapComplete
	case ev.Kind == domain.TxKindSwap:
		event = EventSwapFailed
	case ev.Status != domain.TxSuccess:
		event = EventTxFailed
	}

	title := fmt.Sprintf("%s: %s %s", ev.Program, ev.Kind, ev.Status)

	var b strings.Builder
	fmt.Fprintf(&b, "amount: %s", ev.Amount)
	if ev.Venue != "" {
		fmt.Fprintf(&b, "\nvenue: %s", ev.Venue)
	}
	if ev.Hash != "" {
		fmt.Fprintf(&b, "\ntx: %s", ev.Hash)
	}
	if ev.Attempt > 0 {
		fmt.Fprintf(&b, "\nattempt: %d", ev.Attempt)
	}

	return n.Notify(ctx, event, title, b.String())
}

// dispatch sends to every sender. One sender failing does not stop delivery
// to the rest; failures come back as a combined error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
