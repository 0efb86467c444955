package ethnode

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// errorWait is how long the polling loop pauses after a transient RPC error
// before asking for the block number again.
const errorWait = 3 * time.Second

// HeadSource is the subset of the RPC client the block watcher needs.
// *ethclient.Client satisfies it.
type HeadSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// BlockWatcher emits the chain's latest block number each time it advances.
// Websocket endpoints get a newHeads subscription; HTTP endpoints fall back
// to polling. Transient RPC errors are logged and retried, never fatal.
type BlockWatcher struct {
	source    HeadSource
	subscribe bool
	poll      time.Duration
	logger    *slog.Logger
}

// NewBlockWatcher creates a watcher over source. The endpoint URL decides
// the watch strategy; poll is the polling interval for HTTP endpoints.
func NewBlockWatcher(source HeadSource, endpoint string, poll time.Duration, logger *slog.Logger) *BlockWatcher {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &BlockWatcher{
		source:    source,
		subscribe: strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://"),
		poll:      poll,
		logger:    logger.With(slog.String("component", "block_watcher")),
	}
}

// Run watches for new blocks and sends each newly observed block number on
// out. It blocks until ctx is cancelled. When a newHeads subscription drops
// or cannot be established, the watcher falls back to polling.
func (w *BlockWatcher) Run(ctx context.Context, out chan<- uint64) error {
	if w.subscribe {
		err := w.runSubscription(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("newHeads subscription lost, falling back to polling",
			slog.String("error", err.Error()),
		)
	}
	return w.runPolling(ctx, out)
}

// runSubscription consumes a newHeads subscription until it drops.
func (w *BlockWatcher) runSubscription(ctx context.Context, out chan<- uint64) error {
	heads := make(chan *types.Header, 16)
	sub, err := w.source.SubscribeNewHead(ctx, heads)
	if err != nil {
		return fmt.Errorf("subscribe newHeads: %w", err)
	}
	defer sub.Unsubscribe()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("newHeads subscription: %w", err)
		case head := <-heads:
			number := head.Number.Uint64()
			if number <= last {
				continue
			}
			last = number
			select {
			case out <- number:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// runPolling compares the latest block number at each tick and emits once
// per observed change.
func (w *BlockWatcher) runPolling(ctx context.Context, out chan<- uint64) error {
	last, err := w.blockNumberRetry(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("watching blocks", slog.Uint64("start_block", last))

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			number, err := w.source.BlockNumber(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Warn("block number poll failed, retrying",
					slog.String("error", err.Error()),
				)
				continue
			}
			if number <= last {
				continue
			}
			last = number
			select {
			case out <- number:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// blockNumberRetry fetches the current block number, waiting out transient
// errors until ctx is cancelled.
func (w *BlockWatcher) blockNumberRetry(ctx context.Context) (uint64, error) {
	for {
		number, err := w.source.BlockNumber(ctx)
		if err == nil {
			return number, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		w.logger.Warn("block number fetch failed, retrying",
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(errorWait):
		}
	}
}
