package ethnode

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHeadSource serves a scripted sequence of block numbers to the polling
// path and a scripted list of headers to the subscription path.
type fakeHeadSource struct {
	mu      sync.Mutex
	numbers []uint64
	errAt   map[int]error
	calls   int

	headers []*types.Header
	subErr  error
}

func (f *fakeHeadSource) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if err, ok := f.errAt[i]; ok {
		return 0, err
	}
	if i >= len(f.numbers) {
		return f.numbers[len(f.numbers)-1], nil
	}
	return f.numbers[i], nil
}

func (f *fakeHeadSource) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	sub := &fakeSubscription{errc: make(chan error)}
	go func() {
		for _, h := range f.headers {
			select {
			case ch <- h:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub, nil
}

type fakeSubscription struct {
	errc chan error
}

func (s *fakeSubscription) Unsubscribe()      {}
func (s *fakeSubscription) Err() <-chan error { return s.errc }

func collectBlocks(t *testing.T, out <-chan uint64, n int) []uint64 {
	t.Helper()
	var got []uint64
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case b := <-out:
			got = append(got, b)
		case <-timeout:
			t.Fatalf("timed out waiting for blocks, got %v", got)
		}
	}
	return got
}

func TestBlockWatcherPolling(t *testing.T) {
	src := &fakeHeadSource{numbers: []uint64{5, 5, 6, 6, 8, 9}}
	w := NewBlockWatcher(src, "http://localhost:8545", time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan uint64, 8)
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx, out) }()

	got := collectBlocks(t, out, 3)
	assert.Equal(t, []uint64{6, 8, 9}, got)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestBlockWatcherPollingSurvivesErrors(t *testing.T) {
	src := &fakeHeadSource{
		numbers: []uint64{3, 3, 4, 5},
		errAt:   map[int]error{1: errors.New("connection reset")},
	}
	w := NewBlockWatcher(src, "https://rpc.example.org", time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan uint64, 8)
	go func() { _ = w.Run(ctx, out) }()

	got := collectBlocks(t, out, 2)
	assert.Equal(t, []uint64{4, 5}, got)
}

func TestBlockWatcherSubscription(t *testing.T) {
	head := func(n int64) *types.Header { return &types.Header{Number: big.NewInt(n)} }
	src := &fakeHeadSource{
		headers: []*types.Header{head(10), head(11), head(11), head(13)},
	}
	w := NewBlockWatcher(src, "wss://rpc.example.org", time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan uint64, 8)
	go func() { _ = w.Run(ctx, out) }()

	got := collectBlocks(t, out, 3)
	assert.Equal(t, []uint64{10, 11, 13}, got)
}

func TestBlockWatcherSubscriptionFallsBackToPolling(t *testing.T) {
	src := &fakeHeadSource{
		subErr:  errors.New("notifications not supported"),
		numbers: []uint64{1, 2},
	}
	w := NewBlockWatcher(src, "ws://localhost:8546", time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan uint64, 8)
	go func() { _ = w.Run(ctx, out) }()

	got := collectBlocks(t, out, 1)
	assert.Equal(t, []uint64{2}, got)
}
