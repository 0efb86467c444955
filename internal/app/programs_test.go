package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainkit/txsim/internal/config"
	"github.com/chainkit/txsim/internal/domain"
	"github.com/chainkit/txsim/internal/notify"
)

var (
	testFrom = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	testTo   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func testApp() *App {
	cfg := config.Defaults()
	return New(&cfg, slog.Default())
}

type memJournal struct {
	mu      sync.Mutex
	records []domain.TxRecord
}

func (j *memJournal) Insert(ctx context.Context, rec domain.TxRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

func (j *memJournal) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TxRecord, error) {
	return nil, nil
}

func (j *memJournal) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TxRecord, error) {
	return nil, nil
}

func (j *memJournal) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (j *memJournal) all() []domain.TxRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.TxRecord(nil), j.records...)
}

func testDeps(journal *memJournal) *Dependencies {
	return &Dependencies{
		Journal:  journal,
		Notifier: notify.NewNotifier(nil, nil, slog.Default()),
	}
}

// scriptedSender returns one TxResult per SendETH call, repeating the last.
type scriptedSender struct {
	mu      sync.Mutex
	results []domain.TxResult
	errs    []error
	calls   int
}

func (s *scriptedSender) SendETH(ctx context.Context, to common.Address, amountWei *big.Int) (domain.TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return domain.TxResult{}, s.errs[i]
	}
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], nil
}

func (s *scriptedSender) Address() common.Address { return testFrom }
func (s *scriptedSender) Endpoint() string        { return "http://localhost:8545" }

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestSendOnBlocksEveryNth(t *testing.T) {
	a := testApp()
	journal := &memJournal{}
	deps := testDeps(journal)
	sender := &scriptedSender{results: []domain.TxResult{{Status: domain.TxSuccess, Hash: "0x1"}}}

	ctx, cancel := context.WithCancel(context.Background())
	blocks := make(chan uint64, 8)
	done := make(chan error, 1)
	go func() {
		done <- a.sendOnBlocks(ctx, deps, sender, blocks, testTo, big.NewInt(1e15), 3, 0)
	}()

	for b := uint64(1); b <= 6; b++ {
		blocks <- b
	}
	require.Eventually(t, func() bool {
		return sender.callCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	records := journal.all()
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, domain.ProgramListenAndSend, rec.Program)
		assert.Equal(t, domain.TxKindSendETH, rec.Kind)
		assert.Equal(t, domain.TxSuccess, rec.Status)
		assert.Equal(t, testFrom.Hex(), rec.From)
		assert.Equal(t, testTo.Hex(), rec.To)
	}
}

func TestRetryTxRetriesUntilSuccess(t *testing.T) {
	a := testApp()
	journal := &memJournal{}
	deps := testDeps(journal)

	calls := 0
	result := a.retryTx(context.Background(), deps, 5, txRecordMeta{
		program: domain.ProgramListenAndSend,
		kind:    domain.TxKindSendETH,
		amount:  "1",
	}, func(ctx context.Context) (domain.TxResult, error) {
		calls++
		if calls < 3 {
			return domain.TxResult{Status: domain.TxFailed, Hash: "0xdead"}, nil
		}
		return domain.TxResult{Status: domain.TxSuccess, Hash: "0xbeef"}, nil
	})

	assert.Equal(t, domain.TxSuccess, result.Status)
	assert.Equal(t, 3, calls)

	records := journal.all()
	require.Len(t, records, 3)
	assert.Equal(t, 0, records[0].Attempt)
	assert.Equal(t, domain.TxFailed, records[0].Status)
	assert.Equal(t, 2, records[2].Attempt)
	assert.Equal(t, domain.TxSuccess, records[2].Status)
}

func TestRetryTxExhaustsBudget(t *testing.T) {
	a := testApp()
	journal := &memJournal{}
	deps := testDeps(journal)

	calls := 0
	result := a.retryTx(context.Background(), deps, 2, txRecordMeta{
		kind:   domain.TxKindSendETH,
		amount: "1",
	}, func(ctx context.Context) (domain.TxResult, error) {
		calls++
		return domain.TxResult{Status: domain.TxFailed, Hash: "0xdead"}, nil
	})

	assert.Equal(t, domain.TxFailed, result.Status)
	assert.Equal(t, 3, calls)
	assert.Len(t, journal.all(), 3)
}

func TestRetryTxTransportErrorCountsAsNotVerified(t *testing.T) {
	a := testApp()
	journal := &memJournal{}
	deps := testDeps(journal)

	result := a.retryTx(context.Background(), deps, 0, txRecordMeta{
		kind:   domain.TxKindSendETH,
		amount: "1",
	}, func(ctx context.Context) (domain.TxResult, error) {
		return domain.TxResult{}, errors.New("connection refused")
	})

	assert.Equal(t, domain.TxNotVerified, result.Status)
	records := journal.all()
	require.Len(t, records, 1)
	assert.Equal(t, domain.TxNotVerified, records[0].Status)
	assert.Empty(t, records[0].TxHash)
}

// fakeEventSource serves a stored event stream and a pre-filled live
// channel.
type fakeEventSource struct {
	stream    []domain.StreamMessage
	live      chan []byte
	tailCount int
}

func (f *fakeEventSource) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return f.live, nil
}

func (f *fakeEventSource) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	if count > len(f.stream) {
		count = len(f.stream)
	}
	return f.stream[:count], nil
}

func (f *fakeEventSource) StreamTail(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error) {
	f.tailCount = count
	if count > len(f.stream) {
		count = len(f.stream)
	}
	return f.stream[len(f.stream)-count:], nil
}

func TestTailPrintsNewestBacklogThenFollows(t *testing.T) {
	a := testApp()

	source := &fakeEventSource{live: make(chan []byte, 1)}
	for i := 1; i <= 5; i++ {
		source.stream = append(source.stream, domain.StreamMessage{
			ID:      fmt.Sprintf("%d-0", i),
			Payload: []byte(fmt.Sprintf("event-%d", i)),
		})
	}
	source.live <- []byte("event-6")
	close(source.live)

	var out bytes.Buffer
	err := a.tailEvents(context.Background(), source, TailParams{Backlog: 2, Out: &out})
	require.NoError(t, err)

	assert.Equal(t, 2, source.tailCount)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "event-4", lines[0], "backlog starts at the newest events, not the oldest")
	assert.Equal(t, "event-5", lines[1])
	assert.Equal(t, "event-6", lines[2])
}

func TestTailSkipsBacklogWhenZero(t *testing.T) {
	a := testApp()

	source := &fakeEventSource{live: make(chan []byte)}
	close(source.live)

	var out bytes.Buffer
	err := a.tailEvents(context.Background(), source, TailParams{Backlog: 0, Out: &out})
	require.NoError(t, err)
	assert.Zero(t, source.tailCount)
	assert.Empty(t, out.String())
}

type scriptedApprover struct {
	results []domain.TxResult
	calls   int
}

func (s *scriptedApprover) Approve(ctx context.Context, spender common.Address, amount *big.Int) (domain.TxResult, error) {
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], nil
}

type countingSwapper struct {
	result domain.TxResult
	calls  int
}

func (s *countingSwapper) Swap(ctx context.Context, tokenIn, tokenOut common.Address, amount *big.Int) (domain.TxResult, error) {
	s.calls++
	return s.result, nil
}

func testLeg(approve *scriptedApprover, swap *countingSwapper) arbLeg {
	return arbLeg{
		venue:    "uniswap",
		endpoint: "http://localhost:8545",
		from:     testFrom,
		sellCoin: approve,
		sellAddr: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		buyAddr:  common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"),
		spender:  common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
		swapper:  swap,
	}
}

func TestRunLegApproveAndSwap(t *testing.T) {
	a := testApp()
	journal := &memJournal{}
	deps := testDeps(journal)

	approve := &scriptedApprover{results: []domain.TxResult{{Status: domain.TxSuccess, Hash: "0xa"}}}
	swap := &countingSwapper{result: domain.TxResult{Status: domain.TxSuccess, Hash: "0xb"}}

	err := a.runLeg(context.Background(), deps, testLeg(approve, swap), big.NewInt(1000), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, approve.calls)
	assert.Equal(t, 1, swap.calls)

	records := journal.all()
	require.Len(t, records, 2)
	assert.Equal(t, domain.TxKindApprove, records[0].Kind)
	assert.Equal(t, domain.TxKindSwap, records[1].Kind)
}

func TestRunLegApproveFailureSkipsSwap(t *testing.T) {
	a := testApp()
	journal := &memJournal{}
	deps := testDeps(journal)

	approve := &scriptedApprover{results: []domain.TxResult{{Status: domain.TxFailed, Hash: "0xa"}}}
	swap := &countingSwapper{result: domain.TxResult{Status: domain.TxSuccess}}

	err := a.runLeg(context.Background(), deps, testLeg(approve, swap), big.NewInt(1000), 1)
	require.ErrorIs(t, err, domain.ErrTxFailed)
	assert.Equal(t, 2, approve.calls, "initial attempt plus one retry")
	assert.Zero(t, swap.calls)

	records := journal.all()
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, domain.TxKindApprove, rec.Kind)
		assert.Equal(t, domain.ProgramArbitrage, rec.Program)
		assert.Equal(t, "http://localhost:8545", rec.Endpoint)
	}
}

func TestRunLegSwapFailureReturnsSwapError(t *testing.T) {
	a := testApp()
	journal := &memJournal{}
	deps := testDeps(journal)

	approve := &scriptedApprover{results: []domain.TxResult{{Status: domain.TxSuccess, Hash: "0xa"}}}
	swap := &countingSwapper{result: domain.TxResult{Status: domain.TxNotVerified}}

	err := a.runLeg(context.Background(), deps, testLeg(approve, swap), big.NewInt(1000), 1)
	require.ErrorIs(t, err, domain.ErrSwapFailed)
	assert.NotErrorIs(t, err, domain.ErrTxFailed)
	assert.Equal(t, 2, swap.calls, "initial attempt plus one retry")
}

func TestRunLegApproveRetriesThenSwaps(t *testing.T) {
	a := testApp()
	journal := &memJournal{}
	deps := testDeps(journal)

	approve := &scriptedApprover{results: []domain.TxResult{
		{Status: domain.TxNotVerified},
		{Status: domain.TxSuccess, Hash: "0xa"},
	}}
	swap := &countingSwapper{result: domain.TxResult{Status: domain.TxSuccess, Hash: "0xb"}}

	err := a.runLeg(context.Background(), deps, testLeg(approve, swap), big.NewInt(1000), 3)
	require.NoError(t, err)
	assert.Equal(t, 2, approve.calls)
	assert.Equal(t, 1, swap.calls)
}
