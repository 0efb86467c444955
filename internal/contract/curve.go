package contract

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/chainkit/txsim/internal/domain"
)

// CurvePool swaps tokens through a Curve stable-swap pool. Curve identifies
// coins by pool-local index rather than address, so every swap starts with
// an index lookup against the pool's coin registry.
type CurvePool struct {
	*Bound
	minOut *big.Int
	logger *slog.Logger
}

// NewCurvePool binds the pool ABI to a deployed pool. minOut is the minimum
// acceptable output amount applied to every exchange.
func NewCurvePool(reg *Registry, address common.Address, minOut *big.Int, backend Backend, logger *slog.Logger) (*CurvePool, error) {
	bound, err := NewBound(reg, ABICurvePool, address, backend)
	if err != nil {
		return nil, err
	}
	if minOut == nil {
		minOut = big.NewInt(0)
	}
	return &CurvePool{
		Bound:  bound,
		minOut: minOut,
		logger: logger.With(slog.String("component", "curve_pool")),
	}, nil
}

// CoinIndexes resolves the pool index of each wanted token. Index lookups
// run concurrently, one coins(i) call per pool slot. Tokens absent from the
// pool are missing from the returned map.
func (p *CurvePool) CoinIndexes(ctx context.Context, wanted ...common.Address) (map[common.Address]int64, error) {
	results, err := p.Call(ctx, "N_COINS")
	if err != nil {
		return nil, err
	}
	numCoins, err := toBigInt(results, "N_COINS")
	if err != nil {
		return nil, err
	}

	wantedSet := make(map[common.Address]struct{}, len(wanted))
	for _, addr := range wanted {
		wantedSet[addr] = struct{}{}
	}

	var mu sync.Mutex
	indexes := make(map[common.Address]int64)

	g, gctx := errgroup.WithContext(ctx)
	for i := int64(0); i < numCoins.Int64(); i++ {
		g.Go(func() error {
			results, err := p.Call(gctx, "coins", big.NewInt(i))
			if err != nil {
				return err
			}
			if len(results) != 1 {
				return fmt.Errorf("contract: coins returned %d values, want 1", len(results))
			}
			addr, ok := results[0].(common.Address)
			if !ok {
				return fmt.Errorf("contract: coins returned %T, want common.Address", results[0])
			}
			if _, want := wantedSet[addr]; want {
				mu.Lock()
				indexes[addr] = i
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return indexes, nil
}

// Quote estimates the output amount for exchanging dx of coin i into coin j.
func (p *CurvePool) Quote(ctx context.Context, i, j int64, dx *big.Int) (*big.Int, error) {
	results, err := p.Call(ctx, "get_dy", big.NewInt(i), big.NewInt(j), dx)
	if err != nil {
		return nil, err
	}
	return toBigInt(results, "get_dy")
}

// Swap sells amount of tokenIn for tokenOut. Both tokens must be coins of
// this pool or the swap fails with ErrCoinNotInPool before any transaction
// is sent.
func (p *CurvePool) Swap(ctx context.Context, tokenIn, tokenOut common.Address, amount *big.Int) (domain.TxResult, error) {
	indexes, err := p.CoinIndexes(ctx, tokenIn, tokenOut)
	if err != nil {
		return domain.TxResult{}, err
	}
	if len(indexes) != 2 {
		return domain.TxResult{}, fmt.Errorf("contract: pool %s: %w", p.Address().Hex(), domain.ErrCoinNotInPool)
	}
	i, j := indexes[tokenIn], indexes[tokenOut]

	quote, err := p.Quote(ctx, i, j, amount)
	if err != nil {
		return domain.TxResult{}, err
	}
	p.logger.Info("swap quote",
		slog.String("token_in", tokenIn.Hex()),
		slog.String("token_out", tokenOut.Hex()),
		slog.String("amount_in", amount.String()),
		slog.String("estimated_out", quote.String()),
	)

	return p.Transact(ctx, nil, "exchange", big.NewInt(i), big.NewInt(j), amount, p.minOut)
}
