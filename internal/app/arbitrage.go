package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/chainkit/txsim/internal/config"
	"github.com/chainkit/txsim/internal/contract"
	"github.com/chainkit/txsim/internal/domain"
	"github.com/chainkit/txsim/internal/ethnode"
	"github.com/chainkit/txsim/internal/keystore"
)

// ArbitrageParams carries the CLI arguments of the arbitrage program.
type ArbitrageParams struct {
	// Amount to swap on each leg, in token base units.
	Amount *big.Int

	// Retries bounds reconnect attempts, approval re-sends, and swap
	// re-sends per leg.
	Retries int
}

// Swapper executes a token swap on one venue.
type Swapper interface {
	Swap(ctx context.Context, tokenIn, tokenOut common.Address, amount *big.Int) (domain.TxResult, error)
}

// approver grants a spender an allowance. *contract.ERC20 satisfies it.
type approver interface {
	Approve(ctx context.Context, spender common.Address, amount *big.Int) (domain.TxResult, error)
}

// arbLeg is one side of the simulated arbitrage: approve the venue's swap
// contract to spend the sell token, then swap it for the buy token.
type arbLeg struct {
	venue    string
	endpoint string
	from     common.Address
	sellCoin approver
	sellAddr common.Address
	buyAddr  common.Address
	spender  common.Address
	swapper  Swapper
}

// RunArbitrage swaps the same amount across two venues concurrently: a
// Uniswap v3 router on the first endpoint and a Curve pool on the second,
// in opposite directions. Each leg approves and swaps independently; one
// leg giving up does not stop the other.
func (a *App) RunArbitrage(ctx context.Context, p ArbitrageParams) error {
	if p.Amount == nil || p.Amount.Sign() < 0 {
		return fmt.Errorf("app: amount must be >= 0")
	}

	deps, err := a.wire(ctx, domain.ProgramArbitrage)
	if err != nil {
		return err
	}
	defer a.Close()

	key, err := a.loadKey()
	if err != nil {
		return err
	}

	reg, err := contract.NewRegistry()
	if err != nil {
		return err
	}
	if a.cfg.ABIDir != "" {
		if err := reg.LoadDir(a.cfg.ABIDir); err != nil {
			return err
		}
	}

	node1, err := a.dialVenue(ctx, deps, a.cfg.Venue1, key, p.Retries)
	if err != nil {
		return err
	}
	defer node1.Close()

	node2, err := a.dialVenue(ctx, deps, a.cfg.Venue2, key, p.Retries)
	if err != nil {
		return err
	}
	defer node2.Close()

	// Leg 1 sells coin A for coin B through the Uniswap router.
	router, err := contract.NewUniswapRouter(
		reg,
		common.HexToAddress(a.cfg.Venue1.SwapAddress),
		node1.Address(),
		a.cfg.Venue1.PoolFee,
		big.NewInt(a.cfg.Venue1.MinOut),
		node1,
	)
	if err != nil {
		return err
	}
	coinA1, err := contract.NewERC20(reg, common.HexToAddress(a.cfg.Venue1.CoinAAddress), node1)
	if err != nil {
		return err
	}

	// Leg 2 sells coin B back for coin A through the Curve pool.
	pool, err := contract.NewCurvePool(
		reg,
		common.HexToAddress(a.cfg.Venue2.SwapAddress),
		big.NewInt(a.cfg.Venue2.MinOut),
		node2,
		a.logger,
	)
	if err != nil {
		return err
	}
	coinB2, err := contract.NewERC20(reg, common.HexToAddress(a.cfg.Venue2.CoinBAddress), node2)
	if err != nil {
		return err
	}

	legs := []arbLeg{
		{
			venue:    "uniswap",
			endpoint: a.cfg.Venue1.Endpoint,
			from:     node1.Address(),
			sellCoin: coinA1,
			sellAddr: coinA1.Address(),
			buyAddr:  common.HexToAddress(a.cfg.Venue1.CoinBAddress),
			spender:  router.Address(),
			swapper:  router,
		},
		{
			venue:    "curve",
			endpoint: a.cfg.Venue2.Endpoint,
			from:     node2.Address(),
			sellCoin: coinB2,
			sellAddr: coinB2.Address(),
			buyAddr:  common.HexToAddress(a.cfg.Venue2.CoinAAddress),
			spender:  pool.Address(),
			swapper:  pool,
		},
	}

	// Leg failures are collected rather than returned from the group, so
	// one venue giving up never cancels the sibling leg.
	legErrs := make([]error, len(legs))
	g, gctx := errgroup.WithContext(ctx)
	for i, leg := range legs {
		g.Go(func() error {
			err := a.runLeg(gctx, deps, leg, p.Amount, p.Retries)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			legErrs[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := errors.Join(legErrs...); err != nil {
		return err
	}

	a.logger.Info("arbitrage complete")
	return nil
}

// dialVenue connects to one venue's endpoint with the shared wallet key.
func (a *App) dialVenue(ctx context.Context, deps *Dependencies, venue config.VenueConfig, key *keystore.Key, retries int) (*ethnode.Node, error) {
	node, err := ethnode.Dial(ctx, ethnode.Config{
		Endpoint:       venue.Endpoint,
		Retries:        retries,
		GasLimit:       a.cfg.Chain.GasLimit,
		ReceiptTimeout: a.cfg.Chain.ReceiptTimeout.Duration,
	}, key.Private, a.logger)
	if err != nil {
		return nil, err
	}
	if deps.Locks != nil {
		node = node.WithLockManager(deps.Locks)
	}
	return node, nil
}

// runLeg performs approve-then-swap with per-step retries. A leg whose
// approval never lands gives up instead of swapping unapproved funds. A
// terminal venue failure wraps ErrTxFailed (approve) or ErrSwapFailed
// (swap); the caller decides whether that stops the sibling leg.
func (a *App) runLeg(ctx context.Context, deps *Dependencies, leg arbLeg, amount *big.Int, retries int) error {
	logger := a.logger.With(slog.String("venue", leg.venue))

	logger.InfoContext(ctx, "approving swap allowance",
		slog.String("token", leg.sellAddr.Hex()),
		slog.String("spender", leg.spender.Hex()),
		slog.String("amount", amount.String()),
	)
	result := a.retryTx(ctx, deps, retries, txRecordMeta{
		program:  domain.ProgramArbitrage,
		kind:     domain.TxKindApprove,
		endpoint: leg.endpoint,
		venue:    leg.venue,
		from:     leg.from.Hex(),
		to:       leg.sellAddr.Hex(),
		amount:   amount.String(),
	}, func(ctx context.Context) (domain.TxResult, error) {
		return leg.sellCoin.Approve(ctx, leg.spender, amount)
	})
	if result.Status != domain.TxSuccess {
		logger.ErrorContext(ctx, "approval did not land, aborting leg",
			slog.String("status", string(result.Status)),
		)
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("app: %s approval did not land: %w", leg.venue, domain.ErrTxFailed)
	}
	logger.InfoContext(ctx, "approval succeeded", slog.String("tx_hash", result.Hash))

	logger.InfoContext(ctx, "swapping",
		slog.String("token_in", leg.sellAddr.Hex()),
		slog.String("token_out", leg.buyAddr.Hex()),
		slog.String("amount", amount.String()),
	)
	result = a.retryTx(ctx, deps, retries, txRecordMeta{
		program:  domain.ProgramArbitrage,
		kind:     domain.TxKindSwap,
		endpoint: leg.endpoint,
		venue:    leg.venue,
		from:     leg.from.Hex(),
		to:       leg.spender.Hex(),
		amount:   amount.String(),
	}, func(ctx context.Context) (domain.TxResult, error) {
		return leg.swapper.Swap(ctx, leg.sellAddr, leg.buyAddr, amount)
	})
	if result.Status != domain.TxSuccess {
		logger.ErrorContext(ctx, "swap did not land",
			slog.String("status", string(result.Status)),
		)
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("app: %s swap did not land: %w", leg.venue, domain.ErrSwapFailed)
	}

	logger.InfoContext(ctx, "swap succeeded", slog.String("tx_hash", result.Hash))
	return nil
}
