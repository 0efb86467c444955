package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/chainkit/txsim/internal/domain"
	"github.com/chainkit/txsim/internal/ethnode"
)

// ListenAndSendParams carries the CLI arguments of the listenAndSend
// program.
type ListenAndSendParams struct {
	// AmountETH is the amount to send per transfer, in ether, as a decimal
	// string.
	AmountETH string

	// Blocks is how many new blocks to observe between transfers.
	Blocks int

	// Retries bounds reconnect attempts and re-sends of an unsuccessful
	// transfer.
	Retries int
}

// ethSender is the slice of ethnode.Node the send loop uses.
type ethSender interface {
	SendETH(ctx context.Context, to common.Address, amountWei *big.Int) (domain.TxResult, error)
	Address() common.Address
	Endpoint() string
}

// RunListenAndSend watches the chain and transfers a fixed amount of ETH
// every n-th new block until the context is cancelled.
func (a *App) RunListenAndSend(ctx context.Context, p ListenAndSendParams) error {
	if p.Blocks < 1 {
		return fmt.Errorf("app: blocks must be >= 1, got %d", p.Blocks)
	}
	amountWei, err := ethnode.ParseEther(p.AmountETH)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	to, err := ethnode.ValidateAddress(a.cfg.Chain.ToAddress)
	if err != nil {
		return fmt.Errorf("app: to_address: %w", err)
	}

	deps, err := a.wire(ctx, domain.ProgramListenAndSend)
	if err != nil {
		return err
	}
	defer a.Close()

	key, err := a.loadKey()
	if err != nil {
		return err
	}

	node, err := ethnode.Dial(ctx, ethnode.Config{
		Endpoint:       a.cfg.Chain.Endpoint,
		Retries:        p.Retries,
		GasLimit:       a.cfg.Chain.GasLimit,
		ReceiptTimeout: a.cfg.Chain.ReceiptTimeout.Duration,
	}, key.Private, a.logger)
	if err != nil {
		return err
	}
	defer node.Close()
	if deps.Locks != nil {
		node = node.WithLockManager(deps.Locks)
	}

	a.logger.InfoContext(ctx, "listen and send ready",
		slog.String("from", node.Address().Hex()),
		slog.String("to", to.Hex()),
		slog.String("amount_wei", amountWei.String()),
		slog.Int("blocks", p.Blocks),
	)

	watcher := ethnode.NewBlockWatcher(node.Client(), a.cfg.Chain.Endpoint, a.cfg.Chain.PollInterval.Duration, a.logger)
	blocks := make(chan uint64, 16)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx, blocks)
	})
	g.Go(func() error {
		return a.sendOnBlocks(gctx, deps, node, blocks, to, amountWei, p.Blocks, p.Retries)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("listen and send stopped")
	return nil
}

// sendOnBlocks consumes new block numbers and triggers a transfer whenever
// the block counter wraps.
func (a *App) sendOnBlocks(
	ctx context.Context,
	deps *Dependencies,
	sender ethSender,
	blocks <-chan uint64,
	to common.Address,
	amountWei *big.Int,
	numBlocks, retries int,
) error {
	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case number := <-blocks:
			a.logger.InfoContext(ctx, "new block", slog.Uint64("block", number))
			count = (count + 1) % numBlocks
			if count != 0 {
				continue
			}

			a.logger.InfoContext(ctx, "sending ETH",
				slog.String("to", to.Hex()),
				slog.String("amount_wei", amountWei.String()),
			)
			result := a.retryTx(ctx, deps, retries, txRecordMeta{
				program:  domain.ProgramListenAndSend,
				kind:     domain.TxKindSendETH,
				endpoint: sender.Endpoint(),
				from:     sender.Address().Hex(),
				to:       to.Hex(),
				amount:   amountWei.String(),
			}, func(ctx context.Context) (domain.TxResult, error) {
				return sender.SendETH(ctx, to, amountWei)
			})

			switch result.Status {
			case domain.TxSuccess:
				a.logger.InfoContext(ctx, "transfer succeeded", slog.String("tx_hash", result.Hash))
			case domain.TxFailed:
				a.logger.ErrorContext(ctx, "transfer processed but failed", slog.String("tx_hash", result.Hash))
			default:
				a.logger.ErrorContext(ctx, "transfer not verified", slog.String("tx_hash", result.Hash))
			}
		}
	}
}

// txRecordMeta carries the invariant journal fields across the attempts of
// one logical transaction.
type txRecordMeta struct {
	program  string
	kind     domain.TxKind
	endpoint string
	venue    string
	from     string
	to       string
	amount   string
}

// retryTx runs submit until it reports success or the attempt budget is
// spent, journaling every attempt. Transport errors count as attempts with
// status not_verified.
func (a *App) retryTx(
	ctx context.Context,
	deps *Dependencies,
	retries int,
	meta txRecordMeta,
	submit func(ctx context.Context) (domain.TxResult, error),
) domain.TxResult {
	result := domain.TxResult{Status: domain.TxNotVerified}

	for attempt := 0; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			return result
		}
		if attempt > 0 {
			a.logger.WarnContext(ctx, "transaction unsuccessful, retrying",
				slog.String("kind", string(meta.kind)),
				slog.Int("attempt", attempt),
			)
		}

		var err error
		result, err = submit(ctx)
		if err != nil {
			a.logger.ErrorContext(ctx, "transaction submit failed",
				slog.String("kind", string(meta.kind)),
				slog.String("error", err.Error()),
			)
			result = domain.TxResult{Status: domain.TxNotVerified}
		}

		a.record(ctx, deps, domain.TxRecord{
			Program:  meta.program,
			Kind:     meta.kind,
			Endpoint: meta.endpoint,
			From:     meta.from,
			To:       meta.to,
			Amount:   meta.amount,
			TxHash:   result.Hash,
			Status:   result.Status,
			Attempt:  attempt,
		}, meta.venue)

		if result.Status == domain.TxSuccess {
			return result
		}
	}
	return result
}
