// Command txsim runs blockchain transaction simulations: periodic ETH
// transfers driven by new blocks, and cross-venue token swaps mimicking an
// arbitrage. Supporting commands archive the transaction journal and tail
// the live event bus.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chainkit/txsim/internal/app"
	"github.com/chainkit/txsim/internal/config"
	"github.com/chainkit/txsim/internal/domain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "txsim",
		Short:         "Transaction simulations for swap and send",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to configuration file")

	root.AddCommand(listenAndSendCmd(&configPath))
	root.AddCommand(arbitrageCmd(&configPath))
	root.AddCommand(archiveCmd(&configPath))
	root.AddCommand(tailCmd(&configPath))
	return root
}

// setup loads and validates configuration for one program and builds the
// JSON logger at the configured level. explicit marks a --config path chosen
// by the operator, which must exist.
func setup(configPath string, explicit bool, program string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath, explicit)
	if err != nil {
		return nil, nil, err
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(program); err != nil {
		return nil, nil, err
	}

	logger.Debug("configuration loaded",
		slog.String("path", configPath),
		slog.Any("config", config.Redacted(cfg)),
	)
	return cfg, logger, nil
}

func listenAndSendCmd(configPath *string) *cobra.Command {
	var retries int

	cmd := &cobra.Command{
		Use:   "listenAndSend <amount-eth> <blocks>",
		Short: "Send an amount of ETH every n-th new block",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			blocks, err := strconv.Atoi(args[1])
			if err != nil || blocks < 1 {
				return fmt.Errorf("blocks must be a positive integer, got %q", args[1])
			}
			if retries < 0 {
				return fmt.Errorf("retries must be >= 0, got %d", retries)
			}

			cfg, logger, err := setup(*configPath, cmd.Flags().Changed("config"), domain.ProgramListenAndSend)
			if err != nil {
				return err
			}

			application := app.New(cfg, logger)
			defer application.Close()
			return clean(application.RunListenAndSend(cmd.Context(), app.ListenAndSendParams{
				AmountETH: args[0],
				Blocks:    blocks,
				Retries:   retries,
			}))
		},
	}
	cmd.Flags().IntVar(&retries, "retries", 5, "retries for connecting and re-sending transactions")
	return cmd
}

func arbitrageCmd(configPath *string) *cobra.Command {
	var retries int

	cmd := &cobra.Command{
		Use:   "arbitrage <amount>",
		Short: "Swap an amount across two venues in opposite directions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, ok := new(big.Int).SetString(args[0], 10)
			if !ok || amount.Sign() < 0 {
				return fmt.Errorf("amount must be a non-negative integer in token base units, got %q", args[0])
			}
			if retries < 0 {
				return fmt.Errorf("retries must be >= 0, got %d", retries)
			}

			cfg, logger, err := setup(*configPath, cmd.Flags().Changed("config"), domain.ProgramArbitrage)
			if err != nil {
				return err
			}

			application := app.New(cfg, logger)
			defer application.Close()
			return clean(application.RunArbitrage(cmd.Context(), app.ArbitrageParams{
				Amount:  amount,
				Retries: retries,
			}))
		},
	}
	cmd.Flags().IntVar(&retries, "retries", 5, "retries for connecting, approvals, and swaps")
	return cmd
}

func archiveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Export old journal rows to object storage and prune them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath, cmd.Flags().Changed("config"), domain.ProgramArchive)
			if err != nil {
				return err
			}

			application := app.New(cfg, logger)
			defer application.Close()
			return clean(application.RunArchive(cmd.Context()))
		},
	}
}

func tailCmd(configPath *string) *cobra.Command {
	var backlog int

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print transaction events from the bus as they happen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath, cmd.Flags().Changed("config"), domain.ProgramTail)
			if err != nil {
				return err
			}

			application := app.New(cfg, logger)
			defer application.Close()
			return clean(application.RunTail(cmd.Context(), app.TailParams{
				Backlog: backlog,
				Out:     os.Stdout,
			}))
		},
	}
	cmd.Flags().IntVar(&backlog, "backlog", 20, "stored events to print before following live ones")
	return cmd
}

// clean maps context cancellation (^C) to a successful exit.
func clean(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
