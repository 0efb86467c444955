// Package app ties the programs together: it wires the journal, locks,
// event bus, archive storage, and notifications, then runs the requested
// simulation program until its context is cancelled.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chainkit/txsim/internal/config"
	"github.com/chainkit/txsim/internal/domain"
	"github.com/chainkit/txsim/internal/keystore"
)

// App is the root application object. It owns the configuration, logger,
// and a list of cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Close tears down all resources in reverse registration order. Safe to call
// more than once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// wire builds the program's dependencies and registers their cleanup.
func (a *App) wire(ctx context.Context, program string) (*Dependencies, error) {
	a.logger.InfoContext(ctx, "starting program",
		slog.String("program", program),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, program, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}

// loadKey resolves the wallet key from the configured source.
func (a *App) loadKey() (*keystore.Key, error) {
	key, err := keystore.Load(keystore.Source{
		RawKey:        a.cfg.Wallet.PrivateKey,
		EncryptedPath: a.cfg.Wallet.EncryptedKeyPath,
		Password:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: load wallet key: %w", err)
	}
	return key, nil
}

// record journals one transaction attempt and fans it out to the event bus
// and the notifier. Infrastructure failures here are logged, never fatal:
// the simulation itself takes priority over its bookkeeping.
func (a *App) record(ctx context.Context, deps *Dependencies, rec domain.TxRecord, venue string) {
	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now().UTC()

	if deps.Journal != nil {
		if err := deps.Journal.Insert(ctx, rec); err != nil {
			a.logger.ErrorContext(ctx, "journal insert failed",
				slog.String("tx_hash", rec.TxHash),
				slog.String("error", err.Error()),
			)
		}
	}

	event := domain.TxEvent{
		Program: rec.Program,
		Kind:    rec.Kind,
		Venue:   venue,
		Hash:    rec.TxHash,
		Status:  rec.Status,
		Amount:  rec.Amount,
		Attempt: rec.Attempt,
		At:      rec.CreatedAt.Unix(),
	}

	if deps.Bus != nil {
		payload, err := json.Marshal(event)
		if err == nil {
			if err := deps.Bus.Publish(ctx, EventChannel, payload); err != nil {
				a.logger.WarnContext(ctx, "event publish failed", slog.String("error", err.Error()))
			}
			if err := deps.Bus.StreamAppend(ctx, EventStream, payload); err != nil {
				a.logger.WarnContext(ctx, "event stream append failed", slog.String("error", err.Error()))
			}
		}
	}

	if deps.Notifier != nil {
		if err := deps.Notifier.NotifyTx(ctx, event); err != nil {
			a.logger.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
		}
	}
}
