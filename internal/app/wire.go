package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/chainkit/txsim/internal/blob/s3"
	"github.com/chainkit/txsim/internal/cache/redis"
	"github.com/chainkit/txsim/internal/config"
	"github.com/chainkit/txsim/internal/domain"
	"github.com/chainkit/txsim/internal/notify"
	"github.com/chainkit/txsim/internal/store/postgres"
)

// Event bus names shared by the programs and the tail command.
const (
	EventChannel = "txsim:events"
	EventStream  = "txsim:events:log"
)

// EventSource reads transaction events back off the bus. The Redis SignalBus
// implements it.
type EventSource interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error)
	StreamTail(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error)
}

// Dependencies bundles the optional infrastructure the programs use. Nil
// fields mean the corresponding backend is disabled in the configuration;
// the programs degrade to logging only.
type Dependencies struct {
	Journal  domain.TxJournal
	Locks    domain.LockManager
	Bus      domain.SignalBus
	Events   EventSource
	Writer   domain.BlobWriter
	Archiver domain.Archiver
	Notifier *notify.Notifier
}

// needsJournal reports whether the program writes journal rows.
func needsJournal(program string) bool {
	switch program {
	case domain.ProgramListenAndSend, domain.ProgramArbitrage, domain.ProgramArchive:
		return true
	default:
		return false
	}
}

// Wire constructs the concrete dependency implementations the given program
// needs and returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, program string, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	if cfg.Postgres.Enabled && needsJournal(program) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.Journal = postgres.NewTxRecordStore(pgClient.Pool())
	}

	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		bus := redis.NewSignalBus(redisClient)
		deps.Bus = bus
		deps.Events = bus
	}

	if cfg.S3.Enabled && program == domain.ProgramArchive {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		writer := s3blob.NewWriter(s3Client)
		deps.Writer = writer
		if deps.Journal != nil {
			deps.Archiver = s3blob.NewJournalArchiver(
				deps.Journal, writer, s3blob.NewReader(s3Client), cfg.Archive.Prefix, logger,
			)
		}
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
