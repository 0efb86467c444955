package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chainkit/txsim/internal/domain"
	"github.com/chainkit/txsim/internal/notify"
)

// RunArchive exports journal rows older than the configured retention to
// object storage and prunes them from the database.
func (a *App) RunArchive(ctx context.Context) error {
	deps, err := a.wire(ctx, domain.ProgramArchive)
	if err != nil {
		return err
	}
	defer a.Close()

	if deps.Archiver == nil {
		return fmt.Errorf("app: archive needs both postgres and s3 enabled")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	a.logger.InfoContext(ctx, "archiving journal",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	archived, err := deps.Archiver.Run(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("app: archive: %w", err)
	}

	a.logger.InfoContext(ctx, "archive complete", slog.Int("rows", archived))
	if deps.Notifier != nil && archived > 0 {
		_ = deps.Notifier.Notify(ctx, notify.EventArchiveComplete,
			"journal archived",
			fmt.Sprintf("rows: %d\ncutoff: %s", archived, cutoff.Format(time.RFC3339)),
		)
	}
	return nil
}
