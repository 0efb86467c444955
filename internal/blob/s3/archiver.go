package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/chainkit/txsim/internal/domain"
)

// multipartThreshold is the export size above which the archiver switches
// from a single PutObject to a multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// defaultBatchSize bounds how many journal rows one export object holds.
const defaultBatchSize = 10000

// exportBackend is the slice of Writer the archiver uploads through.
type exportBackend interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// verifyBackend checks that an export object landed with the expected size.
type verifyBackend interface {
	Size(ctx context.Context, path string) (int64, error)
}

// JournalArchiver implements domain.Archiver: it drains journal rows older
// than a cutoff into JSONL objects, verifies each upload, and only then
// prunes the exported rows. A failed upload or verification leaves the
// journal untouched.
type JournalArchiver struct {
	journal   domain.TxJournal
	uploads   exportBackend
	verify    verifyBackend
	prefix    string
	batchSize int
	logger    *slog.Logger
}

// NewJournalArchiver creates an archiver exporting under prefix in the
// bucket behind writer and reader.
func NewJournalArchiver(journal domain.TxJournal, writer *Writer, reader *Reader, prefix string, logger *slog.Logger) *JournalArchiver {
	return NewJournalArchiverBackend(journal, writer, reader, prefix, logger)
}

// NewJournalArchiverBackend is the seam used by tests to substitute fake
// backends.
func NewJournalArchiverBackend(journal domain.TxJournal, uploads exportBackend, verify verifyBackend, prefix string, logger *slog.Logger) *JournalArchiver {
	if prefix == "" {
		prefix = "tx-archive"
	}
	return &JournalArchiver{
		journal:   journal,
		uploads:   uploads,
		verify:    verify,
		prefix:    prefix,
		batchSize: defaultBatchSize,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run archives journal rows created before cutoff and returns how many rows
// were exported. Rows are processed oldest first in bounded batches; each
// batch becomes one object named <prefix>/<run>/tx_records_<part>.jsonl.
func (a *JournalArchiver) Run(ctx context.Context, cutoff time.Time) (int, error) {
	runID := time.Now().UTC().Format("20060102T150405Z")
	total := 0

	for part := 0; ; part++ {
		records, err := a.journal.ListBefore(ctx, cutoff, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: list journal rows: %w", err)
		}
		if len(records) == 0 {
			break
		}
		fullBatch := len(records) == a.batchSize

		// A timestamp tie straddling the batch boundary would be pruned
		// without having been exported. Push the tied tail into the next
		// batch; when the whole batch shares one timestamp, grow the fetch
		// until every tied row is in hand.
		if fullBatch {
			trimmed, ok := trimTiedTail(records)
			if ok {
				records = trimmed
			} else {
				records, fullBatch, err = a.drainTie(ctx, cutoff)
				if err != nil {
					return total, err
				}
			}
		}

		buf, err := encodeJSONL(records)
		if err != nil {
			return total, err
		}

		key := fmt.Sprintf("%s/%s/tx_records_%04d.jsonl", a.prefix, runID, part)
		if buf.Len() >= multipartThreshold {
			err = a.uploads.PutMultipart(ctx, key, bytes.NewReader(buf.Bytes()), minPartSize)
		} else {
			err = a.uploads.Put(ctx, key, bytes.NewReader(buf.Bytes()), "application/x-ndjson")
		}
		if err != nil {
			return total, err
		}

		size, err := a.verify.Size(ctx, key)
		if err != nil {
			return total, fmt.Errorf("s3blob: verify export %s: %w", key, err)
		}
		if size != int64(buf.Len()) {
			return total, fmt.Errorf("s3blob: export %s size mismatch: uploaded %d, stored %d", key, buf.Len(), size)
		}

		// Prune exactly the exported rows.
		prune := records[len(records)-1].CreatedAt.Add(time.Nanosecond)
		if prune.After(cutoff) {
			prune = cutoff
		}
		deleted, err := a.journal.DeleteBefore(ctx, prune)
		if err != nil {
			return total, fmt.Errorf("s3blob: prune journal rows: %w", err)
		}

		total += len(records)
		a.logger.Info("archived journal batch",
			slog.String("key", key),
			slog.Int("rows", len(records)),
			slog.Int64("pruned", deleted),
			slog.Int("bytes", buf.Len()),
		)

		if !fullBatch {
			break
		}
	}

	return total, nil
}

// trimTiedTail drops the rows sharing the final row's timestamp so the
// batch ends on a clean timestamp boundary. It reports false when every row
// in the batch carries the same timestamp.
func trimTiedTail(records []domain.TxRecord) ([]domain.TxRecord, bool) {
	last := records[len(records)-1].CreatedAt
	i := len(records)
	for i > 0 && records[i-1].CreatedAt.Equal(last) {
		i--
	}
	if i == 0 {
		return nil, false
	}
	return records[:i], true
}

// drainTie refetches with a growing limit until the current oversized
// timestamp tie is fully in hand, so the prune after the export cannot
// remove rows that were never uploaded.
func (a *JournalArchiver) drainTie(ctx context.Context, cutoff time.Time) ([]domain.TxRecord, bool, error) {
	limit := a.batchSize
	for {
		limit *= 2
		records, err := a.journal.ListBefore(ctx, cutoff, limit)
		if err != nil {
			return nil, false, fmt.Errorf("s3blob: list journal rows: %w", err)
		}
		if len(records) < limit {
			return records, false, nil
		}
		if trimmed, ok := trimTiedTail(records); ok {
			return trimmed, true, nil
		}
	}
}

func encodeJSONL(records []domain.TxRecord) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("s3blob: encode journal row %s: %w", rec.ID, err)
		}
	}
	return &buf, nil
}

var _ domain.Archiver = (*JournalArchiver)(nil)
