package persistence

import (
	"context"
	"database/sql"
	"time"

	"SynthEngine/internal/event"
	"SynthEngine/internal/observability"

	"github.com/rs/zerolog"
)

// AuditWorker drains the audit channel and batch-writes records to
// Postgres. It runs independently from the engine: the engine's sends are
// non-blocking, so a stalled worker never stalls accounting, and a failed
// flush is retried with backoff rather than dropped.
type AuditWorker struct {
	writer    *AuditWriter
	input     <-chan event.Envelope
	batchSize int
	flushWait time.Duration
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func NewAuditWorker(
	db *sql.DB,
	input <-chan event.Envelope,
	batchSize int,
	flushWait time.Duration,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *AuditWorker {
	return &AuditWorker{
		writer:    NewAuditWriter(db),
		input:     input,
		batchSize: batchSize,
		flushWait: flushWait,
		log:       logger,
		metrics:   metrics,
	}
}

// Run batches incoming records and flushes when the batch is full or the
// flush interval expires. It returns only when the input channel closes,
// flushing whatever remains first. The fan-out closes the channel after
// handing off every committed record, so cancellation never strands
// records in the channel buffer; ctx only bounds the retry loops.
func (aw *AuditWorker) Run(ctx context.Context) error {
	batch := make([]AuditRow, 0, aw.batchSize)

	timer := time.NewTimer(aw.flushWait)
	defer timer.Stop()

	for {
		select {
		case env, ok := <-aw.input:
			if !ok {
				if len(batch) > 0 {
					if err := aw.flush(context.Background(), batch); err != nil {
						aw.log.Error().Err(err).Msg("final audit flush failed")
					}
				}
				return nil
			}

			row, err := RowFromEnvelope(env)
			if err != nil {
				aw.log.Error().Err(err).Int64("sequence", env.Sequence).Msg("skip unmarshalable audit record")
				continue
			}
			batch = append(batch, row)

			if len(batch) >= aw.batchSize {
				if err := aw.flushWithRetry(ctx, batch); err != nil {
					aw.log.Error().Err(err).Msg("audit batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(aw.flushWait)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := aw.flushWithRetry(ctx, batch); err != nil {
					aw.log.Error().Err(err).Msg("audit timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(aw.flushWait)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or the context is cancelled; on cancellation it attempts one final flush
// with a background context so the batch is not lost on shutdown.
func (aw *AuditWorker) flushWithRetry(ctx context.Context, rows []AuditRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			aw.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("rows", len(rows)).
				Msg("audit flush retry")
			select {
			case <-ctx.Done():
				return aw.flush(context.Background(), rows)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := aw.flush(ctx, rows)
		if err == nil {
			if attempt > 0 {
				aw.log.Info().Int("attempts", attempt).Msg("audit flush recovered")
			}
			return nil
		}

		if aw.metrics != nil {
			aw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (aw *AuditWorker) flush(ctx context.Context, rows []AuditRow) error {
	start := time.Now()

	tx, err := aw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if aw.metrics != nil {
			aw.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := aw.writer.WriteBatch(ctx, tx, rows); err != nil {
		if aw.metrics != nil {
			aw.metrics.PersistErrors.WithLabelValues("write").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if aw.metrics != nil {
			aw.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if aw.metrics != nil {
		aw.metrics.AuditPersisted.Add(float64(len(rows)))
		aw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
	}
	return nil
}
