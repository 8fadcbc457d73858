package redisq

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/filot/docverify/internal/domain"
	"github.com/filot/docverify/internal/observability"
)

// Reaper detects documents stuck in the processing set and recovers them.
// Locks expire via their own TTL; the reaper never force-releases a lock it
// does not own, so the lock TTL must exceed the stuck threshold.
type Reaper struct {
	queue       *Queue
	docs        domain.DocumentRepository
	interval    time.Duration
	stuckAfter  time.Duration
	maxAttempts int
}

// NewReaper wires a reaper for one queue family.
func NewReaper(q *Queue, docs domain.DocumentRepository, interval, stuckAfter time.Duration, maxAttempts int) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if stuckAfter <= 0 {
		stuckAfter = 5 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Reaper{queue: q, docs: docs, interval: interval, stuckAfter: stuckAfter, maxAttempts: maxAttempts}
}

// Run blocks until ctx is done, sweeping at the configured interval.
func (r *Reaper) Run(ctx domain.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce scans the processing set once and recovers every stuck entry:
// re-enqueue while attempts remain, terminal failure otherwise.
func (r *Reaper) SweepOnce(ctx domain.Context) {
	ids, err := r.queue.ProcessingSet(ctx)
	if err != nil {
		slog.Error("reaper scan failed", slog.Any("error", err))
		return
	}
	for _, id := range ids {
		since, err := r.queue.ProcessingSince(ctx, id)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// No start timestamp: an orphaned claim, treat as stuck.
		case err != nil:
			slog.Error("reaper timestamp read failed", slog.String("document_id", id), slog.Any("error", err))
			continue
		case time.Since(since) < r.stuckAfter:
			continue
		}
		r.recover(ctx, id)
	}
}

func (r *Reaper) recover(ctx domain.Context, docID string) {
	log := slog.With(slog.String("document_id", docID))
	attempts, err := r.queue.Attempts(ctx, docID)
	if err != nil {
		log.Error("reaper attempts read failed", slog.Any("error", err))
		return
	}
	if attempts >= r.maxAttempts {
		descriptor, _ := json.Marshal(map[string]any{
			"error":              "processing stuck, retry budget exhausted",
			"failedAt":           time.Now().UTC().Format(time.RFC3339),
			"maxRetriesExceeded": true,
		})
		if err := r.docs.FailProcessing(ctx, docID, descriptor); err != nil {
			log.Error("reaper fail persistence failed", slog.Any("error", err))
			return
		}
		_ = r.queue.MarkFailed(ctx, docID)
		log.Warn("stuck document failed terminally", slog.Int("attempts", attempts))
		return
	}

	// Reset the DB trail only when the row still says processing; a row that
	// completed in the meantime keeps its outcome.
	if _, err := r.docs.UpdateStatusIf(ctx, docID, domain.DocProcessing, domain.DocUploaded); err != nil {
		log.Error("reaper status reset failed", slog.Any("error", err))
		return
	}
	if err := r.queue.RemoveFromProcessing(ctx, docID); err != nil {
		log.Error("reaper processing removal failed", slog.Any("error", err))
		return
	}
	queued, err := r.queue.Enqueue(ctx, docID)
	if err != nil {
		log.Error("reaper re-enqueue failed", slog.Any("error", err))
		return
	}
	if queued {
		observability.ReaperRecoveriesTotal.Inc()
		log.Warn("stuck document re-enqueued", slog.Int("attempts", attempts))
	}
}
