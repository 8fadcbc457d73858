package redisq

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/filot/docverify/internal/domain"
)

// Recovery reconciles queue and DB state at process start so no in-flight
// document is lost across a crash. Re-work is acceptable; processing is
// idempotent.
type Recovery struct {
	queue *Queue
	docs  domain.DocumentRepository
}

// NewRecovery wires startup recovery for one queue family.
func NewRecovery(q *Queue, docs domain.DocumentRepository) *Recovery {
	return &Recovery{queue: q, docs: docs}
}

// Run executes the three recovery phases: wait for the substrate, clear
// orphaned processing claims, and re-enqueue documents stranded in
// processing. It blocks until the substrate is reachable or ctx is done.
func (r *Recovery) Run(ctx domain.Context) error {
	if err := r.waitForSubstrate(ctx); err != nil {
		return err
	}
	if err := r.clearOrphans(ctx); err != nil {
		return err
	}
	return r.requeueStranded(ctx)
}

func (r *Recovery) waitForSubstrate(ctx domain.Context) error {
	policy := backoff.WithContext(backoff.NewConstantBackOff(3*time.Second), ctx)
	err := backoff.Retry(func() error {
		if err := r.queue.Ping(ctx); err != nil {
			slog.Warn("substrate not reachable yet", slog.Any("error", err))
			return err
		}
		return nil
	}, policy)
	if err != nil {
		return fmt.Errorf("op=recovery.wait: %w", err)
	}
	return nil
}

// clearOrphans drops processing-set entries that have no backing document
// row.
func (r *Recovery) clearOrphans(ctx domain.Context) error {
	ids, err := r.queue.ProcessingSet(ctx)
	if err != nil {
		return fmt.Errorf("op=recovery.orphans: %w", err)
	}
	for _, id := range ids {
		_, err := r.docs.Get(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("op=recovery.orphans: %w", err)
		}
		if err := r.queue.MarkComplete(ctx, id); err != nil {
			return fmt.Errorf("op=recovery.orphans: %w", err)
		}
		slog.Warn("cleared orphaned processing entry", slog.String("document_id", id))
	}
	return nil
}

// requeueStranded resets every document stranded in processing back to
// uploaded and puts it on the queue again.
func (r *Recovery) requeueStranded(ctx domain.Context) error {
	docs, err := r.docs.ListByStatus(ctx, domain.DocProcessing)
	if err != nil {
		return fmt.Errorf("op=recovery.stranded: %w", err)
	}
	for _, d := range docs {
		if err := r.queue.MarkComplete(ctx, d.ID); err != nil {
			return fmt.Errorf("op=recovery.stranded: %w", err)
		}
		if err := r.docs.UpdateStatus(ctx, d.ID, domain.DocUploaded); err != nil {
			return fmt.Errorf("op=recovery.stranded: %w", err)
		}
		if _, err := r.queue.Enqueue(ctx, d.ID); err != nil {
			return fmt.Errorf("op=recovery.stranded: %w", err)
		}
		slog.Info("recovered stranded document", slog.String("document_id", d.ID))
	}
	return nil
}
