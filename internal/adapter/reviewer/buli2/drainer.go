package buli2

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/filot/docverify/internal/domain"
	"github.com/filot/docverify/internal/observability"
)

// Drainer replays queued escalations once the reviewer is reachable again.
// It only pops while the breaker is closed, so a single probe failure during
// recovery does not burn through the backlog.
type Drainer struct {
	client   *Client
	docs     domain.DocumentRepository
	reviews  domain.ReviewRepository
	interval time.Duration
}

// NewDrainer wires the drainer. interval is how often the queue is polled.
func NewDrainer(client *Client, docs domain.DocumentRepository, reviews domain.ReviewRepository, interval time.Duration) *Drainer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Drainer{client: client, docs: docs, reviews: reviews, interval: interval}
}

// Run blocks until ctx is done, draining the retry queue each tick.
func (d *Drainer) Run(ctx domain.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.DrainOnce(ctx)
		}
	}
}

// DrainOnce pops and redelivers envelopes until the queue empties, the
// breaker opens, or an envelope fails.
func (d *Drainer) DrainOnce(ctx domain.Context) {
	if depth, err := d.client.retry.Depth(ctx); err == nil {
		observability.ForwarderRetryQueueDepth.Set(float64(depth))
	}
	for {
		if d.client.breaker.State() != gobreaker.StateClosed {
			return
		}
		env, ok, err := d.client.retry.PopEnvelope(ctx)
		if err != nil {
			slog.Error("retry queue pop failed", slog.Any("error", err))
			return
		}
		if !ok {
			return
		}
		if !d.redeliver(ctx, env) {
			return
		}
	}
}

// redeliver attempts one envelope. Returns false when draining should stop
// for this tick.
func (d *Drainer) redeliver(ctx domain.Context, env RetryEnvelope) bool {
	log := slog.With(
		slog.String("review_id", env.Request.ReviewID),
		slog.String("document_id", env.Request.DocumentID),
		slog.String("correlation_id", env.Request.CorrelationID))

	ticketID, err := d.client.Forward(ctx, env.Request)
	if err == nil {
		if ticketID != "" {
			if err := d.docs.SetTicketID(ctx, env.Request.DocumentID, ticketID); err != nil {
				log.Error("failed to record reviewer ticket", slog.Any("error", err))
			}
		}
		log.Info("queued escalation delivered",
			slog.String("ticket_id", ticketID),
			slog.Int("attempt", env.Attempt+1))
		return true
	}

	env.Attempt++
	if env.Attempt >= maxEnvelopeAttempts {
		log.Error("escalation permanently undeliverable",
			slog.Int("attempts", env.Attempt),
			slog.Time("first_queued_at", env.FirstQueuedAt),
			slog.Any("error", err))
		if mErr := d.reviews.MarkForwardingFailed(ctx, env.Request.ReviewID, err.Error()); mErr != nil {
			log.Error("failed to mark review forwarding_failed", slog.Any("error", mErr))
		}
		// Drop the envelope; the review stays pending for operator action.
		return true
	}

	log.Warn("redelivery failed, requeueing",
		slog.Int("attempt", env.Attempt),
		slog.Any("error", err))
	if pErr := d.client.retry.PushEnvelope(ctx, env); pErr != nil {
		log.Error("requeue failed, envelope lost", slog.Any("error", pErr))
	}
	return false
}
