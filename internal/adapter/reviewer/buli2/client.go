// Package buli2 forwards escalated documents to the external human-review
// service and drains the retry queue that absorbs outages. All outbound
// calls go through a circuit breaker; when the circuit is open or retries
// are exhausted the escalation is queued durably and the system stays
// eventually consistent with reviewer availability.
package buli2

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/filot/docverify/internal/domain"
	"github.com/filot/docverify/internal/observability"
)

const (
	// RetryQueueKey is the durable fallback queue for undeliverable
	// escalations.
	RetryQueueKey = "buli2:retry_queue"

	maxHTTPAttempts     = 3
	maxEnvelopeAttempts = 5
	requestTimeout      = 30 * time.Second
	breakerCooldown     = 30 * time.Second
	breakerFailures     = 5
)

// RetryEnvelope wraps an undeliverable escalation on the retry queue.
type RetryEnvelope struct {
	Request       domain.ForwardRequest `json:"request"`
	Attempt       int                   `json:"attempt"`
	FirstQueuedAt time.Time             `json:"firstQueuedAt"`
}

// RetryQueue is the minimal Redis surface the client needs for the fallback
// queue.
type RetryQueue interface {
	PushEnvelope(ctx domain.Context, env RetryEnvelope) error
	PopEnvelope(ctx domain.Context) (RetryEnvelope, bool, error)
	Depth(ctx domain.Context) (int64, error)
}

// Client delivers escalations to the reviewer's POST /reviews endpoint.
type Client struct {
	apiURL      string
	apiKey      string
	callbackURL string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
	retry       RetryQueue

	// initialBackoff is shortened in tests.
	initialBackoff time.Duration
}

// New constructs a forwarder client.
func New(apiURL, apiKey, callbackURL string, retry RetryQueue) *Client {
	settings := gobreaker.Settings{
		Name:        "buli2-forwarder",
		MaxRequests: 1, // one trial request in half-open
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			observability.ForwarderBreakerState.Set(breakerStateValue(to))
		},
	}
	return &Client{
		apiURL:      apiURL,
		apiKey:      apiKey,
		callbackURL: callbackURL,
		httpClient: &http.Client{
			Timeout:   requestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker:        gobreaker.NewCircuitBreaker(settings),
		retry:          retry,
		initialBackoff: 1 * time.Second,
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// BreakerState exposes the current breaker state for health reporting.
func (c *Client) BreakerState() string { return c.breaker.State().String() }

// Forward delivers one escalation, retrying transient failures with
// exponential backoff. Returns the reviewer's ticket id. ErrCircuitOpen is
// returned without an HTTP attempt when the breaker is open.
func (c *Client) Forward(ctx domain.Context, req domain.ForwardRequest) (string, error) {
	req.CallbackURL = c.callbackURL

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, maxHTTPAttempts-1), ctx)

	var ticketID string
	err := backoff.Retry(func() error {
		res, err := c.breaker.Execute(func() (any, error) {
			return c.post(ctx, req)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("op=buli2.forward: %w", domain.ErrCircuitOpen))
			}
			return err
		}
		ticketID = res.(string)
		return nil
	}, policy)
	if err != nil {
		return "", err
	}
	return ticketID, nil
}

// Deliver forwards with a durable fallback: on circuit-open or exhausted
// retries the escalation lands on the retry queue and an empty ticket id is
// returned. The manual review stays pending either way.
func (c *Client) Deliver(ctx domain.Context, req domain.ForwardRequest) (string, error) {
	ticketID, err := c.Forward(ctx, req)
	if err == nil {
		return ticketID, nil
	}
	slog.Warn("review forwarding failed, queueing for retry",
		slog.String("review_id", req.ReviewID),
		slog.String("correlation_id", req.CorrelationID),
		slog.Any("error", err))
	env := RetryEnvelope{Request: req, Attempt: 0, FirstQueuedAt: time.Now().UTC()}
	if qErr := c.retry.PushEnvelope(ctx, env); qErr != nil {
		return "", fmt.Errorf("op=buli2.deliver: forward failed and retry queue unavailable: %w", errors.Join(err, qErr))
	}
	return "", nil
}

func (c *Client) post(ctx domain.Context, fr domain.ForwardRequest) (string, error) {
	body, err := json.Marshal(fr)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("op=buli2.post: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/reviews", bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("op=buli2.post: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("op=buli2.post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("op=buli2.post: reviewer status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// Client errors are not retryable; surface them as permanent.
		return "", backoff.Permanent(fmt.Errorf("op=buli2.post: reviewer rejected request, status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("op=buli2.post: %w", err)
	}
	var out struct {
		TicketID string `json:"ticketId"`
		ID       string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("op=buli2.post: decode response: %w", err)
	}
	if out.TicketID != "" {
		return out.TicketID, nil
	}
	return out.ID, nil
}
