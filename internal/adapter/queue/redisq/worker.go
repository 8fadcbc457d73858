package redisq

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/filot/docverify/internal/domain"
	"github.com/filot/docverify/internal/observability"
	"github.com/filot/docverify/internal/parser"
	"github.com/filot/docverify/internal/scoring"
	"github.com/filot/docverify/internal/usecase"
)

// WorkerConfig tunes one worker pool.
type WorkerConfig struct {
	Count         int
	LockTTL       time.Duration
	PollInterval  time.Duration
	ReconnectPoll time.Duration
	SweepInterval time.Duration
	MaxAttempts   int
	Bucket        string
	QueueName     string
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Count <= 0 {
		c.Count = 2
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ReconnectPoll <= 0 {
		c.ReconnectPoll = 3 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

// WorkerPool consumes one queue family: dequeue, lock, download, OCR, parse,
// score, decide, persist, route, publish. The per-document lock is the
// mutual-exclusion primitive; everything else is advisory.
type WorkerPool struct {
	queue    *Queue
	docs     domain.DocumentRepository
	blob     domain.BlobStore
	ocr      domain.OCREngine
	fallback domain.OCREngine
	verifier *usecase.VerificationService
	cfg      WorkerConfig
}

// NewWorkerPool wires a pool. fallback may be nil; when set, it is tried
// in-process after a primary OCR failure.
func NewWorkerPool(q *Queue, docs domain.DocumentRepository, blob domain.BlobStore, ocr, fallback domain.OCREngine, verifier *usecase.VerificationService, cfg WorkerConfig) *WorkerPool {
	return &WorkerPool{
		queue:    q,
		docs:     docs,
		blob:     blob,
		ocr:      ocr,
		fallback: fallback,
		verifier: verifier,
		cfg:      cfg.withDefaults(),
	}
}

// Run starts the workers and the delayed-retry sweeper and blocks until ctx
// is done.
func (p *WorkerPool) Run(ctx domain.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Count; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			p.runWorker(ctx, idx)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runSweeper(ctx)
	}()
	wg.Wait()
}

func (p *WorkerPool) runWorker(ctx domain.Context, idx int) {
	log := slog.With(slog.Int("worker", idx), slog.String("queue", p.cfg.QueueName))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		docID, err := p.queue.Dequeue(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			sleepCtx(ctx, p.cfg.PollInterval)
			continue
		}
		if err != nil {
			// Degraded mode: the substrate is unreachable. Poll for
			// reconnection, never fall back to memory.
			log.Warn("queue unreachable, entering degraded mode", slog.Any("error", err))
			for {
				sleepCtx(ctx, p.cfg.ReconnectPoll)
				if ctx.Err() != nil {
					return
				}
				if p.queue.Ping(ctx) == nil {
					log.Info("queue reachable again")
					break
				}
			}
			continue
		}
		p.ProcessOne(ctx, docID)
	}
}

func (p *WorkerPool) runSweeper(ctx domain.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := p.queue.SweepDelayed(ctx); err == nil && n > 0 {
				slog.Debug("delayed entries matured", slog.Int("moved", n))
			}
		}
	}
}

// ProcessOne runs the full pipeline for one dequeued document id.
func (p *WorkerPool) ProcessOne(ctx domain.Context, docID string) {
	start := time.Now()

	locked, err := p.queue.AcquireLock(ctx, docID, p.cfg.LockTTL)
	if err != nil {
		slog.Error("lock acquisition failed", slog.String("document_id", docID), slog.Any("error", err))
		return
	}
	if !locked {
		// Another worker holds the document; drop our processing claim.
		_ = p.queue.RemoveFromProcessing(ctx, docID)
		return
	}

	doc, err := p.docs.Get(ctx, docID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && doc.Status == domain.DocCompleted) {
		// Idempotency guard against double-enqueue after a recovery.
		_ = p.queue.MarkComplete(ctx, docID)
		return
	}
	if err != nil {
		_ = p.queue.ReleaseLock(ctx, docID)
		slog.Error("document load failed", slog.String("document_id", docID), slog.Any("error", err))
		return
	}

	cid := uuid.New().String()
	_ = p.queue.SetCorrelationID(ctx, docID, cid)
	ctx = observability.ContextWithCorrelationID(ctx, cid)
	log := slog.With(
		slog.String("document_id", docID),
		slog.String("correlation_id", cid),
		slog.String("type", string(doc.Type)))

	// The lock is the true mutual exclusion; a failed CAS here means the DB
	// row already says processing, which is fine.
	if _, err := p.docs.UpdateStatusIf(ctx, docID, domain.DocUploaded, domain.DocProcessing); err != nil {
		log.Warn("status transition failed", slog.Any("error", err))
	}

	observability.DocumentsProcessing.WithLabelValues(p.cfg.QueueName).Inc()
	defer observability.DocumentsProcessing.WithLabelValues(p.cfg.QueueName).Dec()

	res, fields, ocrText, engine, procErr := p.pipeline(ctx, doc)
	if procErr != nil {
		p.handleFailure(ctx, log, doc, cid, procErr)
		return
	}

	verif := domain.VerifPendingManualReview
	if res.Decision == scoring.DecisionAutoApproved {
		verif = domain.VerifAutoApproved
	}
	if err := p.docs.CompleteProcessing(ctx, docID, ocrText, fields.JSON(), res.Score, res.Decision, verif); err != nil {
		p.handleFailure(ctx, log, doc, cid, err)
		return
	}

	// Routing and publishing errors are logged but never requeue the
	// document once the outcome is durable.
	if verif == domain.VerifPendingManualReview {
		doc.OCRText = ocrText
		if _, _, err := p.verifier.EscalateDocument(ctx, doc, res.Score, res.Decision, res.Reasons, fields.JSON()); err != nil {
			log.Error("escalation failed", slog.Any("error", err))
		}
	}
	if err := p.verifier.RecomputeUserStatus(ctx, doc.UserID); err != nil {
		log.Error("user status join failed", slog.Any("error", err))
	}

	elapsed := time.Since(start)
	_ = p.queue.PublishResult(ctx, docID, domain.ProcessingResult{
		DocumentID:       docID,
		CorrelationID:    cid,
		Outcome:          string(verif),
		Score:            res.Score,
		ProcessingTimeMS: elapsed.Milliseconds(),
	})
	observability.DocumentsCompletedTotal.WithLabelValues(string(doc.Type), res.Decision).Inc()
	observability.ScoreHistogram.WithLabelValues(string(doc.Type)).Observe(float64(res.Score))
	observability.ProcessingDuration.WithLabelValues(string(doc.Type), engine).Observe(elapsed.Seconds())

	if err := p.queue.MarkComplete(ctx, docID); err != nil {
		log.Error("mark complete failed", slog.Any("error", err))
	}
	log.Info("document processed",
		slog.Int("score", res.Score),
		slog.String("decision", res.Decision),
		slog.Duration("elapsed", elapsed))
}

// pipeline covers download, OCR, parse and score. Any error here is subject
// to the per-attempt retry budget.
func (p *WorkerPool) pipeline(ctx domain.Context, doc domain.Document) (res scoring.Result, fields parser.Fields, ocrText, engine string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("op=worker.pipeline: panic: %v", r)
		}
	}()

	key, err := usecase.KeyFromBlobRef(doc.BlobKey, p.cfg.Bucket)
	if err != nil {
		return res, fields, "", "", err
	}
	data, err := p.blob.Get(ctx, key)
	if err != nil {
		return res, fields, "", "", err
	}

	tmp, err := os.CreateTemp("", "docverify-*"+filepath.Ext(key))
	if err != nil {
		return res, fields, "", "", fmt.Errorf("op=worker.tempfile: %w", err)
	}
	path := tmp.Name()
	defer func() { _ = os.Remove(path) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return res, fields, "", "", fmt.Errorf("op=worker.tempfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return res, fields, "", "", fmt.Errorf("op=worker.tempfile: %w", err)
	}

	engine = p.ocr.Name()
	ocrText, err = p.ocr.Extract(ctx, path)
	if err != nil && p.fallback != nil {
		slog.WarnContext(ctx, "primary OCR failed, falling back",
			slog.String("primary", p.ocr.Name()),
			slog.String("fallback", p.fallback.Name()),
			slog.Any("error", err))
		engine = p.fallback.Name()
		ocrText, err = p.fallback.Extract(ctx, path)
	}
	if err != nil {
		return res, fields, "", engine, err
	}

	fields, err = parser.Parse(doc.Type, ocrText)
	if err != nil {
		return res, fields, ocrText, engine, fmt.Errorf("op=worker.parse type=%s: %w", doc.Type, err)
	}
	res = scoring.DecidePostOCR(doc.Type, fields, ocrText)
	return res, fields, ocrText, engine, nil
}

// handleFailure applies the retry budget: schedule a backoff retry while
// attempts remain, otherwise fail the document terminally.
func (p *WorkerPool) handleFailure(ctx domain.Context, log *slog.Logger, doc domain.Document, cid string, procErr error) {
	attempts, err := p.queue.IncrementAttempts(ctx, doc.ID)
	if err != nil {
		log.Error("attempt accounting failed", slog.Any("error", err))
		attempts = p.cfg.MaxAttempts
	}

	if attempts < p.cfg.MaxAttempts {
		delay := retryDelay(attempts)
		log.Warn("processing failed, scheduling retry",
			slog.Int("attempt", attempts),
			slog.Duration("delay", delay),
			slog.Any("error", procErr))
		if err := p.queue.ScheduleRetry(ctx, doc.ID, delay); err != nil {
			log.Error("schedule retry failed", slog.Any("error", err))
		}
		_ = p.queue.ReleaseLock(ctx, doc.ID)
		return
	}

	log.Error("processing failed terminally",
		slog.Int("attempts", attempts),
		slog.Any("error", procErr))
	descriptor, _ := json.Marshal(map[string]any{
		"error":              procErr.Error(),
		"failedAt":           time.Now().UTC().Format(time.RFC3339),
		"maxRetriesExceeded": true,
	})
	if err := p.docs.FailProcessing(ctx, doc.ID, descriptor); err != nil {
		log.Error("fail persistence failed", slog.Any("error", err))
	}
	_ = p.queue.MarkFailed(ctx, doc.ID)
	_ = p.queue.PublishResult(ctx, doc.ID, domain.ProcessingResult{
		DocumentID:    doc.ID,
		CorrelationID: cid,
		Outcome:       string(domain.DocFailed),
		Error:         procErr.Error(),
	})
	observability.DocumentsFailedTotal.WithLabelValues(string(doc.Type)).Inc()
}

// retryDelay yields 3s, 9s, 27s for attempts 1, 2, 3.
func retryDelay(attempt int) time.Duration {
	d := 3 * time.Second
	for i := 1; i < attempt; i++ {
		d *= 3
	}
	return d
}

func sleepCtx(ctx domain.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
