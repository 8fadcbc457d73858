package usecase

import (
	"fmt"

	"github.com/filot/docverify/internal/domain"
	"github.com/filot/docverify/internal/observability"
)

// ProcessService places owned documents onto the processing queue.
type ProcessService struct {
	Docs      domain.DocumentRepository
	Queue     domain.Queue
	QueueName string
}

// NewProcessService constructs a ProcessService. queueName labels metrics.
func NewProcessService(docs domain.DocumentRepository, q domain.Queue, queueName string) ProcessService {
	return ProcessService{Docs: docs, Queue: q, QueueName: queueName}
}

// Enqueue queues the document for OCR processing. Ownership mismatches
// surface as not-found so document ids cannot be enumerated. Enqueue is
// idempotent: a document already queued or in flight reports queued=false.
func (s ProcessService) Enqueue(ctx domain.Context, userID, docID string) (bool, error) {
	doc, err := s.Docs.Get(ctx, docID)
	if err != nil {
		return false, err
	}
	if doc.UserID != userID {
		return false, fmt.Errorf("op=process.enqueue: %w", domain.ErrNotFound)
	}
	queued, err := s.Queue.Enqueue(ctx, docID)
	if err != nil {
		return false, err
	}
	if queued {
		observability.DocumentsEnqueuedTotal.WithLabelValues(s.QueueName).Inc()
	}
	return queued, nil
}
