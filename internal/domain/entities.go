// Package domain defines the core entities, enums and ports of the
// verification engine. Adapters depend on this package; it depends on nothing
// but the standard library.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrRateLimited     = errors.New("rate limited")
	ErrUpstreamTimeout = errors.New("upstream timeout")
	ErrCircuitOpen     = errors.New("circuit open")
	ErrInternal        = errors.New("internal error")
)

// DocumentType enumerates supported identity document types.
type DocumentType string

const (
	DocTypeKTP  DocumentType = "KTP"
	DocTypeNPWP DocumentType = "NPWP"
)

// Valid reports whether t is a supported document type.
func (t DocumentType) Valid() bool { return t == DocTypeKTP || t == DocTypeNPWP }

// DocumentStatus is the processing lifecycle of a document.
// Transitions: uploaded -> processing -> {completed, failed}; the reaper may
// force processing -> uploaded on recovery.
type DocumentStatus string

const (
	DocUploaded   DocumentStatus = "uploaded"
	DocProcessing DocumentStatus = "processing"
	DocCompleted  DocumentStatus = "completed"
	DocFailed     DocumentStatus = "failed"
)

// VerificationStatus is the verification outcome lifecycle shared by users
// and documents.
type VerificationStatus string

const (
	VerifPending             VerificationStatus = "pending"
	VerifAutoApproved        VerificationStatus = "auto_approved"
	VerifAutoRejected        VerificationStatus = "auto_rejected"
	VerifPendingManualReview VerificationStatus = "pending_manual_review"
	VerifManuallyApproved    VerificationStatus = "manually_approved"
	VerifManuallyRejected    VerificationStatus = "manually_rejected"
)

// Terminal reports whether v is a terminal verification outcome. Terminal
// documents are idempotent no-ops for any further evaluation request.
func (v VerificationStatus) Terminal() bool {
	switch v {
	case VerifAutoApproved, VerifAutoRejected, VerifManuallyApproved, VerifManuallyRejected:
		return true
	}
	return false
}

// ReviewStatus is the lifecycle of a manual review.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Terminal reports whether s is a terminal review state. Terminal reviews are
// immutable; callback replays against them are no-ops.
func (s ReviewStatus) Terminal() bool { return s == ReviewApproved || s == ReviewRejected }

// User is created lazily on first successful token verification.
type User struct {
	ID                 string
	Sub                string
	Email              string
	VerificationStatus VerificationStatus
	CreatedAt          time.Time
}

// Document is one uploaded identity document owned by exactly one user.
// BlobKey is opaque and user-scoped: {userID}/{type}_{uuid}.{ext}.
type Document struct {
	ID                 string
	UserID             string
	Type               DocumentType
	BlobKey            string
	Status             DocumentStatus
	VerificationStatus VerificationStatus
	AIScore            *int
	AIDecision         *string
	ResultJSON         []byte
	OCRText            string
	Buli2TicketID      *string
	CreatedAt          time.Time
	ProcessedAt        *time.Time
}

// ManualReview mirrors one outstanding external-reviewer task. A document has
// at most one review in pending state.
type ManualReview struct {
	ID          string
	DocumentID  string
	UserID      string
	Payload     []byte
	Status      ReviewStatus
	Decision    *string
	Notes       *string
	Buli2TaskID *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Repositories (ports)

type UserRepository interface {
	Create(ctx Context, u User) (string, error)
	Get(ctx Context, id string) (User, error)
	FindBySub(ctx Context, sub string) (User, error)
	UpdateVerificationStatus(ctx Context, id string, status VerificationStatus) error
}

type DocumentRepository interface {
	Create(ctx Context, d Document) (string, error)
	Get(ctx Context, id string) (Document, error)
	ListByUser(ctx Context, userID string) ([]Document, error)
	ListByStatus(ctx Context, status DocumentStatus) ([]Document, error)
	UpdateStatus(ctx Context, id string, status DocumentStatus) error
	// UpdateStatusIf performs a compare-and-set on status and reports whether
	// a row changed.
	UpdateStatusIf(ctx Context, id string, from, to DocumentStatus) (bool, error)
	// CompleteProcessing writes the full processing outcome in one statement.
	CompleteProcessing(ctx Context, id string, ocrText string, resultJSON []byte, score int, decision string, verif VerificationStatus) error
	FailProcessing(ctx Context, id string, resultJSON []byte) error
	UpdateVerification(ctx Context, id string, verif VerificationStatus, score *int, decision *string) error
	SetTicketID(ctx Context, id string, ticketID string) error
}

type ReviewRepository interface {
	Create(ctx Context, m ManualReview) (string, error)
	Get(ctx Context, id string) (ManualReview, error)
	FindPendingByDocument(ctx Context, documentID string) (ManualReview, error)
	Resolve(ctx Context, id string, status ReviewStatus, decision string, notes, taskID *string) error
	MarkForwardingFailed(ctx Context, id string, reason string) error
}

// Queue substrate (port). All operations are atomic; the lock is the
// authoritative per-document mutual exclusion primitive.
type Queue interface {
	Enqueue(ctx Context, docID string) (bool, error)
	Dequeue(ctx Context) (string, error)
	MarkComplete(ctx Context, docID string) error
	MarkFailed(ctx Context, docID string) error
	IncrementAttempts(ctx Context, docID string) (int, error)
	ScheduleRetry(ctx Context, docID string, delay time.Duration) error
	AcquireLock(ctx Context, docID string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx Context, docID string) error
	PublishResult(ctx Context, docID string, result ProcessingResult) error
	SetCorrelationID(ctx Context, docID, cid string) error
	GetCorrelationID(ctx Context, docID string) (string, error)
	ProcessingSince(ctx Context, docID string) (time.Time, error)
	ProcessingSet(ctx Context) ([]string, error)
	Ping(ctx Context) error
}

// BlobStore (port). Keys are never public; client reads go through presigned
// URLs.
type BlobStore interface {
	Put(ctx Context, key string, data []byte, contentType string) error
	Get(ctx Context, key string) ([]byte, error)
	Presign(ctx Context, key string, ttl time.Duration) (string, error)
	Delete(ctx Context, key string) error
}

// OCREngine (port): black-box text extractor.
type OCREngine interface {
	Extract(ctx Context, path string) (string, error)
	Name() string
}

// ReviewForwarder (port): delivers escalations to the external reviewer.
type ReviewForwarder interface {
	Forward(ctx Context, req ForwardRequest) (ticketID string, err error)
}

// ForwardRequest is the outbound escalation payload.
type ForwardRequest struct {
	ReviewID      string          `json:"reviewId"`
	DocumentID    string          `json:"documentId"`
	UserID        string          `json:"userId"`
	DocumentType  string          `json:"documentType"`
	ParsedData    json.RawMessage `json:"parsedData"`
	OCRText       string          `json:"ocrText"`
	Score         int             `json:"score"`
	Decision      string          `json:"decision"`
	Reasons       []string        `json:"reasons"`
	CallbackURL   string          `json:"callbackUrl"`
	CorrelationID string          `json:"correlationId"`
}

// ProcessingResult is published on the substrate results channel once a
// document reaches a terminal processing state.
type ProcessingResult struct {
	DocumentID       string `json:"documentId"`
	CorrelationID    string `json:"correlationId"`
	Outcome          string `json:"outcome"`
	Score            int    `json:"score"`
	ProcessingTimeMS int64  `json:"processingTimeMs"`
	Error            string `json:"error,omitempty"`
}

// Context aliases context.Context so that ports read cleanly.
type Context = context.Context
