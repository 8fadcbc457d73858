package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/filot/docverify/internal/domain"
	"github.com/filot/docverify/internal/observability"
	"github.com/filot/docverify/internal/parser"
	"github.com/filot/docverify/internal/scoring"
)

// Forwarder delivers an escalation to the external reviewer, falling back to
// a durable retry queue when the reviewer is unavailable. An empty ticket id
// with a nil error means the escalation was queued.
type Forwarder interface {
	Deliver(ctx domain.Context, req domain.ForwardRequest) (string, error)
}

// Evaluation is the synchronous outcome of the explicit pathway.
type Evaluation struct {
	DocumentID         string
	Score              int
	Decision           string
	VerificationStatus domain.VerificationStatus
	ReviewID           *string
	TicketID           *string
	Reasons            []string
}

// VerificationService is the decision router. It owns the explicit
// evaluation pathway, forced escalation, and the user status join; the
// automatic post-OCR pathway in the worker reuses its escalation and join
// logic.
type VerificationService struct {
	Docs       domain.DocumentRepository
	Users      domain.UserRepository
	Reviews    domain.ReviewRepository
	Forwarder  Forwarder
	Thresholds scoring.Thresholds
}

// NewVerificationService constructs the decision router.
func NewVerificationService(docs domain.DocumentRepository, users domain.UserRepository, reviews domain.ReviewRepository, fw Forwarder, t scoring.Thresholds) *VerificationService {
	return &VerificationService{Docs: docs, Users: users, Reviews: reviews, Forwarder: fw, Thresholds: t}
}

// Evaluate runs the explicit evaluation policy against a completed document.
// Terminal documents return their stored outcome without re-scoring; a
// document that has not completed processing is a conflict.
func (s *VerificationService) Evaluate(ctx domain.Context, userID, docID string) (Evaluation, error) {
	doc, err := s.Docs.Get(ctx, docID)
	if err != nil {
		return Evaluation{}, err
	}
	if doc.UserID != userID {
		return Evaluation{}, fmt.Errorf("op=verification.evaluate: %w", domain.ErrNotFound)
	}
	if doc.VerificationStatus.Terminal() {
		return storedEvaluation(doc), nil
	}
	if doc.Status != domain.DocCompleted {
		return Evaluation{}, fmt.Errorf("op=verification.evaluate: document is %s, not completed: %w",
			doc.Status, domain.ErrConflict)
	}

	var fields parser.Fields
	if len(doc.ResultJSON) > 0 {
		// Best effort; a failure descriptor in result_json simply yields
		// empty fields and a low score.
		_ = json.Unmarshal(doc.ResultJSON, &fields)
	}
	res := scoring.DecideExplicit(doc.Type, fields, doc.OCRText, s.Thresholds)

	ev := Evaluation{
		DocumentID: doc.ID,
		Score:      res.Score,
		Decision:   res.Decision,
		Reasons:    res.Reasons,
	}
	switch res.Decision {
	case scoring.DecisionAutoApprove:
		ev.VerificationStatus = domain.VerifAutoApproved
	case scoring.DecisionAutoReject:
		ev.VerificationStatus = domain.VerifAutoRejected
	default:
		ev.VerificationStatus = domain.VerifPendingManualReview
	}

	if err := s.Docs.UpdateVerification(ctx, doc.ID, ev.VerificationStatus, &res.Score, &res.Decision); err != nil {
		return Evaluation{}, err
	}
	if res.Decision == scoring.DecisionNeedsReview {
		reviewID, ticketID, err := s.EscalateDocument(ctx, doc, res.Score, res.Decision, res.Reasons, fields.JSON())
		if err != nil {
			return Evaluation{}, err
		}
		ev.ReviewID = &reviewID
		if ticketID != "" {
			ev.TicketID = &ticketID
		}
	}
	if err := s.RecomputeUserStatus(ctx, doc.UserID); err != nil {
		return Evaluation{}, err
	}
	return ev, nil
}

func storedEvaluation(doc domain.Document) Evaluation {
	ev := Evaluation{DocumentID: doc.ID, VerificationStatus: doc.VerificationStatus}
	if doc.AIScore != nil {
		ev.Score = *doc.AIScore
	}
	if doc.AIDecision != nil {
		ev.Decision = *doc.AIDecision
	}
	return ev
}

// Escalate forces a document into manual review regardless of its score.
// Terminal documents are idempotent no-ops returning their stored state.
func (s *VerificationService) Escalate(ctx domain.Context, userID, docID string) (string, domain.VerificationStatus, error) {
	doc, err := s.Docs.Get(ctx, docID)
	if err != nil {
		return "", "", err
	}
	if doc.UserID != userID {
		return "", "", fmt.Errorf("op=verification.escalate: %w", domain.ErrNotFound)
	}
	if doc.VerificationStatus.Terminal() {
		ticket := ""
		if doc.Buli2TicketID != nil {
			ticket = *doc.Buli2TicketID
		}
		return ticket, doc.VerificationStatus, nil
	}
	if doc.Status != domain.DocCompleted {
		return "", "", fmt.Errorf("op=verification.escalate: document is %s, not completed: %w",
			doc.Status, domain.ErrConflict)
	}

	score := 0
	if doc.AIScore != nil {
		score = *doc.AIScore
	}
	var fields parser.Fields
	if len(doc.ResultJSON) > 0 {
		_ = json.Unmarshal(doc.ResultJSON, &fields)
	}
	reasons := []string{"Escalation requested by client"}
	if err := s.Docs.UpdateVerification(ctx, doc.ID, domain.VerifPendingManualReview, nil, nil); err != nil {
		return "", "", err
	}
	_, ticketID, err := s.EscalateDocument(ctx, doc, score, scoring.DecisionNeedsReview, reasons, fields.JSON())
	if err != nil {
		return "", "", err
	}
	if err := s.RecomputeUserStatus(ctx, doc.UserID); err != nil {
		return "", "", err
	}
	return ticketID, domain.VerifPendingManualReview, nil
}

// EscalateDocument persists the manual review (reusing an existing pending
// one) and hands the escalation to the forwarder. An existing pending review
// is the idempotency anchor: concurrent escalations of the same document
// collapse onto one row.
func (s *VerificationService) EscalateDocument(ctx domain.Context, doc domain.Document, score int, decision string, reasons []string, parsed []byte) (string, string, error) {
	payload, err := json.Marshal(map[string]any{
		"parsedData": json.RawMessage(parsed),
		"ocrText":    doc.OCRText,
		"score":      score,
		"decision":   decision,
		"reasons":    reasons,
	})
	if err != nil {
		return "", "", fmt.Errorf("op=verification.escalate_document: %w", err)
	}

	review, err := s.Reviews.FindPendingByDocument(ctx, doc.ID)
	switch {
	case err == nil:
		// Reuse the open review, do not re-forward.
		return review.ID, "", nil
	case errors.Is(err, domain.ErrNotFound):
		review = domain.ManualReview{DocumentID: doc.ID, UserID: doc.UserID, Payload: payload}
		review.ID, err = s.Reviews.Create(ctx, review)
		if errors.Is(err, domain.ErrConflict) {
			// Lost the race; the winner's review stands.
			existing, findErr := s.Reviews.FindPendingByDocument(ctx, doc.ID)
			if findErr != nil {
				return "", "", findErr
			}
			return existing.ID, "", nil
		}
		if err != nil {
			return "", "", err
		}
	default:
		return "", "", err
	}

	cid := observability.CorrelationIDFromContext(ctx)
	if cid == "" {
		cid = uuid.New().String()
	}
	ticketID, err := s.Forwarder.Deliver(ctx, domain.ForwardRequest{
		ReviewID:      review.ID,
		DocumentID:    doc.ID,
		UserID:        doc.UserID,
		DocumentType:  string(doc.Type),
		ParsedData:    parsed,
		OCRText:       doc.OCRText,
		Score:         score,
		Decision:      decision,
		Reasons:       reasons,
		CorrelationID: cid,
	})
	if err != nil {
		// The review row is durable; forwarding will be retried out of band.
		slog.ErrorContext(ctx, "escalation delivery failed",
			slog.String("review_id", review.ID),
			slog.String("document_id", doc.ID),
			slog.Any("error", err))
		return review.ID, "", nil
	}
	if ticketID != "" {
		if err := s.Docs.SetTicketID(ctx, doc.ID, ticketID); err != nil {
			return review.ID, ticketID, err
		}
	}
	return review.ID, ticketID, nil
}

// RecomputeUserStatus re-derives the user's verification status from the
// latest document of each submitted type. Rejections dominate, then full
// approval, then the most advanced intermediate state.
func (s *VerificationService) RecomputeUserStatus(ctx domain.Context, userID string) error {
	docs, err := s.Docs.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	status := JoinVerificationStatuses(docs)
	return s.Users.UpdateVerificationStatus(ctx, userID, status)
}

// JoinVerificationStatuses folds per-document outcomes into one user status.
// Documents arrive newest first; only the most recent document per type
// counts.
func JoinVerificationStatuses(docs []domain.Document) domain.VerificationStatus {
	latest := map[domain.DocumentType]domain.VerificationStatus{}
	for _, d := range docs {
		if _, seen := latest[d.Type]; !seen {
			latest[d.Type] = d.VerificationStatus
		}
	}
	if len(latest) == 0 {
		return domain.VerifPending
	}

	var anyManualReject, anyAutoReject, anyManualApprove, anyReview bool
	allApproved := true
	for _, v := range latest {
		switch v {
		case domain.VerifManuallyRejected:
			anyManualReject = true
			allApproved = false
		case domain.VerifAutoRejected:
			anyAutoReject = true
			allApproved = false
		case domain.VerifManuallyApproved:
			anyManualApprove = true
		case domain.VerifAutoApproved:
		case domain.VerifPendingManualReview:
			anyReview = true
			allApproved = false
		default:
			allApproved = false
		}
	}
	switch {
	case anyManualReject:
		return domain.VerifManuallyRejected
	case anyAutoReject:
		return domain.VerifAutoRejected
	case allApproved && anyManualApprove:
		return domain.VerifManuallyApproved
	case allApproved:
		return domain.VerifAutoApproved
	case anyReview:
		return domain.VerifPendingManualReview
	default:
		return domain.VerifPending
	}
}
