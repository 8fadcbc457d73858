package usecase

import (
	"errors"
	"fmt"

	"github.com/filot/docverify/internal/domain"
	"github.com/filot/docverify/internal/observability"
)

// ReviewService reconciles inbound reviewer decisions with the manual-review
// and document state. Signature verification happens at the HTTP boundary;
// this layer only sees authenticated payloads.
type ReviewService struct {
	Reviews  domain.ReviewRepository
	Docs     domain.DocumentRepository
	Verifier *VerificationService
}

// NewReviewService constructs a ReviewService.
func NewReviewService(reviews domain.ReviewRepository, docs domain.DocumentRepository, verifier *VerificationService) ReviewService {
	return ReviewService{Reviews: reviews, Docs: docs, Verifier: verifier}
}

// ApplyCallback applies one reviewer decision to the review identified by
// reviewID. Replays against a terminal review are no-ops reporting
// applied=false; exactly one state transition ever happens per review.
func (s ReviewService) ApplyCallback(ctx domain.Context, reviewID, decision string, notes, taskID *string) (bool, error) {
	var reviewStatus domain.ReviewStatus
	var verif domain.VerificationStatus
	switch decision {
	case "approved":
		reviewStatus, verif = domain.ReviewApproved, domain.VerifManuallyApproved
	case "rejected":
		reviewStatus, verif = domain.ReviewRejected, domain.VerifManuallyRejected
	default:
		return false, fmt.Errorf("op=review.apply: decision must be approved or rejected: %w", domain.ErrInvalidArgument)
	}

	review, err := s.Reviews.Get(ctx, reviewID)
	if err != nil {
		return false, err
	}
	if review.Status.Terminal() {
		observability.CallbacksTotal.WithLabelValues("replay").Inc()
		return false, nil
	}

	if err := s.Reviews.Resolve(ctx, reviewID, reviewStatus, decision, notes, taskID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Concurrent callback won; this replay is a no-op.
			observability.CallbacksTotal.WithLabelValues("replay").Inc()
			return false, nil
		}
		return false, err
	}
	if err := s.Docs.UpdateVerification(ctx, review.DocumentID, verif, nil, nil); err != nil {
		return false, err
	}
	if err := s.Verifier.RecomputeUserStatus(ctx, review.UserID); err != nil {
		return false, err
	}
	observability.CallbacksTotal.WithLabelValues(decision).Inc()
	return true, nil
}

// ApplyResultByDocument applies a reviewer decision addressed by document id
// rather than review id. Used by the alternate inbound result endpoint.
func (s ReviewService) ApplyResultByDocument(ctx domain.Context, docID, decision string, notes, taskID *string) (bool, error) {
	review, err := s.Reviews.FindPendingByDocument(ctx, docID)
	if err != nil {
		return false, err
	}
	return s.ApplyCallback(ctx, review.ID, decision, notes, taskID)
}
