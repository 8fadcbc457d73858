package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/filot/docverify/internal/domain"
)

// ReviewRepo persists and loads manual reviews using a minimal pgx pool.
type ReviewRepo struct{ Pool PgxPool }

// NewReviewRepo constructs a ReviewRepo with the given pool.
func NewReviewRepo(p PgxPool) *ReviewRepo { return &ReviewRepo{Pool: p} }

const reviewColumns = `id, document_id, user_id, payload, status, decision, notes, buli2_task_id, created_at, updated_at`

// Create inserts a new pending review. The partial unique index on
// (document_id) WHERE status='pending' enforces at most one active review
// per document; a second insert surfaces as ErrConflict.
func (r *ReviewRepo) Create(ctx domain.Context, m domain.ManualReview) (string, error) {
	tracer := otel.Tracer("repo.reviews")
	ctx, span := tracer.Start(ctx, "reviews.Create")
	defer span.End()
	id := m.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := m.Status
	if status == "" {
		status = domain.ReviewPending
	}
	now := time.Now().UTC()
	q := `INSERT INTO manual_reviews (id, document_id, user_id, payload, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	if _, err := r.Pool.Exec(ctx, q, id, m.DocumentID, m.UserID, m.Payload, status, now, now); err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("op=review.create: %w", domain.ErrConflict)
		}
		return "", fmt.Errorf("op=review.create: %w", err)
	}
	return id, nil
}

// Get loads a review by id.
func (r *ReviewRepo) Get(ctx domain.Context, id string) (domain.ManualReview, error) {
	tracer := otel.Tracer("repo.reviews")
	ctx, span := tracer.Start(ctx, "reviews.Get")
	defer span.End()
	row := r.Pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM manual_reviews WHERE id=$1`, id)
	return scanReview(row, "review.get")
}

// FindPendingByDocument loads the active review for a document, if any.
func (r *ReviewRepo) FindPendingByDocument(ctx domain.Context, documentID string) (domain.ManualReview, error) {
	tracer := otel.Tracer("repo.reviews")
	ctx, span := tracer.Start(ctx, "reviews.FindPendingByDocument")
	defer span.End()
	row := r.Pool.QueryRow(ctx,
		`SELECT `+reviewColumns+` FROM manual_reviews WHERE document_id=$1 AND status=$2 LIMIT 1`,
		documentID, domain.ReviewPending)
	return scanReview(row, "review.find_pending")
}

// Resolve moves a pending review into a terminal state. The status guard in
// the WHERE clause serializes callback replays: a review already terminal is
// left untouched and ErrConflict is returned.
func (r *ReviewRepo) Resolve(ctx domain.Context, id string, status domain.ReviewStatus, decision string, notes, taskID *string) error {
	tracer := otel.Tracer("repo.reviews")
	ctx, span := tracer.Start(ctx, "reviews.Resolve")
	defer span.End()
	q := `UPDATE manual_reviews SET status=$2, decision=$3,
		notes=COALESCE($4, notes), buli2_task_id=COALESCE($5, buli2_task_id), updated_at=$6
		WHERE id=$1 AND status=$7`
	tag, err := r.Pool.Exec(ctx, q, id, status, decision, notes, taskID, time.Now().UTC(), domain.ReviewPending)
	if err != nil {
		return fmt.Errorf("op=review.resolve: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=review.resolve: %w", domain.ErrConflict)
	}
	return nil
}

// MarkForwardingFailed records a terminal forwarding failure on a still
// pending review. The review stays pending; only the notes carry the reason.
func (r *ReviewRepo) MarkForwardingFailed(ctx domain.Context, id string, reason string) error {
	tracer := otel.Tracer("repo.reviews")
	ctx, span := tracer.Start(ctx, "reviews.MarkForwardingFailed")
	defer span.End()
	q := `UPDATE manual_reviews SET notes=$2, updated_at=$3 WHERE id=$1 AND status=$4`
	if _, err := r.Pool.Exec(ctx, q, id, "forwarding_failed: "+reason, time.Now().UTC(), domain.ReviewPending); err != nil {
		return fmt.Errorf("op=review.mark_forwarding_failed: %w", err)
	}
	return nil
}

func scanReview(row pgx.Row, op string) (domain.ManualReview, error) {
	var m domain.ManualReview
	if err := row.Scan(&m.ID, &m.DocumentID, &m.UserID, &m.Payload, &m.Status,
		&m.Decision, &m.Notes, &m.Buli2TaskID, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.ManualReview{}, fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
		}
		return domain.ManualReview{}, fmt.Errorf("op=%s: %w", op, err)
	}
	return m, nil
}
