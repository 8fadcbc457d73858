package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/filot/docverify/internal/domain"
)

// DocumentRepo persists and loads documents using a minimal pgx pool.
type DocumentRepo struct{ Pool PgxPool }

// NewDocumentRepo constructs a DocumentRepo with the given pool.
func NewDocumentRepo(p PgxPool) *DocumentRepo { return &DocumentRepo{Pool: p} }

const docColumns = `id, user_id, type, blob_key, status, verification_status,
	ai_score, ai_decision, result_json, COALESCE(ocr_text,''), buli2_ticket_id, created_at, processed_at`

// Create inserts a new document and returns its id (generates one if empty).
func (r *DocumentRepo) Create(ctx domain.Context, d domain.Document) (string, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.Create")
	defer span.End()
	id := d.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := d.Status
	if status == "" {
		status = domain.DocUploaded
	}
	verif := d.VerificationStatus
	if verif == "" {
		verif = domain.VerifPending
	}
	q := `INSERT INTO documents (id, user_id, type, blob_key, status, verification_status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.Pool.Exec(ctx, q, id, d.UserID, d.Type, d.BlobKey, status, verif, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=document.create: %w", err)
	}
	return id, nil
}

// Get loads a document by id.
func (r *DocumentRepo) Get(ctx domain.Context, id string) (domain.Document, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.Get")
	defer span.End()
	row := r.Pool.QueryRow(ctx, `SELECT `+docColumns+` FROM documents WHERE id=$1`, id)
	return scanDocument(row, "document.get")
}

// ListByUser returns all documents owned by userID, newest first.
func (r *DocumentRepo) ListByUser(ctx domain.Context, userID string) ([]domain.Document, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.ListByUser")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT `+docColumns+` FROM documents WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("op=document.list_by_user: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows, "document.list_by_user")
}

// ListByStatus returns all documents in the given processing state. Startup
// recovery uses it to find rows stranded in processing.
func (r *DocumentRepo) ListByStatus(ctx domain.Context, status domain.DocumentStatus) ([]domain.Document, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.ListByStatus")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT `+docColumns+` FROM documents WHERE status=$1`, status)
	if err != nil {
		return nil, fmt.Errorf("op=document.list_by_status: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows, "document.list_by_status")
}

// UpdateStatus sets the processing status unconditionally.
func (r *DocumentRepo) UpdateStatus(ctx domain.Context, id string, status domain.DocumentStatus) error {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.UpdateStatus")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `UPDATE documents SET status=$2 WHERE id=$1`, id, status); err != nil {
		return fmt.Errorf("op=document.update_status: %w", err)
	}
	return nil
}

// UpdateStatusIf performs a compare-and-set on the processing status and
// reports whether a row changed. The queue lock is the true mutual-exclusion
// primitive; this guard only keeps the DB trail honest.
func (r *DocumentRepo) UpdateStatusIf(ctx domain.Context, id string, from, to domain.DocumentStatus) (bool, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.UpdateStatusIf")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `UPDATE documents SET status=$3 WHERE id=$1 AND status=$2`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("op=document.update_status_if: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteProcessing writes the full processing outcome in one statement.
func (r *DocumentRepo) CompleteProcessing(ctx domain.Context, id string, ocrText string, resultJSON []byte, score int, decision string, verif domain.VerificationStatus) error {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.CompleteProcessing")
	defer span.End()
	q := `UPDATE documents SET status=$2, verification_status=$3, ocr_text=$4, result_json=$5,
		ai_score=$6, ai_decision=$7, processed_at=$8 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, domain.DocCompleted, verif, ocrText, resultJSON, score, decision, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=document.complete_processing: %w", err)
	}
	return nil
}

// FailProcessing marks the document terminally failed with an error
// descriptor.
func (r *DocumentRepo) FailProcessing(ctx domain.Context, id string, resultJSON []byte) error {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.FailProcessing")
	defer span.End()
	q := `UPDATE documents SET status=$2, result_json=$3, processed_at=$4 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, domain.DocFailed, resultJSON, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=document.fail_processing: %w", err)
	}
	return nil
}

// UpdateVerification sets the verification outcome and optionally the score
// and decision produced by an explicit evaluation.
func (r *DocumentRepo) UpdateVerification(ctx domain.Context, id string, verif domain.VerificationStatus, score *int, decision *string) error {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.UpdateVerification")
	defer span.End()
	q := `UPDATE documents SET verification_status=$2,
		ai_score=COALESCE($3, ai_score), ai_decision=COALESCE($4, ai_decision) WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, verif, score, decision); err != nil {
		return fmt.Errorf("op=document.update_verification: %w", err)
	}
	return nil
}

// SetTicketID records the external reviewer's opaque ticket id.
func (r *DocumentRepo) SetTicketID(ctx domain.Context, id string, ticketID string) error {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.SetTicketID")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `UPDATE documents SET buli2_ticket_id=$2 WHERE id=$1`, id, ticketID); err != nil {
		return fmt.Errorf("op=document.set_ticket: %w", err)
	}
	return nil
}

func scanDocument(row pgx.Row, op string) (domain.Document, error) {
	var d domain.Document
	if err := row.Scan(&d.ID, &d.UserID, &d.Type, &d.BlobKey, &d.Status, &d.VerificationStatus,
		&d.AIScore, &d.AIDecision, &d.ResultJSON, &d.OCRText, &d.Buli2TicketID, &d.CreatedAt, &d.ProcessedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Document{}, fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
		}
		return domain.Document{}, fmt.Errorf("op=%s: %w", op, err)
	}
	return d, nil
}

func scanDocuments(rows pgx.Rows, op string) ([]domain.Document, error) {
	var out []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.UserID, &d.Type, &d.BlobKey, &d.Status, &d.VerificationStatus,
			&d.AIScore, &d.AIDecision, &d.ResultJSON, &d.OCRText, &d.Buli2TicketID, &d.CreatedAt, &d.ProcessedAt); err != nil {
			return nil, fmt.Errorf("op=%s: %w", op, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	return out, nil
}
