package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/filot/docverify/internal/domain"
	"github.com/filot/docverify/internal/observability"
	"github.com/filot/docverify/internal/usecase"
)

// Server aggregates the services the HTTP surface needs. Health check funcs
// are injected so the package stays free of adapter imports.
type Server struct {
	Uploads  usecase.UploadService
	Process  usecase.ProcessService
	Results  usecase.ResultService
	Verifier *usecase.VerificationService
	Reviews  usecase.ReviewService
	Users    usecase.UserService

	MaxUploadBytes int64

	DBCheck      func(ctx domain.Context) error
	RedisCheck   func(ctx domain.Context) error
	OCRCheck     func(ctx domain.Context) error
	BreakerState func() string
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New() })
	return validate
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w: %v", domain.ErrInvalidArgument, err)
	}
	if err := getValidator().Struct(v); err != nil {
		return fmt.Errorf("validate body: %w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

func requestUser(w http.ResponseWriter, r *http.Request) (domain.User, bool) {
	u, ok := UserFromContext(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "no authenticated user", nil)
	}
	return u, ok
}

type documentView struct {
	ID                 string  `json:"id"`
	Type               string  `json:"type"`
	Status             string  `json:"status"`
	VerificationStatus string  `json:"verificationStatus"`
	AIScore            *int    `json:"aiScore,omitempty"`
	AIDecision         *string `json:"aiDecision,omitempty"`
	TicketID           *string `json:"ticketId,omitempty"`
	CreatedAt          string  `json:"createdAt"`
	ProcessedAt        *string `json:"processedAt,omitempty"`
}

func toDocumentView(d domain.Document) documentView {
	v := documentView{
		ID:                 d.ID,
		Type:               string(d.Type),
		Status:             string(d.Status),
		VerificationStatus: string(d.VerificationStatus),
		AIScore:            d.AIScore,
		AIDecision:         d.AIDecision,
		TicketID:           d.Buli2TicketID,
		CreatedAt:          d.CreatedAt.UTC().Format(time.RFC3339),
	}
	if d.ProcessedAt != nil {
		s := d.ProcessedAt.UTC().Format(time.RFC3339)
		v.ProcessedAt = &s
	}
	return v
}

// HandleUpload accepts a multipart form with fields "type" and "file".
func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	u, ok := requestUser(w, r)
	if !ok {
		return
	}
	// One megabyte of slack for the multipart framing around the file part.
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(s.MaxUploadBytes); err != nil {
		writeError(w, r, fmt.Errorf("parse multipart: %w: %v", domain.ErrInvalidArgument, err), nil)
		return
	}
	docType := domain.DocumentType(r.FormValue("type"))
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, fmt.Errorf("file field: %w: %v", domain.ErrInvalidArgument, err), nil)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, s.MaxUploadBytes+1))
	if err != nil {
		writeError(w, r, fmt.Errorf("op=upload.read: %w", err), nil)
		return
	}
	doc, err := s.Uploads.Upload(r.Context(), u.ID, docType, header.Filename, data)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"documentId": doc.ID,
		"document":   toDocumentView(doc),
	})
}

// HandleProcess enqueues a document for OCR processing.
func (s *Server) HandleProcess(w http.ResponseWriter, r *http.Request) {
	u, ok := requestUser(w, r)
	if !ok {
		return
	}
	docID := chi.URLParam(r, "id")
	queued, err := s.Process.Enqueue(r.Context(), u.ID, docID)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queued": queued, "documentId": docID})
}

// HandleResult returns the processing outcome of a document.
func (s *Server) HandleResult(w http.ResponseWriter, r *http.Request) {
	u, ok := requestUser(w, r)
	if !ok {
		return
	}
	doc, err := s.Results.Result(r.Context(), u.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	resp := map[string]any{"status": string(doc.Status)}
	switch doc.Status {
	case domain.DocCompleted:
		resp["result"] = json.RawMessage(doc.ResultJSON)
	case domain.DocFailed:
		resp["error"] = json.RawMessage(doc.ResultJSON)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleDownload returns a presigned URL for the stored blob.
func (s *Server) HandleDownload(w http.ResponseWriter, r *http.Request) {
	u, ok := requestUser(w, r)
	if !ok {
		return
	}
	url, expiresIn, err := s.Results.Download(r.Context(), u.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url, "expiresIn": expiresIn})
}

type evaluateRequest struct {
	DocumentID string `json:"documentId" validate:"required,uuid4"`
}

// HandleEvaluate runs the explicit evaluation pathway on a completed
// document and returns the full decision record.
func (s *Server) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	u, ok := requestUser(w, r)
	if !ok {
		return
	}
	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}
	ev, err := s.Verifier.Evaluate(r.Context(), u.ID, req.DocumentID)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documentId":         ev.DocumentID,
		"score":              ev.Score,
		"decision":           ev.Decision,
		"verificationStatus": string(ev.VerificationStatus),
		"reviewId":           ev.ReviewID,
		"ticketId":           ev.TicketID,
		"reasons":            ev.Reasons,
	})
}

// HandleVerificationStatus returns a snapshot of one document's state.
func (s *Server) HandleVerificationStatus(w http.ResponseWriter, r *http.Request) {
	u, ok := requestUser(w, r)
	if !ok {
		return
	}
	doc, err := s.Results.Result(r.Context(), u.ID, chi.URLParam(r, "docId"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documentId": doc.ID,
		"document":   toDocumentView(doc),
		"user": map[string]any{
			"id":                 u.ID,
			"verificationStatus": string(u.VerificationStatus),
		},
	})
}

// HandleEscalate forces a completed document into manual review.
func (s *Server) HandleEscalate(w http.ResponseWriter, r *http.Request) {
	u, ok := requestUser(w, r)
	if !ok {
		return
	}
	ticketID, verif, err := s.Verifier.Escalate(r.Context(), u.ID, chi.URLParam(r, "docId"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticketId":           ticketID,
		"verificationStatus": string(verif),
	})
}

type callbackRequest struct {
	Decision string  `json:"decision" validate:"required,oneof=approved rejected"`
	Notes    *string `json:"notes"`
	TaskID   *string `json:"taskId"`
}

// HandleCallback applies an inbound reviewer decision. Replays against a
// terminal review are 200 no-ops.
func (s *Server) HandleCallback(w http.ResponseWriter, r *http.Request) {
	reviewID := chi.URLParam(r, "reviewId")
	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}
	applied, err := s.Reviews.ApplyCallback(r.Context(), reviewID, req.Decision, req.Notes, req.TaskID)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	observability.LoggerFromContext(r.Context()).Info("reviewer callback",
		"review_id", reviewID, "decision", req.Decision, "applied", applied)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type internalResultRequest struct {
	DocumentID string  `json:"documentId" validate:"required,uuid4"`
	Decision   string  `json:"decision" validate:"required,oneof=approved rejected"`
	Notes      *string `json:"notes"`
	TaskID     *string `json:"taskId"`
}

// HandleInternalResult is the alternate inbound surface keyed by document
// rather than review id.
func (s *Server) HandleInternalResult(w http.ResponseWriter, r *http.Request) {
	var req internalResultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}
	applied, err := s.Reviews.ApplyResultByDocument(r.Context(), req.DocumentID, req.Decision, req.Notes, req.TaskID)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "applied": applied})
}

// HandleHealth reports liveness and dependency reachability.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	check := func(fn func(domain.Context) error) bool {
		if fn == nil {
			return false
		}
		return fn(ctx) == nil
	}
	redisOK := check(s.RedisCheck)
	dbOK := check(s.DBCheck)
	ocrOK := check(s.OCRCheck)
	breaker := ""
	if s.BreakerState != nil {
		breaker = s.BreakerState()
	}
	status := http.StatusOK
	ok := redisOK && dbOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ok":             ok,
		"redisConnected": redisOK,
		"dbConnected":    dbOK,
		"ocrReachable":   ocrOK,
		"breaker":        breaker,
	})
}
