package usecase

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/filot/docverify/internal/domain"
)

type memDocs struct {
	byID  map[string]domain.Document
	order []string
}

func newMemDocs() *memDocs { return &memDocs{byID: map[string]domain.Document{}} }

func (m *memDocs) Create(_ domain.Context, d domain.Document) (string, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = domain.DocUploaded
	}
	if d.VerificationStatus == "" {
		d.VerificationStatus = domain.VerifPending
	}
	d.CreatedAt = time.Now().UTC()
	m.byID[d.ID] = d
	m.order = append(m.order, d.ID)
	return d.ID, nil
}

func (m *memDocs) Get(_ domain.Context, id string) (domain.Document, error) {
	d, ok := m.byID[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("op=document.get: %w", domain.ErrNotFound)
	}
	return d, nil
}

func (m *memDocs) ListByUser(_ domain.Context, userID string) ([]domain.Document, error) {
	var out []domain.Document
	for i := len(m.order) - 1; i >= 0; i-- {
		if d := m.byID[m.order[i]]; d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDocs) ListByStatus(_ domain.Context, status domain.DocumentStatus) ([]domain.Document, error) {
	var out []domain.Document
	for _, id := range m.order {
		if d := m.byID[id]; d.Status == status {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDocs) UpdateStatus(_ domain.Context, id string, status domain.DocumentStatus) error {
	d := m.byID[id]
	d.Status = status
	m.byID[id] = d
	return nil
}

func (m *memDocs) UpdateStatusIf(_ domain.Context, id string, from, to domain.DocumentStatus) (bool, error) {
	d, ok := m.byID[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	m.byID[id] = d
	return true, nil
}

func (m *memDocs) CompleteProcessing(_ domain.Context, id, ocrText string, resultJSON []byte, score int, decision string, verif domain.VerificationStatus) error {
	d := m.byID[id]
	now := time.Now().UTC()
	d.Status = domain.DocCompleted
	d.VerificationStatus = verif
	d.OCRText = ocrText
	d.ResultJSON = resultJSON
	d.AIScore = &score
	d.AIDecision = &decision
	d.ProcessedAt = &now
	m.byID[id] = d
	return nil
}

func (m *memDocs) FailProcessing(_ domain.Context, id string, resultJSON []byte) error {
	d := m.byID[id]
	now := time.Now().UTC()
	d.Status = domain.DocFailed
	d.ResultJSON = resultJSON
	d.ProcessedAt = &now
	m.byID[id] = d
	return nil
}

func (m *memDocs) UpdateVerification(_ domain.Context, id string, verif domain.VerificationStatus, score *int, decision *string) error {
	d := m.byID[id]
	d.VerificationStatus = verif
	if score != nil {
		d.AIScore = score
	}
	if decision != nil {
		d.AIDecision = decision
	}
	m.byID[id] = d
	return nil
}

func (m *memDocs) SetTicketID(_ domain.Context, id, ticketID string) error {
	d := m.byID[id]
	d.Buli2TicketID = &ticketID
	m.byID[id] = d
	return nil
}

type memUsers struct {
	byID map[string]domain.User
}

func newMemUsers() *memUsers { return &memUsers{byID: map[string]domain.User{}} }

func (m *memUsers) Create(_ domain.Context, u domain.User) (string, error) {
	for _, v := range m.byID {
		if v.Sub == u.Sub {
			return "", fmt.Errorf("op=user.create: %w", domain.ErrConflict)
		}
	}
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.VerificationStatus == "" {
		u.VerificationStatus = domain.VerifPending
	}
	u.CreatedAt = time.Now().UTC()
	m.byID[u.ID] = u
	return u.ID, nil
}

func (m *memUsers) Get(_ domain.Context, id string) (domain.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return domain.User{}, fmt.Errorf("op=user.get: %w", domain.ErrNotFound)
	}
	return u, nil
}

func (m *memUsers) FindBySub(_ domain.Context, sub string) (domain.User, error) {
	for _, u := range m.byID {
		if u.Sub == sub {
			return u, nil
		}
	}
	return domain.User{}, fmt.Errorf("op=user.find_by_sub: %w", domain.ErrNotFound)
}

func (m *memUsers) UpdateVerificationStatus(_ domain.Context, id string, status domain.VerificationStatus) error {
	u, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("op=user.update_verification: %w", domain.ErrNotFound)
	}
	u.VerificationStatus = status
	m.byID[id] = u
	return nil
}

type memReviews struct {
	byID map[string]domain.ManualReview
}

func newMemReviews() *memReviews { return &memReviews{byID: map[string]domain.ManualReview{}} }

func (m *memReviews) Create(_ domain.Context, r domain.ManualReview) (string, error) {
	for _, v := range m.byID {
		if v.DocumentID == r.DocumentID && v.Status == domain.ReviewPending {
			return "", fmt.Errorf("op=review.create: %w", domain.ErrConflict)
		}
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = domain.ReviewPending
	}
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	m.byID[r.ID] = r
	return r.ID, nil
}

func (m *memReviews) Get(_ domain.Context, id string) (domain.ManualReview, error) {
	r, ok := m.byID[id]
	if !ok {
		return domain.ManualReview{}, fmt.Errorf("op=review.get: %w", domain.ErrNotFound)
	}
	return r, nil
}

func (m *memReviews) FindPendingByDocument(_ domain.Context, documentID string) (domain.ManualReview, error) {
	for _, r := range m.byID {
		if r.DocumentID == documentID && r.Status == domain.ReviewPending {
			return r, nil
		}
	}
	return domain.ManualReview{}, fmt.Errorf("op=review.find_pending: %w", domain.ErrNotFound)
}

func (m *memReviews) Resolve(_ domain.Context, id string, status domain.ReviewStatus, decision string, notes, taskID *string) error {
	r, ok := m.byID[id]
	if !ok || r.Status != domain.ReviewPending {
		return fmt.Errorf("op=review.resolve: %w", domain.ErrConflict)
	}
	r.Status = status
	r.Decision = &decision
	if notes != nil {
		r.Notes = notes
	}
	if taskID != nil {
		r.Buli2TaskID = taskID
	}
	r.UpdatedAt = time.Now().UTC()
	m.byID[id] = r
	return nil
}

func (m *memReviews) MarkForwardingFailed(_ domain.Context, id, reason string) error {
	r, ok := m.byID[id]
	if !ok || r.Status != domain.ReviewPending {
		return nil
	}
	note := "forwarding_failed: " + reason
	r.Notes = &note
	m.byID[id] = r
	return nil
}

type memBlob struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemBlob() *memBlob { return &memBlob{objects: map[string][]byte{}, types: map[string]string{}} }

func (m *memBlob) Put(_ domain.Context, key string, data []byte, contentType string) error {
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memBlob) Get(_ domain.Context, key string) ([]byte, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("op=blob.get: %w", domain.ErrNotFound)
	}
	return b, nil
}

func (m *memBlob) Presign(_ domain.Context, key string, ttl time.Duration) (string, error) {
	if _, ok := m.objects[key]; !ok {
		return "", fmt.Errorf("op=blob.presign: %w", domain.ErrNotFound)
	}
	return "https://blob.test/" + key + "?sig=x", nil
}

func (m *memBlob) Delete(_ domain.Context, key string) error {
	delete(m.objects, key)
	delete(m.types, key)
	return nil
}

type memQueue struct {
	queued map[string]bool
}

func newMemQueue() *memQueue { return &memQueue{queued: map[string]bool{}} }

func (m *memQueue) Enqueue(_ domain.Context, docID string) (bool, error) {
	if m.queued[docID] {
		return false, nil
	}
	m.queued[docID] = true
	return true, nil
}

func (m *memQueue) Dequeue(domain.Context) (string, error)          { return "", nil }
func (m *memQueue) MarkComplete(_ domain.Context, id string) error  { delete(m.queued, id); return nil }
func (m *memQueue) MarkFailed(_ domain.Context, id string) error    { delete(m.queued, id); return nil }
func (m *memQueue) IncrementAttempts(domain.Context, string) (int, error) { return 1, nil }
func (m *memQueue) ScheduleRetry(domain.Context, string, time.Duration) error { return nil }
func (m *memQueue) AcquireLock(domain.Context, string, time.Duration) (bool, error) {
	return true, nil
}
func (m *memQueue) ReleaseLock(domain.Context, string) error { return nil }
func (m *memQueue) PublishResult(domain.Context, string, domain.ProcessingResult) error {
	return nil
}
func (m *memQueue) SetCorrelationID(domain.Context, string, string) error { return nil }
func (m *memQueue) GetCorrelationID(domain.Context, string) (string, error) {
	return "", nil
}
func (m *memQueue) ProcessingSince(domain.Context, string) (time.Time, error) {
	return time.Time{}, nil
}
func (m *memQueue) ProcessingSet(domain.Context) ([]string, error) { return nil, nil }
func (m *memQueue) Ping(domain.Context) error                      { return nil }

type fakeForwarder struct {
	ticket   string
	err      error
	requests []domain.ForwardRequest
}

func (f *fakeForwarder) Deliver(_ domain.Context, req domain.ForwardRequest) (string, error) {
	f.requests = append(f.requests, req)
	return f.ticket, f.err
}
