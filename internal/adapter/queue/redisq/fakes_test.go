package redisq

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/filot/docverify/internal/domain"
)

type testDocs struct {
	byID map[string]domain.Document
}

func newTestDocs() *testDocs { return &testDocs{byID: map[string]domain.Document{}} }

func (m *testDocs) add(d domain.Document) string {
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
	return d.ID
}

func (m *testDocs) Create(_ domain.Context, d domain.Document) (string, error) {
	return m.add(d), nil
}

func (m *testDocs) Get(_ domain.Context, id string) (domain.Document, error) {
	d, ok := m.byID[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("op=document.get: %w", domain.ErrNotFound)
	}
	return d, nil
}

func (m *testDocs) ListByUser(_ domain.Context, userID string) ([]domain.Document, error) {
	var out []domain.Document
	for _, d := range m.byID {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *testDocs) ListByStatus(_ domain.Context, status domain.DocumentStatus) ([]domain.Document, error) {
	var out []domain.Document
	for _, d := range m.byID {
		if d.Status == status {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *testDocs) UpdateStatus(_ domain.Context, id string, status domain.DocumentStatus) error {
	d := m.byID[id]
	d.Status = status
	m.byID[id] = d
	return nil
}

func (m *testDocs) UpdateStatusIf(_ domain.Context, id string, from, to domain.DocumentStatus) (bool, error) {
	d, ok := m.byID[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	m.byID[id] = d
	return true, nil
}

func (m *testDocs) CompleteProcessing(_ domain.Context, id, ocrText string, resultJSON []byte, score int, decision string, verif domain.VerificationStatus) error {
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

func (m *testDocs) FailProcessing(_ domain.Context, id string, resultJSON []byte) error {
	d := m.byID[id]
	now := time.Now().UTC()
	d.Status = domain.DocFailed
	d.ResultJSON = resultJSON
	d.ProcessedAt = &now
	m.byID[id] = d
	return nil
}

func (m *testDocs) UpdateVerification(_ domain.Context, id string, verif domain.VerificationStatus, score *int, decision *string) error {
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

func (m *testDocs) SetTicketID(_ domain.Context, id, ticketID string) error {
	d := m.byID[id]
	d.Buli2TicketID = &ticketID
	m.byID[id] = d
	return nil
}

type testUsers struct {
	byID map[string]domain.User
}

func newTestUsers() *testUsers { return &testUsers{byID: map[string]domain.User{}} }

func (m *testUsers) add(u domain.User) string {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.VerificationStatus == "" {
		u.VerificationStatus = domain.VerifPending
	}
	m.byID[u.ID] = u
	return u.ID
}

func (m *testUsers) Create(_ domain.Context, u domain.User) (string, error) { return m.add(u), nil }

func (m *testUsers) Get(_ domain.Context, id string) (domain.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return domain.User{}, fmt.Errorf("op=user.get: %w", domain.ErrNotFound)
	}
	return u, nil
}

func (m *testUsers) FindBySub(_ domain.Context, sub string) (domain.User, error) {
	for _, u := range m.byID {
		if u.Sub == sub {
			return u, nil
		}
	}
	return domain.User{}, fmt.Errorf("op=user.find_by_sub: %w", domain.ErrNotFound)
}

func (m *testUsers) UpdateVerificationStatus(_ domain.Context, id string, status domain.VerificationStatus) error {
	u := m.byID[id]
	u.VerificationStatus = status
	m.byID[id] = u
	return nil
}

type testReviews struct {
	byID map[string]domain.ManualReview
}

func newTestReviews() *testReviews { return &testReviews{byID: map[string]domain.ManualReview{}} }

func (m *testReviews) Create(_ domain.Context, r domain.ManualReview) (string, error) {
	for _, v := range m.byID {
		if v.DocumentID == r.DocumentID && v.Status == domain.ReviewPending {
			return "", fmt.Errorf("op=review.create: %w", domain.ErrConflict)
		}
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.Status = domain.ReviewPending
	m.byID[r.ID] = r
	return r.ID, nil
}

func (m *testReviews) Get(_ domain.Context, id string) (domain.ManualReview, error) {
	r, ok := m.byID[id]
	if !ok {
		return domain.ManualReview{}, fmt.Errorf("op=review.get: %w", domain.ErrNotFound)
	}
	return r, nil
}

func (m *testReviews) FindPendingByDocument(_ domain.Context, documentID string) (domain.ManualReview, error) {
	for _, r := range m.byID {
		if r.DocumentID == documentID && r.Status == domain.ReviewPending {
			return r, nil
		}
	}
	return domain.ManualReview{}, fmt.Errorf("op=review.find_pending: %w", domain.ErrNotFound)
}

func (m *testReviews) Resolve(_ domain.Context, id string, status domain.ReviewStatus, decision string, notes, taskID *string) error {
	r, ok := m.byID[id]
	if !ok || r.Status != domain.ReviewPending {
		return fmt.Errorf("op=review.resolve: %w", domain.ErrConflict)
	}
	r.Status = status
	r.Decision = &decision
	m.byID[id] = r
	return nil
}

func (m *testReviews) MarkForwardingFailed(_ domain.Context, id, reason string) error {
	return nil
}

type testBlob struct {
	objects map[string][]byte
}

func newTestBlob() *testBlob { return &testBlob{objects: map[string][]byte{}} }

func (m *testBlob) Put(_ domain.Context, key string, data []byte, _ string) error {
	m.objects[key] = data
	return nil
}

func (m *testBlob) Get(_ domain.Context, key string) ([]byte, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("op=blob.get: %w", domain.ErrNotFound)
	}
	return b, nil
}

func (m *testBlob) Presign(_ domain.Context, key string, _ time.Duration) (string, error) {
	return "https://blob.test/" + key, nil
}

func (m *testBlob) Delete(_ domain.Context, key string) error {
	delete(m.objects, key)
	return nil
}

type fakeOCR struct {
	name  string
	text  string
	err   error
	calls int
}

func (f *fakeOCR) Extract(_ domain.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeOCR) Name() string { return f.name }

type testForwarder struct {
	ticket   string
	requests []domain.ForwardRequest
}

func (f *testForwarder) Deliver(_ domain.Context, req domain.ForwardRequest) (string, error) {
	f.requests = append(f.requests, req)
	return f.ticket, nil
}
