package redisq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filot/docverify/internal/domain"
	"github.com/filot/docverify/internal/scoring"
	"github.com/filot/docverify/internal/usecase"
)

const richKTPText = `PROVINSI DKI JAKARTA
NIK : 3201234567890123
Nama : BUDI SANTOSO
Tempat/Tgl Lahir : JAKARTA, 15-08-1990
Alamat : JL. MERDEKA NO. 123 RT 001 RW 002
Jenis Kelamin : LAKI-LAKI
Agama : ISLAM
Status Perkawinan : KAWIN`

type workerFixture struct {
	q       *Queue
	docs    *testDocs
	users   *testUsers
	reviews *testReviews
	blob    *testBlob
	ocr     *fakeOCR
	fw      *testForwarder
	pool    *WorkerPool
	userID  string
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	m := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &workerFixture{
		q:       New(rdb, "filot:ocr:", FamilyCPU),
		docs:    newTestDocs(),
		users:   newTestUsers(),
		reviews: newTestReviews(),
		blob:    newTestBlob(),
		ocr:     &fakeOCR{name: "cpu", text: richKTPText},
		fw:      &testForwarder{ticket: "BULI-5"},
	}
	f.userID = f.users.add(domain.User{Sub: "sub-1", Email: "u@example.com"})
	verifier := usecase.NewVerificationService(f.docs, f.users, f.reviews, f.fw,
		scoring.Thresholds{AutoApprove: 85, AutoReject: 35})
	f.pool = NewWorkerPool(f.q, f.docs, f.blob, f.ocr, nil, verifier, WorkerConfig{
		Count:       1,
		LockTTL:     10 * time.Minute,
		MaxAttempts: 3,
		Bucket:      "kyc-documents",
		QueueName:   "cpu",
	})
	return f
}

func (f *workerFixture) seedDoc(t *testing.T) string {
	t.Helper()
	key := f.userID + "/KTP_a.jpg"
	require.NoError(t, f.blob.Put(context.Background(), key, []byte{0xFF, 0xD8, 0xFF}, "image/jpeg"))
	return f.docs.add(domain.Document{UserID: f.userID, Type: domain.DocTypeKTP, BlobKey: key})
}

func (f *workerFixture) dequeueAndProcess(t *testing.T, docID string) {
	t.Helper()
	ctx := context.Background()
	queued, err := f.q.Enqueue(ctx, docID)
	require.NoError(t, err)
	require.True(t, queued)
	got, err := f.q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, docID, got)
	f.pool.ProcessOne(ctx, docID)
}

func TestProcessOne_AutoApprovesRichDocument(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.seedDoc(t)
	f.dequeueAndProcess(t, id)

	doc, err := f.docs.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.DocCompleted, doc.Status)
	assert.Equal(t, domain.VerifAutoApproved, doc.VerificationStatus)
	require.NotNil(t, doc.AIScore)
	assert.GreaterOrEqual(t, *doc.AIScore, 75)
	assert.Equal(t, richKTPText, doc.OCRText)
	assert.Contains(t, string(doc.ResultJSON), "3201234567890123")
	assert.NotNil(t, doc.ProcessedAt)

	// All transient queue state is gone and the lock is free again.
	ids, err := f.q.ProcessingSet(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	free, err := f.q.AcquireLock(context.Background(), id, time.Minute)
	require.NoError(t, err)
	assert.True(t, free)

	u, err := f.users.Get(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifAutoApproved, u.VerificationStatus)
	assert.Empty(t, f.fw.requests)
}

func TestProcessOne_EscalatesLowScore(t *testing.T) {
	f := newWorkerFixture(t)
	f.ocr.text = "NIK : 3201234567890123"
	id := f.seedDoc(t)
	f.dequeueAndProcess(t, id)

	doc, err := f.docs.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.DocCompleted, doc.Status)
	assert.Equal(t, domain.VerifPendingManualReview, doc.VerificationStatus)
	require.NotNil(t, doc.AIScore)
	assert.Less(t, *doc.AIScore, 75)

	review, err := f.reviews.FindPendingByDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, f.userID, review.UserID)
	require.Len(t, f.fw.requests, 1)
	assert.Equal(t, review.ID, f.fw.requests[0].ReviewID)
	require.NotNil(t, doc.Buli2TicketID)
	assert.Equal(t, "BULI-5", *doc.Buli2TicketID)

	u, err := f.users.Get(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifPendingManualReview, u.VerificationStatus)
}

func TestProcessOne_RetriesThenFailsTerminally(t *testing.T) {
	f := newWorkerFixture(t)
	f.ocr.err = errors.New("ocr crashed")
	id := f.seedDoc(t)
	ctx := context.Background()

	// First attempt: retry scheduled, lock released, document not failed.
	f.dequeueAndProcess(t, id)
	doc, err := f.docs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.DocProcessing, doc.Status)
	attempts, err := f.q.Attempts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	free, err := f.q.AcquireLock(ctx, id, time.Minute)
	require.NoError(t, err)
	require.True(t, free)
	require.NoError(t, f.q.ReleaseLock(ctx, id))

	// Second and third attempts exhaust the budget.
	f.dequeueAndProcess(t, id)
	f.dequeueAndProcess(t, id)

	doc, err = f.docs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.DocFailed, doc.Status)
	assert.Contains(t, string(doc.ResultJSON), "maxRetriesExceeded")
	assert.Contains(t, string(doc.ResultJSON), "ocr crashed")

	// Attempt state is cleared for a fresh later run.
	attempts, err = f.q.Attempts(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, attempts)
	ids, err := f.q.ProcessingSet(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestProcessOne_SkipsCompletedDocument(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.seedDoc(t)
	require.NoError(t, f.docs.CompleteProcessing(context.Background(), id, "t", []byte(`{}`), 80, "auto_approved", domain.VerifAutoApproved))

	f.dequeueAndProcess(t, id)
	assert.Zero(t, f.ocr.calls, "completed documents must not be re-processed")

	ids, err := f.q.ProcessingSet(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestProcessOne_LockHeldByAnotherWorker(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.seedDoc(t)
	ctx := context.Background()

	held, err := f.q.AcquireLock(ctx, id, time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	f.dequeueAndProcess(t, id)
	assert.Zero(t, f.ocr.calls)

	doc, err := f.docs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.DocUploaded, doc.Status)
	ids, err := f.q.ProcessingSet(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "losing worker must drop its processing claim")
}

func TestProcessOne_FallsBackToSecondaryOCR(t *testing.T) {
	f := newWorkerFixture(t)
	f.ocr.name = "gpu"
	f.ocr.err = errors.New("cuda out of memory")
	fallback := &fakeOCR{name: "cpu", text: richKTPText}
	f.pool.fallback = fallback

	id := f.seedDoc(t)
	f.dequeueAndProcess(t, id)

	assert.Equal(t, 1, f.ocr.calls)
	assert.Equal(t, 1, fallback.calls)
	doc, err := f.docs.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.DocCompleted, doc.Status)
	assert.Equal(t, domain.VerifAutoApproved, doc.VerificationStatus)
}

func TestProcessOne_MissingBlobCountsAgainstRetryBudget(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.docs.add(domain.Document{UserID: f.userID, Type: domain.DocTypeKTP, BlobKey: "nowhere/KTP_x.jpg"})

	f.dequeueAndProcess(t, id)
	attempts, err := f.q.Attempts(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryDelay_Progression(t *testing.T) {
	assert.Equal(t, 3*time.Second, retryDelay(1))
	assert.Equal(t, 9*time.Second, retryDelay(2))
	assert.Equal(t, 27*time.Second, retryDelay(3))
}
