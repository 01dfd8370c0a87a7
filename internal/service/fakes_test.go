package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/timecapsule/internal/domain"
	"github.com/kursadbilgin/timecapsule/internal/events"
	"github.com/kursadbilgin/timecapsule/internal/mailer"
	"github.com/kursadbilgin/timecapsule/internal/payment"
	"github.com/kursadbilgin/timecapsule/internal/repository"
)

type fakeMessageRepo struct {
	mu sync.Mutex

	createFn               func(ctx context.Context, m *domain.Message) error
	getByIDFn              func(ctx context.Context, id string) (*domain.Message, error)
	listByOwnerFn          func(ctx context.Context, ownerID string, params repository.ListParams) ([]domain.Message, int64, error)
	deleteFn               func(ctx context.Context, id string) error
	deletePendingFn        func(ctx context.Context, ownerID string, id string) (*domain.Message, error)
	selectDueFn            func(ctx context.Context, params repository.DueParams) ([]domain.Message, error)
	markDeliveredFn        func(ctx context.Context, id string, at time.Time) error
	markFailedFn           func(ctx context.Context, id string) error
	listStaleProjectionsFn func(ctx context.Context, limit int) ([]domain.Message, error)

	statuses map[string]domain.MessageStatus
	calls    []string
}

func (f *fakeMessageRepo) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeMessageRepo) setStatus(id string, status domain.MessageStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = make(map[string]domain.MessageStatus)
	}
	f.statuses[id] = status
}

func (f *fakeMessageRepo) status(id string) domain.MessageStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

func (f *fakeMessageRepo) Create(ctx context.Context, m *domain.Message) error {
	f.record("create:" + m.ID)
	if f.createFn != nil {
		return f.createFn(ctx, m)
	}
	return nil
}

func (f *fakeMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeMessageRepo) ListByOwner(ctx context.Context, ownerID string, params repository.ListParams) ([]domain.Message, int64, error) {
	if f.listByOwnerFn != nil {
		return f.listByOwnerFn(ctx, ownerID, params)
	}
	return nil, 0, nil
}

func (f *fakeMessageRepo) Delete(ctx context.Context, id string) error {
	f.record("delete:" + id)
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

func (f *fakeMessageRepo) DeletePending(ctx context.Context, ownerID string, id string) (*domain.Message, error) {
	f.record("delete_pending:" + id)
	if f.deletePendingFn != nil {
		return f.deletePendingFn(ctx, ownerID, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeMessageRepo) SelectDue(ctx context.Context, params repository.DueParams) ([]domain.Message, error) {
	if f.selectDueFn != nil {
		return f.selectDueFn(ctx, params)
	}
	return nil, nil
}

func (f *fakeMessageRepo) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	f.record("mark_delivered:" + id)
	if f.markDeliveredFn != nil {
		if err := f.markDeliveredFn(ctx, id, at); err != nil {
			return err
		}
	}
	f.setStatus(id, domain.MessageStatusDelivered)
	return nil
}

func (f *fakeMessageRepo) MarkFailed(ctx context.Context, id string) error {
	f.record("mark_failed:" + id)
	if f.markFailedFn != nil {
		if err := f.markFailedFn(ctx, id); err != nil {
			return err
		}
	}
	f.setStatus(id, domain.MessageStatusFailed)
	return nil
}

func (f *fakeMessageRepo) ListStaleProjections(ctx context.Context, limit int) ([]domain.Message, error) {
	if f.listStaleProjectionsFn != nil {
		return f.listStaleProjectionsFn(ctx, limit)
	}
	return nil, nil
}

// memLedger is an in-memory attempt ledger with the same numbering and
// transition rules as the database one.
type memLedger struct {
	mu       sync.Mutex
	attempts map[string][]domain.DeliveryAttempt

	isDeliveredErr error
	beginErr       error
	completeErr    error
	failErr        error
	deleteOlderFn  func(ctx context.Context, cutoff time.Time) (int64, error)
}

func newMemLedger() *memLedger {
	return &memLedger{attempts: make(map[string][]domain.DeliveryAttempt)}
}

func (l *memLedger) seed(messageID string, statuses ...domain.AttemptStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, status := range statuses {
		n := len(l.attempts[messageID]) + 1
		l.attempts[messageID] = append(l.attempts[messageID], domain.DeliveryAttempt{
			ID:            fmt.Sprintf("%s-a%d", messageID, n),
			MessageID:     messageID,
			AttemptNumber: n,
			Status:        status,
		})
	}
}

func (l *memLedger) list(messageID string) []domain.DeliveryAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.DeliveryAttempt, len(l.attempts[messageID]))
	copy(out, l.attempts[messageID])
	return out
}

func (l *memLedger) countStatus(messageID string, status domain.AttemptStatus) int {
	n := 0
	for _, a := range l.list(messageID) {
		if a.Status == status {
			n++
		}
	}
	return n
}

func (l *memLedger) IsDelivered(_ context.Context, messageID string) (bool, error) {
	if l.isDeliveredErr != nil {
		return false, l.isDeliveredErr
	}
	return l.countStatus(messageID, domain.AttemptStatusDelivered) > 0, nil
}

func (l *memLedger) BeginAttempt(_ context.Context, messageID string) (int, error) {
	if l.beginErr != nil {
		return 0, l.beginErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 1
	for _, a := range l.attempts[messageID] {
		if a.AttemptNumber >= n {
			n = a.AttemptNumber + 1
		}
	}
	l.attempts[messageID] = append(l.attempts[messageID], domain.DeliveryAttempt{
		ID:            fmt.Sprintf("%s-a%d", messageID, n),
		MessageID:     messageID,
		AttemptNumber: n,
		Status:        domain.AttemptStatusPending,
	})
	return n, nil
}

func (l *memLedger) CompleteAttempt(_ context.Context, messageID string, attemptNumber int, providerMessageID string) error {
	if l.completeErr != nil {
		return l.completeErr
	}
	return l.transition(messageID, attemptNumber, func(a *domain.DeliveryAttempt) {
		a.Status = domain.AttemptStatusDelivered
		a.ProviderMessageID = &providerMessageID
	})
}

func (l *memLedger) FailAttempt(_ context.Context, messageID string, attemptNumber int, detail string) error {
	if l.failErr != nil {
		return l.failErr
	}
	return l.transition(messageID, attemptNumber, func(a *domain.DeliveryAttempt) {
		a.Status = domain.AttemptStatusFailed
		a.ErrorDetail = &detail
	})
}

func (l *memLedger) transition(messageID string, attemptNumber int, apply func(a *domain.DeliveryAttempt)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rows := l.attempts[messageID]
	for i := range rows {
		if rows[i].AttemptNumber == attemptNumber && rows[i].Status == domain.AttemptStatusPending {
			apply(&rows[i])
			return nil
		}
	}
	return domain.ErrNotFound
}

func (l *memLedger) ListByMessage(_ context.Context, messageID string) ([]domain.DeliveryAttempt, error) {
	rows := l.list(messageID)
	sort.Slice(rows, func(i, j int) bool { return rows[i].AttemptNumber < rows[j].AttemptNumber })
	return rows, nil
}

func (l *memLedger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if l.deleteOlderFn != nil {
		return l.deleteOlderFn(ctx, cutoff)
	}
	return 0, nil
}

type fakeTransport struct {
	mu     sync.Mutex
	sendFn func(ctx context.Context, email mailer.Email) (*mailer.SendResult, error)
	sent   []mailer.Email
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Send(ctx context.Context, email mailer.Email) (*mailer.SendResult, error) {
	f.mu.Lock()
	f.sent = append(f.sent, email)
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, email)
	}
	return &mailer.SendResult{ProviderMessageID: "prov-" + email.IdempotencyKey, StatusCode: 200}, nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeBlobStore struct {
	mu           sync.Mutex
	uploadFn     func(ctx context.Context, key string, size int64) error
	deleteFn     func(ctx context.Context, key string) error
	presignedFn  func(ctx context.Context, key string, ttl time.Duration) (string, error)
	uploadedKeys []string
	deletedKeys  []string
}

func (f *fakeBlobStore) Upload(ctx context.Context, key string, r io.Reader, size int64, _ string) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	f.mu.Lock()
	f.uploadedKeys = append(f.uploadedKeys, key)
	f.mu.Unlock()
	if f.uploadFn != nil {
		return f.uploadFn(ctx, key, size)
	}
	return nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	f.deletedKeys = append(f.deletedKeys, key)
	f.mu.Unlock()
	if f.deleteFn != nil {
		return f.deleteFn(ctx, key)
	}
	return nil
}

func (f *fakeBlobStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if f.presignedFn != nil {
		return f.presignedFn(ctx, key, ttl)
	}
	return "https://blobs.example.com/" + key + "?sig=1", nil
}

type fakePublisher struct {
	mu        sync.Mutex
	publishFn func(ctx context.Context, event events.DeliveryEvent) error
	published []events.DeliveryEvent
}

func (f *fakePublisher) PublishDelivered(ctx context.Context, event events.DeliveryEvent) error {
	f.mu.Lock()
	f.published = append(f.published, event)
	f.mu.Unlock()
	if f.publishFn != nil {
		return f.publishFn(ctx, event)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeMutex struct {
	mu        sync.Mutex
	acquireFn func(ctx context.Context) (*domain.LockHandle, error)
	releaseFn func(ctx context.Context, handle *domain.LockHandle) error
	held      bool
	acquired  int
	releases  int
}

func (f *fakeMutex) Acquire(ctx context.Context) (*domain.LockHandle, error) {
	if f.acquireFn != nil {
		return f.acquireFn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return nil, domain.ErrAlreadyLocked
	}
	f.held = true
	f.acquired++
	return &domain.LockHandle{Token: fmt.Sprintf("token-%d", f.acquired), Holder: "test"}, nil
}

func (f *fakeMutex) Release(ctx context.Context, handle *domain.LockHandle) error {
	f.mu.Lock()
	f.releases++
	f.mu.Unlock()
	if f.releaseFn != nil {
		if err := f.releaseFn(ctx, handle); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.held = false
	f.mu.Unlock()
	return nil
}

func (f *fakeMutex) isHeld() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}

type fakeOwnerRepo struct {
	mu sync.Mutex

	getByIDFn            func(ctx context.Context, id string) (*domain.Owner, error)
	consumeFreeMessageFn func(ctx context.Context, id string) error
	releaseFreeMessageFn func(ctx context.Context, id string) error
	applyStorageDeltaFn  func(ctx context.Context, id string, delta int64) error
	upgradeToPaidFn      func(ctx context.Context, id string, quotaBytes int64) error

	calls []string
}

func (f *fakeOwnerRepo) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeOwnerRepo) GetByID(ctx context.Context, id string) (*domain.Owner, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeOwnerRepo) ConsumeFreeMessage(ctx context.Context, id string) error {
	f.record("consume_free")
	if f.consumeFreeMessageFn != nil {
		return f.consumeFreeMessageFn(ctx, id)
	}
	return nil
}

func (f *fakeOwnerRepo) ReleaseFreeMessage(ctx context.Context, id string) error {
	f.record("release_free")
	if f.releaseFreeMessageFn != nil {
		return f.releaseFreeMessageFn(ctx, id)
	}
	return nil
}

func (f *fakeOwnerRepo) ApplyStorageDelta(ctx context.Context, id string, delta int64) error {
	f.record(fmt.Sprintf("storage_delta:%d", delta))
	if f.applyStorageDeltaFn != nil {
		return f.applyStorageDeltaFn(ctx, id, delta)
	}
	return nil
}

func (f *fakeOwnerRepo) UpgradeToPaid(ctx context.Context, id string, quotaBytes int64) error {
	f.record("upgrade")
	if f.upgradeToPaidFn != nil {
		return f.upgradeToPaidFn(ctx, id, quotaBytes)
	}
	return nil
}

type fakePaymentRepo struct {
	mu sync.Mutex

	getByCheckoutSessionFn func(ctx context.Context, sessionID string) (*domain.Payment, error)
	createPendingFn        func(ctx context.Context, p *domain.Payment) error
	markCompletedFn        func(ctx context.Context, id string, at time.Time) error
	markFailedFn           func(ctx context.Context, id string) error

	calls []string
}

func (f *fakePaymentRepo) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakePaymentRepo) GetByCheckoutSession(ctx context.Context, sessionID string) (*domain.Payment, error) {
	f.record("get")
	if f.getByCheckoutSessionFn != nil {
		return f.getByCheckoutSessionFn(ctx, sessionID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakePaymentRepo) CreatePending(ctx context.Context, p *domain.Payment) error {
	f.record("create_pending")
	if f.createPendingFn != nil {
		return f.createPendingFn(ctx, p)
	}
	return nil
}

func (f *fakePaymentRepo) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	f.record("mark_completed")
	if f.markCompletedFn != nil {
		return f.markCompletedFn(ctx, id, at)
	}
	return nil
}

func (f *fakePaymentRepo) MarkFailed(ctx context.Context, id string) error {
	f.record("mark_failed")
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, id)
	}
	return nil
}

type fakeVerifier struct {
	verifyFn func(payload []byte, signature string) (*payment.Event, error)
}

func (f *fakeVerifier) Verify(payload []byte, signature string) (*payment.Event, error) {
	if f.verifyFn != nil {
		return f.verifyFn(payload, signature)
	}
	return nil, payment.ErrSignatureVerification
}

type fakeCheckout struct {
	createFn func(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error)
}

func (f *fakeCheckout) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	if f.createFn != nil {
		return f.createFn(ctx, req)
	}
	return &payment.CheckoutSession{ID: "cs_test", OwnerID: req.OwnerID, URL: "https://checkout.example.com/cs_test"}, nil
}

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
