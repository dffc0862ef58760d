package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepbystep_bot/internal/domain"
	"stepbystep_bot/internal/policy"
)

type fakePaymentStore struct {
	pending  []domain.User
	resolved map[int64]domain.PaymentStatus
	listErr  error
	conflict map[int64]bool
	// stalled users block ResolvePayment until the call context ends.
	stalled   map[int64]bool
	stallList bool
}

func (f *fakePaymentStore) ListPendingPayments(ctx context.Context) ([]domain.User, error) {
	if f.stallList {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.pending, f.listErr
}

func (f *fakePaymentStore) ResolvePayment(ctx context.Context, userID int64, _ string, status domain.PaymentStatus) error {
	if f.stalled[userID] {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.conflict[userID] {
		return domain.ErrConflict
	}
	if f.resolved == nil {
		f.resolved = map[int64]domain.PaymentStatus{}
	}
	f.resolved[userID] = status
	return nil
}

type fakeGateway struct {
	statuses map[string]domain.PaymentStatus
	errs     map[string]error
}

func (f *fakeGateway) Create(context.Context, int64) (domain.Invoice, error) {
	return domain.Invoice{}, errors.New("not used")
}

func (f *fakeGateway) Status(_ context.Context, ref string) (domain.PaymentStatus, error) {
	if err := f.errs[ref]; err != nil {
		return domain.PaymentUnknown, err
	}
	return f.statuses[ref], nil
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent []domain.Message
}

func (m *recordingMessenger) SendMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

type staticPolicy struct{ p *policy.Policy }

func (s staticPolicy) Current() *policy.Policy { return s.p }

func newTestReconciler(t *testing.T, store *fakePaymentStore, gw Gateway, m Messenger) (*Reconciler, *logtest.Hook, *[]time.Duration) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()

	r, err := NewReconciler(store, gw, m, staticPolicy{policy.Default(time.UTC)}, WithLogger(logrus.NewEntry(logger)))
	require.NoError(t, err)

	var pauses []time.Duration
	r.wait = func(_ context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}
	return r, hook, &pauses
}

func loggedFor(hook *logtest.Hook, event string, userID int64) bool {
	for _, e := range hook.AllEntries() {
		if e.Data["event"] == event && e.Data["user_id"] == userID {
			return true
		}
	}
	return false
}

func TestSweepResolvesFinalStatuses(t *testing.T) {
	store := &fakePaymentStore{pending: []domain.User{
		{ID: 1, PaymentReference: "p1", PaymentStatus: domain.PaymentPending},
		{ID: 2, PaymentReference: "p2", PaymentStatus: domain.PaymentPending},
		{ID: 3, PaymentReference: "p3", PaymentStatus: domain.PaymentPending},
		{ID: 4, PaymentReference: "p4", PaymentStatus: domain.PaymentPending},
	}}
	gw := &fakeGateway{
		statuses: map[string]domain.PaymentStatus{
			"p1": domain.PaymentSucceeded,
			"p2": domain.PaymentCanceled,
			"p3": domain.PaymentPending,
		},
		errs: map[string]error{"p4": errors.New("gateway unreachable")},
	}
	messenger := &recordingMessenger{}

	r, hook, pauses := newTestReconciler(t, store, gw, messenger)
	require.NoError(t, r.Sweep(context.Background()))

	assert.Equal(t, map[int64]domain.PaymentStatus{
		1: domain.PaymentSucceeded,
		2: domain.PaymentCanceled,
	}, store.resolved, "pending and unreachable payments stay pending")

	require.Len(t, messenger.sent, 2)
	assert.Equal(t, int64(1), messenger.sent[0].UserID)
	assert.Equal(t, int64(2), messenger.sent[1].UserID)
	assert.Len(t, *pauses, 3, "one pause between each of the 4 checks")
	assert.True(t, loggedFor(hook, "payment_check_failed", 4))
}

func TestSweepSkipsNotificationOnConflict(t *testing.T) {
	store := &fakePaymentStore{
		pending:  []domain.User{{ID: 1, PaymentReference: "p1"}},
		conflict: map[int64]bool{1: true},
	}
	gw := &fakeGateway{statuses: map[string]domain.PaymentStatus{"p1": domain.PaymentSucceeded}}
	messenger := &recordingMessenger{}

	r, _, _ := newTestReconciler(t, store, gw, messenger)
	require.NoError(t, r.Sweep(context.Background()))
	assert.Empty(t, messenger.sent, "no notification when the payment was already resolved")
}

func TestSweepPropagatesListErrors(t *testing.T) {
	store := &fakePaymentStore{listErr: errors.New("db down")}
	r, _, _ := newTestReconciler(t, store, &fakeGateway{}, &recordingMessenger{})

	assert.Error(t, r.Sweep(context.Background()))
}

func TestSweepBoundsStalledStoreCalls(t *testing.T) {
	store := &fakePaymentStore{
		pending: []domain.User{
			{ID: 1, PaymentReference: "p1", PaymentStatus: domain.PaymentPending},
			{ID: 2, PaymentReference: "p2", PaymentStatus: domain.PaymentPending},
		},
		stalled: map[int64]bool{1: true},
	}
	gw := &fakeGateway{statuses: map[string]domain.PaymentStatus{"p1": domain.PaymentSucceeded, "p2": domain.PaymentSucceeded}}
	r, hook, _ := newTestReconciler(t, store, gw, &recordingMessenger{})
	r.timeout = 20 * time.Millisecond

	started := time.Now()
	require.NoError(t, r.Sweep(context.Background()))
	assert.Less(t, time.Since(started), time.Second, "sweep must not wait on a stalled store")

	assert.NotContains(t, store.resolved, int64(1), "stalled user stays pending")
	assert.Equal(t, domain.PaymentSucceeded, store.resolved[2], "later users resolve in the same sweep")
	assert.True(t, loggedFor(hook, "payment_resolve_failed", 1))
}

func TestSweepBoundsStalledListing(t *testing.T) {
	store := &fakePaymentStore{stallList: true}
	r, _, _ := newTestReconciler(t, store, &fakeGateway{}, &recordingMessenger{})
	r.timeout = 20 * time.Millisecond

	assert.ErrorIs(t, r.Sweep(context.Background()), context.DeadlineExceeded)
}

func TestSweepStopsWhenCancelledDuringPause(t *testing.T) {
	store := &fakePaymentStore{pending: []domain.User{{ID: 1, PaymentReference: "p1"}, {ID: 2, PaymentReference: "p2"}}}
	gw := &fakeGateway{statuses: map[string]domain.PaymentStatus{"p1": domain.PaymentSucceeded, "p2": domain.PaymentSucceeded}}
	r, _, _ := newTestReconciler(t, store, gw, &recordingMessenger{})
	r.wait = func(context.Context, time.Duration) error { return context.Canceled }

	require.NoError(t, r.Sweep(context.Background()))
	assert.NotContains(t, store.resolved, int64(2), "sweep stops once cancelled")
}

func TestDisabledGateway(t *testing.T) {
	_, err := Disabled{}.Create(context.Background(), 1)
	assert.ErrorIs(t, err, ErrPaymentsDisabled)
	_, err = Disabled{}.Status(context.Background(), "x")
	assert.ErrorIs(t, err, ErrPaymentsDisabled)
}

func TestNewReconcilerRequiresDependencies(t *testing.T) {
	_, err := NewReconciler(nil, Disabled{}, &recordingMessenger{}, staticPolicy{})
	assert.Error(t, err)
}
