package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"stepbystep_bot/internal/catalog"
	"stepbystep_bot/internal/domain"
	"stepbystep_bot/internal/policy"
)

// memStore is an in-memory ProgressStore with the same conditional-update
// guards as the real backends.
type memStore struct {
	mu    sync.Mutex
	users map[int64]domain.User

	// afterList runs after ListInviteCandidates computed its result.
	afterList func()
}

func newMemStore(users ...domain.User) *memStore {
	s := &memStore{users: map[int64]domain.User{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) user(id int64) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

func (s *memStore) put(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *memStore) Register(_ context.Context, seed domain.User) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[seed.ID]; ok {
		return existing, false, nil
	}
	s.users[seed.ID] = seed
	return seed, true, nil
}

func (s *memStore) Get(_ context.Context, userID int64) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *memStore) Delete(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[userID]
	delete(s.users, userID)
	return ok, nil
}

func (s *memStore) SwapProgress(_ context.Context, userID int64, expect, next domain.Progress) error {
	if err := next.ValidateTransition(expect); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if !u.Progress().Equal(expect) || (next.Claims() && !u.IsPaid) {
		return domain.ErrConflict
	}
	u.CurrentStep = next.CurrentStep
	u.StepSentAt = next.StepSentAt
	u.InvitePending = next.InvitePending
	s.users[userID] = u
	return nil
}

func (s *memStore) mutate(userID int64, guard func(domain.User) bool, fn func(*domain.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if guard != nil && !guard(u) {
		return domain.ErrConflict
	}
	fn(&u)
	s.users[userID] = u
	return nil
}

func (s *memStore) ResetProgress(_ context.Context, userID int64) error {
	return s.mutate(userID, nil, func(u *domain.User) {
		u.CurrentStep = 0
		u.StepSentAt = time.Time{}
		u.InvitePending = false
	})
}

func (s *memStore) StartPayment(_ context.Context, userID int64, expect domain.PaymentState, reference string) error {
	return s.mutate(userID, func(u domain.User) bool {
		return !u.IsPaid && u.PaymentState() == expect
	}, func(u *domain.User) {
		u.PaymentStatus = domain.PaymentPending
		u.PaymentReference = reference
	})
}

func (s *memStore) ResolvePayment(_ context.Context, userID int64, reference string, status domain.PaymentStatus) error {
	return s.mutate(userID, func(u domain.User) bool {
		return u.PaymentStatus == domain.PaymentPending && u.PaymentReference == reference
	}, func(u *domain.User) {
		u.PaymentStatus = status
		if status == domain.PaymentSucceeded {
			u.IsPaid = true
		}
	})
}

func (s *memStore) SetAdmin(_ context.Context, userID int64, admin bool) error {
	return s.mutate(userID, nil, func(u *domain.User) {
		u.IsAdmin = admin
		if admin {
			u.IsPaid = true
		}
	})
}

func (s *memStore) SetUploadMode(_ context.Context, userID int64, enabled bool) error {
	return s.mutate(userID, nil, func(u *domain.User) { u.IsUploadMode = enabled })
}

func (s *memStore) ListPendingPayments(context.Context) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.User
	for _, u := range s.sorted() {
		if u.PaymentStatus == domain.PaymentPending {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *memStore) ListInviteCandidates(_ context.Context, q domain.InviteQuery) ([]domain.User, error) {
	s.mu.Lock()
	var out []domain.User
	for _, u := range s.sorted() {
		if !u.IsPaid || u.InvitePending || u.CurrentStep >= q.StepBelow {
			continue
		}
		if !q.SentBefore.IsZero() && domain.UnixMillis(u.StepSentAt) >= domain.UnixMillis(q.SentBefore) {
			continue
		}
		if q.StepEquals != nil && u.CurrentStep != *q.StepEquals {
			continue
		}
		if q.AdminsOnly && !u.IsAdmin {
			continue
		}
		out = append(out, u)
	}
	hook := s.afterList
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (s *memStore) Stats(_ context.Context, catalogLen int) (domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st domain.Stats
	for _, u := range s.users {
		st.Users++
		if u.IsPaid {
			st.Paid++
		}
		if u.PaymentStatus == domain.PaymentPending {
			st.PendingPayments++
		}
		if u.CurrentStep >= catalogLen {
			st.Completed++
		}
		if u.IsAdmin {
			st.Admins++
		}
	}
	return st, nil
}

func (s *memStore) sorted() []domain.User {
	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type sentItem struct {
	userID int64
	item   domain.ContentItem
}

// fakeDelivery records sends. failItem and failMessage inject errors; gate,
// when set, blocks every SendItem until it is closed.
type fakeDelivery struct {
	mu          sync.Mutex
	items       []sentItem
	attempts    int
	messages    []domain.Message
	failItem    func(domain.ContentItem) bool
	failMessage bool
	gate        chan struct{}
	started     chan struct{}
}

var errSendFailed = errors.New("telegram: bad request")

func (d *fakeDelivery) SendItem(ctx context.Context, userID int64, item domain.ContentItem) error {
	if d.started != nil {
		d.started <- struct{}{}
	}
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.failItem != nil && d.failItem(item) {
		return errSendFailed
	}
	d.items = append(d.items, sentItem{userID: userID, item: item})
	return nil
}

func (d *fakeDelivery) SendMessage(_ context.Context, msg domain.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failMessage {
		return errSendFailed
	}
	d.messages = append(d.messages, msg)
	return nil
}

func (d *fakeDelivery) itemCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *fakeDelivery) attemptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func (d *fakeDelivery) sentMessages() []domain.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.Message(nil), d.messages...)
}

type fakeGateway struct {
	mu      sync.Mutex
	created []int64
	err     error
	// onCreate runs before Create returns.
	onCreate func()
}

func (g *fakeGateway) Create(_ context.Context, userID int64) (domain.Invoice, error) {
	g.mu.Lock()
	g.created = append(g.created, userID)
	err, hook := g.err, g.onCreate
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return domain.Invoice{}, err
	}
	return domain.Invoice{Reference: "pay-1", URL: "https://pay.example/pay-1"}, nil
}

func (g *fakeGateway) Status(context.Context, string) (domain.PaymentStatus, error) {
	return domain.PaymentPending, nil
}

type staticCatalog struct{ c *catalog.Catalog }

func (s staticCatalog) Current() *catalog.Catalog { return s.c }

type staticPolicy struct{ p *policy.Policy }

func (s staticPolicy) Current() *policy.Policy { return s.p }

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
