// Package engine implements the step progression state machine: registration,
// manual pulls, scheduled invites, and the operator commands around them.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/singleflight"

	"stepbystep_bot/internal/catalog"
	"stepbystep_bot/internal/domain"
	"stepbystep_bot/internal/logging"
	"stepbystep_bot/internal/payment"
	"stepbystep_bot/internal/policy"
)

// Callback payloads carried by inline keyboards.
const (
	CallbackGetStep         = "get_step"
	CallbackAdminStepPrefix = "admin_get_step="
	CallbackEmpty           = "empty"
)

// DefaultCallTimeout bounds each delivery, gateway and storage call.
const DefaultCallTimeout = 10 * time.Second

const adminMenuColumns = 3

// ErrDeliveryFailed is returned when at least one content item of a step
// could not be delivered. Progress is left untouched and the user may retry.
var ErrDeliveryFailed = errors.New("step delivery failed")

var tracer = otel.Tracer("stepbystep_bot/internal/engine")

// Delivery sends content and chat messages to users.
type Delivery interface {
	SendItem(ctx context.Context, userID int64, item domain.ContentItem) error
	SendMessage(ctx context.Context, msg domain.Message) error
}

// CatalogSource exposes the current catalog snapshot.
type CatalogSource interface {
	Current() *catalog.Catalog
}

// PolicySource exposes the current policy snapshot.
type PolicySource interface {
	Current() *policy.Policy
}

// Outcome classifies the result of a user-facing operation.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeRegistered
	OutcomeAlreadyRegistered
	OutcomeAwaitingPayment
	OutcomePaymentUnavailable
	OutcomeNotRegistered
	OutcomeNotPaid
	OutcomeNotAdmin
	OutcomeDelivered
	OutcomeInFlight
	OutcomeCompleted
	OutcomeConflict
	OutcomeFailed
	OutcomeDone
)

// Response is what the caller should show the user. Text may be empty.
type Response struct {
	Outcome  Outcome
	Text     string
	Keyboard [][]domain.Button
}

// Engine drives user progress through the catalog.
type Engine struct {
	store         domain.ProgressStore
	catalogs      CatalogSource
	policies      PolicySource
	delivery      Delivery
	gateway       payment.Gateway
	logger        *logrus.Entry
	now           func() time.Time
	timeout       time.Duration
	adminPassword string
	pulls         singleflight.Group
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithCallTimeout bounds each external call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithAdminPassword enables /login with the given password.
func WithAdminPassword(password string) Option {
	return func(e *Engine) {
		e.adminPassword = password
	}
}

// WithGateway sets the payment gateway used at registration.
func WithGateway(gateway payment.Gateway) Option {
	return func(e *Engine) {
		if gateway != nil {
			e.gateway = gateway
		}
	}
}

// New builds an Engine. Without WithGateway payments are disabled.
func New(store domain.ProgressStore, catalogs CatalogSource, policies PolicySource, delivery Delivery, opts ...Option) (*Engine, error) {
	if store == nil || catalogs == nil || policies == nil || delivery == nil {
		return nil, errors.New("engine dependencies are required")
	}

	e := &Engine{
		store:    store,
		catalogs: catalogs,
		policies: policies,
		delivery: delivery,
		gateway:  payment.Disabled{},
		logger:   logging.Logger(),
		now:      time.Now,
		timeout:  DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

func (e *Engine) ready(ctx context.Context) error {
	if e == nil {
		return errors.New("engine is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

func (e *Engine) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return fn(callCtx)
}

func (e *Engine) userLogger(userID int64, event string) *logrus.Entry {
	return logging.Scope{UserID: userID, Event: event}.On(e.logger)
}

func (e *Engine) getUser(ctx context.Context, userID int64) (domain.User, error) {
	var user domain.User
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		user, err = e.store.Get(ctx, userID)
		return err
	})
	return user, err
}

// deliverStep sends every item of step, continuing past failures, and
// returns how many items failed.
func (e *Engine) deliverStep(ctx context.Context, userID int64, index int, step domain.Step) int {
	failed := 0
	for i, item := range step.Content {
		err := e.call(ctx, func(ctx context.Context) error {
			return e.delivery.SendItem(ctx, userID, item)
		})
		if err != nil {
			failed++
			e.userLogger(userID, "item_delivery_failed").WithFields(logging.Fields{
				"step":  index,
				"item":  i,
				"type":  item.TypeName(),
				"error": err,
			}).Warn("failed to deliver content item")
		}
	}
	return failed
}

func (e *Engine) send(ctx context.Context, msg domain.Message) error {
	return e.call(ctx, func(ctx context.Context) error {
		return e.delivery.SendMessage(ctx, msg)
	})
}

func textResponse(outcome Outcome, text string) Response {
	return Response{Outcome: outcome, Text: text}
}
