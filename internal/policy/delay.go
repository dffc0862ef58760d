package policy

import (
	"errors"
	"fmt"
	"time"
)

// DelayKind selects how the next step becomes available.
type DelayKind string

const (
	// DelayPeriod makes the next step available a fixed duration after the
	// previous one was sent.
	DelayPeriod DelayKind = "Period"
	// DelayFixedTime makes the next step available once a day at a fixed
	// local time.
	DelayFixedTime DelayKind = "Fixed time"
)

// ErrUnknownDelay is returned by every delay computation when the policy
// names a kind the bot does not know.
var ErrUnknownDelay = errors.New("unknown next step delay type")

// Delay is the next-step delay policy. Value is a duration for DelayPeriod
// and an offset from local midnight for DelayFixedTime.
type Delay struct {
	Kind     DelayKind
	Value    time.Duration
	Location *time.Location
}

// Plan is one advancement tick's view of the delay policy.
type Plan struct {
	// SentBefore is the cutoff for the due pass: users whose step was sent
	// before it are invited. Zero when ZeroStepOnly is set.
	SentBefore time.Time
	// ZeroStepOnly restricts the tick to inviting paid users at step 0.
	ZeroStepOnly bool
}

// Plan computes the due-pass cutoff for now.
func (d Delay) Plan(now time.Time) (Plan, error) {
	switch d.Kind {
	case DelayPeriod:
		return Plan{SentBefore: now.Add(-d.Value)}, nil
	case DelayFixedTime:
		anchor := d.anchor(now)
		if now.After(anchor) {
			return Plan{SentBefore: anchor}, nil
		}
		return Plan{ZeroStepOnly: true}, nil
	default:
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownDelay, d.Kind)
	}
}

// NextEligibleLabel renders when a step sent at sentAt is followed by an
// invite, as "HH:MM ZONE" in the policy location.
func (d Delay) NextEligibleLabel(sentAt time.Time) (string, error) {
	switch d.Kind {
	case DelayPeriod:
		return sentAt.Add(d.Value).In(d.location()).Format("15:04 MST"), nil
	case DelayFixedTime:
		return d.anchor(sentAt).Format("15:04 MST"), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDelay, d.Kind)
	}
}

// anchor returns local midnight of the day containing t plus Value.
func (d Delay) anchor(t time.Time) time.Time {
	local := t.In(d.location())
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	return midnight.Add(d.Value)
}

func (d Delay) location() *time.Location {
	if d.Location == nil {
		return time.UTC
	}
	return d.Location
}
