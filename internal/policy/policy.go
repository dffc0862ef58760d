// Package policy holds the operator-editable runtime policy: the next step
// delay, registration toggles and user-facing message templates.
package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultDelay applies until a policy document is loaded.
const DefaultDelay = 24 * time.Hour

const secondsPerDay = 24 * 60 * 60

// Policy is an immutable snapshot of the runtime policy.
type Policy struct {
	CreatePaidUsers bool
	Delay           Delay
	SupportContact  string
	Messages        Messages
	digest          string
}

// Default returns the policy used before the first successful load.
func Default(loc *time.Location) *Policy {
	return &Policy{
		Delay:    Delay{Kind: DelayPeriod, Value: DefaultDelay, Location: loc},
		Messages: Messages{},
	}
}

// Render renders the template for key. {support_contact} is always available.
func (p *Policy) Render(key string, vars map[string]string) string {
	merged := map[string]string{"support_contact": p.SupportContact}
	for k, v := range vars {
		merged[k] = v
	}
	return p.Messages.Render(key, merged)
}

// Text returns the template for key without substitutions beyond
// {support_contact}.
func (p *Policy) Text(key string) string {
	return p.Render(key, nil)
}

// Digest identifies the source document the policy was parsed from.
func (p *Policy) Digest() string {
	return p.digest
}

type policyDocument struct {
	CreatePaidUsers bool              `yaml:"create_paid_users"`
	SupportContact  string            `yaml:"support_contact"`
	NextStepDelay   delayDocument     `yaml:"next_step_delay"`
	Messages        map[string]string `yaml:"messages"`
}

type delayDocument struct {
	Type  string `yaml:"type"`
	Value int64  `yaml:"value"`
}

// ErrInvalidDocument wraps every parse and validation failure.
var ErrInvalidDocument = errors.New("invalid policy document")

// Parse decodes a policy document (JSON or YAML). Delay values are seconds.
// An unknown delay type is accepted here and reported by every delay
// computation instead.
func Parse(data []byte, loc *time.Location) (*Policy, error) {
	var doc policyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	kind := DelayKind(strings.TrimSpace(doc.NextStepDelay.Type))
	if doc.NextStepDelay.Value < 0 {
		return nil, fmt.Errorf("%w: next_step_delay.value must not be negative", ErrInvalidDocument)
	}
	if kind == DelayFixedTime && doc.NextStepDelay.Value >= secondsPerDay {
		return nil, fmt.Errorf("%w: fixed time must be within a day, got %d seconds", ErrInvalidDocument, doc.NextStepDelay.Value)
	}

	messages := make(Messages, len(doc.Messages))
	for k, v := range doc.Messages {
		messages[k] = v
	}

	sum := sha256.Sum256(data)
	return &Policy{
		CreatePaidUsers: doc.CreatePaidUsers,
		SupportContact:  strings.TrimSpace(doc.SupportContact),
		Delay: Delay{
			Kind:     kind,
			Value:    time.Duration(doc.NextStepDelay.Value) * time.Second,
			Location: loc,
		},
		Messages: messages,
		digest:   hex.EncodeToString(sum[:]),
	}, nil
}

// Source supplies the full policy document on every read.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
}

// FileSource reads the policy document from disk.
type FileSource struct {
	Path string
}

// Read returns the file contents.
func (s FileSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", s.Path, err)
	}
	return data, nil
}

// Store publishes the current policy snapshot.
type Store struct {
	source   Source
	location *time.Location
	current  atomic.Pointer[Policy]
}

// NewStore builds a store that starts with the default policy.
func NewStore(source Source, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	s := &Store{source: source, location: loc}
	s.current.Store(Default(loc))
	return s
}

// Name identifies the store in reload logs.
func (s *Store) Name() string {
	return "policy"
}

// Current returns the published snapshot.
func (s *Store) Current() *Policy {
	return s.current.Load()
}

// Set publishes p directly.
func (s *Store) Set(p *Policy) {
	if p == nil {
		p = Default(s.location)
	}
	s.current.Store(p)
}

// Reload reads and parses the source and publishes the result. On error the
// previous snapshot stays published.
func (s *Store) Reload(ctx context.Context) (bool, error) {
	if s == nil || s.source == nil {
		return false, errors.New("policy store is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}

	data, err := s.source.Read(ctx)
	if err != nil {
		return false, err
	}

	next, err := Parse(data, s.location)
	if err != nil {
		return false, err
	}

	if prev := s.current.Load(); prev != nil && prev.digest != "" && prev.digest == next.digest {
		return false, nil
	}

	s.current.Store(next)
	return true, nil
}
