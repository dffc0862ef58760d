// Package catalog holds the ordered list of published steps and reloads it
// from its source document.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"stepbystep_bot/internal/domain"
)

// Catalog is an immutable snapshot of the published steps.
type Catalog struct {
	steps  []domain.Step
	digest string
}

// New builds a catalog from steps. The slice is copied.
func New(steps []domain.Step) *Catalog {
	copied := make([]domain.Step, len(steps))
	for i, step := range steps {
		step.Content = append([]domain.ContentItem(nil), step.Content...)
		copied[i] = step
	}
	return &Catalog{steps: copied}
}

// Len returns the number of steps.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.steps)
}

// Step returns the step at index i. ok is false when i is out of range, which
// callers treat as a completed sequence.
func (c *Catalog) Step(i int) (domain.Step, bool) {
	if c == nil || i < 0 || i >= len(c.steps) {
		return domain.Step{}, false
	}
	return c.steps[i], true
}

// Steps returns a copy of all steps.
func (c *Catalog) Steps() []domain.Step {
	if c == nil {
		return nil
	}
	return append([]domain.Step(nil), c.steps...)
}

// Digest identifies the source document the catalog was parsed from.
func (c *Catalog) Digest() string {
	if c == nil {
		return ""
	}
	return c.digest
}

// Source supplies the full catalog document on every read.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
}

// FileSource reads the catalog document from disk.
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
		return nil, fmt.Errorf("read catalog %s: %w", s.Path, err)
	}
	return data, nil
}

type stepDocument struct {
	Title       string         `yaml:"title"`
	Description string         `yaml:"description"`
	Content     []itemDocument `yaml:"content"`
}

type itemDocument struct {
	Type    string `yaml:"type"`
	Value   string `yaml:"value"`
	FileID  string `yaml:"file_id"`
	Caption string `yaml:"caption"`
}

// ErrInvalidDocument wraps every parse and validation failure.
var ErrInvalidDocument = errors.New("invalid catalog document")

// Parse decodes a catalog document. JSON documents are accepted since JSON
// is valid YAML. Media items without a reference and empty text items are
// dropped; unknown item types are rejected.
func Parse(data []byte) (*Catalog, error) {
	var docs []stepDocument
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	steps := make([]domain.Step, 0, len(docs))
	for i, doc := range docs {
		step := domain.Step{
			Title:       doc.Title,
			Description: doc.Description,
			Content:     make([]domain.ContentItem, 0, len(doc.Content)),
		}

		for j, item := range doc.Content {
			kind := normalizeType(item.Type)
			switch {
			case kind == "text":
				if strings.TrimSpace(item.Value) == "" {
					continue
				}
				step.Content = append(step.Content, domain.TextItem(item.Value))
			case domain.MediaKind(kind).Valid():
				if strings.TrimSpace(item.FileID) == "" {
					continue
				}
				step.Content = append(step.Content, domain.MediaItem(domain.MediaKind(kind), strings.TrimSpace(item.FileID), item.Caption))
			default:
				return nil, fmt.Errorf("%w: step %d item %d: unknown type %q", ErrInvalidDocument, i+1, j+1, item.Type)
			}
		}

		steps = append(steps, step)
	}

	cat := New(steps)
	sum := sha256.Sum256(data)
	cat.digest = hex.EncodeToString(sum[:])
	return cat, nil
}

func normalizeType(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	return strings.ReplaceAll(value, " ", "_")
}

// Store publishes the current catalog snapshot. Readers always see a complete
// snapshot; a failed reload keeps the previous one.
type Store struct {
	source  Source
	current atomic.Pointer[Catalog]
}

// NewStore builds a store that starts with an empty catalog.
func NewStore(source Source) *Store {
	s := &Store{source: source}
	s.current.Store(New(nil))
	return s
}

// Name identifies the store in reload logs.
func (s *Store) Name() string {
	return "catalog"
}

// Current returns the published snapshot.
func (s *Store) Current() *Catalog {
	return s.current.Load()
}

// Set publishes c directly.
func (s *Store) Set(c *Catalog) {
	if c == nil {
		c = New(nil)
	}
	s.current.Store(c)
}

// Reload reads and parses the source and publishes the result. changed is
// false when the document is byte-identical to the published one.
func (s *Store) Reload(ctx context.Context) (bool, error) {
	if s == nil || s.source == nil {
		return false, errors.New("catalog store is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}

	data, err := s.source.Read(ctx)
	if err != nil {
		return false, err
	}

	next, err := Parse(data)
	if err != nil {
		return false, err
	}

	if prev := s.current.Load(); prev != nil && prev.digest != "" && prev.digest == next.digest {
		return false, nil
	}

	s.current.Store(next)
	return true, nil
}
