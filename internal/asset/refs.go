package asset

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ReferencePrefix starts every reference URL.
const ReferencePrefix = "blob:assetdb/"

var (
	// ErrReferenceLimit means the registry holds as many references as it may.
	ErrReferenceLimit = errors.New("reference limit reached")

	// ErrRegistryClosed means the registry no longer issues references.
	ErrRegistryClosed = errors.New("reference registry closed")
)

// IDGenerator produces unique reference ids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed. This is a fail-fast approach
// to catch test misconfiguration.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// Reference is a process-local handle to a blob, usable wherever a URL is.
// It is never persisted and must be released by whoever holds it last.
type Reference struct {
	URL string `json:"url"`
}

func (r Reference) String() string { return r.URL }

type refEntry struct {
	payload   []byte
	mediaType string
}

// References issues and resolves Reference URLs. Each live reference pins
// its payload in memory until released.
type References struct {
	mu      sync.Mutex
	entries map[string]refEntry
	limit   int
	gen     IDGenerator
	closed  bool
}

// ReferencesOption configures a References registry.
type ReferencesOption func(*References)

// WithLimit caps the number of live references. Zero means unlimited.
func WithLimit(n int) ReferencesOption {
	return func(r *References) { r.limit = n }
}

// WithIDGenerator replaces the UUIDv7 id source.
func WithIDGenerator(g IDGenerator) ReferencesOption {
	return func(r *References) { r.gen = g }
}

// NewReferences creates an empty registry.
func NewReferences(opts ...ReferencesOption) *References {
	r := &References{
		entries: make(map[string]refEntry),
		gen:     UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers payload and returns a reference to it.
func (r *References) Create(payload []byte, mediaType string) (Reference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Reference{}, ErrRegistryClosed
	}
	if r.limit > 0 && len(r.entries) >= r.limit {
		return Reference{}, fmt.Errorf("%w (%d live)", ErrReferenceLimit, len(r.entries))
	}
	url := ReferencePrefix + r.gen.Generate()
	if _, dup := r.entries[url]; dup {
		return Reference{}, fmt.Errorf("reference %s already issued", url)
	}
	r.entries[url] = refEntry{payload: payload, mediaType: mediaType}
	return Reference{URL: url}, nil
}

// Resolve returns the payload and media type behind a live reference.
func (r *References) Resolve(url string) ([]byte, string, bool) {
	if !strings.HasPrefix(url, ReferencePrefix) {
		return nil, "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[url]
	return e.payload, e.mediaType, ok
}

// Release drops a reference. Releasing an unknown reference is a no-op.
func (r *References) Release(ref Reference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, ref.URL)
}

// Len returns the number of live references.
func (r *References) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close releases every reference and refuses new ones.
func (r *References) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	clear(r.entries)
}
