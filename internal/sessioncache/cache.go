// Package sessioncache holds the in-memory, process-wide map from
// message UUID to in-flight session state, bridging the server's
// `email` and `attachment` requests for a given message.
package sessioncache

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aksiksi/vaulty/internal/mimemodel"
	"github.com/aksiksi/vaulty/internal/policystore"
)

// Session is the per-message server-side record tying an `email` request
// to its subsequent `attachment` requests.
type Session struct {
	Message              mimemodel.Message
	Address              policystore.AddressRecord
	AttachmentsProcessed map[int]struct{}
	InsertionTime        time.Time
	LastUpdated          time.Time
}

// clone returns a deep-enough copy of the session for callers that must
// not observe concurrent mutation after releasing the cache's lock.
func (s Session) clone() Session {
	processed := make(map[int]struct{}, len(s.AttachmentsProcessed))
	for k := range s.AttachmentsProcessed {
		processed[k] = struct{}{}
	}
	s.AttachmentsProcessed = processed
	return s
}

// Cache is the reader-writer-locked message-session map. Its metrics
// counters (NumProcessed, AvgProcessingTime) are updated only under the
// writer lock, matching the "no other global mutable state" contract.
type Cache struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	numProcessed      uint64
	avgProcessingTime float64 // microseconds, incremental running average
}

// New builds an empty Cache. Each test should construct its own instance
// rather than sharing package-level state, to avoid cross-test leakage.
func New() *Cache {
	return &Cache{sessions: make(map[uuid.UUID]*Session)}
}

// Insert creates a session for msg, keyed by its UUID. Called exactly
// when a message is accepted and has at least one attachment.
func (c *Cache) Insert(msg mimemodel.Message, addr policystore.AddressRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.sessions[msg.UUID] = &Session{
		Message:              msg,
		Address:              addr,
		AttachmentsProcessed: make(map[int]struct{}),
		InsertionTime:        now,
		LastUpdated:          now,
	}
}

// Contains reports whether a session exists for uuid, without cloning it.
// Used for the `email` endpoint's idempotent-retry check.
func (c *Cache) Contains(id uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sessions[id]
	return ok
}

// Get returns a cloned copy of the session for id, so the caller can
// inspect it without holding the cache's lock. The read-lock window is
// only as long as the clone itself takes.
func (c *Cache) Get(id uuid.UUID) (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// AttachmentOutcome describes what MarkProcessed did, for the attachment
// handler to decide whether the upload was actually necessary and whether
// the terminal response fields should be populated.
type AttachmentOutcome struct {
	AlreadyProcessed bool
	Evicted          bool
}

// MarkProcessed records that attachment index for message id has been
// successfully uploaded. If the index was already marked, it is a no-op
// (idempotent retry). When this was the terminal attachment -- the
// count of processed indices equals the message's attachment count --
// the session is evicted and the processing-time metrics are updated.
func (c *Cache) MarkProcessed(id uuid.UUID, index int) (AttachmentOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[id]
	if !ok {
		return AttachmentOutcome{}, false
	}

	if _, already := s.AttachmentsProcessed[index]; already {
		return AttachmentOutcome{AlreadyProcessed: true}, true
	}

	s.AttachmentsProcessed[index] = struct{}{}
	s.LastUpdated = time.Now()

	if len(s.AttachmentsProcessed) >= s.Message.AttachmentCount {
		c.evictLocked(id, s)
		return AttachmentOutcome{Evicted: true}, true
	}

	return AttachmentOutcome{}, true
}

// evictLocked removes the session and folds its processing time into the
// running average. Must be called with the writer lock held.
func (c *Cache) evictLocked(id uuid.UUID, s *Session) {
	delete(c.sessions, id)

	c.numProcessed++
	elapsedMicros := float64(time.Since(s.InsertionTime).Microseconds())
	c.avgProcessingTime += (elapsedMicros - c.avgProcessingTime) / float64(c.numProcessed)
}

// Evict removes the session for id unconditionally, without folding it
// into the processing-time metrics. Storage failures on an attachment do
// NOT call this -- the session is deliberately left in place so the
// filter's MTA-driven retry can re-attempt the same index. This exists
// for process-level cleanup paths (e.g. an admin-triggered reset) rather
// than the request-handling path.
func (c *Cache) Evict(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

// Snapshot returns a read-only view of the cache's processing metrics,
// for the /monitor/cache endpoint. Not strictly consistent with
// concurrent writers, by design.
type Snapshot struct {
	NumProcessed      uint64  `json:"num_processed"`
	AvgProcessingTime float64 `json:"avg_processing_time"`
}

func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{NumProcessed: c.numProcessed, AvgProcessingTime: c.avgProcessingTime}
}
