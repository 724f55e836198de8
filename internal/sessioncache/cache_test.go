package sessioncache

import (
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/aksiksi/vaulty/internal/mimemodel"
	"github.com/aksiksi/vaulty/internal/policystore"
)

func newTestSession(attachmentCount int) (uuid.UUID, mimemodel.Message, policystore.AddressRecord) {
	id := uuid.New()
	msg := mimemodel.Message{UUID: id, AttachmentCount: attachmentCount}
	return id, msg, policystore.AddressRecord{}
}

func TestInsertAndGetClones(t *testing.T) {
	c := New()
	id, msg, addr := newTestSession(2)
	c.Insert(msg, addr)

	s1, ok := c.Get(id)
	if !ok {
		t.Fatal("expected session present")
	}
	s1.AttachmentsProcessed[0] = struct{}{}

	s2, ok := c.Get(id)
	if !ok {
		t.Fatal("expected session present")
	}
	if len(s2.AttachmentsProcessed) != 0 {
		t.Fatalf("mutating a cloned session leaked into the cache: %+v", s2.AttachmentsProcessed)
	}
}

func TestMarkProcessedIdempotent(t *testing.T) {
	c := New()
	id, msg, addr := newTestSession(2)
	c.Insert(msg, addr)

	outcome, ok := c.MarkProcessed(id, 0)
	if !ok || outcome.AlreadyProcessed || outcome.Evicted {
		t.Fatalf("first mark: %+v, ok=%v", outcome, ok)
	}

	outcome, ok = c.MarkProcessed(id, 0)
	if !ok || !outcome.AlreadyProcessed {
		t.Fatalf("second mark of same index should be idempotent: %+v, ok=%v", outcome, ok)
	}
}

func TestMarkProcessedEvictsOnTerminalAttachment(t *testing.T) {
	c := New()
	id, msg, addr := newTestSession(2)
	c.Insert(msg, addr)

	if _, ok := c.MarkProcessed(id, 0); !ok {
		t.Fatal("expected session present")
	}
	outcome, ok := c.MarkProcessed(id, 1)
	if !ok {
		t.Fatal("expected session present")
	}
	if !outcome.Evicted {
		t.Fatalf("expected eviction on terminal attachment, got %+v", outcome)
	}

	if c.Contains(id) {
		t.Fatal("session should be evicted after terminal attachment")
	}

	snap := c.Snapshot()
	if snap.NumProcessed != 1 {
		t.Fatalf("expected NumProcessed=1, got %d", snap.NumProcessed)
	}
}

func TestMarkProcessedMissingSession(t *testing.T) {
	c := New()
	_, ok := c.MarkProcessed(uuid.New(), 0)
	if ok {
		t.Fatal("expected ok=false for missing session")
	}
}

func TestConcurrentOutOfOrderAttachments(t *testing.T) {
	c := New()
	id, msg, addr := newTestSession(8)
	c.Insert(msg, addr)

	var wg sync.WaitGroup
	evictions := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			outcome, ok := c.MarkProcessed(id, idx)
			if !ok {
				t.Errorf("unexpected missing session for index %d", idx)
				return
			}
			evictions <- outcome.Evicted
		}(i)
	}
	wg.Wait()
	close(evictions)

	evictedCount := 0
	for e := range evictions {
		if e {
			evictedCount++
		}
	}
	if evictedCount != 1 {
		t.Fatalf("expected exactly one eviction across concurrent out-of-order marks, got %d", evictedCount)
	}
	if c.Contains(id) {
		t.Fatal("session should be evicted exactly once")
	}
}
