package integrity

import (
	"errors"
	"testing"
	"time"
)

func snap(docs, pages int64, synced, updated time.Time) Snapshot {
	return Snapshot{DocumentCount: docs, PageCount: pages, LatestSyncTS: synced, MaxDocUpdatedTS: updated}
}

func TestComputeVersionID_Deterministic(t *testing.T) {
	synced := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	updated := time.Date(2026, 1, 14, 9, 0, 0, 0, time.UTC)

	id1 := ComputeVersionID(snap(120, 5400, synced, updated))
	id2 := ComputeVersionID(snap(120, 5400, synced, updated))

	if id1 != id2 {
		t.Fatalf("version id not deterministic: %q != %q", id1, id2)
	}
	if len(id1) != prefixLen {
		t.Fatalf("expected %d-char id, got %d chars (%q)", prefixLen, len(id1), id1)
	}
}

func TestComputeVersionID_DifferentInputs(t *testing.T) {
	synced := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	updated := time.Date(2026, 1, 14, 9, 0, 0, 0, time.UTC)

	id1 := ComputeVersionID(snap(120, 5400, synced, updated))
	id2 := ComputeVersionID(snap(121, 5400, synced, updated))

	if id1 == id2 {
		t.Fatal("different document counts should produce different version ids")
	}
}

func TestComputeVersionID_NoFieldCollision(t *testing.T) {
	// Length-prefixing each field means a count and a timestamp can never be
	// confused for one another regardless of their formatted width.
	ts := time.Unix(100, 0).UTC()
	id1 := ComputeVersionID(Snapshot{DocumentCount: 1, PageCount: 23, LatestSyncTS: ts, MaxDocUpdatedTS: ts})
	id2 := ComputeVersionID(Snapshot{DocumentCount: 12, PageCount: 3, LatestSyncTS: ts, MaxDocUpdatedTS: ts})

	if id1 == id2 {
		t.Fatal("distinct (document_count, page_count) pairs must not collide")
	}
}

func TestCache_ReturnsCachedValueWithinTTL(t *testing.T) {
	c := NewCache(time.Hour)
	calls := 0

	fetch := func() (Snapshot, error) {
		calls++
		return snap(10, 100, time.Unix(1, 0), time.Unix(1, 0)), nil
	}

	id1, err := c.Get(fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := c.Get(fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if id1 != id2 {
		t.Fatalf("cached id changed between calls: %q != %q", id1, id2)
	}
	if calls != 1 {
		t.Fatalf("expected fetch to run once within the TTL, ran %d times", calls)
	}
}

func TestCache_RefetchesAfterTTLExpires(t *testing.T) {
	c := NewCache(0) // zero TTL: every Get must refetch.
	calls := 0

	fetch := func() (Snapshot, error) {
		calls++
		return snap(int64(calls), 100, time.Unix(1, 0), time.Unix(1, 0)), nil
	}

	if _, err := c.Get(fetch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Get(fetch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 2 {
		t.Fatalf("expected fetch to run on every call with a zero TTL, ran %d times", calls)
	}
}

func TestCache_PropagatesFetchError(t *testing.T) {
	c := NewCache(time.Hour)
	wantErr := errors.New("db unavailable")

	_, err := c.Get(func() (Snapshot, error) {
		return Snapshot{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fetch error to propagate, got %v", err)
	}
}
