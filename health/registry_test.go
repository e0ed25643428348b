package health

import (
	"testing"
	"time"

	nomtest "github.com/xiaden/nomarr-sub002/internal/testing"
)

func TestBeatUpsertsRecord(t *testing.T) {
	db := nomtest.CreateTestDB(t)
	reg := NewRegistry(db, 30*time.Second)

	if err := reg.Beat("tag-w-1", "tag", false); err != nil {
		t.Fatalf("first beat failed: %v", err)
	}
	if err := reg.Beat("tag-w-1", "tag", true); err != nil {
		t.Fatalf("second beat failed: %v", err)
	}

	rec, err := reg.Get("tag-w-1")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if !rec.Busy {
		t.Error("expected busy flag from latest beat")
	}
	if rec.Category != "tag" {
		t.Errorf("expected category tag, got %s", rec.Category)
	}
}

func TestFreshWorkerIsNotStale(t *testing.T) {
	db := nomtest.CreateTestDB(t)
	reg := NewRegistry(db, 30*time.Second)

	reg.Beat("tag-w-1", "tag", false)

	stale, err := reg.IsStale("tag-w-1")
	if err != nil {
		t.Fatalf("staleness check failed: %v", err)
	}
	if stale {
		t.Error("worker that just beat must not be stale")
	}
}

func TestSilentWorkerGoesStale(t *testing.T) {
	db := nomtest.CreateTestDB(t)
	reg := NewRegistry(db, 50*time.Millisecond)

	reg.Beat("tag-w-1", "tag", true)
	time.Sleep(80 * time.Millisecond)

	stale, err := reg.IsStale("tag-w-1")
	if err != nil {
		t.Fatalf("staleness check failed: %v", err)
	}
	if !stale {
		t.Error("worker past the threshold must be stale")
	}

	records, err := reg.ListStale()
	if err != nil {
		t.Fatalf("list stale failed: %v", err)
	}
	if len(records) != 1 || records[0].WorkerID != "tag-w-1" {
		t.Errorf("expected the silent worker in stale list, got %v", records)
	}
}

func TestUnknownWorkerIsStale(t *testing.T) {
	db := nomtest.CreateTestDB(t)
	reg := NewRegistry(db, 30*time.Second)

	// Never-seen workers are treated as dead: a job claimed by a worker that
	// crashed before its first heartbeat must be recoverable.
	stale, err := reg.IsStale("never-seen")
	if err != nil {
		t.Fatalf("staleness check failed: %v", err)
	}
	if !stale {
		t.Error("unknown worker must count as stale")
	}
}

func TestRecordCrashIncrements(t *testing.T) {
	db := nomtest.CreateTestDB(t)
	reg := NewRegistry(db, 30*time.Second)

	reg.Beat("tag-w-1", "tag", false)
	if err := reg.RecordCrash("tag-w-1"); err != nil {
		t.Fatalf("record crash failed: %v", err)
	}
	if err := reg.RecordCrash("tag-w-1"); err != nil {
		t.Fatalf("second crash failed: %v", err)
	}

	rec, _ := reg.Get("tag-w-1")
	if rec.Crashes != 2 {
		t.Errorf("expected 2 crashes, got %d", rec.Crashes)
	}
}

func TestRemoveIsQuietForUnknown(t *testing.T) {
	db := nomtest.CreateTestDB(t)
	reg := NewRegistry(db, 30*time.Second)

	if err := reg.Remove("never-seen"); err != nil {
		t.Errorf("removing an unknown worker must be a no-op, got %v", err)
	}
}

func TestPruneStaleKeepsTheLiving(t *testing.T) {
	db := nomtest.CreateTestDB(t)
	reg := NewRegistry(db, 50*time.Millisecond)

	reg.Beat("ghost-w-1", "tag", true)
	time.Sleep(80 * time.Millisecond)
	reg.Beat("alive-w-1", "tag", false)

	pruned, err := reg.PruneStale()
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned, got %d", pruned)
	}

	if _, err := reg.Get("alive-w-1"); err != nil {
		t.Errorf("live worker must survive pruning: %v", err)
	}
}
