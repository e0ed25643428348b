package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xiaden/nomarr-sub002/conf"
	"github.com/xiaden/nomarr-sub002/errors"
	"github.com/xiaden/nomarr-sub002/queue"
)

// newTestService builds a service over a throwaway database file. Workers are
// never started; these tests exercise the facade operations themselves.
func newTestService(t *testing.T) *Service {
	t.Helper()

	cfg := conf.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "nomarr.db")

	svc, err := New(cfg, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	t.Cleanup(func() { svc.Stop(0) })
	return svc
}

func TestEnqueueAndGetStatus(t *testing.T) {
	svc := newTestService(t)

	job, err := svc.Enqueue("tag", "/music/a.flac", nil)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// GetStatus finds the job without knowing its category.
	found, err := svc.GetStatus(job.ID)
	if err != nil {
		t.Fatalf("get status failed: %v", err)
	}
	if found.Category != "tag" || found.Status != queue.StatusPending {
		t.Errorf("unexpected job state: %+v", found)
	}
}

func TestEnqueueUnknownCategory(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Enqueue("transcode", "/music/a.flac", nil)
	if !errors.IsNotFound(err) {
		t.Errorf("expected ErrNotFound for unknown category, got %v", err)
	}
}

func TestGetStatusUnknownJob(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetStatus("no-such-id")
	if !errors.IsNotFound(err) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEnqueueWaitTimesOutWithoutMutating(t *testing.T) {
	svc := newTestService(t)

	// No workers are running; the wait must expire and leave the job alone.
	job, err := svc.EnqueueWait(context.Background(), "tag", "/music/slow.flac", nil, 100*time.Millisecond)
	if !errors.Is(err, errors.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if job == nil {
		t.Fatal("expected the job back alongside the timeout")
	}

	after, err := svc.GetStatus(job.ID)
	if err != nil {
		t.Fatalf("get status failed: %v", err)
	}
	if after.Status != queue.StatusPending {
		t.Errorf("timeout must not mutate the job, got %s", after.Status)
	}
}

func TestStatsAllCoversEveryCategory(t *testing.T) {
	svc := newTestService(t)

	svc.Enqueue("tag", "/music/a.flac", nil)
	svc.Enqueue("tag", "/music/b.flac", nil)
	svc.Enqueue("scan", "/music", nil)

	all, err := svc.StatsAll()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if all["tag"].Pending != 2 {
		t.Errorf("expected 2 pending tag jobs, got %d", all["tag"].Pending)
	}
	if all["scan"].Pending != 1 {
		t.Errorf("expected 1 pending scan job, got %d", all["scan"].Pending)
	}
	if all["calibrate"].Total != 0 {
		t.Errorf("expected empty calibrate queue, got %d", all["calibrate"].Total)
	}
}

func TestFlushByStatus(t *testing.T) {
	svc := newTestService(t)

	svc.Enqueue("tag", "/music/a.flac", nil)
	svc.Enqueue("tag", "/music/b.flac", nil)

	removed, err := svc.Flush("tag", []queue.Status{queue.StatusPending})
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 flushed, got %d", removed)
	}

	_, err = svc.Flush("tag", []queue.Status{queue.StatusRunning})
	if !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition flushing running, got %v", err)
	}
}

func TestRemoveJob(t *testing.T) {
	svc := newTestService(t)

	job, _ := svc.Enqueue("tag", "/music/a.flac", nil)
	if err := svc.Remove(job.ID, false); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	_, err := svc.GetStatus(job.ID)
	if !errors.IsNotFound(err) {
		t.Errorf("expected job gone, got %v", err)
	}
}

func TestPauseStatePersistsAcrossServices(t *testing.T) {
	cfg := conf.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "nomarr.db")

	first, err := New(cfg, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("failed to build first service: %v", err)
	}
	if err := first.Pause("tag"); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	first.Stop(0)

	second, err := New(cfg, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("failed to build second service: %v", err)
	}
	defer second.Stop(0)

	paused, err := second.Paused("tag")
	if err != nil {
		t.Fatalf("paused check failed: %v", err)
	}
	if !paused {
		t.Error("pause flag must survive across processes")
	}

	other, err := second.Paused("scan")
	if err != nil {
		t.Fatalf("paused check failed: %v", err)
	}
	if other {
		t.Error("other categories must be unaffected")
	}
}

func TestResetStuckRequeuesGhostJobs(t *testing.T) {
	svc := newTestService(t)

	job, _ := svc.Enqueue("tag", "/music/stuck.flac", nil)

	// Simulate a worker that claimed the job and died without a heartbeat.
	eng := svc.engines["tag"]
	claimed, err := eng.queue.ClaimNext("ghost-w-1")
	if err != nil || claimed == nil {
		t.Fatalf("setup claim failed: %v", err)
	}
	if _, err := svc.Ledger().TryAcquire("gpu-slot", 1, "ghost-w-1"); err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}

	requeued, err := svc.ResetStuck()
	if err != nil {
		t.Fatalf("reset stuck failed: %v", err)
	}
	if requeued != 1 {
		t.Errorf("expected 1 requeued, got %d", requeued)
	}

	after, _ := svc.GetStatus(job.ID)
	if after.Status != queue.StatusPending {
		t.Errorf("expected pending after reset, got %s", after.Status)
	}

	weight, _ := svc.Ledger().ActiveWeight("gpu-slot")
	if weight != 0 {
		t.Errorf("expected ghost capacity reclaimed, weight %d", weight)
	}
}

func TestCleanupSpansCategories(t *testing.T) {
	svc := newTestService(t)

	for _, category := range []string{"tag", "scan"} {
		job, _ := svc.Enqueue(category, "/music/old", nil)
		eng := svc.engines[category]
		if _, err := eng.queue.ClaimNext("w1"); err != nil {
			t.Fatalf("setup claim failed: %v", err)
		}
		if err := eng.queue.MarkDone(job.ID, nil); err != nil {
			t.Fatalf("setup finish failed: %v", err)
		}
	}

	// Age both finished jobs past the window.
	if _, err := svc.db.Exec(`UPDATE jobs SET finished_at = ?`,
		time.Now().UTC().Add(-10*24*time.Hour)); err != nil {
		t.Fatalf("failed to age jobs: %v", err)
	}

	removed, err := svc.Cleanup(7 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 cleaned up, got %d", removed)
	}
}
