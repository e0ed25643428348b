package coordinator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xiaden/nomarr-sub002/errors"
	nomtest "github.com/xiaden/nomarr-sub002/internal/testing"
	"github.com/xiaden/nomarr-sub002/ledger"
)

func testCoordinator(t *testing.T, maxContexts, capacity int) (*Coordinator, *ledger.Ledger) {
	t.Helper()
	led := ledger.New(nomtest.CreateTestDB(t), map[string]int{"gpu-slot": capacity})
	coord := New(led, maxContexts, zap.NewNop().Sugar())
	t.Cleanup(coord.Close)
	return coord, led
}

func echoBackend(fn func(ctx context.Context, target string, options json.RawMessage) (json.RawMessage, error)) Backend {
	return &Func{BackendName: "echo", Class: "gpu-slot", Units: 1, Fn: fn}
}

func TestSubmitResolvesWithResult(t *testing.T) {
	coord, _ := testCoordinator(t, 2, 2)

	backend := echoBackend(func(ctx context.Context, target string, options json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"target":"` + target + `"}`), nil
	})

	pending, err := coord.Submit(context.Background(), backend, "/music/a.flac", nil, "w1")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	result, err := pending.Wait(time.Second)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if string(result) != `{"target":"/music/a.flac"}` {
		t.Errorf("unexpected result: %s", result)
	}
}

func TestSubmitReleasesCapacityAfterRun(t *testing.T) {
	coord, led := testCoordinator(t, 2, 1)

	backend := echoBackend(func(ctx context.Context, target string, options json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})

	pending, err := coord.Submit(context.Background(), backend, "/music/a.flac", nil, "w1")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := pending.Wait(time.Second); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	// The claim is released once the execution resolves. Poll briefly; the
	// release happens after the future resolves.
	deadline := time.Now().Add(time.Second)
	for {
		weight, err := led.ActiveWeight("gpu-slot")
		if err != nil {
			t.Fatalf("active weight failed: %v", err)
		}
		if weight == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("capacity never released, weight still %d", weight)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubmitDeniedWhenContextsBusy(t *testing.T) {
	coord, _ := testCoordinator(t, 1, 5)

	block := make(chan struct{})
	backend := echoBackend(func(ctx context.Context, target string, options json.RawMessage) (json.RawMessage, error) {
		<-block
		return nil, nil
	})

	first, err := coord.Submit(context.Background(), backend, "/music/slow.flac", nil, "w1")
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	// Only one execution context; the second submit is denied immediately,
	// not queued.
	_, err = coord.Submit(context.Background(), backend, "/music/denied.flac", nil, "w2")
	if !errors.IsCapacityUnavailable(err) {
		t.Errorf("expected ErrCapacityUnavailable, got %v", err)
	}

	close(block)
	if _, err := first.Wait(time.Second); err != nil {
		t.Fatalf("first job failed: %v", err)
	}
}

func TestSubmitDeniedWhenLedgerFull(t *testing.T) {
	coord, led := testCoordinator(t, 5, 1)

	// Something else holds the only slot.
	if _, err := led.TryAcquire("gpu-slot", 1, "elsewhere"); err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}

	backend := echoBackend(func(ctx context.Context, target string, options json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})

	_, err := coord.Submit(context.Background(), backend, "/music/denied.flac", nil, "w1")
	if !errors.IsCapacityUnavailable(err) {
		t.Errorf("expected ErrCapacityUnavailable, got %v", err)
	}

	// The denial must not leak an execution slot.
	if coord.InFlight() != 0 {
		t.Errorf("expected no in-flight contexts after denial, got %d", coord.InFlight())
	}
}

func TestPanicBecomesWorkerCrashed(t *testing.T) {
	coord, led := testCoordinator(t, 2, 2)

	backend := echoBackend(func(ctx context.Context, target string, options json.RawMessage) (json.RawMessage, error) {
		panic("analyzer segfault")
	})

	pending, err := coord.Submit(context.Background(), backend, "/music/crash.flac", nil, "w1")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	_, err = pending.Wait(time.Second)
	if !errors.Is(err, errors.ErrWorkerCrashed) {
		t.Errorf("expected ErrWorkerCrashed, got %v", err)
	}

	// Crash must still release the capacity claim.
	deadline := time.Now().Add(time.Second)
	for {
		weight, _ := led.ActiveWeight("gpu-slot")
		if weight == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("capacity leaked after crash, weight %d", weight)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWaitTimeoutLeavesExecutionRunning(t *testing.T) {
	coord, _ := testCoordinator(t, 2, 2)

	release := make(chan struct{})
	backend := echoBackend(func(ctx context.Context, target string, options json.RawMessage) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`"late"`), nil
	})

	pending, err := coord.Submit(context.Background(), backend, "/music/slow.flac", nil, "w1")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	_, err = pending.Wait(50 * time.Millisecond)
	if !errors.Is(err, errors.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// The execution keeps going and resolves normally afterwards.
	close(release)
	result, err := pending.Wait(time.Second)
	if err != nil {
		t.Fatalf("late wait failed: %v", err)
	}
	if string(result) != `"late"` {
		t.Errorf("unexpected late result: %s", result)
	}
}

func TestClosedCoordinatorRefusesWork(t *testing.T) {
	led := ledger.New(nomtest.CreateTestDB(t), map[string]int{"gpu-slot": 1})
	coord := New(led, 1, zap.NewNop().Sugar())
	coord.Close()

	backend := echoBackend(func(ctx context.Context, target string, options json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})

	_, err := coord.Submit(context.Background(), backend, "/music/late.flac", nil, "w1")
	if !errors.Is(err, errors.ErrEngineClosed) {
		t.Errorf("expected ErrEngineClosed, got %v", err)
	}
}
