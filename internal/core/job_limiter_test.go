package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestJobLimiter_AcquireRelease(t *testing.T) {
	limiter := NewJobLimiter(2, time.Second)
	ctx := context.Background()

	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("initial ActiveCount = %d, want 0", got)
	}

	releaseA, err := limiter.Acquire(ctx, "a", JobExport)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	releaseB, err := limiter.Acquire(ctx, "b", JobRestore)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}

	status := limiter.Status()
	if status.Active != 2 || status.Available != 0 {
		t.Errorf("status = %+v, want 2 active 0 available", status)
	}
	if len(status.Jobs) != 2 || status.Jobs[0].ID != "a" || status.Jobs[1].Kind != JobRestore {
		t.Errorf("jobs = %+v", status.Jobs)
	}

	releaseA()
	releaseA()
	if got := limiter.ActiveCount(); got != 1 {
		t.Errorf("after double release, ActiveCount = %d, want 1", got)
	}

	releaseB()
	if got := limiter.Status().Available; got != 2 {
		t.Errorf("final Available = %d, want 2", got)
	}
}

func TestJobLimiter_RejectsWhenFull(t *testing.T) {
	limiter := NewJobLimiter(1, 100*time.Millisecond)
	ctx := context.Background()

	release, err := limiter.Acquire(ctx, "a", JobExport)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	start := time.Now()
	_, err = limiter.Acquire(ctx, "b", JobExport)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTooManyJobs) {
		t.Errorf("expected ErrTooManyJobs, got %v", err)
	}
	if elapsed < 90*time.Millisecond {
		t.Errorf("gave up too fast: %v", elapsed)
	}
}

func TestJobLimiter_ContextCancellation(t *testing.T) {
	limiter := NewJobLimiter(1, 5*time.Second)

	release, err := limiter.Acquire(context.Background(), "a", JobExport)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := limiter.Acquire(ctx, "b", JobInspect)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Acquire did not return after cancellation")
	}
}

func TestJobLimiter_ConcurrentAccess(t *testing.T) {
	const maxConcurrent = 3
	limiter := NewJobLimiter(maxConcurrent, time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxObserved := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := limiter.Acquire(context.Background(), NewJobID(), JobExport)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer release()

			mu.Lock()
			if n := limiter.ActiveCount(); n > maxObserved {
				maxObserved = n
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
		}()
	}
	wg.Wait()

	if maxObserved > maxConcurrent {
		t.Errorf("observed %d concurrent jobs, max %d", maxObserved, maxConcurrent)
	}
	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("final ActiveCount = %d, want 0", got)
	}
}

func TestJobLimiter_WaitForDrain(t *testing.T) {
	limiter := NewJobLimiter(2, time.Second)

	if err := limiter.WaitForDrain(context.Background()); err != nil {
		t.Fatalf("WaitForDrain on idle limiter: %v", err)
	}

	release, _ := limiter.Acquire(context.Background(), "a", JobRestore)

	drained := make(chan error, 1)
	go func() { drained <- limiter.WaitForDrain(context.Background()) }()

	select {
	case <-drained:
		t.Fatal("WaitForDrain returned with a job running")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case err := <-drained:
		if err != nil {
			t.Errorf("WaitForDrain: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("WaitForDrain did not return after release")
	}
}

func TestJobLimiter_WaitForDrain_ContextCancelled(t *testing.T) {
	limiter := NewJobLimiter(1, time.Second)
	release, _ := limiter.Acquire(context.Background(), "a", JobExport)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := limiter.WaitForDrain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestJobLimiter_DefaultValues(t *testing.T) {
	limiter := NewJobLimiter(0, 0)
	if got := limiter.MaxConcurrent(); got != DefaultMaxConcurrentJobs {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentJobs)
	}
}

func TestJobLimiter_DuplicateIDs(t *testing.T) {
	limiter := NewJobLimiter(2, time.Second)
	ctx := context.Background()

	first, err := limiter.Acquire(ctx, "same", JobExport)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	second, err := limiter.Acquire(ctx, "same", JobExport)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if got := limiter.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}

	first()
	if got := limiter.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount after first release = %d, want 1", got)
	}

	drainCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	if err := limiter.WaitForDrain(drainCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForDrain = %v, want deadline while a job still runs", err)
	}

	second()
	if err := limiter.WaitForDrain(ctx); err != nil {
		t.Errorf("WaitForDrain after both releases: %v", err)
	}
}
