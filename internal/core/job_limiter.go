package core

// job_limiter.go bounds how many archive jobs run at once.
//
// Export, inspect and restore jobs each hold a slot for their whole
// duration. When all slots are taken a new job waits up to maxWait and then
// fails with ErrTooManyJobs. WaitForDrain lets shutdown block until the
// running jobs finish.

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrTooManyJobs is returned when no job slot frees up within the wait
// timeout.
var ErrTooManyJobs = errors.New("too many concurrent archive jobs")

// DefaultMaxConcurrentJobs is used when the configured limit is not positive.
const DefaultMaxConcurrentJobs = 4

// DefaultMaxWait is how long a job waits for a slot by default.
const DefaultMaxWait = 30 * time.Second

// JobLimiter is a semaphore over archive jobs that also remembers which job
// holds each slot.
type JobLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu     sync.Mutex
	seq    uint64
	active map[uint64]ActiveJob // keyed by slot ticket; ids may repeat
}

// NewJobLimiter allows at most maxConcurrent jobs.
func NewJobLimiter(maxConcurrent int, maxWait time.Duration) *JobLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &JobLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
		active:  make(map[uint64]ActiveJob),
	}
}

// Acquire takes a slot for job id. The returned release func must be called
// exactly once when the job ends.
func (l *JobLimiter) Acquire(ctx context.Context, id string, kind JobKind) (release func(), err error) {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
	case <-timer.C:
		return nil, ErrTooManyJobs
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l.mu.Lock()
	l.seq++
	ticket := l.seq
	l.active[ticket] = ActiveJob{ID: id, Kind: kind}
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, ticket)
			l.mu.Unlock()
			<-l.slots
		})
	}, nil
}

// ActiveCount returns the number of running jobs.
func (l *JobLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// MaxConcurrent returns the slot count.
func (l *JobLimiter) MaxConcurrent() int {
	return cap(l.slots)
}

// WaitForDrain blocks until no job is running or ctx is done.
func (l *JobLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ActiveJob identifies a running job.
type ActiveJob struct {
	ID   string  `json:"id"`
	Kind JobKind `json:"kind"`
}

// JobLimiterStatus is a point-in-time view of the limiter.
type JobLimiterStatus struct {
	Active        int         `json:"active"`
	Available     int         `json:"available"`
	MaxConcurrent int         `json:"max_concurrent"`
	Jobs          []ActiveJob `json:"jobs,omitempty"`
}

// Status reports the running jobs ordered by id.
func (l *JobLimiter) Status() JobLimiterStatus {
	l.mu.Lock()
	jobs := make([]ActiveJob, 0, len(l.active))
	for _, job := range l.active {
		jobs = append(jobs, job)
	}
	l.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return JobLimiterStatus{
		Active:        len(jobs),
		Available:     cap(l.slots) - len(jobs),
		MaxConcurrent: cap(l.slots),
		Jobs:          jobs,
	}
}
