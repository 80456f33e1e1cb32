// Package scheduler runs named periodic jobs on their own goroutines, with
// an explicit start/stop lifecycle so the wiring in main owns it rather than
// a process-wide registry. A job that fails or panics is logged and simply
// runs again at its next tick; it can never halt the other jobs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one periodic unit of background work.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

type Scheduler struct {
	log  *zap.Logger
	jobs []Job

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(log *zap.Logger) *Scheduler {
	return &Scheduler{log: log}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// Start launches one ticker goroutine per job. Each job also runs once
// shortly after start so a fresh deploy does not wait a full interval.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.log.Info("Background scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop cancels all jobs and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log.Info("Background scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()

	s.runOnce(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Background job panicked",
				zap.String("job", job.Name), zap.Any("panic", r))
		}
	}()

	if ctx.Err() != nil {
		return
	}
	if err := job.Run(ctx); err != nil {
		s.log.Warn("Background job failed", zap.String("job", job.Name), zap.Error(err))
	}
}
