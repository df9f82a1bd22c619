package background

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/seatutor/mariner-backend/internal/platform/apierr"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

// Task is one fire-and-forget unit of work. Tasks must be idempotent: a
// retried request may schedule the same work twice.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type Config struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// Scheduler runs post-response work (message persistence, extraction,
// summarization) off the request path on a bounded worker pool. A full
// queue drops the task rather than blocking a response.
type Scheduler struct {
	log   *logger.Logger
	cfg   Config
	queue chan Task
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewScheduler(log *logger.Logger, cfg Config) (*Scheduler, error) {
	if log == nil {
		return nil, fmt.Errorf("background: logger required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 2 * time.Minute
	}
	s := &Scheduler{
		log:   log.With("service", "BackgroundScheduler"),
		cfg:   cfg,
		queue: make(chan Task, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s, nil
}

// Schedule enqueues without blocking. Returns false when the queue is full
// or the scheduler is shutting down.
func (s *Scheduler) Schedule(t Task) bool {
	if t.Run == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- t:
		return true
	default:
		s.log.Warn("background queue full, dropping task", "task", t.Name)
		return false
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for t := range s.queue {
		s.runOne(t)
	}
}

// runOne executes a task with its own timeout, retrying once on transient
// failures. Task failures never propagate anywhere; they are logged.
func (s *Scheduler) runOne(t Task) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TaskTimeout)
	defer cancel()

	err := t.Run(ctx)
	if err != nil && apierr.IsTransient(err) && ctx.Err() == nil {
		s.log.Debug("retrying background task", "task", t.Name, "error", err.Error())
		err = t.Run(ctx)
	}
	if err != nil {
		s.log.Warn("background task failed", "task", t.Name, "error", err.Error())
	}
}

// Shutdown stops intake and drains queued tasks until the deadline, then
// abandons whatever is left.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background: drain deadline exceeded: %w", ctx.Err())
	}
}
