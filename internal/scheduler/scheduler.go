// Package scheduler runs reaction tasks with at most one task in flight per
// group and redrives storage failures with exponential backoff.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/gwillem/signal-reactions/internal/reaction"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("scheduler: closed")

const (
	DefaultMaxElapsed      = 2 * time.Minute
	DefaultInitialInterval = 200 * time.Millisecond
)

// Job is one unit of work. Jobs with the same Key run one at a time in
// submission order.
type Job struct {
	Key string
	Run func(ctx context.Context) (reaction.Outcome, error)
	// Done is called from the worker after the last attempt. Optional.
	Done func(reaction.Outcome, error)
}

// Config configures a Scheduler.
type Config struct {
	MaxElapsed      time.Duration // total retry budget per job
	InitialInterval time.Duration
	Logger          zerolog.Logger
}

type queued struct {
	ctx context.Context
	job Job
}

// Scheduler owns one worker goroutine per active key. A worker exits once
// its queue drains.
type Scheduler struct {
	cfg    Config
	mu     sync.Mutex
	queues map[string][]queued
	closed bool
	wg     sync.WaitGroup
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = DefaultMaxElapsed
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	return &Scheduler{cfg: cfg, queues: make(map[string][]queued)}
}

// Submit enqueues job. It never blocks on running work.
func (s *Scheduler) Submit(ctx context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.wg.Add(1)
	q, active := s.queues[job.Key]
	s.queues[job.Key] = append(q, queued{ctx: ctx, job: job})
	if !active {
		go s.work(job.Key)
	}
	return nil
}

// Wait blocks until every submitted job has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close stops accepting jobs and waits for queued ones.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) work(key string) {
	for {
		s.mu.Lock()
		q := s.queues[key]
		if len(q) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		next := q[0]
		s.mu.Unlock()

		outcome, err := s.run(next.ctx, next.job)
		if next.job.Done != nil {
			next.job.Done(outcome, err)
		}

		s.mu.Lock()
		s.queues[key] = s.queues[key][1:]
		s.mu.Unlock()
		s.wg.Done()
	}
}

// run retries only persistence failures. Discards and successes are final.
func (s *Scheduler) run(ctx context.Context, job Job) (reaction.Outcome, error) {
	log := s.cfg.Logger.With().Str("key", job.Key).Logger()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialInterval

	return backoff.Retry(ctx, func() (reaction.Outcome, error) {
		outcome, err := job.Run(ctx)
		if err != nil && !errors.Is(err, reaction.ErrPersistence) {
			return outcome, backoff.Permanent(err)
		}
		return outcome, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(s.cfg.MaxElapsed),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Warn().Err(err).Dur("retry_in", d).Msg("task failed, retrying")
		}),
	)
}
