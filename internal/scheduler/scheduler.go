// Package scheduler drives the periodic credential refresh: a cron-fired
// sweep finds near-expiry credentials and fans out one refresh job per
// credential through the job queue, and a worker pool consumes those
// jobs. The sweep never refreshes inline.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"credhub/internal/common/errors"
	"credhub/internal/common/logging"
	"credhub/internal/credentials"
	"credhub/internal/engines"
	"credhub/internal/locks"
	"credhub/internal/metrics"
	"credhub/internal/queue"
)

// Job type names on the queue
const (
	JobSweep      = "credentials_sweep"
	JobRefreshOne = "credentials_refresh_one"
)

const (
	argCredentialID = "credential_id"

	// refreshLockTTL bounds how long a crashed worker can strand a
	// credential's refresh lock
	refreshLockTTL = 2 * time.Minute

	dequeueTimeout = 5 * time.Second
)

// Scheduler owns the sweep/refresh job lifecycle
type Scheduler struct {
	store    credentials.Store
	registry *engines.Registry
	queue    queue.Queue
	locks    locks.Manager
	metrics  *metrics.Metrics
	logger   logging.Logger

	cron    *cron.Cron
	workers int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Options configures a Scheduler
type Options struct {
	Store    credentials.Store
	Registry *engines.Registry
	Queue    queue.Queue
	Locks    locks.Manager
	Metrics  *metrics.Metrics
	Logger   logging.Logger
	Workers  int
}

// NewScheduler creates the scheduler. Workers defaults to 4; the lock
// manager defaults to in-process locks.
func NewScheduler(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	if opts.Locks == nil {
		opts.Locks = locks.NewLocalManager()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Scheduler{
		store:    opts.Store,
		registry: opts.Registry,
		queue:    opts.Queue,
		locks:    opts.Locks,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		workers:  opts.Workers,
	}
}

// Start registers the sweep on the given cron schedule and launches the
// worker pool. Stop must be called to drain.
func (s *Scheduler) Start(schedule string) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.queue.Enqueue(context.Background(), JobSweep, nil); err != nil {
			s.logger.Error("Failed to enqueue sweep", err)
		}
	})
	if err != nil {
		return errors.ConfigError("invalid refresh sweep schedule: " + schedule)
	}
	s.cron.Start()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx)
	}

	s.logger.Info("Refresh scheduler started",
		logging.String("schedule", schedule),
		logging.Int("workers", s.workers))
	return nil
}

// Stop halts the cron and drains the worker pool
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) workerLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := s.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("Job dequeue failed", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		s.dispatch(ctx, job)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, job *queue.Job) {
	switch job.Type {
	case JobSweep:
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("Sweep failed", err, logging.String("job_id", job.ID))
		}
	case JobRefreshOne:
		if err := s.RefreshOne(ctx, job.Args[argCredentialID]); err != nil {
			s.logger.Error("Refresh job failed", err,
				logging.String("job_id", job.ID),
				logging.String("credential_id", job.Args[argCredentialID]))
		}
	default:
		s.logger.Warn("Unknown job type", logging.String("type", job.Type))
	}
}

// Sweep loads every OAuth-capable credential, asks its engine whether it
// is near expiry, and enqueues one refresh job per due credential.
// Returns the number of jobs enqueued.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	records, err := s.store.ListByKinds(ctx, credentials.OAuthKinds)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, rec := range records {
		engine, err := s.registry.For(rec.Kind)
		if err != nil {
			s.logger.Warn("No engine for credential kind",
				logging.Any("kind", rec.Kind),
				logging.String("credential_id", rec.ID))
			continue
		}
		if !engine.IsDueForRefresh(rec) {
			continue
		}
		if _, err := s.queue.Enqueue(ctx, JobRefreshOne, map[string]string{argCredentialID: rec.ID}); err != nil {
			return enqueued, err
		}
		enqueued++
	}

	if s.metrics != nil {
		s.metrics.SweepCredentialsDue.Set(float64(enqueued))
	}
	s.logger.Info("Refresh sweep completed",
		logging.Int("candidates", len(records)),
		logging.Int("enqueued", enqueued))
	return enqueued, nil
}

// RefreshOne refreshes a single credential under a per-credential
// advisory lock. Idempotent: a record no longer due, or one whose lock
// is held by a concurrent refresh, is a safe no-op.
func (s *Scheduler) RefreshOne(ctx context.Context, credentialID string) error {
	if credentialID == "" {
		return errors.ValidationError("credential id is required")
	}

	release, acquired, err := s.locks.TryAcquire(ctx, "credential-refresh:"+credentialID, refreshLockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		s.logger.Debug("Refresh already in progress",
			logging.String("credential_id", credentialID))
		return nil
	}
	defer release()

	// Load under the lock; a concurrent refresh may have already renewed
	// the token
	rec, err := s.store.GetByID(ctx, credentialID)
	if err != nil {
		return err
	}

	engine, err := s.registry.For(rec.Kind)
	if err != nil {
		return err
	}

	if !engine.IsDueForRefresh(rec) {
		return nil
	}

	_, err = engine.Refresh(ctx, rec)
	return err
}
