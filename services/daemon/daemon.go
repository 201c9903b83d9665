package daemon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/services/worker"
)

type Config struct {
	PoolSize       int  `env:"DAEMON_POOL_SIZE" envDefault:"4"`
	QueueDepth     int  `env:"DAEMON_POOL_QUEUE_DEPTH" envDefault:"64"`
	StressTestMode bool `env:"DAEMON_STRESS_TEST_MODE" envDefault:"false"`
}

// Daemon supervises one worker per user. It owns the bounded task pool
// all workers funnel database work through, the per-user error counters
// the backoff policy reads, and the dispatch table of live workers.
// Workers are crash-only; the reconcile pass respawns them.
type Daemon struct {
	cfg          *Config
	log          logger.Logger
	repositories *repository.Repositories
	dialer       interfaces.IMAPDialer
	processor    interfaces.MessageProcessor

	pool *taskPool

	workersMu sync.Mutex
	workers   map[string]*worker.UserWorker

	// errorCounts maps user id to *int64, incremented atomically from
	// any worker goroutine.
	errorCounts sync.Map

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDaemon(cfg *Config, log logger.Logger, repos *repository.Repositories, dialer interfaces.IMAPDialer, processor interfaces.MessageProcessor) *Daemon {
	return &Daemon{
		cfg:          cfg,
		log:          log,
		repositories: repos,
		dialer:       dialer,
		processor:    processor,
		workers:      make(map[string]*worker.UserWorker),
	}
}

// Start brings up the pool and spawns a worker for every active user.
func (d *Daemon) Start(ctx context.Context) error {
	span, ctx := tracing.StartTracerSpan(ctx, "Daemon.Start")
	defer span.Finish()

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.pool = newTaskPool(d.cfg.PoolSize, d.cfg.QueueDepth)

	users, err := d.repositories.UserRepository.GetActiveUsers(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	for _, user := range users {
		d.SpawnWorker(user)
	}

	d.log.Infof("Daemon started with %d users, pool size %d", len(users), d.cfg.PoolSize)
	return nil
}

// SpawnWorker registers and launches a worker for the user unless one is
// already running. Returns whether a worker was started.
func (d *Daemon) SpawnWorker(user *models.User) bool {
	d.workersMu.Lock()
	defer d.workersMu.Unlock()

	if _, exists := d.workers[user.ID]; exists {
		return false
	}

	w := worker.NewUserWorker(d, user, worker.Options{
		Dialer:     d.dialer,
		Repository: d.repositories.UserRepository,
		Processor:  d.processor,
		Log:        d.log,
	})
	d.workers[user.ID] = w

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		w.Run(d.ctx)
	}()

	return true
}

// HasWorker reports whether a worker is registered for the user.
func (d *Daemon) HasWorker(userID string) bool {
	d.workersMu.Lock()
	defer d.workersMu.Unlock()
	_, exists := d.workers[userID]
	return exists
}

// Reconcile respawns workers for users that have none. This is the only
// retry mechanism: crashed workers are replaced here, after their
// backoff has had a chance to grow.
func (d *Daemon) Reconcile(ctx context.Context) error {
	span, ctx := tracing.StartTracerSpan(ctx, "Daemon.Reconcile")
	defer span.Finish()

	users, err := d.repositories.UserRepository.GetActiveUsers(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	spawned := 0
	for _, user := range users {
		if d.SpawnWorker(user) {
			spawned++
		}
	}
	if spawned > 0 {
		d.log.Infof("Reconcile spawned %d workers", spawned)
	}
	return nil
}

// Submit enqueues a task on the shared pool, serialized per key.
func (d *Daemon) Submit(key string, task func()) error {
	return d.pool.submit(key, task)
}

// DisconnectUser removes the user from the dispatch table. Called by the
// worker's teardown; idempotent.
func (d *Daemon) DisconnectUser(userID string) {
	d.workersMu.Lock()
	defer d.workersMu.Unlock()
	delete(d.workers, userID)
}

// StopUser signals the user's worker, if any, to stop.
func (d *Daemon) StopUser(userID string) {
	d.workersMu.Lock()
	w := d.workers[userID]
	d.workersMu.Unlock()

	if w != nil {
		w.Stop()
	}
}

func (d *Daemon) ErrorCount(userID string) int {
	value, ok := d.errorCounts.Load(userID)
	if !ok {
		return 0
	}
	return int(atomic.LoadInt64(value.(*int64)))
}

func (d *Daemon) IncrementErrorCount(userID string) int {
	value, _ := d.errorCounts.LoadOrStore(userID, new(int64))
	return int(atomic.AddInt64(value.(*int64), 1))
}

// ResetErrorCount clears the backoff input after a healthy session.
func (d *Daemon) ResetErrorCount(userID string) {
	d.errorCounts.Delete(userID)
}

func (d *Daemon) StressTestMode() bool {
	return d.cfg.StressTestMode
}

// Status summarizes the dispatch table for the HTTP surface.
type Status struct {
	ActiveWorkers int            `json:"activeWorkers"`
	Users         []string       `json:"users"`
	ErrorCounts   map[string]int `json:"errorCounts"`
}

func (d *Daemon) Status() Status {
	d.workersMu.Lock()
	users := make([]string, 0, len(d.workers))
	for id := range d.workers {
		users = append(users, id)
	}
	d.workersMu.Unlock()

	counts := make(map[string]int)
	d.errorCounts.Range(func(key, value interface{}) bool {
		counts[key.(string)] = int(atomic.LoadInt64(value.(*int64)))
		return true
	})

	return Status{
		ActiveWorkers: len(users),
		Users:         users,
		ErrorCounts:   counts,
	}
}

// Stop signals every worker and waits for them to tear down, then drains
// the pool.
func (d *Daemon) Stop() {
	d.log.Info("Stopping sync daemon...")

	if d.cancel != nil {
		d.cancel()
	}

	d.workersMu.Lock()
	workers := make([]*worker.UserWorker, 0, len(d.workers))
	for _, w := range d.workers {
		workers = append(workers, w)
	}
	d.workersMu.Unlock()

	for _, w := range workers {
		w.Stop()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info("All workers stopped gracefully")
	case <-time.After(10 * time.Second):
		d.log.Warn("Timeout waiting for workers to stop")
	}

	if d.pool != nil {
		d.pool.shutdown()
	}

	d.log.Info("Sync daemon stopped")
}
