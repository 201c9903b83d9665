package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/metrics"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
)

// Options carries the collaborators a worker composes. The repository is
// only ever touched from inside pool tasks.
type Options struct {
	Dialer     interfaces.IMAPDialer
	Repository interfaces.UserRepository
	Processor  interfaces.MessageProcessor
	Log        logger.Logger
}

// UserWorker maintains one authenticated IMAP session for one user and
// keeps the user's UID cursor consistent with the remote mailbox.
//
// Lifecycle is crash-only: Run executes a single attempt; any failure or
// stop signal drives the worker to teardown, and the daemon decides
// whether to spawn a fresh worker afterwards. There is no in-place retry.
type UserWorker struct {
	daemon interfaces.Supervisor
	opts   Options

	// user is an immutable snapshot, replaced wholesale whenever the
	// record is reloaded through the pool.
	user   *models.User
	client interfaces.IMAPClient

	folderName string
	// uidValidity is the server's UIDVALIDITY captured at folder
	// selection, in the string form the cursor comparison uses.
	uidValidity string
	sessionID   string

	stopCh       chan struct{}
	stopOnce     sync.Once
	teardownOnce sync.Once
	running      atomic.Bool
}

func NewUserWorker(daemon interfaces.Supervisor, user *models.User, opts Options) *UserWorker {
	return &UserWorker{
		daemon:    daemon,
		user:      user,
		opts:      opts,
		sessionID: uuid.NewString(),
		stopCh:    make(chan struct{}),
	}
}

// UserID survives teardown so the daemon can key on it.
func (w *UserWorker) UserID() string {
	return w.user.ID
}

// Stop signals the worker to wind down. Idempotent; the worker still
// runs its full teardown path.
func (w *UserWorker) Stop() {
	w.stopOnce.Do(func() {
		w.running.Store(false)
		close(w.stopCh)
	})
}

func (w *UserWorker) isRunning() bool {
	return w.running.Load()
}

// Run executes a single synchronization attempt. Teardown is guaranteed
// on every exit path.
func (w *UserWorker) Run(ctx context.Context) {
	span, ctx := tracing.StartTracerSpan(ctx, "UserWorker.Run")
	defer span.Finish()
	tracing.TagComponentWorker(span)
	tracing.TagUser(span, w.user.ID, w.user.EmailAddress)
	span.SetTag("session.id", w.sessionID)

	w.running.Store(true)
	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()
	defer w.teardown()

	if err := w.runSession(ctx); err != nil {
		tracing.TraceErr(span, err)
		w.handleFailure(ctx, err)
	}
}

func (w *UserWorker) runSession(ctx context.Context) error {
	if err := w.delayStart(ctx); err != nil {
		return err
	}
	if !w.isRunning() {
		return nil
	}

	client, err := w.opts.Dialer.Connect(ctx, w.user)
	if err != nil {
		return err
	}
	w.client = client

	if !w.isRunning() {
		return nil
	}
	if err := w.authenticate(ctx); err != nil {
		return err
	}

	if !w.isRunning() {
		return nil
	}
	if err := w.chooseFolder(ctx); err != nil {
		return err
	}

	if !w.isRunning() {
		return nil
	}
	if err := w.updateUIDValidity(ctx); err != nil {
		return err
	}

	return w.mainLoop(ctx)
}

// delayStart sleeps per the backoff policy before any connection attempt.
// Interruptible by the stop signal.
func (w *UserWorker) delayStart(ctx context.Context) error {
	delay := StartDelay(w.daemon.ErrorCount(w.user.ID))
	if delay == 0 {
		return nil
	}

	if !w.daemon.StressTestMode() {
		metrics.DelayedStart.Set(delay.Seconds())
		w.opts.Log.Infof("Delaying start for %s by %s", w.user.EmailAddress, delay)
	}

	select {
	case <-time.After(delay):
		return nil
	case <-w.stopCh:
		return errors.ErrWorkerStopped
	case <-ctx.Done():
		return errors.ErrWorkerStopped
	}
}

// authenticate logs in and stamps last_login_at through the pool.
func (w *UserWorker) authenticate(ctx context.Context) error {
	if err := w.client.Authenticate(ctx, w.user); err != nil {
		return err
	}

	now := time.Now().UTC()
	err := w.schedule(ctx, func(taskCtx context.Context) error {
		if statusErr := w.opts.Repository.UpdateConnectionStatus(taskCtx, w.user.ID, enum.ConnectionActive, ""); statusErr != nil {
			w.opts.Log.Warnf("Failed to update connection status for %s: %v", w.user.EmailAddress, statusErr)
		}
		return w.opts.Repository.UpdateLastLogin(taskCtx, w.user.ID, now)
	})
	if err != nil {
		return err
	}

	updated := *w.user
	updated.LastLoginAt = now
	w.user = &updated
	return nil
}

// schedule is the bridge onto the daemon's bounded pool: the task is
// routed to the user's slot and the worker suspends until the pool has
// executed it. A stop signal interrupts the wait; callers re-check the
// running flag on resumption. Pool rejection and task failure are both
// fatal bridge failures.
func (w *UserWorker) schedule(ctx context.Context, task func(ctx context.Context) error) error {
	reply := make(chan error, 1)

	err := w.daemon.Submit(w.user.ID, func() {
		reply <- task(ctx)
	})
	if err != nil {
		return errors.WithKind(errors.KindBridge, err)
	}

	select {
	case err := <-reply:
		if err != nil {
			return errors.WithKind(errors.KindBridge, err)
		}
		return nil
	case <-w.stopCh:
		return errors.ErrWorkerStopped
	}
}

// handleFailure classifies a session error and applies the disposition
// table: auth failures are expected operational noise, contention is an
// expected concurrency outcome, everything else is logged loudly and
// counted.
func (w *UserWorker) handleFailure(ctx context.Context, err error) {
	if err == errors.ErrWorkerStopped {
		return
	}

	kind := errors.KindOf(err)
	switch kind {
	case errors.KindContention:
		// Another machine rotated the cursor; stop silently.
		w.opts.Log.Debugf("UID validity contention for %s, yielding", w.user.EmailAddress)
		return
	case errors.KindAuth:
		w.opts.Log.Infof("Authentication failed for %s: %v", w.user.EmailAddress, err)
	default:
		w.opts.Log.Errorf("Worker for %s failed: %+v", w.user.EmailAddress, err)
		if !w.daemon.StressTestMode() {
			metrics.WorkerErrors.WithLabelValues(kind.String()).Inc()
		}
		// Best effort; the worker is already on its way down.
		_ = w.schedule(ctx, func(taskCtx context.Context) error {
			return w.opts.Repository.UpdateConnectionStatus(taskCtx, w.user.ID, enum.ConnectionNotActive, err.Error())
		})
	}

	w.daemon.IncrementErrorCount(w.user.ID)
}

// teardown runs exactly once on every exit path: flag the stop, notify
// the daemon, close the session, release references.
func (w *UserWorker) teardown() {
	w.teardownOnce.Do(func() {
		w.Stop()
		w.daemon.DisconnectUser(w.user.ID)

		if w.client != nil {
			w.client.Logout()
			w.client.Disconnect()
		}

		email := w.user.EmailAddress
		w.client = nil

		w.opts.Log.Infof("Disconnected %s.", email)
	})
}
