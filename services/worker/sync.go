package worker

import (
	"context"
	"strconv"
	"time"

	"github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/metrics"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/utils"
)

const (
	// uidBatchWindow is the width of one UID SEARCH window.
	uidBatchWindow = 100
	// dateLookbackDays pads the by-date search; IMAP date search is
	// day-granular and downstream deduplicates by UID.
	dateLookbackDays = 2
	// stallThreshold is how long an account may go without a processed
	// message before the cursor is jumpstarted.
	stallThreshold = 24 * time.Hour
)

// mainLoop alternates resync passes with IDLE until the worker stops.
func (w *UserWorker) mainLoop(ctx context.Context) error {
	for w.isRunning() {
		if err := w.verifyUIDValidity(ctx); err != nil {
			return err
		}
		if !w.isRunning() {
			return nil
		}

		if err := w.jumpstartStalledAccount(ctx); err != nil {
			return err
		}

		for w.isRunning() {
			count, err := w.readBatch(ctx)
			if err != nil {
				return err
			}
			if count == 0 {
				break
			}
		}
		if !w.isRunning() {
			return nil
		}

		if err := w.waitForEmail(ctx); err != nil {
			return err
		}
	}
	return nil
}

// updateUIDValidity runs once after folder selection: capture the
// server's UIDVALIDITY and, if it differs from the persisted token,
// rotate the cursor (new token, null last_uid) before anything fetches
// by UID.
func (w *UserWorker) updateUIDValidity(ctx context.Context) error {
	validity, err := w.client.UIDValidity(ctx, w.folderName)
	if err != nil {
		return err
	}
	w.uidValidity = strconv.FormatUint(uint64(validity), 10)

	if utils.GetOrDefault(w.user.LastUIDValidity, "") == w.uidValidity {
		return nil
	}

	err = w.schedule(ctx, func(taskCtx context.Context) error {
		return w.opts.Repository.ResetCursor(taskCtx, w.user.ID, w.uidValidity)
	})
	if err != nil {
		return err
	}

	updated := *w.user
	updated.LastUIDValidity = &w.uidValidity
	updated.LastUID = nil
	w.user = &updated
	return nil
}

// verifyUIDValidity reloads the user through the pool and compares the
// persisted token against the session's. A divergence means another
// machine owns this user and has already rotated the cursor; this worker
// must yield before issuing any UID search.
func (w *UserWorker) verifyUIDValidity(ctx context.Context) error {
	var fresh *models.User
	err := w.schedule(ctx, func(taskCtx context.Context) error {
		user, loadErr := w.opts.Repository.GetUser(taskCtx, w.user.ID)
		fresh = user
		return loadErr
	})
	if err != nil {
		return err
	}
	w.user = fresh

	if utils.GetOrDefault(fresh.LastUIDValidity, "") != w.uidValidity {
		return errors.ErrUIDValidityChanged
	}
	return nil
}

// jumpstartStalledAccount nulls the cursor of an account that has not
// produced a message in over 24 hours, forcing the next batch onto the
// by-date strategy.
func (w *UserWorker) jumpstartStalledAccount(ctx context.Context) error {
	if w.user.LastEmailAt == nil {
		return nil
	}
	if time.Since(*w.user.LastEmailAt) <= stallThreshold {
		return nil
	}

	w.opts.Log.Infof("Jumpstarting stalled account %s (last email at %s)",
		w.user.EmailAddress, w.user.LastEmailAt.Format(time.RFC3339))

	err := w.schedule(ctx, func(taskCtx context.Context) error {
		return w.opts.Repository.ClearLastUID(taskCtx, w.user.ID)
	})
	if err != nil {
		return err
	}

	updated := *w.user
	updated.LastUID = nil
	w.user = &updated
	return nil
}

// readBatch runs one search window with the strategy the cursor demands
// and returns how many messages it processed. Zero means caught up.
func (w *UserWorker) readBatch(ctx context.Context) (int, error) {
	if w.user.LastUID != nil {
		return w.readEmailsByUID(ctx)
	}
	return w.readEmailsByDate(ctx)
}

// readEmailsByUID searches the next window of 100 UIDs past the cursor.
func (w *UserWorker) readEmailsByUID(ctx context.Context) (int, error) {
	lastUID := *w.user.LastUID
	uids, err := w.client.UIDSearchRange(ctx, lastUID+1, lastUID+uidBatchWindow)
	if err != nil {
		return 0, err
	}
	return w.processUIDs(ctx, uids)
}

// readEmailsByDate searches by internal date, used whenever the cursor
// is unset: new users, jumpstarted accounts, post-UIDVALIDITY rotation.
func (w *UserWorker) readEmailsByDate(ctx context.Context) (int, error) {
	since := utils.Now().AddDate(0, 0, -dateLookbackDays)
	uids, err := w.client.UIDSearchSince(ctx, since)
	if err != nil {
		return 0, err
	}
	return w.processUIDs(ctx, uids)
}

// processUIDs hands each UID to downstream processing in order and
// advances the cursor through the pool after each success. A stop signal
// ends the batch early.
func (w *UserWorker) processUIDs(ctx context.Context, uids []uint32) (int, error) {
	count := 0
	for _, uid := range uids {
		if !w.isRunning() {
			return count, nil
		}

		if err := w.opts.Processor.ProcessUID(ctx, w.user, w.client, w.folderName, uid); err != nil {
			return count, err
		}

		processedAt := utils.Now()
		err := w.schedule(ctx, func(taskCtx context.Context) error {
			return w.opts.Repository.RecordMessage(taskCtx, w.user.ID, uid, processedAt)
		})
		if err != nil {
			return count, err
		}

		updated := *w.user
		uidCopy := uid
		updated.LastUID = &uidCopy
		updated.LastEmailAt = &processedAt
		w.user = &updated

		if !w.daemon.StressTestMode() {
			metrics.MessagesProcessed.Inc()
		}
		count++
	}
	return count, nil
}
