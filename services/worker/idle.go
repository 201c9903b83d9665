package worker

import (
	"context"

	"github.com/customeros/mailsync/interfaces"
)

// waitForEmail parks the session in IDLE until the server announces new
// mail. EXISTS wakes the main loop for another resync pass; BYE ends the
// idle so the worker does not deadlock against a server-initiated close.
// The stop signal also ends it.
func (w *UserWorker) waitForEmail(ctx context.Context) error {
	return w.client.Idle(ctx, w.stopCh, func(event interfaces.IdleEvent) bool {
		if !w.isRunning() {
			return true
		}
		switch event.Name {
		case "EXISTS", "BYE":
			return true
		default:
			return false
		}
	})
}
