package interfaces

import (
	"context"

	"github.com/customeros/mailsync/internal/models"
)

// Supervisor is the daemon surface a user worker depends on.
type Supervisor interface {
	// Submit enqueues a task on the shared worker pool. Tasks with the
	// same key run on the same pool slot in submission order. Submission
	// fails when the pool is saturated or shut down.
	Submit(key string, task func()) error
	// DisconnectUser removes the user from the daemon's dispatch table.
	// Idempotent.
	DisconnectUser(userID string)
	ErrorCount(userID string) int
	IncrementErrorCount(userID string) int
	// StressTestMode suppresses verbose logs and metrics.
	StressTestMode() bool
}

// MessageProcessor handles one newly discovered message. Downstream
// processing is expected to be idempotent over (user, folder, uid).
type MessageProcessor interface {
	ProcessUID(ctx context.Context, user *models.User, client IMAPClient, folderName string, uid uint32) error
}
