package interfaces

import (
	"context"
	"time"

	"github.com/customeros/mailsync/internal/models"
)

// IdleEvent is one unsolicited server response observed while idling.
type IdleEvent struct {
	// Name is the untagged response name, e.g. "EXISTS", "EXPUNGE", "BYE".
	Name string
	// Count carries the message count for EXISTS responses.
	Count uint32
}

// IdleHandler receives server responses during IDLE. Returning true ends
// the IDLE command.
type IdleHandler func(event IdleEvent) (done bool)

// IMAPClient is the narrow capability the sync worker needs from one
// authenticated IMAP session. Implementations must classify failures via
// internal/errors kinds so the state machine can branch on them.
// Logout and Disconnect are safe on dead connections and never return
// errors to the caller.
type IMAPClient interface {
	Authenticate(ctx context.Context, user *models.User) error
	ListFolders(ctx context.Context) ([]string, error)
	Examine(ctx context.Context, folderName string) error
	UIDValidity(ctx context.Context, folderName string) (uint32, error)
	UIDSearchRange(ctx context.Context, from, to uint32) ([]uint32, error)
	UIDSearchSince(ctx context.Context, since time.Time) ([]uint32, error)
	// Idle blocks until the handler reports done, stop is closed, or the
	// connection drops.
	Idle(ctx context.Context, stop <-chan struct{}, handler IdleHandler) error
	FetchMessageByUID(ctx context.Context, uid uint32) (*models.RawMessage, error)
	Logout()
	Disconnect()
}

// IMAPDialer opens a connection to the user's IMAP provider.
type IMAPDialer interface {
	Connect(ctx context.Context, user *models.User) (IMAPClient, error)
}
