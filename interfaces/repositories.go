package interfaces

import (
	"context"
	"time"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
)

// UserRepository persists the sync cursor and account state. All worker
// access goes through the daemon's task pool; the repository itself is
// plain gorm.
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetActiveUsers(ctx context.Context) ([]*models.User, error)
	// ResetCursor stores the new UIDVALIDITY token and nulls last_uid,
	// invalidating any cursor from a previous UID space.
	ResetCursor(ctx context.Context, userID, uidValidity string) error
	// ClearLastUID nulls last_uid, forcing the by-date strategy.
	ClearLastUID(ctx context.Context, userID string) error
	// RecordMessage advances last_uid and stamps last_email_at.
	RecordMessage(ctx context.Context, userID string, uid uint32, at time.Time) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	UpdateConnectionStatus(ctx context.Context, userID string, status enum.ConnectionStatus, errorMessage string) error
}
