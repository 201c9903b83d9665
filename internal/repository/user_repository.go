package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) interfaces.UserRepository {
	return &userRepository{db: db}
}

// GetUser loads a fresh snapshot of the user record.
func (r *userRepository) GetUser(ctx context.Context, userID string) (*models.User, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "userRepository.GetUser")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var user models.User
	result := r.db.WithContext(ctx).
		Where("id = ?", userID).
		First(&user)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errors.ErrUserNotFound
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get user: %w", result.Error)
	}

	return &user, nil
}

// GetActiveUsers lists all users eligible for synchronization.
func (r *userRepository) GetActiveUsers(ctx context.Context) ([]*models.User, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "userRepository.GetActiveUsers")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var users []*models.User
	result := r.db.WithContext(ctx).
		Where("imap_server <> ''").
		Order("created_at asc").
		Find(&users)

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to list users: %w", result.Error)
	}

	return users, nil
}

// ResetCursor stores the new UIDVALIDITY token and nulls last_uid in a
// single write, so a partially applied cursor is never observable.
func (r *userRepository) ResetCursor(ctx context.Context, userID, uidValidity string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "userRepository.ResetCursor")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("uid_validity", uidValidity)

	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"last_uid_validity": uidValidity,
			"last_uid":          nil,
			"updated_at":        utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to reset cursor: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.ErrUserNotFound
	}

	return nil
}

// ClearLastUID nulls last_uid, forcing the by-date strategy next batch.
func (r *userRepository) ClearLastUID(ctx context.Context, userID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "userRepository.ClearLastUID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"last_uid":   nil,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to clear last uid: %w", result.Error)
	}

	return nil
}

// RecordMessage advances the cursor past a processed message.
func (r *userRepository) RecordMessage(ctx context.Context, userID string, uid uint32, at time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "userRepository.RecordMessage")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("uid", uid)

	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"last_uid":      uid,
			"last_email_at": at,
			"updated_at":    utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to record message: %w", result.Error)
	}

	return nil
}

func (r *userRepository) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "userRepository.UpdateLastLogin")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"last_login_at": at,
			"updated_at":    utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update last login: %w", result.Error)
	}

	return nil
}

func (r *userRepository) UpdateConnectionStatus(ctx context.Context, userID string, status enum.ConnectionStatus, errorMessage string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "userRepository.UpdateConnectionStatus")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("status", status.String())

	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"connection_status": status,
			"error_message":     errorMessage,
			"updated_at":        utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update connection status: %w", result.Error)
	}

	return nil
}
