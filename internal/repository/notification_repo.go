package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kaanrky/courier/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ListParams struct {
	Status   *domain.Status
	Service  *domain.Service
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// ClaimResult is the outcome of the locked claim transaction that guards
// every delivery attempt.
type ClaimResult int

const (
	// ClaimProceed: the record moved to PROCESSING and this caller owns the send.
	ClaimProceed ClaimResult = iota
	// ClaimNotFound: no record for the messageId.
	ClaimNotFound
	// ClaimAlreadySent: terminal, the delivery already happened.
	ClaimAlreadySent
	// ClaimInFlight: another attempt owns this delivery.
	ClaimInFlight
	// ClaimExhausted: failed with attempts at the ceiling; terminal.
	ClaimExhausted
)

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByMessageID(ctx context.Context, messageID string) (*domain.Notification, error)
	List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error)
	ClaimForDelivery(ctx context.Context, messageID string, maxAttempts int) (ClaimResult, *domain.Notification, error)
	ReleaseClaim(ctx context.Context, messageID string) error
	MarkSent(ctx context.Context, messageID string, response string) error
	MarkFailed(ctx context.Context, messageID string, response string) error
	ListRetryableFailed(ctx context.Context, maxAttempts, limit int, before time.Time) ([]domain.Notification, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model, err := notificationModelFromDomain(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%w: messageId %q already exists", domain.ErrConflict, n.MessageID)
		}
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) GetByMessageID(ctx context.Context, messageID string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "message_id = ?", messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: message %q", domain.ErrNotFound, messageID)
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Service != nil {
		query = query.Where("service = ?", *params.Service)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []NotificationModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, total, nil
}

// ClaimForDelivery implements the locked step of the delivery state machine:
// select-for-update by messageId, decide whether this delivery proceeds, and
// if so move the record to PROCESSING with attempts+1. The row lock is
// released at commit, before any outbound send.
func (r *GormNotificationRepo) ClaimForDelivery(
	ctx context.Context,
	messageID string,
	maxAttempts int,
) (ClaimResult, *domain.Notification, error) {
	result := ClaimNotFound
	var claimed *domain.Notification

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model NotificationModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "message_id = ?", messageID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result = ClaimNotFound
			return nil
		}
		if err != nil {
			return err
		}

		decision, updates := decideClaim(&model, maxAttempts)
		result = decision
		if updates != nil {
			if err := tx.Model(&model).Updates(updates).Error; err != nil {
				return err
			}
		}
		if decision == ClaimProceed {
			claimed = notificationModelToDomain(&model)
		}
		return nil
	})
	if err != nil {
		return ClaimNotFound, nil, fmt.Errorf("failed to claim message %q: %w", messageID, err)
	}

	return result, claimed, nil
}

// ReleaseClaim hands a claimed delivery back without consuming the attempt.
// Used when a send is interrupted before the provider was reached; the record
// drops to FAILED below the ceiling, where the redrive scanner picks it up.
func (r *GormNotificationRepo) ReleaseClaim(ctx context.Context, messageID string) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("message_id = ? AND status = ?", messageID, domain.StatusProcessing).
		Updates(map[string]any{
			"status":   domain.StatusFailed,
			"attempts": gorm.Expr("attempts - 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: message %q not in processing state", domain.ErrNotFound, messageID)
	}
	return nil
}

// MarkSent finalizes a claimed delivery. SENT is terminal, so the update is
// guarded on the PROCESSING state the claim established.
func (r *GormNotificationRepo) MarkSent(ctx context.Context, messageID string, response string) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("message_id = ? AND status = ?", messageID, domain.StatusProcessing).
		Updates(map[string]any{
			"status":             domain.StatusSent,
			"connector_response": response,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: message %q not in processing state", domain.ErrNotFound, messageID)
	}
	return nil
}

// MarkFailed records a failed attempt or a publish compensation. It never
// touches a SENT record.
func (r *GormNotificationRepo) MarkFailed(ctx context.Context, messageID string, response string) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("message_id = ? AND status IN ?", messageID, []domain.Status{domain.StatusPending, domain.StatusProcessing}).
		Updates(map[string]any{
			"status":             domain.StatusFailed,
			"connector_response": response,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: message %q not in a failable state", domain.ErrNotFound, messageID)
	}
	return nil
}

// ListRetryableFailed returns FAILED records below the attempt ceiling that
// have not been touched since before the given cutoff.
func (r *GormNotificationRepo) ListRetryableFailed(
	ctx context.Context,
	maxAttempts, limit int,
	before time.Time,
) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND attempts < ? AND updated_at < ?", domain.StatusFailed, maxAttempts, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, nil
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
