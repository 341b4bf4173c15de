package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"task-reminder/internal/model"
)

// NotificationRepository stores per-user channel settings and push subscriptions.
type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// FindSetting returns nil without error when the user never saved settings.
func (r *NotificationRepository) FindSetting(ctx context.Context, userID uint) (*model.NotificationSetting, error) {
	var setting model.NotificationSetting
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&setting).Error
	switch {
	case err == nil:
		return &setting, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("find notification setting: %w", err)
	}
}

func (r *NotificationRepository) SaveSetting(ctx context.Context, setting *model.NotificationSetting) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"email":            setting.Email,
				"email_enabled":    setting.EmailEnabled,
				"web_push_enabled": setting.WebPushEnabled,
				"updated_at":       time.Now(),
			}),
		}).
		Create(setting).Error
	if err != nil {
		return fmt.Errorf("save notification setting: %w", err)
	}
	return nil
}

func (r *NotificationRepository) ListSubscriptions(ctx context.Context, userID uint) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	return subs, nil
}

// UpsertSubscription registers an endpoint. An endpoint already known is
// re-keyed and handed to the given user.
func (r *NotificationRepository) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"user_id":    sub.UserID,
				"p256dh":     sub.P256dh,
				"auth":       sub.Auth,
				"updated_at": time.Now(),
			}),
		}).
		Create(sub).Error
	if err != nil {
		return fmt.Errorf("upsert push subscription: %w", err)
	}
	return nil
}

func (r *NotificationRepository) DeleteSubscription(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&model.PushSubscription{}, id).Error; err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

func (r *NotificationRepository) DeleteSubscriptionsForUser(ctx context.Context, userID uint) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.PushSubscription{}).Error; err != nil {
		return fmt.Errorf("delete push subscriptions: %w", err)
	}
	return nil
}
