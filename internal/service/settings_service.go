package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"task-reminder/internal/model"
	"task-reminder/internal/repository"
)

// SettingsView is what the settings screen shows.
type SettingsView struct {
	Email          string `json:"email"`
	EmailEnabled   bool   `json:"email_notification_enabled"`
	WebPushEnabled bool   `json:"web_push_enabled"`
}

type SettingsInput struct {
	Email          string `json:"email" validate:"omitempty,email"`
	EmailEnabled   bool   `json:"email_notification_enabled"`
	WebPushEnabled bool   `json:"web_push_enabled"`
}

type SubscriptionInput struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	P256dh   string `json:"p256dh" validate:"required"`
	Auth     string `json:"auth" validate:"required"`
}

// SettingsService manages notification channels of a user.
type SettingsService struct {
	userRepo         *repository.UserRepository
	notificationRepo *repository.NotificationRepository
}

func NewSettingsService(userRepo *repository.UserRepository, notificationRepo *repository.NotificationRepository) *SettingsService {
	return &SettingsService{userRepo: userRepo, notificationRepo: notificationRepo}
}

// Get returns the stored settings, or defaults carrying the account email.
func (s *SettingsService) Get(ctx context.Context, userID uint) (*SettingsView, error) {
	setting, err := s.notificationRepo.FindSetting(ctx, userID)
	if err != nil {
		return nil, err
	}
	if setting != nil {
		view := &SettingsView{EmailEnabled: setting.EmailEnabled, WebPushEnabled: setting.WebPushEnabled}
		if setting.Email != nil {
			view.Email = *setting.Email
		}
		return view, nil
	}

	view := &SettingsView{}
	user, err := s.userRepo.FindByID(ctx, userID)
	switch {
	case err == nil:
		view.Email = user.Email
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, fmt.Errorf("find user: %w", err)
	}
	return view, nil
}

func (s *SettingsService) Update(ctx context.Context, userID uint, input SettingsInput) (*SettingsView, error) {
	input.Email = strings.TrimSpace(input.Email)
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	setting := &model.NotificationSetting{
		UserID:         userID,
		EmailEnabled:   input.EmailEnabled,
		WebPushEnabled: input.WebPushEnabled,
	}
	if input.Email != "" {
		email := input.Email
		setting.Email = &email
	}
	if err := s.notificationRepo.SaveSetting(ctx, setting); err != nil {
		return nil, err
	}
	// The last address given becomes the account email.
	if input.Email != "" {
		if err := s.userRepo.UpdateEmail(ctx, userID, input.Email); err != nil {
			return nil, err
		}
	}
	return &SettingsView{Email: input.Email, EmailEnabled: input.EmailEnabled, WebPushEnabled: input.WebPushEnabled}, nil
}

// Subscribe registers a browser for push. The endpoint moves to userID if
// another account had it.
func (s *SettingsService) Subscribe(ctx context.Context, userID uint, input SubscriptionInput) error {
	if err := validateStruct(input); err != nil {
		return err
	}
	return s.notificationRepo.UpsertSubscription(ctx, &model.PushSubscription{
		UserID:   userID,
		Endpoint: input.Endpoint,
		P256dh:   input.P256dh,
		Auth:     input.Auth,
	})
}

// Unsubscribe drops every push subscription of the user.
func (s *SettingsService) Unsubscribe(ctx context.Context, userID uint) error {
	return s.notificationRepo.DeleteSubscriptionsForUser(ctx, userID)
}
