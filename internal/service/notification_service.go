package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"
	"golang.org/x/sync/errgroup"

	"task-reminder/internal/dedup"
	"task-reminder/internal/model"
	"task-reminder/internal/notify"
	"task-reminder/internal/recurrence"
	"task-reminder/internal/repository"
)

const (
	channelEmail = "email"
	channelPush  = "push"
)

// DispatchResult aggregates one dispatch pass.
type DispatchResult struct {
	EmailCount int      `json:"email_count"`
	PushCount  int      `json:"push_count"`
	Errors     []string `json:"errors"`
}

// NotificationService sends the notifications due at a date and HH:mm slot.
type NotificationService struct {
	taskRepo         *repository.TaskRepository
	exclusionRepo    *repository.ExclusionRepository
	notificationRepo *repository.NotificationRepository
	email            notify.EmailSender
	push             notify.PushSender
	guard            dedup.Guard
	concurrency      int
	log              *slog.Logger
}

type NotificationDeps struct {
	Tasks         *repository.TaskRepository
	Exclusions    *repository.ExclusionRepository
	Notifications *repository.NotificationRepository
	Email         notify.EmailSender
	Push          notify.PushSender
	// Guard is optional; nil means duplicates are not suppressed.
	Guard       dedup.Guard
	Concurrency int
	Logger      *slog.Logger
}

func NewNotificationService(deps NotificationDeps) *NotificationService {
	s := &NotificationService{
		taskRepo:         deps.Tasks,
		exclusionRepo:    deps.Exclusions,
		notificationRepo: deps.Notifications,
		email:            deps.Email,
		push:             deps.Push,
		guard:            deps.Guard,
		concurrency:      deps.Concurrency,
		log:              deps.Logger,
	}
	if s.guard == nil {
		s.guard = dedup.Noop{}
	}
	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Dispatch finds the tasks occurring on date whose notification time is hhmm
// and delivers them. Failing to load candidates aborts the pass; everything
// after that is recorded per task in the result.
func (s *NotificationService) Dispatch(ctx context.Context, date civil.Date, hhmm string) (DispatchResult, error) {
	tasks, err := s.taskRepo.ListForNotification(ctx, hhmm)
	if err != nil {
		return DispatchResult{Errors: []string{}}, err
	}
	exclusions, err := s.exclusionRepo.ListForTasks(ctx, taskIDs(tasks))
	if err != nil {
		return DispatchResult{Errors: []string{}}, err
	}

	var due []model.Task
	for _, task := range tasks {
		if task.NotificationTime == nil || *task.NotificationTime != hhmm {
			continue
		}
		if recurrence.OccursOn(task.DueDate.Date, task.Rule(), exclusions[task.ID], date) {
			due = append(due, task)
		}
	}

	var emailCount, pushCount atomic.Int64
	perTask := make([][]string, len(due))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, task := range due {
		i, task := i, task
		g.Go(func() error {
			emailed, pushed, errs := s.notifyTask(gctx, task, date, hhmm)
			if emailed {
				emailCount.Add(1)
			}
			if pushed {
				pushCount.Add(1)
			}
			perTask[i] = errs
			return nil
		})
	}
	_ = g.Wait()

	result := DispatchResult{
		EmailCount: int(emailCount.Load()),
		PushCount:  int(pushCount.Load()),
		Errors:     []string{},
	}
	for _, errs := range perTask {
		result.Errors = append(result.Errors, errs...)
	}

	s.log.Info("notification dispatch finished",
		"date", date.String(),
		"time", hhmm,
		"candidates", len(tasks),
		"due", len(due),
		"emails", result.EmailCount,
		"pushes", result.PushCount,
		"errors", len(result.Errors),
	)
	return result, nil
}

func (s *NotificationService) notifyTask(ctx context.Context, task model.Task, date civil.Date, hhmm string) (emailed, pushed bool, errs []string) {
	setting, err := s.notificationRepo.FindSetting(ctx, task.UserID)
	if err != nil {
		return false, false, []string{fmt.Sprintf("Failed to load notification settings for user %d (task %d): %v", task.UserID, task.ID, err)}
	}
	if setting == nil {
		return false, false, nil
	}

	if setting.EmailEnabled && setting.Email != nil && *setting.Email != "" {
		to := *setting.Email
		ok, err := s.once(ctx, task.ID, date, hhmm, channelEmail, func() error {
			subject, body := renderEmail(task.Title, task.DueDate.Date, hhmm)
			return s.email.Send(ctx, to, subject, body)
		})
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("Failed to send email to %s for task %d: %v", to, task.ID, err))
			s.log.Error("email notification failed", "task_id", task.ID, "user_id", task.UserID, "err", err)
		case ok:
			emailed = true
		}
	}

	if setting.WebPushEnabled {
		ok, err := s.once(ctx, task.ID, date, hhmm, channelPush, func() error {
			return s.sendPush(ctx, task, date, hhmm)
		})
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("Failed to send web push to user %d for task %d: %v", task.UserID, task.ID, err))
			s.log.Warn("push notification failed", "task_id", task.ID, "user_id", task.UserID, "err", err)
		case ok:
			pushed = true
		}
	}

	return emailed, pushed, errs
}

// once runs send unless the slot was already claimed. It reports whether a
// send happened and succeeded. Guard failures do not block delivery.
func (s *NotificationService) once(ctx context.Context, taskID uint, date civil.Date, hhmm, channel string, send func() error) (bool, error) {
	key := dedup.Key(taskID, date.String(), hhmm, channel)
	claimed, err := s.guard.Claim(ctx, key)
	if err != nil {
		s.log.Warn("dedup claim failed, sending anyway", "key", key, "err", err)
		claimed = true
	}
	if !claimed {
		s.log.Debug("notification already sent", "key", key)
		return false, nil
	}

	if err := send(); err != nil {
		if relErr := s.guard.Release(ctx, key); relErr != nil {
			s.log.Warn("dedup release failed", "key", key, "err", relErr)
		}
		return false, err
	}
	return true, nil
}

var errNoSubscriptions = errors.New("no push subscription delivered")

// sendPush fans out to every subscription of the owner. It succeeds when at
// least one subscription accepted the message.
func (s *NotificationService) sendPush(ctx context.Context, task model.Task, date civil.Date, hhmm string) error {
	subs, err := s.notificationRepo.ListSubscriptions(ctx, task.UserID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return errNoSubscriptions
	}

	payload, err := renderPush(task.UserID, task.Title, task.DueDate.Date, hhmm)
	if err != nil {
		return err
	}

	var delivered atomic.Int64
	var g errgroup.Group
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			target := notify.PushTarget{Endpoint: sub.Endpoint, P256dh: sub.P256dh, Auth: sub.Auth}
			err := s.push.Send(ctx, target, payload)
			if err == nil {
				delivered.Add(1)
				return nil
			}
			s.log.Warn("push subscription failed", "subscription_id", sub.ID, "user_id", sub.UserID, "err", err)
			if notify.IsPermanent(err) {
				if delErr := s.notificationRepo.DeleteSubscription(ctx, sub.ID); delErr != nil {
					s.log.Error("delete expired subscription", "subscription_id", sub.ID, "err", delErr)
				} else {
					s.log.Info("deleted expired push subscription", "subscription_id", sub.ID)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if delivered.Load() == 0 {
		return fmt.Errorf("%w: 0/%d", errNoSubscriptions, len(subs))
	}
	return nil
}

var jaWeekdays = [...]string{"日", "月", "火", "水", "木", "金", "土"}

// formatJapaneseDate renders 2024年3月1日(金).
func formatJapaneseDate(d civil.Date) string {
	wd := d.In(time.UTC).Weekday()
	return fmt.Sprintf("%d年%d月%d日(%s)", d.Year, int(d.Month), d.Day, jaWeekdays[wd])
}

func renderEmail(title string, date civil.Date, hhmm string) (subject, body string) {
	subject = fmt.Sprintf("【さくっとタスク】%s の通知", title)
	escaped := html.EscapeString(title)
	body = fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #333;">タスクの通知</h2>
  <p>以下のタスクの期日・通知時刻になりました。</p>
  <div style="background-color: #f5f5f5; padding: 20px; border-radius: 5px; margin: 20px 0;">
    <h3 style="margin-top: 0;">%s</h3>
    <p><strong>期日:</strong> %s</p>
    <p><strong>通知時刻:</strong> %s</p>
  </div>
  <p style="color: #666; font-size: 14px;">このメールは、さくっとタスクの通知設定により自動送信されました。</p>
</div>`, escaped, formatJapaneseDate(date), hhmm)
	return subject, body
}

type pushPayload struct {
	Title string          `json:"title"`
	Body  string          `json:"body"`
	Icon  string          `json:"icon"`
	Badge string          `json:"badge"`
	Tag   string          `json:"tag"`
	Data  pushPayloadData `json:"data"`
}

type pushPayloadData struct {
	URL string `json:"url"`
}

func renderPush(userID uint, title string, date civil.Date, hhmm string) ([]byte, error) {
	payload, err := json.Marshal(pushPayload{
		Title: "【さくっとタスク】タスクの通知",
		Body:  fmt.Sprintf("%s - %s %s", title, formatJapaneseDate(date), hhmm),
		Icon:  "/favicon.ico",
		Badge: "/favicon.ico",
		Tag:   fmt.Sprintf("task-%d", userID),
		Data:  pushPayloadData{URL: "/top"},
	})
	if err != nil {
		return nil, fmt.Errorf("encode push payload: %w", err)
	}
	return payload, nil
}
