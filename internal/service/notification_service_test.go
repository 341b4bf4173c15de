package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"task-reminder/internal/model"
	"task-reminder/internal/notify"
)

type dispatchFixture struct {
	repos testRepos
	email *fakeEmailSender
	push  *fakePushSender
	guard *memoryGuard
	svc   *NotificationService
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()

	f := &dispatchFixture{
		repos: newTestRepos(t),
		email: &fakeEmailSender{},
		push:  newFakePushSender(),
		guard: newMemoryGuard(),
	}
	f.svc = NewNotificationService(NotificationDeps{
		Tasks:         f.repos.tasks,
		Exclusions:    f.repos.exclusions,
		Notifications: f.repos.notifications,
		Email:         f.email,
		Push:          f.push,
		Guard:         f.guard,
		Concurrency:   4,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func (f *dispatchFixture) task(t *testing.T, userID uint, title, due, hhmm string, rec *model.TaskRecurrence) model.Task {
	t.Helper()

	task := model.Task{
		UserID:              userID,
		Title:               title,
		DueDate:             model.NewDate(mustDate(t, due)),
		NotificationEnabled: true,
		NotificationTime:    &hhmm,
		Recurrence:          rec,
	}
	if err := f.repos.tasks.Create(context.Background(), &task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (f *dispatchFixture) settings(t *testing.T, userID uint, email string, emailOn, pushOn bool) {
	t.Helper()

	s := &model.NotificationSetting{UserID: userID, EmailEnabled: emailOn, WebPushEnabled: pushOn}
	if email != "" {
		s.Email = &email
	}
	if err := f.repos.notifications.SaveSetting(context.Background(), s); err != nil {
		t.Fatalf("save setting: %v", err)
	}
}

func (f *dispatchFixture) subscribe(t *testing.T, userID uint, endpoint string) {
	t.Helper()

	sub := &model.PushSubscription{UserID: userID, Endpoint: endpoint, P256dh: "p", Auth: "a"}
	if err := f.repos.notifications.UpsertSubscription(context.Background(), sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
}

func TestDispatch_EmailOncePerDueTask(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	f.settings(t, 1, "owner@example.com", true, false)
	f.task(t, 1, "one-off today", "2024-03-01", "09:00", nil)
	f.task(t, 1, "weekly friday", "2024-02-23", "09:00", &model.TaskRecurrence{Type: "weekly"})
	f.task(t, 1, "other slot", "2024-03-01", "09:30", nil)
	f.task(t, 1, "tomorrow", "2024-03-02", "09:00", nil)
	disabled := "09:00"
	off := model.Task{UserID: 1, Title: "off", DueDate: model.NewDate(mustDate(t, "2024-03-01")), NotificationTime: &disabled}
	if err := f.repos.tasks.Create(ctx, &off); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := f.svc.Dispatch(ctx, mustDate(t, "2024-03-01"), "09:00")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.EmailCount != 2 || f.email.count() != 2 {
		t.Fatalf("expected 2 emails, got result %+v and %d sent", res, f.email.count())
	}
	if res.PushCount != 0 || len(res.Errors) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	bodies := make(map[string]string)
	for _, sent := range f.email.sent {
		if sent.to != "owner@example.com" || !strings.HasPrefix(sent.subject, "【さくっとタスク】") {
			t.Fatalf("unexpected email %+v", sent)
		}
		bodies[sent.subject] = sent.body
	}
	if body := bodies["【さくっとタスク】one-off today の通知"]; !strings.Contains(body, "2024年3月1日(金)") {
		t.Fatalf("expected formatted due date in body, got %s", body)
	}
	if body := bodies["【さくっとタスク】weekly friday の通知"]; !strings.Contains(body, "2024年2月23日(金)") {
		t.Fatalf("expected the series due date in body, got %s", body)
	}
}

func TestDispatch_UnpaddedTimeFromInputFires(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	f.settings(t, 1, "owner@example.com", true, false)
	tasks := NewTaskService(f.repos.tasks, f.repos.exclusions, f.repos.completions)
	if _, err := tasks.Create(ctx, 1, TaskInput{Title: "薬", DueDate: "2024-03-01", NotificationEnabled: true, NotificationTime: "9:00"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := f.svc.Dispatch(ctx, mustDate(t, "2024-03-01"), "09:00")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.EmailCount != 1 || f.email.count() != 1 {
		t.Fatalf("expected the 09:00 slot to send 1 email, got %+v", res)
	}
}

func TestDispatch_OwnerWithoutSettingsIsSkipped(t *testing.T) {
	f := newDispatchFixture(t)

	f.task(t, 7, "no settings", "2024-03-01", "09:00", nil)

	res, err := f.svc.Dispatch(context.Background(), mustDate(t, "2024-03-01"), "09:00")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.EmailCount != 0 || res.PushCount != 0 || len(res.Errors) != 0 {
		t.Fatalf("expected nothing sent and no errors, got %+v", res)
	}
}

func TestDispatch_ExcludedOccurrenceIsNotSent(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	f.settings(t, 1, "owner@example.com", true, false)
	task := f.task(t, 1, "daily", "2024-01-01", "09:00", &model.TaskRecurrence{Type: "daily"})
	if err := f.repos.exclusions.AddSingle(ctx, task.ID, mustDate(t, "2024-03-01")); err != nil {
		t.Fatalf("exclude: %v", err)
	}

	res, err := f.svc.Dispatch(ctx, mustDate(t, "2024-03-01"), "09:00")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.EmailCount != 0 {
		t.Fatalf("expected excluded occurrence to be skipped, got %+v", res)
	}
}

func TestDispatch_EmailFailureDoesNotBlockPush(t *testing.T) {
	f := newDispatchFixture(t)

	f.email.err = errors.New("smtp down")
	f.settings(t, 1, "owner@example.com", true, true)
	f.subscribe(t, 1, "https://push.example/a")
	task := f.task(t, 1, "call", "2024-03-01", "09:00", nil)

	res, err := f.svc.Dispatch(context.Background(), mustDate(t, "2024-03-01"), "09:00")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.EmailCount != 0 || res.PushCount != 1 {
		t.Fatalf("expected push only, got %+v", res)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "owner@example.com") {
		t.Fatalf("expected email error naming the recipient, got %v", res.Errors)
	}

	var payload map[string]any
	if err := json.Unmarshal(f.push.payloads["https://push.example/a"], &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["tag"] != "task-1" || payload["body"] != "call - 2024年3月1日(金) 09:00" {
		t.Fatalf("unexpected payload %v (task %d)", payload, task.ID)
	}
}

func TestDispatch_PermanentPushFailureDeletesSubscription(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	f.settings(t, 1, "", false, true)
	f.subscribe(t, 1, "https://push.example/gone")
	f.subscribe(t, 1, "https://push.example/busy")
	f.subscribe(t, 1, "https://push.example/ok")
	f.push.failures["https://push.example/gone"] = &notify.PushError{StatusCode: http.StatusGone}
	f.push.failures["https://push.example/busy"] = &notify.PushError{StatusCode: http.StatusTooManyRequests}
	f.task(t, 1, "push me", "2024-03-01", "09:00", nil)

	res, err := f.svc.Dispatch(ctx, mustDate(t, "2024-03-01"), "09:00")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.PushCount != 1 || len(res.Errors) != 0 {
		t.Fatalf("expected one counted push, got %+v", res)
	}

	subs, err := f.repos.notifications.ListSubscriptions(ctx, 1)
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected expired subscription to be deleted, got %+v", subs)
	}
	for _, sub := range subs {
		if sub.Endpoint == "https://push.example/gone" {
			t.Fatalf("expired subscription still listed")
		}
	}
}

func TestDispatch_PushWithoutSubscriptionsIsAnError(t *testing.T) {
	f := newDispatchFixture(t)

	f.settings(t, 3, "", false, true)
	f.task(t, 3, "lonely", "2024-03-01", "09:00", nil)

	res, err := f.svc.Dispatch(context.Background(), mustDate(t, "2024-03-01"), "09:00")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.PushCount != 0 || len(res.Errors) != 1 {
		t.Fatalf("expected one push error, got %+v", res)
	}
}

func TestDispatch_GuardSuppressesSecondPass(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	f.settings(t, 1, "owner@example.com", true, false)
	f.task(t, 1, "once", "2024-03-01", "09:00", nil)

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Dispatch(ctx, mustDate(t, "2024-03-01"), "09:00"); err != nil {
			t.Fatalf("dispatch #%d: %v", i, err)
		}
	}
	if f.email.count() != 1 {
		t.Fatalf("expected one email across two passes, got %d", f.email.count())
	}
}

func TestDispatch_FailedSendReleasesClaim(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	f.settings(t, 1, "owner@example.com", true, false)
	f.task(t, 1, "retry", "2024-03-01", "09:00", nil)

	f.email.err = errors.New("temporary")
	if _, err := f.svc.Dispatch(ctx, mustDate(t, "2024-03-01"), "09:00"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	f.email.err = nil
	res, err := f.svc.Dispatch(ctx, mustDate(t, "2024-03-01"), "09:00")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.EmailCount != 1 {
		t.Fatalf("expected retry to send, got %+v", res)
	}
}

func TestFormatJapaneseDate(t *testing.T) {
	t.Parallel()

	if got := formatJapaneseDate(mustDate(t, "2024-02-29")); got != "2024年2月29日(木)" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestRenderEmailEscapesTitle(t *testing.T) {
	t.Parallel()

	subject, body := renderEmail("<b>x</b>", mustDate(t, "2024-01-01"), "07:00")
	if subject != "【さくっとタスク】<b>x</b> の通知" {
		t.Fatalf("unexpected subject %q", subject)
	}
	if strings.Contains(body, "<b>x</b>") || !strings.Contains(body, "&lt;b&gt;x&lt;/b&gt;") {
		t.Fatalf("expected escaped title in body")
	}
}
