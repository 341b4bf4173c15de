package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"gorm.io/gorm"

	"task-reminder/internal/model"
)

var dbSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:repo_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := NewDB(dsn, io.Discard)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func day(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func strPtr(s string) *string { return &s }

func createTask(t *testing.T, repo *TaskRepository, task model.Task) model.Task {
	t.Helper()

	if err := repo.Create(context.Background(), &task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestTaskRepository_CreateFindUpdate(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)
	ctx := context.Background()

	task := createTask(t, repo, model.Task{
		UserID:     1,
		Title:      "ゴミ出し",
		DueDate:    model.NewDate(day(2024, time.January, 1)),
		Recurrence: &model.TaskRecurrence{Type: "weekly"},
	})

	got, err := repo.FindByID(ctx, 1, task.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Recurrence == nil || got.Recurrence.Type != "weekly" {
		t.Fatalf("expected weekly recurrence, got %+v", got.Recurrence)
	}
	if got.DueDate.Date != day(2024, time.January, 1) {
		t.Fatalf("unexpected due date %s", got.DueDate)
	}

	if _, err := repo.FindByID(ctx, 2, task.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found for other user, got %v", err)
	}

	got.Title = "資源ごみ"
	got.NotificationEnabled = true
	got.NotificationTime = strPtr("07:30")
	if err := repo.Update(ctx, got, nil); err != nil {
		t.Fatalf("update: %v", err)
	}

	updated, err := repo.FindByID(ctx, 1, task.ID)
	if err != nil {
		t.Fatalf("find updated: %v", err)
	}
	if updated.Title != "資源ごみ" || updated.Recurrence != nil {
		t.Fatalf("unexpected task after update: %+v", updated)
	}
	if updated.NotificationTime == nil || *updated.NotificationTime != "07:30" {
		t.Fatalf("expected notification time 07:30")
	}
}

func TestTaskRepository_UpdateExclusionsFollowRule(t *testing.T) {
	db := newTestDB(t)
	tasks := NewTaskRepository(db)
	exclusions := NewExclusionRepository(db)
	ctx := context.Background()

	task := createTask(t, tasks, model.Task{
		UserID:     1,
		Title:      "朝会",
		DueDate:    model.NewDate(day(2024, time.March, 1)),
		Recurrence: &model.TaskRecurrence{Type: "daily"},
	})
	if err := exclusions.AddSingle(ctx, task.ID, day(2024, time.March, 5)); err != nil {
		t.Fatalf("add single: %v", err)
	}

	// Swapping one rule for another keeps the overlay.
	task.Recurrence = nil
	if err := tasks.Update(ctx, &task, &model.TaskRecurrence{Type: "weekdays", Weekdays: "1,2,3,4,5"}); err != nil {
		t.Fatalf("update to weekdays: %v", err)
	}
	if ex, _ := exclusions.List(ctx, task.ID); ex.Len() != 1 {
		t.Fatalf("expected exclusion kept while a rule remains, got %d", ex.Len())
	}

	task.DueDate = model.NewDate(day(2024, time.March, 5))
	if err := tasks.Update(ctx, &task, nil); err != nil {
		t.Fatalf("update to one-off: %v", err)
	}
	var count int64
	if err := db.Model(&model.TaskExclusion{}).Where("task_id = ?", task.ID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected exclusions dropped with the rule, got %d", count)
	}
}

func TestTaskRepository_ListForNotification(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)

	due := model.NewDate(day(2024, time.March, 1))
	createTask(t, repo, model.Task{UserID: 1, Title: "a", DueDate: due, NotificationEnabled: true, NotificationTime: strPtr("09:00")})
	createTask(t, repo, model.Task{UserID: 1, Title: "b", DueDate: due, NotificationEnabled: false, NotificationTime: strPtr("09:00")})
	createTask(t, repo, model.Task{UserID: 2, Title: "c", DueDate: due, NotificationEnabled: true, NotificationTime: strPtr("09:01")})

	tasks, err := repo.ListForNotification(context.Background(), "09:00")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "a" {
		t.Fatalf("expected only task a, got %+v", tasks)
	}
}

func TestTaskRepository_SearchByTitle(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)

	due := model.NewDate(day(2024, time.March, 1))
	createTask(t, repo, model.Task{UserID: 1, Title: "Dentist 10:00", DueDate: due})
	createTask(t, repo, model.Task{UserID: 1, Title: "100% done", DueDate: due})
	createTask(t, repo, model.Task{UserID: 2, Title: "dentist", DueDate: due})

	tasks, err := repo.SearchByTitle(context.Background(), 1, "DENT")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "Dentist 10:00" {
		t.Fatalf("unexpected result %+v", tasks)
	}

	tasks, err = repo.SearchByTitle(context.Background(), 1, "%")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "100% done" {
		t.Fatalf("expected literal percent match, got %+v", tasks)
	}
}

func TestTaskRepository_DeleteCascades(t *testing.T) {
	db := newTestDB(t)
	tasks := NewTaskRepository(db)
	exclusions := NewExclusionRepository(db)
	completions := NewCompletionRepository(db)
	ctx := context.Background()

	task := createTask(t, tasks, model.Task{
		UserID:     1,
		Title:      "x",
		DueDate:    model.NewDate(day(2024, time.January, 1)),
		Recurrence: &model.TaskRecurrence{Type: "daily"},
	})
	if err := exclusions.AddSingle(ctx, task.ID, day(2024, time.January, 3)); err != nil {
		t.Fatalf("add single: %v", err)
	}
	if err := completions.Set(ctx, task.ID, day(2024, time.January, 2), true); err != nil {
		t.Fatalf("set completion: %v", err)
	}

	if err := tasks.Delete(ctx, 1, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := tasks.Delete(ctx, 1, task.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}

	for _, m := range []interface{}{&model.TaskRecurrence{}, &model.TaskExclusion{}, &model.TaskCompletion{}} {
		var count int64
		if err := db.Model(m).Where("task_id = ?", task.ID).Count(&count).Error; err != nil {
			t.Fatalf("count %T: %v", m, err)
		}
		if count != 0 {
			t.Fatalf("expected %T rows to be deleted, got %d", m, count)
		}
	}
}

func TestExclusionRepository_AddSingleIdempotent(t *testing.T) {
	db := newTestDB(t)
	tasks := NewTaskRepository(db)
	repo := NewExclusionRepository(db)
	ctx := context.Background()

	task := createTask(t, tasks, model.Task{UserID: 1, Title: "x", DueDate: model.NewDate(day(2024, time.January, 1))})
	d := day(2024, time.January, 5)
	for i := 0; i < 2; i++ {
		if err := repo.AddSingle(ctx, task.ID, d); err != nil {
			t.Fatalf("add single #%d: %v", i, err)
		}
	}

	rows, err := repo.Rows(ctx, task.ID)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}

	ex, err := repo.List(ctx, task.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !ex.Excludes(d) || ex.Excludes(d.AddDays(1)) {
		t.Fatalf("unexpected overlay")
	}
}

func TestExclusionRepository_ReplaceAfter(t *testing.T) {
	db := newTestDB(t)
	tasks := NewTaskRepository(db)
	repo := NewExclusionRepository(db)
	ctx := context.Background()

	task := createTask(t, tasks, model.Task{UserID: 1, Title: "x", DueDate: model.NewDate(day(2024, time.January, 1))})
	x := day(2024, time.January, 20)
	y := day(2024, time.January, 10)

	if err := repo.ReplaceAfter(ctx, task.ID, x); err != nil {
		t.Fatalf("replace after x: %v", err)
	}
	if err := repo.AddSingle(ctx, task.ID, day(2024, time.January, 3)); err != nil {
		t.Fatalf("add single: %v", err)
	}
	if err := repo.ReplaceAfter(ctx, task.ID, y); err != nil {
		t.Fatalf("replace after y: %v", err)
	}

	rows, err := repo.Rows(ctx, task.ID)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	var after []model.TaskExclusion
	for _, row := range rows {
		if row.Kind == model.ExclusionAfter {
			after = append(after, row)
		}
	}
	if len(after) != 1 || after[0].Date.Date != y {
		t.Fatalf("expected a single after row at %s, got %+v", y, after)
	}
	if len(rows) != 2 {
		t.Fatalf("expected single exclusion to survive, got %d rows", len(rows))
	}

	overlays, err := repo.ListForTasks(ctx, []uint{task.ID, task.ID + 100})
	if err != nil {
		t.Fatalf("list for tasks: %v", err)
	}
	if cutoff, ok := overlays[task.ID].After(); !ok || cutoff != y {
		t.Fatalf("expected cutoff %s, got %s", y, cutoff)
	}
	if overlays[task.ID+100].Len() != 0 {
		t.Fatalf("expected empty overlay for unknown task")
	}

	if err := repo.DeleteAllForTask(ctx, task.ID); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if ex, _ := repo.List(ctx, task.ID); ex.Len() != 0 {
		t.Fatalf("expected no exclusions left")
	}
}

func TestCompletionRepository_SetAndForDate(t *testing.T) {
	db := newTestDB(t)
	tasks := NewTaskRepository(db)
	repo := NewCompletionRepository(db)
	ctx := context.Background()

	a := createTask(t, tasks, model.Task{UserID: 1, Title: "a", DueDate: model.NewDate(day(2024, time.January, 1))})
	b := createTask(t, tasks, model.Task{UserID: 1, Title: "b", DueDate: model.NewDate(day(2024, time.January, 1))})
	d := day(2024, time.January, 2)

	if err := repo.Set(ctx, a.ID, d, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := repo.Set(ctx, a.ID, d.AddDays(1), true); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := repo.ForDate(ctx, []uint{a.ID, b.ID}, d)
	if err != nil {
		t.Fatalf("for date: %v", err)
	}
	if !got[a.ID] || got[b.ID] {
		t.Fatalf("unexpected completions %v", got)
	}

	if err := repo.Set(ctx, a.ID, d, false); err != nil {
		t.Fatalf("unset: %v", err)
	}
	got, err = repo.ForDate(ctx, []uint{a.ID}, d)
	if err != nil {
		t.Fatalf("for date: %v", err)
	}
	if got[a.ID] {
		t.Fatalf("expected completion to be cleared")
	}
}

func TestNotificationRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	setting, err := repo.FindSetting(ctx, 1)
	if err != nil || setting != nil {
		t.Fatalf("expected no setting, got %+v %v", setting, err)
	}

	if err := repo.SaveSetting(ctx, &model.NotificationSetting{UserID: 1, Email: strPtr("a@example.com"), EmailEnabled: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.SaveSetting(ctx, &model.NotificationSetting{UserID: 1, WebPushEnabled: true}); err != nil {
		t.Fatalf("save again: %v", err)
	}
	setting, err = repo.FindSetting(ctx, 1)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if setting.EmailEnabled || !setting.WebPushEnabled || setting.Email != nil {
		t.Fatalf("expected overwritten setting, got %+v", setting)
	}

	sub := model.PushSubscription{UserID: 1, Endpoint: "https://push.example/1", P256dh: "k", Auth: "a"}
	if err := repo.UpsertSubscription(ctx, &sub); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	moved := model.PushSubscription{UserID: 2, Endpoint: "https://push.example/1", P256dh: "k2", Auth: "a2"}
	if err := repo.UpsertSubscription(ctx, &moved); err != nil {
		t.Fatalf("upsert existing endpoint: %v", err)
	}

	subs, err := repo.ListSubscriptions(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected endpoint to move to user 2, got %+v", subs)
	}
	subs, err = repo.ListSubscriptions(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 || subs[0].P256dh != "k2" {
		t.Fatalf("unexpected subscriptions %+v", subs)
	}

	if err := repo.DeleteSubscriptionsForUser(ctx, 2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if subs, _ := repo.ListSubscriptions(ctx, 2); len(subs) != 0 {
		t.Fatalf("expected no subscriptions left")
	}
}

func TestUserRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user, err := repo.UpsertFromTelegram(ctx, 42, "Taro", "Yamada", "taro")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	again, err := repo.UpsertFromTelegram(ctx, 42, "Taro", "Yamada", "taro_y")
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if again.ID != user.ID {
		t.Fatalf("expected same user, got %d and %d", user.ID, again.ID)
	}

	web, err := repo.EnsureByID(ctx, 500)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if web.ID != 500 || web.TelegramID != nil {
		t.Fatalf("unexpected user %+v", web)
	}
	if err := repo.UpdateEmail(ctx, 500, "web@example.com"); err != nil {
		t.Fatalf("update email: %v", err)
	}
	found, err := repo.FindByID(ctx, 500)
	if err != nil || found.Email != "web@example.com" {
		t.Fatalf("expected stored email, got %+v %v", found, err)
	}

	linked, err := repo.ListTelegramUsers(ctx)
	if err != nil {
		t.Fatalf("list telegram users: %v", err)
	}
	if len(linked) != 1 || linked[0].ID != user.ID {
		t.Fatalf("expected only the telegram user, got %+v", linked)
	}
}

func TestWithForeignKeys(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"data/app.db":                     "data/app.db?_foreign_keys=on",
		"file:x?mode=memory&cache=shared": "file:x?mode=memory&cache=shared&_foreign_keys=on",
		"app.db?_fk=1":                    "app.db?_fk=1",
	}
	for in, want := range tests {
		if got := withForeignKeys(in); got != want {
			t.Fatalf("withForeignKeys(%q) = %q, want %q", in, got, want)
		}
	}
}
