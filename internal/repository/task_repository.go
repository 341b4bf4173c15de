package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"task-reminder/internal/model"
)

// TaskRepository handles CRUD for tasks and their recurrence rows.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts the task together with its recurrence, if any.
func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// Update saves the editable task columns and replaces the recurrence row.
// A nil recurrence turns the task into a one-off task and drops its
// exclusions.
func (r *TaskRepository) Update(ctx context.Context, task *model.Task, rec *model.TaskRecurrence) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.Task{}).
			Where("id = ? AND user_id = ?", task.ID, task.UserID).
			Updates(map[string]interface{}{
				"title":                task.Title,
				"due_date":             task.DueDate,
				"notification_enabled": task.NotificationEnabled,
				"notification_time":    task.NotificationTime,
			}).Error
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		if err := tx.Where("task_id = ?", task.ID).Delete(&model.TaskRecurrence{}).Error; err != nil {
			return fmt.Errorf("clear recurrence: %w", err)
		}
		task.Recurrence = nil
		if rec == nil {
			// A one-off task has no series left for exclusions to apply to.
			return deleteExclusions(tx, task.ID)
		}
		rec.ID = 0
		rec.TaskID = task.ID
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("create recurrence: %w", err)
		}
		task.Recurrence = rec
		return nil
	})
}

func (r *TaskRepository) FindByID(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Preload("Recurrence").
		Where("user_id = ? AND id = ?", userID, taskID).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// ListByUser returns every task of the user with its recurrence.
func (r *TaskRepository) ListByUser(ctx context.Context, userID uint) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Preload("Recurrence").
		Where("user_id = ?", userID).
		Order("created_at, id").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ListForNotification is the store-side pre-filter of the dispatcher: tasks
// with notifications on and the exact HH:mm slot. Dates are checked later.
func (r *TaskRepository) ListForNotification(ctx context.Context, hhmm string) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Preload("Recurrence").
		Where("notification_enabled = ? AND notification_time = ?", true, hhmm).
		Order("id").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list notification candidates: %w", err)
	}
	return tasks, nil
}

// SearchByTitle matches a case-insensitive substring of the title.
func (r *TaskRepository) SearchByTitle(ctx context.Context, userID uint, query string) ([]model.Task, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Preload("Recurrence").
		Where("user_id = ? AND LOWER(title) LIKE ? ESCAPE '\\'", userID, pattern).
		Order("created_at DESC, id DESC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	return tasks, nil
}

// Delete removes a task and every row hanging off it.
func (r *TaskRepository) Delete(ctx context.Context, userID, taskID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND id = ?", userID, taskID).Delete(&model.Task{})
		if res.Error != nil {
			return fmt.Errorf("delete task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		for _, child := range []interface{}{&model.TaskRecurrence{}, &model.TaskCompletion{}} {
			if err := tx.Where("task_id = ?", taskID).Delete(child).Error; err != nil {
				return fmt.Errorf("delete task children: %w", err)
			}
		}
		return deleteExclusions(tx, taskID)
	})
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
