package repository

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"task-reminder/internal/model"
)

// CompletionRepository stores per-occurrence done flags.
type CompletionRepository struct {
	db *gorm.DB
}

func NewCompletionRepository(db *gorm.DB) *CompletionRepository {
	return &CompletionRepository{db: db}
}

func (r *CompletionRepository) Set(ctx context.Context, taskID uint, date civil.Date, completed bool) error {
	row := model.TaskCompletion{
		TaskID:        taskID,
		CompletedDate: model.NewDate(date),
		Completed:     completed,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "task_id"}, {Name: "completed_date"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"completed":  completed,
				"updated_at": time.Now(),
			}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("set completion: %w", err)
	}
	return nil
}

// ForDate returns the completion flags of the given tasks on one date.
// Tasks without a row are absent, which callers read as not completed.
func (r *CompletionRepository) ForDate(ctx context.Context, taskIDs []uint, date civil.Date) (map[uint]bool, error) {
	out := make(map[uint]bool)
	if len(taskIDs) == 0 {
		return out, nil
	}
	var rows []model.TaskCompletion
	if err := r.db.WithContext(ctx).
		Where("task_id IN ? AND completed_date = ?", taskIDs, model.NewDate(date)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	for _, row := range rows {
		out[row.TaskID] = row.Completed
	}
	return out, nil
}
