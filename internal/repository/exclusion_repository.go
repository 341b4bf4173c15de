package repository

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"task-reminder/internal/model"
	"task-reminder/internal/recurrence"
)

// ExclusionRepository persists the exclusion overlay of recurring tasks.
type ExclusionRepository struct {
	db *gorm.DB
}

func NewExclusionRepository(db *gorm.DB) *ExclusionRepository {
	return &ExclusionRepository{db: db}
}

// AddSingle suppresses one occurrence. Adding the same date twice is a no-op.
func (r *ExclusionRepository) AddSingle(ctx context.Context, taskID uint, date civil.Date) error {
	row := model.TaskExclusion{
		TaskID: taskID,
		Kind:   model.ExclusionSingle,
		Slot:   date.String(),
		Date:   model.NewDate(date),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_id"}, {Name: "kind"}, {Name: "slot"}},
			DoNothing: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("add single exclusion: %w", err)
	}
	return nil
}

// ReplaceAfter sets the cutoff of a task in one statement; the last write wins.
func (r *ExclusionRepository) ReplaceAfter(ctx context.Context, taskID uint, date civil.Date) error {
	row := model.TaskExclusion{
		TaskID: taskID,
		Kind:   model.ExclusionAfter,
		Slot:   "",
		Date:   model.NewDate(date),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "task_id"}, {Name: "kind"}, {Name: "slot"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"date":       row.Date,
				"updated_at": time.Now(),
			}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("replace after exclusion: %w", err)
	}
	return nil
}

func (r *ExclusionRepository) Rows(ctx context.Context, taskID uint) ([]model.TaskExclusion, error) {
	var rows []model.TaskExclusion
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	return rows, nil
}

// List returns the overlay of one task.
func (r *ExclusionRepository) List(ctx context.Context, taskID uint) (recurrence.Exclusions, error) {
	rows, err := r.Rows(ctx, taskID)
	if err != nil {
		return recurrence.Exclusions{}, err
	}
	return model.ExclusionsOf(rows), nil
}

// ListForTasks loads the overlays of many tasks in one query. Tasks without
// rows are absent from the map; the zero Exclusions excludes nothing.
func (r *ExclusionRepository) ListForTasks(ctx context.Context, taskIDs []uint) (map[uint]recurrence.Exclusions, error) {
	out := make(map[uint]recurrence.Exclusions)
	if len(taskIDs) == 0 {
		return out, nil
	}
	var rows []model.TaskExclusion
	if err := r.db.WithContext(ctx).Where("task_id IN ?", taskIDs).Order("task_id, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	grouped := make(map[uint][]model.TaskExclusion)
	for _, row := range rows {
		grouped[row.TaskID] = append(grouped[row.TaskID], row)
	}
	for id, group := range grouped {
		out[id] = model.ExclusionsOf(group)
	}
	return out, nil
}

func (r *ExclusionRepository) DeleteAllForTask(ctx context.Context, taskID uint) error {
	return deleteExclusions(r.db.WithContext(ctx), taskID)
}

// deleteExclusions drops every exclusion of a task. Task updates and deletes
// call it inside their own transaction.
func deleteExclusions(db *gorm.DB, taskID uint) error {
	if err := db.Where("task_id = ?", taskID).Delete(&model.TaskExclusion{}).Error; err != nil {
		return fmt.Errorf("delete exclusions: %w", err)
	}
	return nil
}
