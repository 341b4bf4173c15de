package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"gorm.io/gorm"

	"task-reminder/internal/model"
	"task-reminder/internal/recurrence"
	"task-reminder/internal/repository"
)

// searchSpanYears bounds how far ahead search expands recurring tasks.
const searchSpanYears = 20

// RecurrenceInput is the editable form of a recurrence rule.
type RecurrenceInput struct {
	Type        string `json:"type" validate:"required,oneof=daily weekly monthly yearly weekdays custom"`
	CustomCount int    `json:"custom_count,omitempty" validate:"omitempty,min=1"`
	CustomUnit  string `json:"custom_unit,omitempty" validate:"omitempty,oneof=days weeks months years"`
	Weekdays    []int  `json:"weekdays,omitempty" validate:"omitempty,dive,min=0,max=6"`
}

// TaskInput represents data required to create or edit a task.
type TaskInput struct {
	Title               string           `json:"title" validate:"required,max=200"`
	DueDate             string           `json:"due_date" validate:"required,datetime=2006-01-02"`
	NotificationEnabled bool             `json:"notification_enabled"`
	NotificationTime    string           `json:"notification_time" validate:"omitempty,datetime=15:04"`
	Recurrence          *RecurrenceInput `json:"recurrence"`
}

// TaskDetail is a task as presented to an editor.
type TaskDetail struct {
	ID                  uint             `json:"id"`
	Title               string           `json:"title"`
	DueDate             civil.Date       `json:"due_date"`
	NotificationEnabled bool             `json:"notification_enabled"`
	NotificationTime    string           `json:"notification_time,omitempty"`
	Recurrence          *RecurrenceInput `json:"recurrence,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

type DeleteMode string

const (
	DeleteAll       DeleteMode = ""
	DeleteThisOnly  DeleteMode = "this_only"
	DeleteFutureAll DeleteMode = "future_all"
)

// ParseDeleteMode accepts the wire names; "all" is an alias for a full delete.
func ParseDeleteMode(raw string) (DeleteMode, error) {
	switch DeleteMode(strings.TrimSpace(raw)) {
	case DeleteAll, "all":
		return DeleteAll, nil
	case DeleteThisOnly:
		return DeleteThisOnly, nil
	case DeleteFutureAll:
		return DeleteFutureAll, nil
	default:
		return DeleteAll, invalid("unknown delete mode %q", raw)
	}
}

// SearchResult counts matching occurrences on one date.
type SearchResult struct {
	Date      civil.Date `json:"date"`
	TaskCount int        `json:"task_count"`
}

// TaskService wraps task-related business logic.
type TaskService struct {
	taskRepo       *repository.TaskRepository
	exclusionRepo  *repository.ExclusionRepository
	completionRepo *repository.CompletionRepository
}

func NewTaskService(taskRepo *repository.TaskRepository, exclusionRepo *repository.ExclusionRepository, completionRepo *repository.CompletionRepository) *TaskService {
	return &TaskService{taskRepo: taskRepo, exclusionRepo: exclusionRepo, completionRepo: completionRepo}
}

func (s *TaskService) Create(ctx context.Context, userID uint, input TaskInput) (*model.Task, error) {
	task, rec, err := buildTask(input)
	if err != nil {
		return nil, err
	}
	task.UserID = userID
	task.Recurrence = rec

	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Update replaces the editable fields and the recurrence rule. Completions are
// kept. Exclusions are kept only while the task still has a rule.
func (s *TaskService) Update(ctx context.Context, userID, taskID uint, input TaskInput) (*model.Task, error) {
	if _, err := s.find(ctx, userID, taskID); err != nil {
		return nil, err
	}
	task, rec, err := buildTask(input)
	if err != nil {
		return nil, err
	}
	task.ID = taskID
	task.UserID = userID

	if err := s.taskRepo.Update(ctx, task, rec); err != nil {
		return nil, err
	}
	return s.find(ctx, userID, taskID)
}

// Get returns the task in editor form. Custom rules saved without a unit are
// shown in the largest unit that divides their day count.
func (s *TaskService) Get(ctx context.Context, userID, taskID uint) (*TaskDetail, error) {
	task, err := s.find(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	detail := &TaskDetail{
		ID:                  task.ID,
		Title:               task.Title,
		DueDate:             task.DueDate.Date,
		NotificationEnabled: task.NotificationEnabled,
		CreatedAt:           task.CreatedAt,
	}
	if task.NotificationTime != nil {
		detail.NotificationTime = *task.NotificationTime
	}
	if rec := task.Recurrence; rec != nil {
		in := &RecurrenceInput{Type: rec.Type, Weekdays: rec.WeekdayList()}
		if rec.CustomDays != nil {
			in.CustomCount = *rec.CustomDays
			in.CustomUnit = recurrence.UnitDays.String()
			if rec.CustomUnit != nil {
				in.CustomUnit = *rec.CustomUnit
			} else {
				count, unit := recurrence.InferLegacyUnit(*rec.CustomDays)
				in.CustomCount, in.CustomUnit = count, unit.String()
			}
		}
		detail.Recurrence = in
	}
	return detail, nil
}

// Delete removes a task or, for recurring tasks with a mode, hides part of
// its series. date is the occurrence the user acted on.
func (s *TaskService) Delete(ctx context.Context, userID, taskID uint, mode DeleteMode, date *civil.Date) error {
	task, err := s.find(ctx, userID, taskID)
	if err != nil {
		return err
	}

	if !task.IsRecurring() || mode == DeleteAll {
		if err := s.taskRepo.Delete(ctx, userID, taskID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTaskNotFound
			}
			return err
		}
		return nil
	}

	if date == nil {
		return invalid("date is required for delete mode %q", mode)
	}
	switch mode {
	case DeleteThisOnly:
		return s.exclusionRepo.AddSingle(ctx, taskID, *date)
	case DeleteFutureAll:
		return s.exclusionRepo.ReplaceAfter(ctx, taskID, *date)
	default:
		return invalid("unknown delete mode %q", mode)
	}
}

// SetCompletion records the done flag of the occurrence on date.
func (s *TaskService) SetCompletion(ctx context.Context, userID, taskID uint, date civil.Date, completed bool) error {
	if _, err := s.find(ctx, userID, taskID); err != nil {
		return err
	}
	return s.completionRepo.Set(ctx, taskID, date, completed)
}

// Search counts, per date, the occurrences of tasks whose title contains
// query. One-off tasks count on their due date; recurring tasks are expanded
// from today for twenty years. Newest dates come first.
func (s *TaskService) Search(ctx context.Context, userID uint, query string, today civil.Date) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchResult{}, nil
	}

	tasks, err := s.taskRepo.SearchByTitle(ctx, userID, query)
	if err != nil {
		return nil, err
	}
	exclusions, err := s.exclusionRepo.ListForTasks(ctx, taskIDs(tasks))
	if err != nil {
		return nil, err
	}

	end := civil.DateOf(today.In(time.UTC).AddDate(searchSpanYears, 0, 0))
	counts := make(map[civil.Date]int)
	for _, task := range tasks {
		rule := task.Rule()
		ex := exclusions[task.ID]
		if rule == nil {
			if !ex.Excludes(task.DueDate.Date) {
				counts[task.DueDate.Date]++
			}
			continue
		}
		for _, d := range recurrence.Expand(task.DueDate.Date, rule, ex, today, end) {
			counts[d]++
		}
	}

	results := make([]SearchResult, 0, len(counts))
	for d, n := range counts {
		results = append(results, SearchResult{Date: d, TaskCount: n})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Date.After(results[j].Date)
	})
	return results, nil
}

func (s *TaskService) find(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	task, err := s.taskRepo.FindByID(ctx, userID, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("find task: %w", err)
	}
	return task, nil
}

func buildTask(input TaskInput) (*model.Task, *model.TaskRecurrence, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.NotificationTime = strings.TrimSpace(input.NotificationTime)
	if err := validateStruct(input); err != nil {
		return nil, nil, err
	}
	if input.NotificationEnabled && input.NotificationTime == "" {
		return nil, nil, invalid("notification time is required when notifications are enabled")
	}

	due, err := civil.ParseDate(input.DueDate)
	if err != nil {
		return nil, nil, invalid("due date %q", input.DueDate)
	}

	task := &model.Task{
		Title:               input.Title,
		DueDate:             model.NewDate(due),
		NotificationEnabled: input.NotificationEnabled,
	}
	if input.NotificationTime != "" {
		// Stored zero-padded so it matches the dispatch slot string.
		clock, err := time.Parse("15:04", input.NotificationTime)
		if err != nil {
			return nil, nil, invalid("notification time %q", input.NotificationTime)
		}
		hhmm := clock.Format("15:04")
		task.NotificationTime = &hhmm
	}

	rec, err := buildRecurrence(input.Recurrence)
	if err != nil {
		return nil, nil, err
	}
	return task, rec, nil
}

func buildRecurrence(in *RecurrenceInput) (*model.TaskRecurrence, error) {
	if in == nil {
		return nil, nil
	}

	kind, err := recurrence.ParseKind(in.Type)
	if err != nil {
		return nil, invalid("%v", err)
	}
	rec := &model.TaskRecurrence{Type: kind.String()}

	switch kind {
	case recurrence.KindWeekdays:
		if len(in.Weekdays) == 0 {
			return nil, invalid("weekdays recurrence needs at least one day")
		}
		rec.Weekdays = model.FormatWeekdays(in.Weekdays)
	case recurrence.KindCustom:
		if in.CustomCount < 1 {
			return nil, invalid("custom recurrence needs a count of at least 1")
		}
		unit, err := recurrence.ParseUnit(in.CustomUnit)
		if err != nil {
			return nil, invalid("%v", err)
		}
		count := in.CustomCount
		rec.CustomDays = &count
		// day based rules keep the unit empty, matching rules saved before units existed
		if unit != recurrence.UnitDays {
			name := unit.String()
			rec.CustomUnit = &name
		}
	}
	return rec, nil
}

func taskIDs(tasks []model.Task) []uint {
	ids := make([]uint, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
