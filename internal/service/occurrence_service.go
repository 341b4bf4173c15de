package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"

	"task-reminder/internal/holiday"
	"task-reminder/internal/model"
	"task-reminder/internal/recurrence"
	"task-reminder/internal/repository"
	"task-reminder/internal/timehint"
)

// DisplayOccurrence is one task instance on one calendar date.
type DisplayOccurrence struct {
	Key              string     `json:"id"`
	TaskID           uint       `json:"task_id"`
	Title            string     `json:"title"`
	Date             civil.Date `json:"date"`
	DueDate          civil.Date `json:"due_date"`
	NotificationTime string     `json:"notification_time,omitempty"`
	Completed        bool       `json:"completed"`
	IsRecurring      bool       `json:"is_recurring"`
	CreatedAt        time.Time  `json:"created_at"`
	HolidayName      string     `json:"holiday_name,omitempty"`
}

// DayView is the list for a date plus the holiday falling on it.
type DayView struct {
	Date        civil.Date          `json:"date"`
	Holiday     *holiday.Holiday    `json:"holiday,omitempty"`
	Occurrences []DisplayOccurrence `json:"tasks"`
}

// OccurrenceService expands stored tasks into the occurrences of a date.
type OccurrenceService struct {
	taskRepo       *repository.TaskRepository
	exclusionRepo  *repository.ExclusionRepository
	completionRepo *repository.CompletionRepository
}

func NewOccurrenceService(taskRepo *repository.TaskRepository, exclusionRepo *repository.ExclusionRepository, completionRepo *repository.CompletionRepository) *OccurrenceService {
	return &OccurrenceService{taskRepo: taskRepo, exclusionRepo: exclusionRepo, completionRepo: completionRepo}
}

// ListOccurrences returns the user's occurrences on date in display order.
func (s *OccurrenceService) ListOccurrences(ctx context.Context, userID uint, date civil.Date) ([]DisplayOccurrence, error) {
	tasks, err := s.taskRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	exclusions, err := s.exclusionRepo.ListForTasks(ctx, taskIDs(tasks))
	if err != nil {
		return nil, err
	}

	active := make([]model.Task, 0, len(tasks))
	for _, task := range tasks {
		if recurrence.OccursOn(task.DueDate.Date, task.Rule(), exclusions[task.ID], date) {
			active = append(active, task)
		}
	}

	completions, err := s.completionRepo.ForDate(ctx, taskIDs(active), date)
	if err != nil {
		return nil, err
	}

	var holidayName string
	if h, ok := holiday.Lookup(date); ok {
		holidayName = h.Name
	}

	out := make([]DisplayOccurrence, 0, len(active))
	for _, task := range active {
		occ := DisplayOccurrence{
			Key:         occurrenceKey(task, date),
			TaskID:      task.ID,
			Title:       task.Title,
			Date:        date,
			DueDate:     task.DueDate.Date,
			Completed:   completions[task.ID],
			IsRecurring: task.IsRecurring(),
			CreatedAt:   task.CreatedAt,
			HolidayName: holidayName,
		}
		if task.NotificationTime != nil {
			occ.NotificationTime = *task.NotificationTime
		}
		out = append(out, occ)
	}

	SortOccurrences(out)
	return out, nil
}

func (s *OccurrenceService) DayView(ctx context.Context, userID uint, date civil.Date) (*DayView, error) {
	occurrences, err := s.ListOccurrences(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	view := &DayView{Date: date, Occurrences: occurrences}
	if h, ok := holiday.Lookup(date); ok {
		view.Holiday = &h
	}
	return view, nil
}

// SortOccurrences orders titles with a time hint first (earliest first), then
// recurring tasks, then the rest. Ties fall back to creation order.
func SortOccurrences(list []DisplayOccurrence) {
	type sortKey struct {
		minutes int
		hinted  bool
	}
	keys := make(map[string]sortKey, len(list))
	for _, occ := range list {
		m, ok := timehint.Extract(occ.Title)
		keys[occ.Key] = sortKey{minutes: m, hinted: ok}
	}

	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		ka, kb := keys[a.Key], keys[b.Key]
		switch {
		case ka.hinted != kb.hinted:
			return ka.hinted
		case ka.hinted && ka.minutes != kb.minutes:
			return ka.minutes < kb.minutes
		case a.IsRecurring != b.IsRecurring:
			return a.IsRecurring
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.Before(b.CreatedAt)
		default:
			return a.TaskID < b.TaskID
		}
	})
}

func occurrenceKey(task model.Task, date civil.Date) string {
	if task.IsRecurring() {
		return fmt.Sprintf("recurring-%d-%s", task.ID, date)
	}
	return fmt.Sprintf("single-%d", task.ID)
}
