package model

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"task-reminder/internal/recurrence"
)

// Task is a single item in the planner. Recurring tasks carry a TaskRecurrence.
type Task struct {
	ID                  uint    `gorm:"primaryKey"`
	UserID              uint    `gorm:"index"`
	Title               string  `gorm:"not null"`
	DueDate             Date    `gorm:"type:text;not null;index"`
	NotificationEnabled bool    `gorm:"not null;index:idx_task_notification,priority:1"`
	NotificationTime    *string `gorm:"size:5;index:idx_task_notification,priority:2"`
	CreatedAt           time.Time
	UpdatedAt           time.Time

	Recurrence  *TaskRecurrence  `gorm:"constraint:OnDelete:CASCADE"`
	Exclusions  []TaskExclusion  `gorm:"constraint:OnDelete:CASCADE"`
	Completions []TaskCompletion `gorm:"constraint:OnDelete:CASCADE"`
}

func (t *Task) IsRecurring() bool {
	return t.Recurrence != nil
}

// Rule returns the recurrence rule, or nil for a one-off task.
func (t *Task) Rule() recurrence.Rule {
	if t.Recurrence == nil {
		return nil
	}
	return t.Recurrence.Rule()
}

// TaskRecurrence is the stored recurrence rule of a task. CustomUnit is nil for
// day-based custom rules, which is also how rules saved before units existed look.
type TaskRecurrence struct {
	ID         uint    `gorm:"primaryKey"`
	TaskID     uint    `gorm:"uniqueIndex;not null"`
	Type       string  `gorm:"size:16;not null"`
	CustomDays *int
	CustomUnit *string `gorm:"size:8"`
	Weekdays   string  `gorm:"size:16"`
	CreatedAt  time.Time
}

func (r *TaskRecurrence) Rule() recurrence.Rule {
	return recurrence.FromStored(r.Type, r.CustomDays, r.CustomUnit, r.WeekdayList())
}

// WeekdayList parses the stored comma separated weekday indices.
func (r *TaskRecurrence) WeekdayList() []int {
	if strings.TrimSpace(r.Weekdays) == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(r.Weekdays, ",") {
		day, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		out = append(out, day)
	}
	return out
}

// FormatWeekdays is the inverse of WeekdayList; duplicates are dropped.
func FormatWeekdays(days []int) string {
	seen := make(map[int]struct{}, len(days))
	uniq := make([]int, 0, len(days))
	for _, d := range days {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		uniq = append(uniq, d)
	}
	sort.Ints(uniq)
	parts := make([]string, len(uniq))
	for i, d := range uniq {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

type ExclusionKind string

const (
	ExclusionSingle ExclusionKind = "single"
	ExclusionAfter  ExclusionKind = "after"
)

// TaskExclusion suppresses occurrences of a recurring task. Slot holds the date
// for single exclusions and is empty for the after cutoff, so a task has at
// most one after row.
type TaskExclusion struct {
	ID        uint          `gorm:"primaryKey"`
	TaskID    uint          `gorm:"not null;uniqueIndex:idx_exclusion_slot,priority:1"`
	Kind      ExclusionKind `gorm:"size:8;not null;uniqueIndex:idx_exclusion_slot,priority:2"`
	Slot      string        `gorm:"size:10;not null;uniqueIndex:idx_exclusion_slot,priority:3"`
	Date      Date          `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskCompletion records the done flag of one occurrence.
type TaskCompletion struct {
	ID            uint `gorm:"primaryKey"`
	TaskID        uint `gorm:"not null;uniqueIndex:idx_completion_day,priority:1"`
	CompletedDate Date `gorm:"type:text;not null;uniqueIndex:idx_completion_day,priority:2"`
	Completed     bool `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ExclusionsOf folds stored exclusion rows into an evaluator overlay. When a
// task somehow has several after rows the earliest cutoff wins.
func ExclusionsOf(rows []TaskExclusion) recurrence.Exclusions {
	var ex recurrence.Exclusions
	for _, row := range rows {
		switch row.Kind {
		case ExclusionSingle:
			ex.AddSingle(row.Date.Date)
		case ExclusionAfter:
			if cur, ok := ex.After(); !ok || row.Date.Before(cur) {
				ex.SetAfter(row.Date.Date)
			}
		}
	}
	return ex
}
