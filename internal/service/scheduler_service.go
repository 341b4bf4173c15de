package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/robfig/cron/v3"
)

// SchedulerService wraps cron-based jobs.
type SchedulerService struct {
	cron *cron.Cron
	loc  *time.Location
}

func NewSchedulerService(loc *time.Location) *SchedulerService {
	return &SchedulerService{
		cron: cron.New(cron.WithLocation(loc), cron.WithSeconds()),
		loc:  loc,
	}
}

// ScheduleDaily registers a daily job at the given HH:MM time string.
func (s *SchedulerService) ScheduleDaily(timeStr string, job func()) (cron.EntryID, error) {
	spec, err := buildDailySpec(timeStr)
	if err != nil {
		return 0, err
	}
	return s.cron.AddFunc(spec, job)
}

// ScheduleEveryMinute runs job at second zero of every minute.
func (s *SchedulerService) ScheduleEveryMinute(job func()) (cron.EntryID, error) {
	return s.cron.AddFunc("0 * * * * *", job)
}

func (s *SchedulerService) Start() {
	s.cron.Start()
}

func (s *SchedulerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// ScheduleDispatch runs a dispatch pass for the current minute slot at second
// zero of every minute. Slots are computed in the scheduler's location.
func (s *SchedulerService) ScheduleDispatch(ctx context.Context, d Dispatcher, timeout time.Duration, log *slog.Logger) (cron.EntryID, error) {
	return s.ScheduleEveryMinute(DispatchJob(ctx, d, s.loc, timeout, nil, log))
}

// Dispatcher is the part of NotificationService the periodic job needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, date civil.Date, hhmm string) (DispatchResult, error)
}

// DispatchJob returns a cron job that dispatches the slot of the current
// minute in loc. timeout bounds one pass.
func DispatchJob(ctx context.Context, d Dispatcher, loc *time.Location, timeout time.Duration, now func() time.Time, log *slog.Logger) func() {
	if now == nil {
		now = time.Now
	}
	return func() {
		date, hhmm := Slot(now(), loc)

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		res, err := d.Dispatch(runCtx, date, hhmm)
		if err != nil {
			log.Error("scheduled dispatch failed", "date", date.String(), "time", hhmm, "err", err)
			return
		}
		for _, msg := range res.Errors {
			log.Warn("dispatch error", "date", date.String(), "time", hhmm, "detail", msg)
		}
	}
}

// Slot converts an instant to the calendar date and HH:mm it falls in at loc.
func Slot(t time.Time, loc *time.Location) (civil.Date, string) {
	local := t.In(loc)
	return civil.DateOf(local), local.Format("15:04")
}

func buildDailySpec(timeStr string) (string, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time %q, expected HH:MM", timeStr)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", timeStr)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", timeStr)
	}
	// cron format: second minute hour dom month dow
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}
