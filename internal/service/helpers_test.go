package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"gorm.io/gorm"

	"task-reminder/internal/notify"
	"task-reminder/internal/repository"
)

var dbSeq atomic.Int64

type testRepos struct {
	db            *gorm.DB
	users         *repository.UserRepository
	tasks         *repository.TaskRepository
	exclusions    *repository.ExclusionRepository
	completions   *repository.CompletionRepository
	notifications *repository.NotificationRepository
}

func newTestRepos(t *testing.T) testRepos {
	t.Helper()

	dsn := fmt.Sprintf("file:service_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := repository.NewDB(dsn, io.Discard)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return testRepos{
		db:            db,
		users:         repository.NewUserRepository(db),
		tasks:         repository.NewTaskRepository(db),
		exclusions:    repository.NewExclusionRepository(db),
		completions:   repository.NewCompletionRepository(db),
		notifications: repository.NewNotificationRepository(db),
	}
}

func mustDate(t *testing.T, s string) civil.Date {
	t.Helper()

	d, err := civil.ParseDate(s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

type sentEmail struct {
	to, subject, body string
}

type fakeEmailSender struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (f *fakeEmailSender) Send(_ context.Context, to, subject, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentEmail{to: to, subject: subject, body: html})
	return nil
}

func (f *fakeEmailSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakePushSender struct {
	mu       sync.Mutex
	failures map[string]error
	payloads map[string][]byte
}

func newFakePushSender() *fakePushSender {
	return &fakePushSender{failures: map[string]error{}, payloads: map[string][]byte{}}
}

func (f *fakePushSender) Send(_ context.Context, target notify.PushTarget, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.failures[target.Endpoint]; ok {
		return err
	}
	f.payloads[target.Endpoint] = payload
	return nil
}

// memoryGuard is an in-process stand-in for the Redis guard.
type memoryGuard struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{keys: map[string]struct{}{}}
}

func (g *memoryGuard) Claim(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.keys[key]; ok {
		return false, nil
	}
	g.keys[key] = struct{}{}
	return true, nil
}

func (g *memoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.keys, key)
	return nil
}

func fixedClock(ts string) func() time.Time {
	return func() time.Time {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			panic(err)
		}
		return t
	}
}
