package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/d60-Lab/postcard-capsule/internal/cache"
	"github.com/d60-Lab/postcard-capsule/internal/model"
	"github.com/d60-Lab/postcard-capsule/internal/repository"
)

func setupTestDB(tb testing.TB) *gorm.DB {
	tb.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		tb.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&model.User{}, &model.Follow{}, &model.Postcard{}, &model.Notification{}); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	tb.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func ptr[T any](v T) *T { return &v }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sent struct {
	UserID  string
	Event   model.NotificationEvent
	Payload map[string]any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recordingNotifier) Notify(userID string, event model.NotificationEvent, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{UserID: userID, Event: event, Payload: payload})
}

func (r *recordingNotifier) events(event model.NotificationEvent) []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []sent
	for _, s := range r.sent {
		if s.Event == event {
			res = append(res, s)
		}
	}
	return res
}

// fixture 组装真实 sqlite 仓储 + 内存用户目录
type fixture struct {
	db       *gorm.DB
	repo     repository.PostcardRepository
	rel      RelationshipService
	users    *cache.UserDirectory
	notifier *recordingNotifier
	clock    *clock
	svc      PostcardService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	userRepo := repository.NewUserRepository(db)
	ctx := context.Background()
	for _, u := range []*model.User{
		{ID: "alice", Username: "alice", DisplayName: "Alice"},
		{ID: "bob", Username: "bob", DisplayName: "Bob"},
		{ID: "carol", Username: "carol"},
	} {
		require.NoError(t, userRepo.Upsert(ctx, u))
	}

	f := &fixture{
		db:       db,
		repo:     repository.NewPostcardRepository(db),
		users:    cache.NewUserDirectory(userRepo, nil, time.Minute, time.Minute),
		notifier: &recordingNotifier{},
		clock:    &clock{t: time.Date(2026, 10, 15, 14, 30, 0, 0, time.UTC)},
	}
	f.rel = NewRelationshipService(repository.NewFollowRepository(db), f.users)
	f.svc = NewPostcardService(f.repo, f.rel, f.users, f.notifier, f.opts()...)
	return f
}

func (f *fixture) opts() []Option {
	return []Option{WithClock(f.clock.Now), WithLocation(time.UTC)}
}

func (f *fixture) sweeper(batch int) *TimeLockSweeper {
	return NewTimeLockSweeper(f.repo, f.notifier, SweeperConfig{Interval: time.Hour, BatchSize: batch, Timeout: time.Minute}, f.opts()...)
}

func (f *fixture) geo() *GeoLockChecker {
	return NewGeoLockChecker(f.repo, f.users, f.notifier, f.opts()...)
}

func (f *fixture) status(t *testing.T, id string) model.PostcardStatus {
	t.Helper()
	p, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}
