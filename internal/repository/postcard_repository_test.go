package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/postcard-capsule/internal/model"
)

func TestPostcardRepository_CreateAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostcardRepository(db)
	ctx := context.Background()

	p := newCard("alice", "bob", model.PostcardStatusLocked, time.Now().UTC())
	p.UnlockDate = ptr(time.Now().UTC().AddDate(0, 1, 0))
	require.NoError(t, repo.Create(ctx, p))

	got, err := repo.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.SenderID)
	assert.Equal(t, "hello", *got.Message)
	assert.Equal(t, model.PostcardStatusLocked, got.Status)
	assert.Nil(t, got.UnlockLatitude)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostcardRepository_FindByStatus_DueTimeLocks(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostcardRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	due := newCard("a", "b", model.PostcardStatusLocked, now.Add(-48*time.Hour))
	due.UnlockDate = ptr(now.Add(-time.Minute))
	exact := newCard("a", "b", model.PostcardStatusLocked, now.Add(-47*time.Hour))
	exact.UnlockDate = ptr(now)
	future := newCard("a", "b", model.PostcardStatusLocked, now.Add(-46*time.Hour))
	future.UnlockDate = ptr(now.Add(time.Hour))
	unlocked := newCard("a", "b", model.PostcardStatusUnlocked, now.Add(-45*time.Hour))
	unlocked.UnlockDate = ptr(now.Add(-time.Hour))
	geo := newCard("a", "b", model.PostcardStatusLocked, now.Add(-44*time.Hour))
	geo.UnlockLatitude, geo.UnlockLongitude = ptr(1.0), ptr(2.0)

	for _, p := range []*model.Postcard{due, exact, future, unlocked, geo} {
		require.NoError(t, repo.Create(ctx, p))
	}

	res, err := repo.FindByStatus(ctx, model.PostcardStatusLocked, StatusFilter{UnlockDueBefore: &now})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, due.ID, res[0].ID)
	assert.Equal(t, exact.ID, res[1].ID)

	res, err = repo.FindByStatus(ctx, model.PostcardStatusLocked, StatusFilter{UnlockDueBefore: &now, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestPostcardRepository_FindByStatus_CursorPaging(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostcardRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	early := newCard("a", "b", model.PostcardStatusLocked, now)
	early.ID, early.UnlockDate = "c-1", ptr(now.Add(-2*time.Hour))
	tieA := newCard("a", "b", model.PostcardStatusLocked, now)
	tieA.ID, tieA.UnlockDate = "c-2", ptr(now.Add(-time.Hour))
	tieB := newCard("a", "b", model.PostcardStatusLocked, now)
	tieB.ID, tieB.UnlockDate = "c-3", ptr(now.Add(-time.Hour))
	for _, p := range []*model.Postcard{tieB, early, tieA} {
		require.NoError(t, repo.Create(ctx, p))
	}

	page, err := repo.FindByStatus(ctx, model.PostcardStatusLocked, StatusFilter{UnlockDueBefore: &now, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, []string{"c-1", "c-2"}, []string{page[0].ID, page[1].ID})

	// 游标之后只剩同一 unlock_date、id 更大的那条，即便游标所在记录仍是 LOCKED
	page, err = repo.FindByStatus(ctx, model.PostcardStatusLocked, StatusFilter{
		UnlockDueBefore: &now,
		After:           CursorOf(page[1]),
		Limit:           2,
	})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c-3", page[0].ID)

	page, err = repo.FindByStatus(ctx, model.PostcardStatusLocked, StatusFilter{UnlockDueBefore: &now, After: CursorOf(page[0])})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestPostcardRepository_FindByStatus_GeoForRecipient(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostcardRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	mine := newCard("a", "bob", model.PostcardStatusLocked, now)
	mine.UnlockLatitude, mine.UnlockLongitude = ptr(1.0), ptr(2.0)
	other := newCard("a", "carol", model.PostcardStatusLocked, now)
	other.UnlockLatitude, other.UnlockLongitude = ptr(1.0), ptr(2.0)
	timed := newCard("a", "bob", model.PostcardStatusLocked, now)
	timed.UnlockDate = ptr(now.AddDate(0, 1, 0))
	draft := newCard("a", "bob", model.PostcardStatusDraft, now)
	draft.UnlockLatitude, draft.UnlockLongitude = ptr(1.0), ptr(2.0)

	for _, p := range []*model.Postcard{mine, other, timed, draft} {
		require.NoError(t, repo.Create(ctx, p))
	}

	res, err := repo.FindByStatus(ctx, model.PostcardStatusLocked, StatusFilter{RecipientID: "bob", GeoOnly: true})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, mine.ID, res[0].ID)
}

func TestPostcardRepository_UpdateStatusIsConditional(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostcardRepository(db)
	ctx := context.Background()

	p := newCard("a", "b", model.PostcardStatusLocked, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, p))

	at := time.Now().UTC()
	fields := map[string]any{"unlock_notification_sent": true, "unlocked_at": at}
	ok, err := repo.UpdateStatus(ctx, p.ID, model.PostcardStatusLocked, model.PostcardStatusUnlocked, fields)
	require.NoError(t, err)
	assert.True(t, ok)

	// 第二次写入不再命中
	ok, err = repo.UpdateStatus(ctx, p.ID, model.PostcardStatusLocked, model.PostcardStatusUnlocked, fields)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PostcardStatusUnlocked, got.Status)
	assert.True(t, got.UnlockNotificationSent)
	assert.NotNil(t, got.UnlockedAt)
	assert.Equal(t, "hello", *got.Message)

	ok, err = repo.UpdateStatus(ctx, "missing", model.PostcardStatusLocked, model.PostcardStatusUnlocked, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostcardRepository_MarkViewedOnce(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostcardRepository(db)
	ctx := context.Background()

	p := newCard("a", "b", model.PostcardStatusUnlocked, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, p))

	first := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	ok, err := repo.MarkViewed(ctx, p.ID, first)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkViewed(ctx, p.ID, first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.FindByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ViewedAt)
	assert.True(t, got.ViewedAt.Equal(first))
}

func TestPostcardRepository_FindByRecipientAndSender(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostcardRepository(db)
	ctx := context.Background()
	base := time.Now().UTC()

	older := newCard("alice", "bob", model.PostcardStatusUnlocked, base.Add(-time.Hour))
	newer := newCard("alice", "bob", model.PostcardStatusLocked, base)
	draft := newCard("alice", "bob", model.PostcardStatusDraft, base)
	toCarol := newCard("alice", "carol", model.PostcardStatusLocked, base)
	for _, p := range []*model.Postcard{older, newer, draft, toCarol} {
		require.NoError(t, repo.Create(ctx, p))
	}

	received, err := repo.FindByRecipient(ctx, "bob", model.PostcardStatusLocked, model.PostcardStatusUnlocked)
	require.NoError(t, err)
	require.Len(t, received, 2)
	assert.Equal(t, newer.ID, received[0].ID)
	assert.Equal(t, older.ID, received[1].ID)

	all, err := repo.FindByRecipient(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	sent, err := repo.FindBySender(ctx, "alice", model.PostcardStatusLocked, model.PostcardStatusUnlocked)
	require.NoError(t, err)
	assert.Len(t, sent, 3)

	drafts, err := repo.FindBySender(ctx, "alice", model.PostcardStatusDraft)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, draft.ID, drafts[0].ID)
}
