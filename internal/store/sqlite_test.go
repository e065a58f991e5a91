package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/studiora/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_GetUserMissing(t *testing.T) {
	s := newTestStore(t)

	user, err := s.GetUser(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestSQLiteStore_CreateUserIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, &domain.User{UserID: 7, FirstName: "Ann", LanguageCode: "ru"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateUser(ctx, &domain.User{UserID: 7, FirstName: "Other", LanguageCode: "en"})
	require.NoError(t, err)
	assert.False(t, created)

	user, err := s.GetUser(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "Ann", user.FirstName)
	assert.Equal(t, domain.LanguageRussian, user.Language())
}

func TestSQLiteStore_UpdateLanguage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpdateLanguage(ctx, 1, domain.LanguageArmenian)
	assert.True(t, errors.Is(err, domain.ErrUserNotFound))

	_, err = s.CreateUser(ctx, &domain.User{UserID: 1})
	require.NoError(t, err)
	require.NoError(t, s.UpdateLanguage(ctx, 1, domain.LanguageArmenian))

	user, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "hy", user.LanguageCode)
}

func TestSQLiteStore_SaveAndClearLastRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreateUser(ctx, &domain.User{UserID: 3})
	require.NoError(t, err)

	req := &domain.LessonRequest{Topic: "Spanish Grammar", CurrentLevel: "A2", TargetLevel: "B2"}
	require.NoError(t, s.SaveLastRequest(ctx, 3, req))

	user, err := s.GetUser(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, user.LastRequest)
	assert.Equal(t, *req, *user.LastRequest)
	assert.True(t, user.HasPendingRequest())

	require.NoError(t, s.SaveLastRequest(ctx, 3, nil))
	user, err = s.GetUser(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, user.LastRequest)
}

func TestSQLiteStore_ListArtifactsOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.AddArtifact(ctx, 9, domain.Artifact{Name: "old.html", CreatedAt: base}))
	require.NoError(t, s.AddArtifact(ctx, 9, domain.Artifact{Name: "b.html", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.AddArtifact(ctx, 9, domain.Artifact{Name: "a.html", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.AddArtifact(ctx, 10, domain.Artifact{Name: "other.html", CreatedAt: base}))

	got, err := s.ListArtifacts(ctx, 9)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a.html", got[0].Name)
	assert.Equal(t, "b.html", got[1].Name)
	assert.Equal(t, "old.html", got[2].Name)
	assert.True(t, got[2].CreatedAt.Equal(base))

	empty, err := s.ListArtifacts(ctx, 11)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
