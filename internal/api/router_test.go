package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/d60-Lab/postcard-capsule/config"
	"github.com/d60-Lab/postcard-capsule/internal/api/handler"
	"github.com/d60-Lab/postcard-capsule/internal/api/middleware"
	"github.com/d60-Lab/postcard-capsule/internal/cache"
	"github.com/d60-Lab/postcard-capsule/internal/model"
	"github.com/d60-Lab/postcard-capsule/internal/repository"
	"github.com/d60-Lab/postcard-capsule/internal/service"
	"github.com/d60-Lab/postcard-capsule/pkg/response"
)

const testSecret = "test-secret"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Follow{}, &model.Postcard{}, &model.Notification{}))

	userRepo := repository.NewUserRepository(db)
	for _, u := range []*model.User{
		{ID: "alice", Username: "alice", DisplayName: "Alice"},
		{ID: "bob", Username: "bob", DisplayName: "Bob"},
		{ID: "carol", Username: "carol"},
	} {
		require.NoError(t, userRepo.Upsert(context.Background(), u))
	}

	users := cache.NewUserDirectory(userRepo, nil, time.Minute, time.Minute)
	postcards := repository.NewPostcardRepository(db)
	rel := service.NewRelationshipService(repository.NewFollowRepository(db), users)
	h := handler.NewHandler(
		service.NewPostcardService(postcards, rel, users, nil),
		service.NewGeoLockChecker(postcards, users, nil),
		rel,
	)

	cfg := &config.Config{
		Server:    config.ServerConfig{Mode: "test"},
		JWT:       config.JWTConfig{Secret: testSecret, Issuer: "postcard-capsule"},
		RateLimit: config.RateLimitConfig{GeoCheckPerMinute: 1, GeoCheckBurst: 2},
	}
	router, err := NewRouter(cfg, h)
	require.NoError(t, err)
	return &testServer{t: t, router: router}
}

func (s *testServer) do(method, path, user string, body any) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := middleware.IssueToken(testSecret, "postcard-capsule", user, time.Hour)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func TestRouter_PublicEndpoints(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(http.MethodGet, "/api/v1/postcards/received", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.CodeUnauthorized, env.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/postcards/received", nil)
	forged, err := middleware.IssueToken("other-secret", "postcard-capsule", "alice", time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewRouter_RejectsEmptySecret(t *testing.T) {
	_, err := NewRouter(&config.Config{Server: config.ServerConfig{Mode: "test"}}, &handler.Handler{})
	assert.ErrorIs(t, err, middleware.ErrEmptySecret)
}

func TestRouter_PostcardFlow(t *testing.T) {
	s := newTestServer(t)
	unlockAt := time.Now().AddDate(0, 0, 7)
	body := map[string]any{"recipient_id": "bob", "message": "hi bob", "unlock_date": unlockAt}

	w, env := s.do(http.MethodPost, "/api/v1/postcards", "alice", body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, env.Message, "follow")

	w, _ = s.do(http.MethodPost, "/api/v1/relations/follow", "alice", map[string]any{"user_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = s.do(http.MethodPost, "/api/v1/relations/follow", "alice", map[string]any{"user_id": "bob"})
	require.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(http.MethodPost, "/api/v1/postcards", "alice", body)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		ID      string  `json:"id"`
		Message *string `json:"message"`
		Status  string  `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "LOCKED", created.Status)
	require.NotNil(t, created.Message)

	w, env = s.do(http.MethodGet, "/api/v1/postcards/"+created.ID, "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var asBob struct {
		Message       *string `json:"message"`
		ContentHidden bool    `json:"content_hidden"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &asBob))
	assert.True(t, asBob.ContentHidden)
	assert.Nil(t, asBob.Message)

	w, _ = s.do(http.MethodGet, "/api/v1/postcards/"+created.ID, "carol", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = s.do(http.MethodGet, "/api/v1/postcards/nope", "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = s.do(http.MethodGet, "/api/v1/postcards/received", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var received []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &received))
	assert.Len(t, received, 1)

	w, env = s.do(http.MethodGet, "/api/v1/relations/following", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "bob")
}

func TestRouter_ValidationErrors(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name string
		body map[string]any
		want string
	}{
		{"no condition", map[string]any{"message": "x"}, "exactly one"},
		{"too soon", map[string]any{"unlock_date": time.Now().Add(time.Minute)}, "midnight"},
		{"radius", map[string]any{"unlock_latitude": 1.0, "unlock_longitude": 1.0, "unlock_radius": 2000.0}, "radius"},
		{"bad url", map[string]any{"media_url": "not a url", "unlock_date": time.Now().AddDate(0, 0, 3)}, "MediaURL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, env := s.do(http.MethodPost, "/api/v1/postcards", "alice", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, response.CodeBadRequest, env.Code)
			assert.Contains(t, env.Message, tc.want)
		})
	}
}

func TestRouter_Drafts(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(http.MethodPost, "/api/v1/postcards/drafts", "alice", map[string]any{
		"message":     "later",
		"unlock_date": time.Now().AddDate(0, 0, 3),
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var draft struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &draft))
	assert.Equal(t, "DRAFT", draft.Status)

	w, _ = s.do(http.MethodPost, "/api/v1/postcards/drafts/"+draft.ID+"/publish", "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/postcards/drafts/"+draft.ID+"/publish", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(http.MethodPost, "/api/v1/postcards/drafts/"+draft.ID+"/publish", "alice", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.CodeConflict, env.Code)

	w, env = s.do(http.MethodGet, "/api/v1/postcards/drafts", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", string(env.Data))
}

func TestRouter_GeoCheck(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodPost, "/api/v1/postcards/geo-check", "bob", map[string]any{"latitude": 95.0, "longitude": 0.0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := s.do(http.MethodPost, "/api/v1/postcards/geo-check", "bob", map[string]any{"latitude": 48.85, "longitude": 2.29})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"unlocked_count":0,"unlocked":[]}`, string(env.Data))

	// burst=2 已用完
	w, env = s.do(http.MethodPost, "/api/v1/postcards/geo-check", "bob", map[string]any{"latitude": 48.85, "longitude": 2.29})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, response.CodeTooMany, env.Code)

	// 限流按用户独立
	w, _ = s.do(http.MethodPost, "/api/v1/postcards/geo-check", "alice", map[string]any{"latitude": 48.85, "longitude": 2.29})
	assert.Equal(t, http.StatusOK, w.Code)
}
