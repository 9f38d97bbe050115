package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/api/handlers"
	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/generation"
	"github.com/BaSui01/inkflow/internal/metrics"
	"github.com/BaSui01/inkflow/types"
)

// promauto 注册到默认 registry, 每个测试包只能创建一次.
var testCollector = metrics.NewCollector("inkflow_cmd_test", zap.NewNop())

type stubGenerator struct {
	states map[string]*generation.TaskState
}

func (g *stubGenerator) Generate(context.Context, generation.GenerateRequest) (<-chan types.Event, error) {
	ch := make(chan types.Event, 1)
	ch <- types.Event{Type: types.EventComplete, Data: &types.CompleteEventData{TaskID: "t2"}}
	close(ch)
	return ch, nil
}

func (g *stubGenerator) RetryFailed(ctx context.Context, _ generation.RetryFailedRequest) (<-chan types.Event, error) {
	return g.Generate(ctx, generation.GenerateRequest{})
}

func (g *stubGenerator) RetrySingle(context.Context, generation.PageRequest) (*generation.Outcome, error) {
	return nil, types.NewError(types.ErrNotFound, "task not found")
}

func (g *stubGenerator) Regenerate(ctx context.Context, req generation.PageRequest) (*generation.Outcome, error) {
	return g.RetrySingle(ctx, req)
}

func (g *stubGenerator) GetTaskState(_ context.Context, taskID string) (*generation.TaskState, bool, error) {
	s, ok := g.states[taskID]
	return s, ok, nil
}

type stubImages struct{ owner string }

func (s stubImages) GetImage(_ context.Context, userID, _, _ string, _ bool) ([]byte, error) {
	if userID != s.owner {
		return nil, types.NewError(types.ErrNotFound, "image not found")
	}
	return []byte("\x89PNG\r\n\x1a\nfake"), nil
}

func newTestRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	gen := &stubGenerator{states: map[string]*generation.TaskState{"t1": generation.NewTaskState("t1")}}
	health := handlers.NewHealthHandler(zap.NewNop())
	return newRouter(ctx, cfg, routeSet{
		generation: handlers.NewGenerationHandler(gen, stubImages{owner: "alice"}, nil, zap.NewNop()),
		history:    handlers.NewHistoryHandler(nil, zap.NewNop()),
		health:     health,
	}, testCollector, zap.NewNop())
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.RateLimitRPS = 0
	return cfg
}

func TestRouter_HealthAndVersion(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.Secret = testSecret
	router := newTestRouter(t, cfg)

	for _, path := range []string{"/health", "/healthz", "/ready", "/readyz", "/version"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	router := newTestRouter(t, testConfig())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.ErrNotFound), decodeEnvelope(t, w).Error.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/generate", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouter_AnonymousAccess(t *testing.T) {
	router := newTestRouter(t, testConfig())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/task/t1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeEnvelope(t, w).Success)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/task/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decodeEnvelope(t, w).Error.Message, "start a new generation")
}

func TestRouter_GenerateStreams(t *testing.T) {
	router := newTestRouter(t, testConfig())

	body := `{"task_id":"t2","pages":[{"index":0,"type":"cover","content":"封面"}]}`
	r := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "event: complete")
}

func TestRouter_AuthRequired(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.Secret = testSecret
	router := newTestRouter(t, cfg)
	token := signToken(t, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix()})

	tests := []struct {
		name       string
		method     string
		target     string
		auth       string
		wantStatus int
	}{
		{"task without token", http.MethodGet, "/api/task/t1", "", http.StatusUnauthorized},
		{"task with token", http.MethodGet, "/api/task/t1", "Bearer " + token, http.StatusOK},
		{"history without token", http.MethodPost, "/api/history", "", http.StatusUnauthorized},
		{"image via query token", http.MethodGet, "/api/images/t1/1.png?token=" + token, "", http.StatusOK},
		{"image of another user", http.MethodGet, "/api/images/t1/1.png?token=" +
			signToken(t, jwt.MapClaims{"sub": "mallory", "exp": time.Now().Add(time.Hour).Unix()}), "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.auth != "" {
				r.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestRouter_ImageHeaders(t *testing.T) {
	router := newTestRouter(t, testConfig())
	// 匿名用户不是图片所有者
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/images/t1/1.png", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	cfg := testConfig()
	cfg.JWT.AnonymousUser = "alice"
	router = newTestRouter(t, cfg)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/images/t1/1.png?thumbnail=false", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "private, max-age=3600", w.Header().Get("Cache-Control"))
}

func TestRoutePattern(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	assert.Equal(t, "unmatched", routePattern(r))
}

func TestSplitMigrateArgs(t *testing.T) {
	tests := []struct {
		args       []string
		command    string
		positional []string
		flags      []string
	}{
		{[]string{"up"}, "up", nil, nil},
		{[]string{"reset", "--config", "c.yaml"}, "down-all", nil, []string{"--config", "c.yaml"}},
		{[]string{"steps", "-1", "--config", "c.yaml"}, "steps", []string{"-1"}, []string{"--config", "c.yaml"}},
		{[]string{"goto", "2"}, "goto", []string{"2"}, nil},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			cmd, rest := splitMigrateArgs(tt.args)
			assert.Equal(t, tt.command, cmd)
			assert.Equal(t, tt.positional, rest.positional)
			assert.Equal(t, tt.flags, rest.flags)
		})
	}
}

func TestInitLogger(t *testing.T) {
	l := initLogger(config.LogConfig{Level: "debug", Format: "console"})
	require.NotNil(t, l)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))

	l = initLogger(config.LogConfig{Level: "bogus", Format: "json"})
	assert.False(t, l.Core().Enabled(zap.DebugLevel))
	assert.True(t, l.Core().Enabled(zap.InfoLevel))
}
