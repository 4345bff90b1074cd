package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/storyviews/internal/audit"
	"github.com/onnwee/storyviews/internal/auth"
	"github.com/onnwee/storyviews/internal/identity"
	"github.com/onnwee/storyviews/internal/middleware"
	"github.com/onnwee/storyviews/internal/storyview"
)

const testSecret = "test-secret-key-that-is-long-enough-32"

var browserSignals = identity.Signals{
	UserAgent:    "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	Language:     "en-US",
	Timezone:     "Europe/Berlin",
	ScreenWidth:  1440,
	ScreenHeight: 900,
	CanvasHash:   "c4nv45",
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testServer wires the full route table over in-memory stores.
type testServer struct {
	handler  http.Handler
	repo     *storyview.InMemoryRepository
	audit    *audit.InMemoryRepository
	registry *storyview.PageRegistry
	jwt      *auth.JWTService
	clock    *testClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := newTestClock()
	repo := storyview.NewInMemoryRepository()
	auditRepo := audit.NewInMemoryRepository()
	registry := storyview.NewPageRegistry(storyview.RegistryConfig{
		Repository: repo,
		Now:        clock.Now,
	})
	jwtService := auth.NewJWTService(testSecret)

	mux := NewRouter(RouterConfig{
		Views:     NewViewHandlers(registry, nil),
		Stats:     NewStatsHandlers(repo, auditRepo, nil),
		Health:    NewHealthHandlers(HealthHandlersConfig{}),
		Validator: jwtService,
	})
	return &testServer{
		handler:  middleware.RequestID(middleware.Logging(middleware.NewLogger("test"))(mux)),
		repo:     repo,
		audit:    auditRepo,
		registry: registry,
		jwt:      jwtService,
		clock:    clock,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.7:51234"
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) token(t *testing.T, role string, stories ...string) http.Header {
	t.Helper()
	token, err := s.jwt.GenerateToken("analyst@example.com", role, stories)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return http.Header{"Authorization": {"Bearer " + token}}
}

func (s *testServer) openPage(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/pages", browserSignals, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("open page: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp OpenPageResponse
	decode(t, w, &resp)
	return resp.PageID
}

func (s *testServer) begin(t *testing.T, pageID, storyID string, media storyview.MediaType) BeginViewResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/pages/"+pageID+"/views", BeginViewRequest{
		StoryID:    storyID,
		MediaType:  media,
		DurationMs: 5000,
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("begin: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp BeginViewResponse
	decode(t, w, &resp)
	return resp
}

func (s *testServer) commit(t *testing.T, pageID, sessionID, reason string) CommitViewResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/pages/"+pageID+"/views/"+sessionID+"/commit",
		CommitViewRequest{ExitReason: reason}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("commit: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp CommitViewResponse
	decode(t, w, &resp)
	return resp
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response: %v, body: %s", err, w.Body.String())
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	decode(t, w, &resp)
	return resp.Error.Code
}
