package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelgate/modelgate/internal/limiter"
	"github.com/modelgate/modelgate/internal/tokens"
)

// stubStore is a minimal in-memory limiter.QuotaStore for middleware tests.
type stubStore struct {
	mu      sync.Mutex
	records map[string]limiter.UsageRecord
}

func newStubStore(records ...limiter.UsageRecord) *stubStore {
	s := &stubStore{records: make(map[string]limiter.UsageRecord)}
	for _, rec := range records {
		s.records[rec.UserID] = rec
	}
	return s
}

func (s *stubStore) Connect(ctx context.Context) error { return nil }
func (s *stubStore) Connected() bool                   { return true }

func (s *stubStore) Fetch(ctx context.Context, userID string) (*limiter.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, limiter.ErrNotFound
	}
	return &rec, nil
}

func (s *stubStore) Increment(ctx context.Context, userID string, t int64, c float64) (*limiter.UsageRecord, error) {
	if t == 0 && c == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, limiter.ErrNotFound
	}
	rec.TokensUsed += t
	rec.CostUsed += c
	s.records[userID] = rec
	return &rec, nil
}

func (s *stubStore) ScanUsers(ctx context.Context) ([]string, error)        { return nil, nil }
func (s *stubStore) ScanClearSignals(ctx context.Context) ([]string, error) { return nil, nil }
func (s *stubStore) DeleteClearSignal(ctx context.Context, userID string) error {
	return nil
}
func (s *stubStore) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quotaLimiter(t *testing.T, store limiter.QuotaStore) *limiter.UsageLimiter {
	t.Helper()
	l := limiter.NewWithStore(limiter.Config{SyncInterval: time.Hour}, store, discardLogger())
	t.Cleanup(func() { l.Close() })
	return l
}

const inferenceBody = `{"model_name": "primary", "input": {"messages": [{"role": "user", "content": "hello there"}]}}`

func TestUsageLimitNilLimiterPassesThrough(t *testing.T) {
	called := false
	h := UsageLimit(nil, tokens.NewEstimator(), discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	// No user header needed when limiting is disabled.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/inference", strings.NewReader(inferenceBody)))
	if !called {
		t.Error("handler not reached")
	}
}

func TestUsageLimitRequiresUserHeader(t *testing.T) {
	lim := quotaLimiter(t, newStubStore())
	h := UsageLimit(lim, tokens.NewEstimator(), discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/inference", strings.NewReader(inferenceBody)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), UserHeader) {
		t.Errorf("body should name the missing header: %s", rec.Body.String())
	}
}

func TestUsageLimitDeniesOverQuota(t *testing.T) {
	quota := int64(10)
	lim := quotaLimiter(t, newStubStore(limiter.UsageRecord{
		UserID:      "capped",
		UserType:    limiter.UserTypeClient,
		Allowed:     true,
		TokensQuota: &quota,
		TokensUsed:  500,
	}))
	h := UsageLimit(lim, tokens.NewEstimator(), discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/inference", strings.NewReader(inferenceBody))
	req.Header.Set(UserHeader, "capped")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestUsageLimitAllowsAndRestoresBody(t *testing.T) {
	lim := quotaLimiter(t, newStubStore())

	var gotUser, gotBody string
	h := UsageLimit(lim, tokens.NewEstimator(), discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/inference", strings.NewReader(inferenceBody))
	req.Header.Set(UserHeader, "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if gotUser != "alice" {
		t.Errorf("user in context = %q", gotUser)
	}
	if gotBody != inferenceBody {
		t.Errorf("downstream body mangled: %q", gotBody)
	}
}

func TestEstimateTokens(t *testing.T) {
	est := tokens.NewEstimator()

	if got := estimateTokens(est, []byte(inferenceBody)); got <= 0 {
		t.Errorf("estimate for real request = %d, want > 0", got)
	}
	if got := estimateTokens(est, []byte("not json")); got != 0 {
		t.Errorf("estimate for garbage body = %d, want 0", got)
	}
	if got := estimateTokens(est, []byte(`{"model_name":"m","input":{"messages":[]}}`)); got != 0 {
		t.Errorf("estimate with no messages = %d, want 0", got)
	}
}
