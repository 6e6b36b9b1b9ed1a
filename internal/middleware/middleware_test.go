package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRecovery_HidesPanicValue(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	r := gin.New()
	r.Use(Recovery(zap.New(core)))
	r.GET("/boom", func(c *gin.Context) {
		panic("secret detail")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret detail") {
		t.Error("panic value leaked into the response")
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Error("expected the panic to be logged")
	}
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		message string
		level   zapcore.Level
	}{
		{"success", http.StatusOK, "request completed", zapcore.InfoLevel},
		{"client error", http.StatusNotFound, "request rejected", zapcore.WarnLevel},
		{"server error", http.StatusBadGateway, "request failed", zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			core, logs := observer.New(zapcore.DebugLevel)
			r := gin.New()
			r.Use(Logger(zap.New(core)))
			r.GET("/x", func(c *gin.Context) {
				if tt.status >= http.StatusBadRequest {
					_ = c.Error(errors.New("upstream said no"))
				}
				c.Status(tt.status)
			})

			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

			entries := logs.FilterMessage(tt.message).All()
			if len(entries) != 1 {
				t.Fatalf("expected one %q entry, got %d", tt.message, len(entries))
			}
			if entries[0].Level != tt.level {
				t.Errorf("expected level %s, got %s", tt.level, entries[0].Level)
			}
			if tt.status >= http.StatusBadRequest {
				if _, ok := entries[0].ContextMap()["errors"]; !ok {
					t.Error("expected attached errors to be logged")
				}
			}
		})
	}
}

func TestIdempotency_PassesThroughWithoutKey(t *testing.T) {
	t.Parallel()

	calls := 0
	r := gin.New()
	r.Use(IdempotencyMiddleware(nil, 0, nil))
	handler := func(c *gin.Context) {
		calls++
		c.Status(http.StatusCreated)
	}
	r.POST("/charges", handler)
	r.GET("/charges", handler)

	for _, method := range []string{http.MethodPost, http.MethodGet} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, "/charges", nil))
		if w.Code != http.StatusCreated {
			t.Errorf("%s: expected 201, got %d", method, w.Code)
		}
		if w.Header().Get(replayHeader) != "" {
			t.Errorf("%s: unexpected replay header", method)
		}
	}
	if calls != 2 {
		t.Errorf("expected handler to run twice, got %d", calls)
	}
}

// ──────────────────────────────────────────────
// Idempotency against an in-memory store
// ──────────────────────────────────────────────

// memoryRedis implements the handful of commands the middleware uses.
// Anything else panics through the nil embedded interface.
type memoryRedis struct {
	redis.Cmdable
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: make(map[string]string)}
}

func (m *memoryRedis) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return redis.NewStringResult("", m.err)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memoryRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = stringValue(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = stringValue(value)
	return redis.NewBoolResult(true, nil)
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *memoryRedis) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func stringValue(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

// chargeRouter counts handler runs and answers with the given status.
func chargeRouter(store redis.Cmdable, status int) (*gin.Engine, *int) {
	calls := 0
	r := gin.New()
	r.Use(IdempotencyMiddleware(store, time.Hour, zap.NewNop()))
	r.POST("/charges", func(c *gin.Context) {
		calls++
		c.JSON(status, gin.H{"call": calls})
	})
	return r, &calls
}

func postCharge(r http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/charges", strings.NewReader(body))
	req.Header.Set(idempotencyHeader, key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	t.Parallel()
	store := newMemoryRedis()
	r, calls := chargeRouter(store, http.StatusCreated)

	first := postCharge(r, "order-1", `{"amount":100}`)
	second := postCharge(r, "order-1", `{"amount":100}`)

	if *calls != 1 {
		t.Fatalf("expected handler to run once, got %d", *calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Errorf("expected replay of %d %s, got %d %s", first.Code, first.Body, second.Code, second.Body)
	}
	if second.Header().Get(replayHeader) != "true" {
		t.Error("expected replay header on the second response")
	}
	if store.has("idempotency::POST:/charges:order-1:lock") {
		t.Error("expected the in-flight lock to be released")
	}
}

func TestIdempotency_RejectsKeyReusedWithDifferentBody(t *testing.T) {
	t.Parallel()
	r, calls := chargeRouter(newMemoryRedis(), http.StatusCreated)

	postCharge(r, "order-2", `{"amount":100}`)
	w := postCharge(r, "order-2", `{"amount":999}`)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "idempotency_key_reused") {
		t.Errorf("expected idempotency_key_reused code, got %s", w.Body)
	}
	if *calls != 1 {
		t.Errorf("expected handler to run once, got %d", *calls)
	}
}

func TestIdempotency_ConcurrentRequestIsRejected(t *testing.T) {
	t.Parallel()
	store := newMemoryRedis()
	store.data["idempotency::POST:/charges:order-3:lock"] = "other"
	r, calls := chargeRouter(store, http.StatusCreated)

	w := postCharge(r, "order-3", `{}`)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
	if *calls != 0 {
		t.Errorf("expected handler not to run, got %d", *calls)
	}
}

func TestIdempotency_ServerErrorsAreRetryable(t *testing.T) {
	t.Parallel()
	r, calls := chargeRouter(newMemoryRedis(), http.StatusBadGateway)

	postCharge(r, "order-4", `{}`)
	w := postCharge(r, "order-4", `{}`)

	if *calls != 2 {
		t.Errorf("expected a 5xx to be re-executed, got %d calls", *calls)
	}
	if w.Header().Get(replayHeader) != "" {
		t.Error("a 5xx must not be replayed")
	}
}

func TestIdempotency_StoreOutageFailsOpen(t *testing.T) {
	t.Parallel()
	store := newMemoryRedis()
	store.err = errors.New("connection refused")
	r, calls := chargeRouter(store, http.StatusCreated)

	for i := 0; i < 2; i++ {
		if w := postCharge(r, "order-5", `{}`); w.Code != http.StatusCreated {
			t.Errorf("attempt %d: expected 201, got %d", i, w.Code)
		}
	}
	if *calls != 2 {
		t.Errorf("expected both requests to reach the handler, got %d", *calls)
	}
}

func TestIdempotency_KeyTooLong(t *testing.T) {
	t.Parallel()
	r, _ := chargeRouter(newMemoryRedis(), http.StatusCreated)

	if w := postCharge(r, strings.Repeat("k", maxKeyLength+1), `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
