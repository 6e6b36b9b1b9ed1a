package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replayed"
	userIDHeader      = "X-User-ID"
	maxKeyLength      = 255
	inFlightTTL       = time.Minute

	// DefaultIdempotencyTTL is used when no TTL is configured.
	DefaultIdempotencyTTL = 24 * time.Hour
)

// storedResponse is what a completed request leaves behind for its key.
type storedResponse struct {
	Fingerprint string          `json:"fingerprint"`
	Status      int             `json:"status"`
	ContentType string          `json:"content_type,omitempty"`
	Body        json.RawMessage `json:"body"`
}

// capturingWriter tees the handler's body so it can be stored.
type capturingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware makes mutating payment calls safe to retry. A request
// carrying an Idempotency-Key is fingerprinted by method, route and body:
//
//   - same key, same fingerprint: the stored response is replayed
//   - same key, different fingerprint: 422, the key belongs to another request
//   - same key while the first request is running: 409
//
// Keys are scoped to the caller and route. 5xx responses are not stored so
// the client can retry them. Redis errors disable the check for that request.
func IdempotencyMiddleware(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return func(c *gin.Context) {
		key := c.GetHeader(idempotencyHeader)
		if key == "" || !mutating(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > maxKeyLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "idempotency key is too long", "code": "invalid_request"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body", "code": "invalid_request"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		storeKey := "idempotency:" + c.GetHeader(userIDHeader) + ":" + c.Request.Method + ":" + c.FullPath() + ":" + key
		fingerprint := fingerprintRequest(c.Request.Method, c.Request.URL.Path, body)

		stored, err := loadResponse(ctx, client, storeKey)
		switch {
		case err != nil:
			logger.Warn("idempotency store unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		case stored != nil && stored.Fingerprint != fingerprint:
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
				"error": "idempotency key reused with different parameters",
				"code":  "idempotency_key_reused",
			})
			return
		case stored != nil:
			c.Header(replayHeader, "true")
			c.Data(stored.Status, stored.ContentType, stored.Body)
			c.Abort()
			return
		}

		lockKey := storeKey + ":lock"
		acquired, err := client.SetNX(ctx, lockKey, fingerprint, inFlightTTL).Result()
		if err != nil {
			logger.Warn("idempotency lock unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		if !acquired {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error": "a request with this idempotency key is in progress",
				"code":  "idempotency_in_progress",
			})
			return
		}
		defer client.Del(context.WithoutCancel(ctx), lockKey)

		w := &capturingWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		if w.Status() >= http.StatusInternalServerError {
			return
		}
		resp := storedResponse{
			Fingerprint: fingerprint,
			Status:      w.Status(),
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
		}
		if err := storeResponse(context.WithoutCancel(ctx), client, storeKey, &resp, ttl); err != nil {
			logger.Warn("failed to store idempotent response", zap.String("key", key), zap.Error(err))
		}
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func fingerprintRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// loadResponse returns (nil, nil) when nothing is stored under key.
func loadResponse(ctx context.Context, client redis.Cmdable, key string) (*storedResponse, error) {
	data, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var stored storedResponse
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func storeResponse(ctx context.Context, client redis.Cmdable, key string, resp *storedResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, data, ttl).Err()
}
