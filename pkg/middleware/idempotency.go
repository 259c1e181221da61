package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/giftcard-ledger/pkg/common"
	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"go.uber.org/zap"
)

const (
	// IdempotencyKeyHeader carries the client supplied retry key
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader marks a response served from the idempotency store
	IdempotentReplayHeader = "Idempotent-Replayed"

	idempotencyPending = "pending"
)

// IdempotencyStore is the subset of the Redis client the middleware needs
type IdempotencyStore interface {
	SetIfAbsent(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	GetString(ctx context.Context, key string) (string, error)
	SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type bodyRecorder struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the stored response when a mutation is retried with
// the same Idempotency-Key. Requests without the header pass through.
// Responses that ask the client to retry are not stored, so the retry
// reaches the handler.
func Idempotency(store IdempotencyStore, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := c.GetHeader(IdempotencyKeyHeader)
		if clientKey == "" || store == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := idempotencyStoreKey(c, clientKey)

		reserved, err := store.SetIfAbsent(ctx, key, idempotencyPending, ttl)
		if err != nil {
			logger.WithContext(ctx).Warn("idempotency store unavailable", zap.Error(err))
			c.Next()
			return
		}

		if !reserved {
			replayStoredResponse(c, store, key)
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = recorder
		c.Next()

		status := recorder.Status()
		if retryableStatus(status) {
			if err := store.Delete(ctx, key); err != nil {
				logger.WithContext(ctx).Warn("failed to release idempotency key", zap.Error(err))
			}
			return
		}

		body := recorder.body.Bytes()
		if len(body) == 0 {
			body = []byte("null")
		}
		payload, err := json.Marshal(storedResponse{Status: status, Body: body})
		if err == nil {
			err = store.SetWithExpiration(ctx, key, payload, ttl)
		}
		if err != nil {
			logger.WithContext(ctx).Warn("failed to store idempotent response", zap.Error(err))
		}
	}
}

// retryableStatus covers server errors and the transient 4xx answers:
// request timeouts, lock contention and rate limiting
func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return status >= http.StatusInternalServerError
}

func replayStoredResponse(c *gin.Context, store IdempotencyStore, key string) {
	raw, err := store.GetString(c.Request.Context(), key)
	if err != nil || raw == idempotencyPending {
		common.ErrorResponse(c, http.StatusConflict, "a request with this idempotency key is already in progress")
		c.Abort()
		return
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		common.ErrorResponse(c, http.StatusConflict, "a request with this idempotency key is already in progress")
		c.Abort()
		return
	}

	c.Header(IdempotentReplayHeader, "true")
	c.Data(stored.Status, "application/json; charset=utf-8", stored.Body)
	c.Abort()
}

func idempotencyStoreKey(c *gin.Context, clientKey string) string {
	caller := c.ClientIP()
	if userID, err := GetUserID(c); err == nil {
		caller = userID.String()
	}
	return "idem:" + caller + ":" + c.Request.Method + ":" + c.Request.URL.Path + ":" + clientKey
}
