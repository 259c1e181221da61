package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/richxcame/giftcard-ledger/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const idemTTL = time.Hour

func idempotentRouter(store IdempotencyStore, status int, calls *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/cards/:code/redeem", Idempotency(store, idemTTL), func(c *gin.Context) {
		*calls++
		c.JSON(status, gin.H{"success": status < 400})
	})
	return r
}

func redeemRequest(key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/cards/ABCD/redeem", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	return req
}

func TestIdempotency_NoHeaderPassesThrough(t *testing.T) {
	client, mock := redismock.NewClientMock()
	calls := 0
	router := idempotentRouter(redis.Wrap(client), http.StatusOK, &calls)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, redeemRequest(""))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_StoresFirstResponse(t *testing.T) {
	client, mock := redismock.NewClientMock()
	key := "idem:10.0.0.1:POST:/cards/ABCD/redeem:abc"

	stored, err := json.Marshal(storedResponse{Status: http.StatusOK, Body: []byte(`{"success":true}`)})
	require.NoError(t, err)

	mock.ExpectSetNX(key, idempotencyPending, idemTTL).SetVal(true)
	mock.ExpectSet(key, stored, idemTTL).SetVal("OK")

	calls := 0
	router := idempotentRouter(redis.Wrap(client), http.StatusOK, &calls)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, redeemRequest("abc"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	client, mock := redismock.NewClientMock()
	key := "idem:10.0.0.1:POST:/cards/ABCD/redeem:abc"

	stored, err := json.Marshal(storedResponse{Status: http.StatusUnprocessableEntity, Body: []byte(`{"success":false}`)})
	require.NoError(t, err)

	mock.ExpectSetNX(key, idempotencyPending, idemTTL).SetVal(false)
	mock.ExpectGet(key).SetVal(string(stored))

	calls := 0
	router := idempotentRouter(redis.Wrap(client), http.StatusOK, &calls)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, redeemRequest("abc"))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "true", w.Header().Get(IdempotentReplayHeader))
	assert.JSONEq(t, `{"success":false}`, w.Body.String())
	assert.Equal(t, 0, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_InFlightConflict(t *testing.T) {
	client, mock := redismock.NewClientMock()
	key := "idem:10.0.0.1:POST:/cards/ABCD/redeem:abc"

	mock.ExpectSetNX(key, idempotencyPending, idemTTL).SetVal(false)
	mock.ExpectGet(key).SetVal(idempotencyPending)

	calls := 0
	router := idempotentRouter(redis.Wrap(client), http.StatusOK, &calls)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, redeemRequest("abc"))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 0, calls)
}

func TestIdempotency_ServerErrorReleasesKey(t *testing.T) {
	client, mock := redismock.NewClientMock()
	key := "idem:10.0.0.1:POST:/cards/ABCD/redeem:abc"

	mock.ExpectSetNX(key, idempotencyPending, idemTTL).SetVal(true)
	mock.ExpectDel(key).SetVal(1)

	calls := 0
	router := idempotentRouter(redis.Wrap(client), http.StatusInternalServerError, &calls)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, redeemRequest("abc"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_RetryableStatusReleasesKey(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"request timeout", http.StatusRequestTimeout},
		{"card busy", http.StatusConflict},
		{"rate limited", http.StatusTooManyRequests},
		{"bad gateway", http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := redismock.NewClientMock()
			key := "idem:10.0.0.1:POST:/cards/ABCD/redeem:abc"

			mock.ExpectSetNX(key, idempotencyPending, idemTTL).SetVal(true)
			mock.ExpectDel(key).SetVal(1)

			calls := 0
			router := idempotentRouter(redis.Wrap(client), tt.status, &calls)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, redeemRequest("abc"))

			assert.Equal(t, tt.status, w.Code)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestIdempotency_ContentionThenRetryReachesHandler(t *testing.T) {
	client, mock := redismock.NewClientMock()
	key := "idem:10.0.0.1:POST:/cards/ABCD/redeem:abc"

	stored, err := json.Marshal(storedResponse{Status: http.StatusOK, Body: []byte(`{"success":true}`)})
	require.NoError(t, err)

	mock.ExpectSetNX(key, idempotencyPending, idemTTL).SetVal(true)
	mock.ExpectDel(key).SetVal(1)
	mock.ExpectSetNX(key, idempotencyPending, idemTTL).SetVal(true)
	mock.ExpectSet(key, stored, idemTTL).SetVal("OK")

	gin.SetMode(gin.TestMode)
	calls := 0
	router := gin.New()
	router.POST("/cards/:code/redeem", Idempotency(redis.Wrap(client), idemTTL), func(c *gin.Context) {
		calls++
		if calls == 1 {
			c.JSON(http.StatusConflict, gin.H{"success": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, redeemRequest("abc"))
	require.Equal(t, http.StatusConflict, first.Code)

	retry := httptest.NewRecorder()
	router.ServeHTTP(retry, redeemRequest("abc"))

	assert.Equal(t, http.StatusOK, retry.Code)
	assert.Empty(t, retry.Header().Get(IdempotentReplayHeader))
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_StoreUnavailableFailsOpen(t *testing.T) {
	client, mock := redismock.NewClientMock()
	key := "idem:10.0.0.1:POST:/cards/ABCD/redeem:abc"
	mock.ExpectSetNX(key, idempotencyPending, idemTTL).SetErr(errors.New("connection refused"))

	calls := 0
	router := idempotentRouter(redis.Wrap(client), http.StatusOK, &calls)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, redeemRequest("abc"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)
}
