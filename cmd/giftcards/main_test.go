package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/richxcame/giftcard-ledger/internal/giftcards"
	"github.com/richxcame/giftcard-ledger/internal/reporting"
	"github.com/richxcame/giftcard-ledger/internal/users"
	"github.com/richxcame/giftcard-ledger/pkg/config"
	"github.com/richxcame/giftcard-ledger/pkg/middleware"
	"github.com/richxcame/giftcard-ledger/pkg/models"
	"github.com/richxcame/giftcard-ledger/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-key-for-testing-only"

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.MaxBodyBytes = 1 << 20
	cfg.Server.RequestTimeout = 5
	cfg.Server.CORSOrigins = "http://localhost:3000"
	cfg.JWT.Secret = testJWTSecret
	return cfg
}

// setupTestRouter builds the production router over in-memory stores
func setupTestRouter(t *testing.T, g guards, checks map[string]func() error) (*gin.Engine, *giftcards.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := giftcards.NewMemoryStore(time.Second)
	directory := users.NewMemoryDirectory()
	ledger := giftcards.NewService(store, directory, nil, giftcards.DefaultPolicy())
	reports := reporting.NewService(store, reporting.NewMemoryAggregates(store), nil, "exports")

	router := newRouter(testConfig(), handlers{
		ledger:  giftcards.NewHandler(ledger),
		reports: reporting.NewHandler(reports),
		users:   users.NewHandler(directory),
	}, g, checks)
	return router, ledger
}

func generateTestToken(t *testing.T, userID uuid.UUID, role models.UserRole) string {
	t.Helper()
	claims := middleware.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

func do(router *gin.Engine, method, path, token string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		checks   map[string]func() error
		wantCode int
	}{
		{"healthz", "/healthz", nil, http.StatusOK},
		{"liveness", "/health/live", nil, http.StatusOK},
		{"ready with healthy deps", "/health/ready", map[string]func() error{"database": func() error { return nil }}, http.StatusOK},
		{"ready with failing deps", "/health/ready", map[string]func() error{"database": func() error { return errors.New("down") }}, http.StatusServiceUnavailable},
		{"metrics", "/metrics", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := setupTestRouter(t, guards{}, tt.checks)
			w := do(router, http.MethodGet, tt.endpoint, "", nil, nil)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestMiddlewareChain(t *testing.T) {
	router, _ := setupTestRouter(t, guards{}, nil)

	w := do(router, http.MethodGet, "/healthz", "", nil, map[string]string{middleware.CorrelationIDHeader: "req-123"})
	assert.Equal(t, "req-123", w.Header().Get(middleware.CorrelationIDHeader))
	assert.NotEmpty(t, w.Header().Get("X-Content-Type-Options"))

	w = do(router, http.MethodGet, "/healthz", "", nil, nil)
	assert.NotEmpty(t, w.Header().Get(middleware.CorrelationIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	router, _ := setupTestRouter(t, guards{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/cards/ABCD/redeem", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", middleware.IdempotencyKeyHeader)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRoutesRequireAuthentication(t *testing.T) {
	router, _ := setupTestRouter(t, guards{}, nil)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/cards"},
		{http.MethodPost, "/api/v1/cards/bulk"},
		{http.MethodPost, "/api/v1/cards/ABCD/redeem"},
		{http.MethodPost, "/api/v1/cards/ABCD/recharge"},
		{http.MethodPost, "/api/v1/cards/ABCD/transfer"},
		{http.MethodPut, "/api/v1/cards/ABCD/status"},
		{http.MethodPut, "/api/v1/cards/ABCD/owner"},
		{http.MethodPost, "/api/v1/cards/expire"},
		{http.MethodGet, "/api/v1/cards/ABCD"},
		{http.MethodGet, "/api/v1/cards/ABCD/transactions"},
		{http.MethodGet, "/api/v1/cards/ABCD/reconcile"},
		{http.MethodGet, "/api/v1/users/" + uuid.NewString()},
		{http.MethodGet, "/api/v1/users/" + uuid.NewString() + "/cards"},
		{http.MethodGet, "/api/v1/users/" + uuid.NewString() + "/activity"},
		{http.MethodPost, "/api/v1/users"},
		{http.MethodGet, "/api/v1/reports/summary"},
		{http.MethodPost, "/api/v1/reports/export"},
	}

	for _, r := range routes {
		t.Run(r.method+" "+r.path, func(t *testing.T) {
			w := do(router, r.method, r.path, "", nil, nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestIssueRedeemAndReadBack(t *testing.T) {
	router, _ := setupTestRouter(t, guards{}, nil)
	owner := uuid.New()
	admin := generateTestToken(t, uuid.New(), models.RoleAdmin)
	customer := generateTestToken(t, owner, models.RoleCustomer)

	w := do(router, http.MethodPost, "/api/v1/cards", admin, map[string]interface{}{
		"initial_balance": 50.00,
		"expires_on":      time.Now().AddDate(0, 6, 0).Format("2006-01-02"),
		"owner_id":        owner.String(),
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var issued struct {
		Data giftcards.Card `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	code := issued.Data.Code
	require.NotEmpty(t, code)

	w = do(router, http.MethodPost, "/api/v1/cards/"+code+"/redeem", customer, map[string]float64{"amount": 12.50}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(router, http.MethodGet, "/api/v1/cards/"+code, customer, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var card struct {
		Data giftcards.Card `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &card))
	assert.Equal(t, giftcards.Money(3750), card.Data.CurrentBalance)

	w = do(router, http.MethodGet, "/api/v1/users/"+owner.String()+"/cards", customer, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIdempotencyGuardOnMutations(t *testing.T) {
	client, mock := redismock.NewClientMock()
	router, ledger := setupTestRouter(t, guards{idempotency: redis.Wrap(client)}, nil)

	owner := uuid.New()
	card, err := ledger.IssueSingle(t.Context(), giftcards.IssueRequest{
		InitialBalance: 1000,
		ExpiresOn:      time.Now().AddDate(0, 1, 0),
		OwnerID:        &owner,
	})
	require.NoError(t, err)

	key := "idem:" + owner.String() + ":POST:/api/v1/cards/" + card.Code + "/redeem:retry-1"
	mock.ExpectSetNX(key, "pending", idempotencyTTL).SetVal(false)
	mock.ExpectGet(key).
		SetVal(`{"status":200,"body":{"success":true}}`)

	w := do(router, http.MethodPost, "/api/v1/cards/"+card.Code+"/redeem",
		generateTestToken(t, owner, models.RoleCustomer),
		map[string]float64{"amount": 1.00},
		map[string]string{middleware.IdempotencyKeyHeader: "retry-1"},
	)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get(middleware.IdempotentReplayHeader))
	assert.NoError(t, mock.ExpectationsWereMet())

	// the replayed request never reached the ledger
	current, err := ledger.Redeem(t.Context(), card.Code, owner, 1)
	require.NoError(t, err)
	assert.Equal(t, giftcards.Money(999), current.Card.CurrentBalance)
}

func TestCorsConfig_AllowsAllWhenUnset(t *testing.T) {
	c := corsConfig(config.ServerConfig{})
	assert.True(t, c.AllowAllOrigins)
	assert.Empty(t, c.AllowOrigins)

	c = corsConfig(config.ServerConfig{CORSOrigins: "https://a.example, https://b.example"})
	assert.False(t, c.AllowAllOrigins)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.AllowOrigins)
}
