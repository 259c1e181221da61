package reporting

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/richxcame/giftcard-ledger/internal/giftcards"
	"github.com/richxcame/giftcard-ledger/pkg/middleware"
	"github.com/richxcame/giftcard-ledger/pkg/models"
	"github.com/richxcame/giftcard-ledger/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "reporting-test-secret"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
}

func setupRouter(t *testing.T, exports storage.Storage) (*gin.Engine, *ledgerFixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newFixture(t, exports)
	router := gin.New()
	NewHandler(f.reports).RegisterRoutes(router, testJWTSecret)
	return router, f
}

func bearer(t *testing.T, userID uuid.UUID, role models.UserRole) string {
	t.Helper()
	claims := middleware.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func performRequest(router *gin.Engine, method, path, auth string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestHandler_CardVisibility(t *testing.T) {
	router, f := setupRouter(t, nil)

	tests := []struct {
		name       string
		path       string
		auth       string
		wantStatus int
	}{
		{"owner sees card", "/api/v1/cards/" + f.aliceA.Code, bearer(t, f.alice, models.RoleCustomer), http.StatusOK},
		{"lowercase code", "/api/v1/cards/" + strings.ToLower(f.aliceA.Code), bearer(t, f.alice, models.RoleCustomer), http.StatusOK},
		{"stranger is forbidden", "/api/v1/cards/" + f.aliceA.Code, bearer(t, uuid.New(), models.RoleCustomer), http.StatusForbidden},
		{"previous owner is forbidden", "/api/v1/cards/" + f.aliceB.Code, bearer(t, f.alice, models.RoleCustomer), http.StatusForbidden},
		{"merchant sees any card", "/api/v1/cards/" + f.aliceB.Code, bearer(t, uuid.New(), models.RoleMerchant), http.StatusOK},
		{"unknown card", "/api/v1/cards/NOPE", bearer(t, uuid.New(), models.RoleAdmin), http.StatusNotFound},
		{"no token", "/api/v1/cards/" + f.aliceA.Code, "", http.StatusUnauthorized},
		{"history for owner", "/api/v1/cards/" + f.aliceA.Code + "/transactions", bearer(t, f.alice, models.RoleCustomer), http.StatusOK},
		{"history for stranger", "/api/v1/cards/" + f.aliceA.Code + "/transactions", bearer(t, f.bob, models.RoleCustomer), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := performRequest(router, http.MethodGet, tt.path, tt.auth, nil)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestHandler_CardHistory(t *testing.T) {
	router, f := setupRouter(t, nil)

	w, env := performRequest(router, http.MethodGet, "/api/v1/cards/"+f.aliceA.Code+"/transactions?limit=1",
		bearer(t, f.alice, models.RoleCustomer), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var records []giftcards.Transaction
	require.NoError(t, json.Unmarshal(env.Data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, giftcards.TxRedemption, records[0].Type)
	assert.Equal(t, giftcards.Money(2000), records[0].Amount)

	var meta struct {
		Limit   int  `json:"limit"`
		HasMore bool `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(env.Meta, &meta))
	assert.Equal(t, 1, meta.Limit)
	assert.True(t, meta.HasMore)
}

func TestHandler_Reconcile(t *testing.T) {
	router, f := setupRouter(t, nil)
	path := "/api/v1/cards/" + f.aliceA.Code + "/reconcile"

	w, _ := performRequest(router, http.MethodGet, path, bearer(t, f.alice, models.RoleCustomer), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := performRequest(router, http.MethodGet, path, bearer(t, uuid.New(), models.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var rec Reconciliation
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.True(t, rec.Consistent)
	assert.Equal(t, giftcards.Money(8500), rec.StoredBalance)
	assert.Equal(t, 2, rec.Entries)
}

func TestHandler_UserCards(t *testing.T) {
	router, f := setupRouter(t, nil)

	tests := []struct {
		name       string
		path       string
		auth       string
		wantStatus int
		wantCards  int
	}{
		{"own cards", "/api/v1/users/" + f.alice.String() + "/cards", bearer(t, f.alice, models.RoleCustomer), http.StatusOK, 1},
		{"admin views another user", "/api/v1/users/" + f.bob.String() + "/cards", bearer(t, uuid.New(), models.RoleAdmin), http.StatusOK, 1},
		{"customer views another user", "/api/v1/users/" + f.bob.String() + "/cards", bearer(t, f.alice, models.RoleCustomer), http.StatusForbidden, 0},
		{"bad user id", "/api/v1/users/not-a-uuid/cards", bearer(t, f.alice, models.RoleAdmin), http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := performRequest(router, http.MethodGet, tt.path, tt.auth, nil)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			var cards []giftcards.Card
			require.NoError(t, json.Unmarshal(env.Data, &cards))
			assert.Len(t, cards, tt.wantCards)
		})
	}
}

func TestHandler_UserActivity(t *testing.T) {
	router, f := setupRouter(t, nil)
	auth := bearer(t, f.alice, models.RoleCustomer)
	base := "/api/v1/users/" + f.alice.String() + "/activity"

	tests := []struct {
		name          string
		query         string
		wantStatus    int
		wantRedeemed  giftcards.Money
		wantRecharged giftcards.Money
	}{
		{"all time", "", http.StatusOK, 3000, 500},
		{"single inclusive day", "?from=2026-03-01&to=2026-03-01", http.StatusOK, 2000, 500},
		{"later days", "?from=2026-03-02&to=2026-03-31", http.StatusOK, 1000, 0},
		{"bad date", "?from=03/01/2026", http.StatusBadRequest, 0, 0},
		{"inverted range", "?from=2026-03-05&to=2026-03-01", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := performRequest(router, http.MethodGet, base+tt.query, auth, nil)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			var activity Activity
			require.NoError(t, json.Unmarshal(env.Data, &activity))
			assert.Equal(t, tt.wantRedeemed, activity.Redeemed)
			assert.Equal(t, tt.wantRecharged, activity.Recharged)
		})
	}
}

func TestHandler_Summary(t *testing.T) {
	router, _ := setupRouter(t, nil)

	w, _ := performRequest(router, http.MethodGet, "/api/v1/reports/summary", bearer(t, uuid.New(), models.RoleMerchant), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := performRequest(router, http.MethodGet, "/api/v1/reports/summary", bearer(t, uuid.New(), models.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var summary Summary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, int64(3), summary.TotalCards)
	assert.Equal(t, giftcards.Money(15000), summary.Outstanding)
}

func TestHandler_Export(t *testing.T) {
	admin := func(t *testing.T) string { return bearer(t, uuid.New(), models.RoleAdmin) }

	t.Run("storage not configured", func(t *testing.T) {
		router, _ := setupRouter(t, nil)
		w, _ := performRequest(router, http.MethodPost, "/api/v1/reports/export", admin(t), nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		router, _ := setupRouter(t, &mockStorage{})
		w, _ := performRequest(router, http.MethodPost, "/api/v1/reports/export", admin(t),
			map[string]string{"from": "yesterday"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("uploads csv", func(t *testing.T) {
		exports := &mockStorage{}
		exports.On("Upload", mock.Anything, mock.Anything, mock.Anything, storage.ContentTypeCSV).Return(&storage.UploadResult{}, nil)
		exports.On("GetPresignedDownloadURL", mock.Anything, mock.Anything, exportURLExpiry).
			Return(&storage.PresignedURLResult{URL: "https://signed.example.com/export"}, nil)
		router, _ := setupRouter(t, exports)

		w, env := performRequest(router, http.MethodPost, "/api/v1/reports/export", admin(t),
			map[string]string{"from": "2026-03-01", "to": "2026-03-01"})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var result ExportResult
		require.NoError(t, json.Unmarshal(env.Data, &result))
		assert.Equal(t, 2, result.Rows)
		assert.Equal(t, "https://signed.example.com/export", result.URL)
		exports.AssertExpectations(t)
	})
}
