package reporting

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richxcame/giftcard-ledger/internal/giftcards"
	"github.com/richxcame/giftcard-ledger/internal/users"
	"github.com/richxcame/giftcard-ledger/pkg/common"
	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"github.com/richxcame/giftcard-ledger/pkg/middleware"
	"github.com/richxcame/giftcard-ledger/pkg/models"
	"github.com/richxcame/giftcard-ledger/pkg/pagination"
	"github.com/richxcame/giftcard-ledger/pkg/tracing"
	"github.com/richxcame/giftcard-ledger/pkg/validation"
	"go.uber.org/zap"
)

// Handler serves read-only ledger queries
type Handler struct {
	service *Service
}

// NewHandler creates a new reporting handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// GetCard returns a card
// GET /api/v1/cards/:code
func (h *Handler) GetCard(c *gin.Context) {
	card, ok := h.visibleCard(c)
	if !ok {
		return
	}
	common.SuccessResponse(c, card)
}

// CardHistory returns a page of the card's transaction log
// GET /api/v1/cards/:code/transactions
func (h *Handler) CardHistory(c *gin.Context) {
	card, ok := h.visibleCard(c)
	if !ok {
		return
	}

	params := pagination.ParseParams(c)
	records, hasMore, err := h.service.CardHistory(c.Request.Context(), card.Code, params.Limit, params.Offset)
	if err != nil {
		h.respondError(c, err, "failed to load card history")
		return
	}

	common.SuccessResponseWithMeta(c, records, gin.H{
		"limit":    params.Limit,
		"offset":   params.Offset,
		"has_more": hasMore,
	})
}

// Reconcile replays a card's log against its stored balance
// GET /api/v1/cards/:code/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	rec, err := h.service.ReplayBalance(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err, "failed to reconcile card")
		return
	}
	common.SuccessResponse(c, rec)
}

// UserCards lists the cards a user owns
// GET /api/v1/users/:id/cards
func (h *Handler) UserCards(c *gin.Context) {
	userID, ok := visibleUser(c)
	if !ok {
		return
	}

	params := pagination.ParseParams(c)
	cards, total, err := h.service.ListUserCards(c.Request.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		h.respondError(c, err, "failed to list user cards")
		return
	}

	common.SuccessResponseWithMeta(c, cards, pagination.BuildMeta(params.Limit, params.Offset, total))
}

// UserActivity totals a user's ledger activity
// GET /api/v1/users/:id/activity?from=2026-01-01&to=2026-02-01
func (h *Handler) UserActivity(c *gin.Context) {
	userID, ok := visibleUser(c)
	if !ok {
		return
	}

	var q PeriodQuery
	if !middleware.ValidateAndBindQuery(c, &q) {
		return
	}
	from, to, err := parsePeriod(q.From, q.To)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	activity, err := h.service.UserActivity(c.Request.Context(), userID, from, to)
	if err != nil {
		h.respondError(c, err, "failed to load user activity")
		return
	}
	common.SuccessResponse(c, activity)
}

// Summary returns the ledger position per status
// GET /api/v1/reports/summary
func (h *Handler) Summary(c *gin.Context) {
	summary, err := h.service.Summary(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "failed to build summary")
		return
	}
	common.SuccessResponse(c, summary)
}

// Export uploads a CSV of the transaction log
// POST /api/v1/reports/export
func (h *Handler) Export(c *gin.Context) {
	var req ExportRequest
	if c.Request.ContentLength != 0 && !middleware.ValidateAndBind(c, &req) {
		return
	}
	from, to, err := parsePeriod(req.From, req.To)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.ExportTransactions(c.Request.Context(), from, to)
	if err != nil {
		h.respondError(c, err, "failed to export transactions")
		return
	}
	common.CreatedResponse(c, result)
}

// visibleCard loads the card in the path and checks the caller may see it.
// Customers only see cards they own.
func (h *Handler) visibleCard(c *gin.Context) (*giftcards.Card, bool) {
	card, err := h.service.GetCard(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err, "failed to load card")
		return nil, false
	}

	role, _ := middleware.GetUserRole(c)
	if role == models.RoleAdmin || role == models.RoleMerchant {
		return card, true
	}
	caller, err := middleware.GetUserID(c)
	if err != nil || !card.OwnedBy(caller) {
		common.ErrorResponse(c, http.StatusForbidden, giftcards.MsgNotOwned)
		return nil, false
	}
	return card, true
}

func visibleUser(c *gin.Context) (uuid.UUID, bool) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid user id")
		return uuid.Nil, false
	}
	if !users.CanViewUser(c, userID) {
		common.ErrorResponse(c, http.StatusForbidden, "insufficient permissions")
		return uuid.Nil, false
	}
	return userID, true
}

// parsePeriod turns optional dates into [from, to) bounds. to is inclusive
// on the wire so it is moved to the start of the next day.
func parsePeriod(fromRaw, toRaw string) (time.Time, time.Time, error) {
	var from, to time.Time
	if fromRaw != "" {
		parsed, err := time.Parse(validation.DateLayout, fromRaw)
		if err != nil {
			return from, to, errors.New("invalid from date")
		}
		from = parsed
	}
	if toRaw != "" {
		parsed, err := time.Parse(validation.DateLayout, toRaw)
		if err != nil {
			return from, to, errors.New("invalid to date")
		}
		to = parsed.AddDate(0, 0, 1)
	}
	return from, to, nil
}

func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, giftcards.ErrValidation):
		common.AppErrorResponse(c, common.NewBadRequestError(err.Error(), err))
	case errors.Is(err, giftcards.ErrNotFound):
		common.AppErrorResponse(c, common.NewNotFoundError(giftcards.MsgCardNotFound, err))
	case errors.Is(err, ErrExportUnavailable):
		common.AppErrorResponse(c, common.NewServiceUnavailableError(err.Error(), err))
	default:
		logger.WithContext(c.Request.Context()).Error(fallback, zap.Error(err))
		tracing.CaptureGinError(c, err)
		common.ErrorResponse(c, http.StatusInternalServerError, fallback)
	}
}

// RegisterRoutes registers the read-only query routes
func (h *Handler) RegisterRoutes(r *gin.Engine, jwtSecret string) {
	auth := middleware.AuthMiddleware(jwtSecret)

	cards := r.Group("/api/v1/cards", auth)
	{
		cards.GET("/:code", h.GetCard)
		cards.GET("/:code/transactions", h.CardHistory)
		cards.GET("/:code/reconcile", middleware.RequireAdmin(), h.Reconcile)
	}

	holders := r.Group("/api/v1/users", auth)
	{
		holders.GET("/:id/cards", h.UserCards)
		holders.GET("/:id/activity", h.UserActivity)
	}

	reports := r.Group("/api/v1/reports", auth, middleware.RequireAdmin())
	{
		reports.GET("/summary", h.Summary)
		reports.POST("/export", h.Export)
	}
}
