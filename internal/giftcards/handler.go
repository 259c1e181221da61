package giftcards

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/giftcard-ledger/pkg/common"
	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"github.com/richxcame/giftcard-ledger/pkg/middleware"
	"github.com/richxcame/giftcard-ledger/pkg/models"
	"github.com/richxcame/giftcard-ledger/pkg/tracing"
	"github.com/richxcame/giftcard-ledger/pkg/validation"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for ledger mutations
type Handler struct {
	service *Service
}

// NewHandler creates a new gift card handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// IssueCard issues a single active card
// POST /api/v1/cards
func (h *Handler) IssueCard(c *gin.Context) {
	var req IssueCardRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	expiresOn, _ := time.Parse(validation.DateLayout, req.ExpiresOn)
	card, err := h.service.IssueSingle(c.Request.Context(), IssueRequest{
		InitialBalance: MoneyFromFloat(req.InitialBalance),
		ExpiresOn:      expiresOn,
		OwnerID:        req.OwnerID,
	})
	if err != nil {
		h.respondError(c, err, "failed to issue card")
		return
	}

	common.CreatedResponse(c, card)
}

// IssueBulk issues a batch of inactive cards
// POST /api/v1/cards/bulk
func (h *Handler) IssueBulk(c *gin.Context) {
	var req BulkIssueCardsRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	expiresOn, _ := time.Parse(validation.DateLayout, req.ExpiresOn)
	cards, err := h.service.IssueBulk(c.Request.Context(), BulkIssueRequest{
		Count:          req.Count,
		InitialBalance: MoneyFromFloat(req.InitialBalance),
		ExpiresOn:      expiresOn,
		OwnerID:        req.OwnerID,
	})
	if err != nil {
		h.respondError(c, err, "failed to issue cards")
		return
	}

	common.CreatedResponse(c, gin.H{
		"count": len(cards),
		"cards": cards,
	})
}

// Redeem debits the caller's card
// POST /api/v1/cards/:code/redeem
func (h *Handler) Redeem(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req AmountRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	result, err := h.service.Redeem(c.Request.Context(), c.Param("code"), userID, MoneyFromFloat(req.Amount))
	if err != nil {
		h.respondError(c, err, "failed to redeem card")
		return
	}

	h.respondResult(c, result)
}

// Recharge credits a card
// POST /api/v1/cards/:code/recharge
func (h *Handler) Recharge(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req AmountRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	result, err := h.service.Recharge(c.Request.Context(), c.Param("code"), userID, MoneyFromFloat(req.Amount))
	if err != nil {
		h.respondError(c, err, "failed to recharge card")
		return
	}

	h.respondResult(c, result)
}

// Transfer hands the caller's card to another user
// POST /api/v1/cards/:code/transfer
func (h *Handler) Transfer(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req TransferRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	result, err := h.service.Transfer(c.Request.Context(), c.Param("code"), userID, req.ToUserID)
	if err != nil {
		h.respondError(c, err, "failed to transfer card")
		return
	}

	h.respondResult(c, result)
}

// SetStatus overwrites a card status
// PUT /api/v1/cards/:code/status
func (h *Handler) SetStatus(c *gin.Context) {
	var req SetStatusRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	result, err := h.service.SetStatus(c.Request.Context(), c.Param("code"), CardStatus(req.Status))
	if err != nil {
		h.respondError(c, err, "failed to update status")
		return
	}

	h.respondResult(c, result)
}

// AssignOwner overwrites a card owner
// PUT /api/v1/cards/:code/owner
func (h *Handler) AssignOwner(c *gin.Context) {
	var req AssignOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.AssignOwner(c.Request.Context(), c.Param("code"), req.UserID)
	if err != nil {
		h.respondError(c, err, "failed to assign owner")
		return
	}

	h.respondResult(c, result)
}

// ExpireDue runs the expiry sweep on demand
// POST /api/v1/cards/expire
func (h *Handler) ExpireDue(c *gin.Context) {
	n, err := h.service.ExpireDue(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "failed to expire cards")
		return
	}

	common.SuccessResponse(c, gin.H{"expired": n})
}

// respondResult renders a policy rejection as an error envelope
func (h *Handler) respondResult(c *gin.Context, result *Result) {
	if result.Success {
		common.SuccessResponse(c, result)
		return
	}

	status := http.StatusUnprocessableEntity
	switch result.Message {
	case MsgCardNotFound, MsgUserNotFound:
		status = http.StatusNotFound
	case MsgNotOwned, MsgNotAssigned:
		status = http.StatusForbidden
	}
	common.ErrorResponse(c, status, result.Message)
}

func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrValidation):
		common.AppErrorResponse(c, common.NewBadRequestError(err.Error(), err))
	case errors.Is(err, ErrNotFound):
		common.AppErrorResponse(c, common.NewNotFoundError(err.Error(), err))
	case errors.Is(err, ErrContention):
		common.AppErrorResponse(c, common.NewConflictError("card is busy, retry the request"))
	case errors.Is(err, ErrGenerationExhausted):
		common.AppErrorResponse(c, common.NewServiceUnavailableError("could not allocate a card code", err))
	default:
		logger.WithContext(c.Request.Context()).Error(fallback, zap.Error(err))
		tracing.CaptureGinError(c, err)
		common.ErrorResponse(c, http.StatusInternalServerError, fallback)
	}
}

// RegisterRoutes registers ledger mutation routes. guards run on the
// balance-changing routes after authentication, typically rate limiting
// and idempotency.
func (h *Handler) RegisterRoutes(r *gin.Engine, jwtSecret string, guards ...gin.HandlerFunc) {
	cards := r.Group("/api/v1/cards")
	cards.Use(middleware.AuthMiddleware(jwtSecret))
	{
		balance := cards.Group("")
		balance.Use(guards...)
		balance.POST("/:code/redeem", h.Redeem)
		balance.POST("/:code/recharge", h.Recharge)
		balance.POST("/:code/transfer", h.Transfer)
	}

	issuers := r.Group("/api/v1/cards")
	issuers.Use(middleware.AuthMiddleware(jwtSecret))
	issuers.Use(middleware.RequireRole(models.RoleAdmin, models.RoleMerchant))
	{
		issuers.POST("", h.IssueCard)
		issuers.POST("/bulk", h.IssueBulk)
	}

	admin := r.Group("/api/v1/cards")
	admin.Use(middleware.AuthMiddleware(jwtSecret))
	admin.Use(middleware.RequireAdmin())
	{
		admin.PUT("/:code/status", h.SetStatus)
		admin.PUT("/:code/owner", h.AssignOwner)
		admin.POST("/expire", h.ExpireDue)
	}
}
