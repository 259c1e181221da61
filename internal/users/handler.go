package users

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richxcame/giftcard-ledger/pkg/common"
	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"github.com/richxcame/giftcard-ledger/pkg/middleware"
	"github.com/richxcame/giftcard-ledger/pkg/models"
	"go.uber.org/zap"
)

// Handler exposes card holder registration
type Handler struct {
	directory Directory
}

// NewHandler creates a new users handler
func NewHandler(directory Directory) *Handler {
	return &Handler{directory: directory}
}

// CreateUser registers a card holder
func (h *Handler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	user := &models.User{Handle: strings.TrimSpace(req.Handle), Email: strings.TrimSpace(req.Email)}
	if err := h.directory.CreateUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, ErrDuplicateUser) {
			common.ErrorResponse(c, http.StatusConflict, err.Error())
			return
		}
		logger.WithContext(c.Request.Context()).Error("failed to create user", zap.Error(err))
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to create user")
		return
	}

	common.CreatedResponse(c, user)
}

// GetUser returns a card holder. Customers may only read themselves.
func (h *Handler) GetUser(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid user id")
		return
	}

	if !CanViewUser(c, id) {
		common.ErrorResponse(c, http.StatusForbidden, "insufficient permissions")
		return
	}

	user, err := h.directory.GetUser(c.Request.Context(), id)
	if errors.Is(err, ErrUserNotFound) {
		common.ErrorResponse(c, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		logger.WithContext(c.Request.Context()).Error("failed to get user", zap.Error(err))
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to get user")
		return
	}

	common.SuccessResponse(c, user)
}

// CanViewUser allows admins and merchants to read any user, others only themselves
func CanViewUser(c *gin.Context, id uuid.UUID) bool {
	role, err := middleware.GetUserRole(c)
	if err == nil && (role == models.RoleAdmin || role == models.RoleMerchant) {
		return true
	}
	caller, err := middleware.GetUserID(c)
	return err == nil && caller == id
}

// RegisterRoutes registers user routes
func (h *Handler) RegisterRoutes(r *gin.Engine, jwtSecret string) {
	api := r.Group("/api/v1/users")
	api.Use(middleware.AuthMiddleware(jwtSecret))
	{
		api.GET("/:id", h.GetUser)
		api.POST("", middleware.RequireAdmin(), h.CreateUser)
	}
}
