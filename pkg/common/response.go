package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the envelope returned by every JSON endpoint
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// ErrorInfo describes a failed request
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse writes a 200 response
func SuccessResponse(c *gin.Context, data interface{}) {
	SuccessResponseWithStatus(c, http.StatusOK, data)
}

// CreatedResponse writes a 201 response
func CreatedResponse(c *gin.Context, data interface{}) {
	SuccessResponseWithStatus(c, http.StatusCreated, data)
}

// SuccessResponseWithStatus writes a success envelope with a custom status
func SuccessResponseWithStatus(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// SuccessResponseWithMeta writes a 200 response carrying pagination metadata
func SuccessResponseWithMeta(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

// ErrorResponse writes an error envelope
func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	})
}

// AppErrorResponse writes an error envelope for an AppError
func AppErrorResponse(c *gin.Context, err *AppError) {
	ErrorResponse(c, err.Code, err.Message)
}
