package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/giftcard-ledger/pkg/common"
	"github.com/richxcame/giftcard-ledger/pkg/validation"
)

// ValidateAndBind decodes the JSON body into req and validates it. On failure
// it writes a 400 and returns false.
func ValidateAndBind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return validated(c, req)
}

// ValidateAndBindQuery is ValidateAndBind for query parameters
func ValidateAndBindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid query: "+err.Error())
		return false
	}
	return validated(c, req)
}

func validated(c *gin.Context, req interface{}) bool {
	err := validation.ValidateStruct(req)
	if err == nil {
		return true
	}

	var valErr *validation.ValidationError
	if errors.As(err, &valErr) {
		c.JSON(http.StatusBadRequest, common.Response{
			Error: &common.ErrorInfo{Code: http.StatusBadRequest, Message: "validation failed"},
			Meta:  gin.H{"fields": valErr.Errors},
		})
		return false
	}
	common.ErrorResponse(c, http.StatusBadRequest, err.Error())
	return false
}

// MaxBodySize rejects bodies larger than maxSize with 413 before any handler
// starts a ledger operation
func MaxBodySize(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body == nil || c.Request.Body == http.NoBody {
			c.Next()
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxSize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				common.ErrorResponse(c, http.StatusRequestEntityTooLarge, "request body too large")
				c.Abort()
				return
			}
			common.ErrorResponse(c, http.StatusBadRequest, "failed to read request body")
			c.Abort()
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}
