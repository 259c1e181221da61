package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/giftcard-ledger/pkg/common"
	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"go.uber.org/zap"
)

// Recovery turns a panicking handler into a 500. Card locks are released by
// the deferred rollback in the ledger, so the request can be retried.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && err == http.ErrAbortHandler {
				panic(rec)
			}

			logger.WithContext(c.Request.Context()).Error("handler panicked",
				zap.Any("panic", rec),
				zap.String("route", c.FullPath()),
				zap.String("method", c.Request.Method),
				zap.Stack("stack"),
			)
			if !c.Writer.Written() {
				common.ErrorResponse(c, http.StatusInternalServerError, "internal server error")
			}
			c.Abort()
		}()

		c.Next()
	}
}
