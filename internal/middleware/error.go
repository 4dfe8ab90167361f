package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/settlement-api/pkg/httputil"
)

// ErrorHandler renders errors a handler attached with c.Error but did not
// respond to. Handlers that already wrote a response are left alone.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		httputil.RespondWithError(c, c.Errors.Last().Err)
	}
}
