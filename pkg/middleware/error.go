package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Maelsh/dueli/pkg/errutil"
)

// Error maps service errors attached to the gin context onto HTTP responses.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil {
			return
		}

		var be errutil.BaseError
		if errors.As(last.Err, &be) {
			c.JSON(be.Status().HTTPStatus(), be.JSON())
			return
		}

		zap.L().Error("unhandled request error",
			zap.String("path", c.FullPath()),
			zap.Error(last.Err),
		)
		internal := errutil.Internal("internal server error", nil)
		var ibe errutil.BaseError
		errors.As(internal, &ibe)
		c.JSON(ibe.Status().HTTPStatus(), ibe.JSON())
	}
}
