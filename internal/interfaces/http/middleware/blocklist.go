package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/logger"
	"github.com/carlosmonteiro/serverless-commerce/internal/interfaces/http/dto"
)

// Blocklist answers whether a requester e-mail is barred.
type Blocklist interface {
	IsBlocked(ctx context.Context, email string) bool
}

// BlockedRequester rejects requests whose JSON body names a blocked
// requester in field. The body is restored for the handler. Bodies without
// the field pass through and are left to binding validation.
func BlockedRequester(blocklist Blocklist, field string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body == nil {
			c.Next()
			return
		}
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeTooLarge, "Request body could not be read", RequestIDFrom(c)))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		email := gjson.GetBytes(body, field).String()
		if email != "" && blocklist.IsBlocked(c.Request.Context(), email) {
			logger.GetGinLogger(c).Warn("Rejected request from blocked requester",
				zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeForbidden, "Requester is blocked", RequestIDFrom(c)))
			return
		}
		c.Next()
	}
}
