package handler

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	invoiceapp "github.com/carlosmonteiro/serverless-commerce/internal/application/invoice"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/connection"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/gateway"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/logger"
	"github.com/carlosmonteiro/serverless-commerce/internal/interfaces/http/middleware"
)

// API Gateway route keys, as forwarded on /internal/gateway/:route.
const (
	RouteConnect    = "connect"
	RouteDisconnect = "disconnect"
	RouteDefault    = "default"
)

// ChannelSender replies to a client channel.
type ChannelSender interface {
	Send(ctx context.Context, connectionID string, msg connection.Message) error
}

// RegisterImportActions binds the client import actions to service.
func RegisterImportActions(d *gateway.Dispatcher, service *invoiceapp.ImportService) {
	d.Handle(gateway.ActionGetImportURL, func(ctx context.Context, connectionID string, req gateway.Request) error {
		_, err := service.RequestImport(ctx, connectionID, req.RequestID, req.Format)
		return err
	})
	d.Handle(gateway.ActionCancelImport, func(ctx context.Context, connectionID string, req gateway.Request) error {
		_, err := service.CancelImport(ctx, connectionID, req.TransactionID)
		return err
	})
}

// GatewayHandler receives the $connect, $disconnect and $default routes of
// an API Gateway WebSocket API, forwarded as HTTP calls carrying the
// connection id header.
type GatewayHandler struct {
	BaseHandler
	dispatcher *gateway.Dispatcher
	replies    ChannelSender
}

// NewGatewayHandler creates a new GatewayHandler
func NewGatewayHandler(dispatcher *gateway.Dispatcher, replies ChannelSender) *GatewayHandler {
	return &GatewayHandler{dispatcher: dispatcher, replies: replies}
}

// Route handles POST /internal/gateway/:route
func (h *GatewayHandler) Route(c *gin.Context) {
	connectionID := c.GetHeader(middleware.ConnectionIDHeader)
	if connectionID == "" {
		h.BadRequest(c, middleware.ConnectionIDHeader+" header is required")
		return
	}
	ctx := logger.WithConnectionID(c.Request.Context(), connectionID)

	var err error
	switch c.Param("route") {
	case RouteConnect:
		err = h.dispatcher.Connect(ctx, connectionID)
	case RouteDisconnect:
		err = h.dispatcher.Disconnect(ctx, connectionID)
	case RouteDefault:
		err = h.dispatch(ctx, c, connectionID)
	default:
		h.NotFound(c, "Unknown gateway route")
		return
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// dispatch runs the frame's action. A failed action is also reported to the
// client over its channel, since the HTTP response never reaches it.
func (h *GatewayHandler) dispatch(ctx context.Context, c *gin.Context, connectionID string) error {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return shared.ErrValidation.Withf("frame could not be read")
	}
	req, err := h.dispatcher.Dispatch(ctx, connectionID, body)
	if err == nil {
		return nil
	}

	reason := shared.CodeOf(err)
	if reason == "" {
		reason = "INTERNAL_ERROR"
	}
	reply := connection.Message{
		Type:          connection.TypeError,
		TransactionID: req.TransactionID,
		RequestID:     req.RequestID,
		Reason:        reason,
	}
	if sendErr := h.replies.Send(ctx, connectionID, reply); sendErr != nil {
		logger.GetGinLogger(c).Info("Could not report action failure to client",
			zap.String("action", req.Action), zap.Error(sendErr))
	}
	return err
}
