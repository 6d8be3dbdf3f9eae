package handler

import (
	"github.com/gin-gonic/gin"

	orderapp "github.com/carlosmonteiro/serverless-commerce/internal/application/order"
	"github.com/carlosmonteiro/serverless-commerce/internal/interfaces/http/dto"
)

// OrderEventHandler publishes order events and serves the requester query
type OrderEventHandler struct {
	BaseHandler
	publisher *orderapp.EventPublisher
	query     *orderapp.QueryService
}

// NewOrderEventHandler creates a new OrderEventHandler
func NewOrderEventHandler(publisher *orderapp.EventPublisher, query *orderapp.QueryService) *OrderEventHandler {
	return &OrderEventHandler{publisher: publisher, query: query}
}

// Publish handles POST /orders/events. A 202 means the topic accepted the
// event; subscriber delivery happens afterwards.
func (h *OrderEventHandler) Publish(c *gin.Context) {
	var req dto.PublishOrderEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	result, err := h.publisher.PublishInput(c.Request.Context(), orderapp.PublishInput{
		EventType:      req.EventType,
		OrderID:        req.OrderID,
		RequesterEmail: req.RequesterEmail,
		Payload:        req.Payload,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, result)
}

// List handles GET /orders/events?email=&eventType=&cursor=&limit=
func (h *OrderEventHandler) List(c *gin.Context) {
	var q orderapp.EventQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.ValidationError(c, err)
		return
	}

	page, err := h.query.List(c.Request.Context(), q)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithCursor(c, dto.NewOrderEventResponses(page.Entries), len(page.Entries), page.NextCursor)
}
