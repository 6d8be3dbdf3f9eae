package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/logger"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/telemetry"
	"github.com/carlosmonteiro/serverless-commerce/internal/interfaces/http/handler"
	"github.com/carlosmonteiro/serverless-commerce/internal/interfaces/http/middleware"
)

// Options configures the engine's middleware stack.
type Options struct {
	Logger      *zap.Logger
	Metrics     *telemetry.Metrics
	Tracing     middleware.TracingConfig
	MaxBodySize int64
	// Blocklist, when set, rejects order events from blocked requesters
	// before they reach the publisher.
	Blocklist middleware.Blocklist
}

// Handlers are the mounted endpoints. Nil members leave their routes out.
type Handlers struct {
	System       *handler.SystemHandler
	Orders       *handler.OrderEventHandler
	BlockedUsers *handler.BlockedUserHandler
	Imports      *handler.InvoiceImportHandler
	Gateway      *handler.GatewayHandler
	WebSocket    http.Handler
}

// NewEngine builds the gin engine with the middleware stack in order:
// request id, panic recovery, tracing, access log, metrics.
func NewEngine(opts Options, h Handlers) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	middleware.SetupValidator()

	engine := gin.New()
	engine.Use(logger.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.Tracing(opts.Tracing), middleware.SpanEnricher())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.HTTPMetrics(opts.Metrics))

	if h.System != nil {
		engine.GET("/health", h.System.Health)
	}
	if opts.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}
	if h.WebSocket != nil {
		engine.GET("/ws", gin.WrapH(h.WebSocket))
	}
	// Upload size is bounded by the import handler, not the API body limit.
	if h.Imports != nil {
		engine.PUT("/uploads/*key", h.Imports.Upload)
	}

	internal := engine.Group("/internal", middleware.BodyLimit(opts.MaxBodySize))
	if h.Imports != nil {
		internal.POST("/blob-events", h.Imports.BlobEvents)
	}
	if h.Gateway != nil {
		internal.POST("/gateway/:route", h.Gateway.Route)
	}

	r := NewRouter(engine, WithAPIVersion("v1")).Use(middleware.BodyLimit(opts.MaxBodySize))
	if h.Orders != nil {
		publish := []gin.HandlerFunc{h.Orders.Publish}
		if opts.Blocklist != nil {
			publish = append([]gin.HandlerFunc{middleware.BlockedRequester(opts.Blocklist, "requesterEmail")}, publish...)
		}
		r.Register(NewDomainGroup("/orders").
			POST("/events", publish...).
			GET("/events", h.Orders.List))
	}
	if h.System != nil {
		r.Register(NewDomainGroup("/system").
			GET("/info", h.System.GetSystemInfo).
			GET("/dlq", h.System.DeadLetters))
	}
	if h.BlockedUsers != nil {
		r.Register(NewDomainGroup("/admin/blocked-users").
			GET("", h.BlockedUsers.List).
			POST("", h.BlockedUsers.Block).
			GET("/:email", h.BlockedUsers.Get).
			DELETE("/:email", h.BlockedUsers.Unblock))
	}
	r.Setup()

	return engine
}
