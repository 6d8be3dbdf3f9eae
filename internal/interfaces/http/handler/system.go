package handler

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/queue"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/logger"
	"github.com/carlosmonteiro/serverless-commerce/internal/interfaces/http/dto"
)

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

// SystemHandler serves health, build info and dead-letter inspection
type SystemHandler struct {
	BaseHandler
	name       string
	version    string
	startTime  time.Time
	deadLetter queue.Queue
	extraDLQs  map[string]queue.Queue
	checks     map[string]HealthCheck
}

// NewSystemHandler creates a new SystemHandler. deadLetter may be nil when
// no queue-backed subscription is configured.
func NewSystemHandler(name, version string, deadLetter queue.Queue) *SystemHandler {
	return &SystemHandler{
		name:       name,
		version:    version,
		startTime:  time.Now(),
		deadLetter: deadLetter,
		extraDLQs:  make(map[string]queue.Queue),
		checks:     make(map[string]HealthCheck),
	}
}

// AddDeadLetterQueue exposes another DLQ, selected by ?queue=<name>.
func (h *SystemHandler) AddDeadLetterQueue(q queue.Queue) {
	h.extraDLQs[q.Name()] = q
}

// AddCheck registers a dependency check reported by Health.
func (h *SystemHandler) AddCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

// GetSystemInfo handles GET /system/info
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	h.Success(c, SystemInfoResponse{
		Name:      h.name,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Health handles GET /health. Every registered check runs with a short
// deadline; any failure turns the response into a 503.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := gin.H{}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			logger.GetGinLogger(c).Warn("Health check failed", zap.String("check", name), zap.Error(err))
			results[name] = "error"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status": state,
		"time":   time.Now().UTC().Format(time.RFC3339),
		"checks": results,
	})
}

// DeadLetters handles GET /system/dlq?limit=&queue=. Messages are only
// peeked: their visibility and receive count are untouched. Without a queue
// parameter the order-events DLQ is read.
func (h *SystemHandler) DeadLetters(c *gin.Context) {
	dlq := h.deadLetter
	if name := c.Query("queue"); name != "" && (dlq == nil || name != dlq.Name()) {
		dlq = h.extraDLQs[name]
	}
	if dlq == nil {
		h.NotFound(c, "No dead-letter queue is configured")
		return
	}

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			h.BadRequest(c, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	msgs, err := dlq.Peek(c.Request.Context(), limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]dto.DeadLetterResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, dto.NewDeadLetterResponse(m))
	}
	h.Success(c, gin.H{"queue": dlq.Name(), "messages": out})
}
