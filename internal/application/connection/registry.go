package connection

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/connection"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/logger"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/telemetry"
)

// Registry tracks live client channels and pushes messages to them. A push
// to a channel the gateway no longer knows removes its directory row, so
// stale connections are cleaned up lazily.
type Registry struct {
	directory connection.Directory
	pusher    connection.Pusher
	logger    *zap.Logger
	metrics   *telemetry.Metrics
	now       func() time.Time
}

// NewRegistry creates a registry. metrics may be nil.
func NewRegistry(
	directory connection.Directory,
	pusher connection.Pusher,
	logger *zap.Logger,
	metrics *telemetry.Metrics,
) *Registry {
	return &Registry{
		directory: directory,
		pusher:    pusher,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// OnConnect records a newly opened channel.
func (r *Registry) OnConnect(ctx context.Context, connectionID string) error {
	if connectionID == "" {
		return shared.ErrValidation.Withf("connection id is required")
	}
	conn := connection.Connection{ConnectionID: connectionID, EstablishedAt: r.now().UTC()}
	if err := r.directory.Put(ctx, conn); err != nil {
		logger.L(ctx, r.logger).Error("Failed to register connection",
			zap.String("connection_id", connectionID),
			zap.Error(err))
		return err
	}
	return nil
}

// OnDisconnect forgets a channel. Forgetting an unknown channel succeeds.
func (r *Registry) OnDisconnect(ctx context.Context, connectionID string) error {
	return r.directory.Delete(ctx, connectionID)
}

// Push delivers payload to the channel. When the directory has no row, or
// the gateway reports the channel gone, the row is removed and
// shared.ErrChannelGone is returned.
func (r *Registry) Push(ctx context.Context, connectionID string, payload []byte) error {
	log := logger.L(ctx, r.logger).With(zap.String("connection_id", connectionID))

	if _, err := r.directory.Get(ctx, connectionID); err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		r.forget(ctx, log, connectionID)
		return shared.ErrChannelGone.Withf("connection %s is not registered", connectionID)
	}

	if err := r.pusher.Push(ctx, connectionID, payload); err != nil {
		if errors.Is(err, shared.ErrChannelGone) {
			r.forget(ctx, log, connectionID)
		}
		return err
	}
	return nil
}

// Send encodes and pushes msg, counting the outcome by message type.
func (r *Registry) Send(ctx context.Context, connectionID string, msg connection.Message) error {
	err := r.Push(ctx, connectionID, msg.Encode())
	r.metrics.Push(msg.Type, err)
	return err
}

func (r *Registry) forget(ctx context.Context, log *zap.Logger, connectionID string) {
	if err := r.directory.Delete(context.WithoutCancel(ctx), connectionID); err != nil {
		log.Warn("Failed to remove stale connection", zap.Error(err))
		return
	}
	log.Info("Removed stale connection")
}
