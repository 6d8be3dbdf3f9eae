package invoice

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically expires imports whose upload window closed.
type Sweeper struct {
	service  *ImportService
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper running every interval.
func NewSweeper(service *ImportService, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{service: service, interval: interval, logger: logger}
}

// Start launches the background loop.
func (s *Sweeper) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("import sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop stops the loop and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.service.ExpireStale(ctx, s.service.now()); err != nil && ctx.Err() == nil {
				s.logger.Error("import sweep failed", zap.Error(err))
			}
		}
	}
}
