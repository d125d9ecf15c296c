package yotod

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ServiceRunner runs a long-lived service within the supervisor.
type ServiceRunner struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor manages service lifecycles. The first service that exits with
// an error brings the daemon down.
type Supervisor struct {
	Logger *zap.Logger
}

// Run starts all services and waits for termination.
func (s Supervisor) Run(ctx context.Context, services []ServiceRunner) error {
	if len(services) == 0 {
		return fmt.Errorf("no services enabled")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(services))

	for _, service := range services {
		svc := service
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger := s.Logger.With(zap.String("service", svc.Name))
			logger.Info("starting service")
			if err := svc.Run(runCtx); err != nil {
				logger.Error("service exited", zap.Error(err))
				errCh <- fmt.Errorf("%s: %w", svc.Name, err)
				return
			}
			logger.Info("service stopped")
		}()
	}

	var firstErr error
	select {
	case <-ctx.Done():
		s.Logger.Info("shutdown requested")
	case firstErr = <-errCh:
		// A failed service brings the daemon down, but the siblings still
		// get a cancellation and a chance to release their resources.
		cancel()
	}

	wg.Wait()
	return firstErr
}
