// Package health provides readiness checks for the service's backing stores.
package health

import (
	"context"
	"log/slog"
	"sync"
)

// Status values reported per check.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Checker is a named dependency check.
type Checker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}

// Result is the outcome of running a set of checkers.
type Result struct {
	Checks  map[string]string
	Healthy bool
}

// CheckAll runs checkers concurrently and reports each one's status.
// Nil checkers are skipped.
func CheckAll(ctx context.Context, logger *slog.Logger, checkers ...Checker) Result {
	if logger == nil {
		logger = slog.Default()
	}

	res := Result{Checks: make(map[string]string, len(checkers)), Healthy: true}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range checkers {
		if c == nil {
			continue
		}
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			err := c.HealthCheck(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Checks[c.Name()] = StatusError
				res.Healthy = false
				logger.WarnContext(ctx, "health check failed",
					slog.String("check", c.Name()),
					slog.String("error", err.Error()))
				return
			}
			res.Checks[c.Name()] = StatusOK
		}(c)
	}
	wg.Wait()
	return res
}
