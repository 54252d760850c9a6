// Package health probes the dependencies the API cannot serve without.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds every probe when no timeout is configured.
const DefaultTimeout = 3 * time.Second

// Pinger is implemented by every probed dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is one named dependency probe.
type Check struct {
	Name   string
	Pinger Pinger
}

// Report is the outcome of one health check run. Errors keeps the order of
// the configured checks.
type Report struct {
	Healthy bool
	Errors  []string
}

// Service runs every check concurrently, each under its own timeout.
type Service struct {
	checks  []Check
	timeout time.Duration
}

// NewService creates a Service running checks.
func NewService(timeout time.Duration, checks ...Check) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Service{checks: checks, timeout: timeout}
}

// Check runs all probes and reports which ones failed.
func (s *Service) Check(ctx context.Context) Report {
	results := make([]error, len(s.checks))

	var g errgroup.Group
	for i, c := range s.checks {
		g.Go(func() error {
			pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			results[i] = c.Pinger.Ping(pingCtx)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Healthy: true}
	for i, err := range results {
		if err == nil {
			continue
		}

		zlog.Logger.Error().Err(err).Str("dependency", s.checks[i].Name).Msg("health check failed")
		report.Healthy = false
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", s.checks[i].Name, err))
	}

	return report
}
