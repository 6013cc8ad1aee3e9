// Package scheduler runs the periodic payment reconciliation job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/elitemodel/backoffice/internal/config"
	"github.com/elitemodel/backoffice/internal/models"
	"github.com/elitemodel/backoffice/internal/reconciliation"
)

const (
	paymentJobSlug    = "payment-reconcile"
	paymentJobHandler = "payment.reconcile"
	statusTTLHours    = 24
)

func (s *Service) registerBuiltinHandlers() {
	s.RegisterHandler(paymentJobHandler, s.handlePaymentReconcile)
}

// handlePaymentReconcile runs one pass. It never opens the mailbox when the
// integration is off or nothing is waiting for payment.
func (s *Service) handlePaymentReconcile(ctx context.Context, job *models.ScheduledJob) error {
	ttl := time.Duration(intFromConfig(job.Config, "status_ttl_hours", statusTTLHours)) * time.Hour
	if s.engine == nil {
		s.logger.Printf("scheduler: reconciliation engine unavailable, skipping payment check")
		return ErrSkipped
	}
	if !s.enabled() {
		s.writeStatus(ctx, reconciliation.SkippedStatus("disabled", s.now()), ttl)
		return ErrSkipped
	}

	if s.pending != nil {
		n, err := s.pending.CountByStatus(ctx, models.ApplicationReview)
		if err != nil {
			return fmt.Errorf("counting pending applications: %w", err)
		}
		if n == 0 {
			s.writeStatus(ctx, reconciliation.SkippedStatus("no pending applications", s.now()), ttl)
			return ErrSkipped
		}
	}

	res, err := s.engine.Run(ctx)
	switch {
	case errors.Is(err, reconciliation.ErrRunInProgress):
		s.logger.Printf("scheduler: payment check already running, skipping")
		return ErrSkipped
	case errors.Is(err, reconciliation.ErrReconciliationDisabled):
		s.writeStatus(ctx, reconciliation.SkippedStatus("disabled", s.now()), ttl)
		return ErrSkipped
	}

	s.writeStatus(ctx, reconciliation.NewRunStatus(res, err), ttl)
	if err != nil {
		return err
	}
	if res.Processed > 0 {
		s.logger.Printf("scheduler: payment check %s accepted %d of %d message(s)", res.RunID, res.Processed, res.Seen)
	}
	return nil
}

func (s *Service) writeStatus(ctx context.Context, st reconciliation.RunStatus, ttl time.Duration) {
	if s.status == nil {
		return
	}
	// best effort: the status document is informational
	if err := s.status.SetJSON(ctx, reconciliation.StatusKey, st, ttl); err != nil {
		s.logger.Printf("scheduler: failed to store payment check status: %v", err)
	}
}

func defaultJobs(cfg *config.Config) []*models.ScheduledJob {
	schedule := "@every 2m"
	timeout := 120
	if cfg != nil {
		if v := strings.TrimSpace(cfg.Payments.Schedule); v != "" {
			schedule = v
		}
		if cfg.Payments.TimeoutSeconds > 0 {
			timeout = cfg.Payments.TimeoutSeconds
		}
	}
	return []*models.ScheduledJob{
		{
			Name:           "Bank Payment Reconciliation",
			Slug:           paymentJobSlug,
			Handler:        paymentJobHandler,
			Schedule:       schedule,
			TimeoutSeconds: timeout,
			RunOnStartup:   true,
			Config: map[string]any{
				"status_ttl_hours": statusTTLHours,
			},
		},
	}
}

// DefaultJobs returns a cloned copy of the built-in scheduled jobs.
func DefaultJobs() []*models.ScheduledJob {
	jobs := defaultJobs(config.Get())
	out := make([]*models.ScheduledJob, 0, len(jobs))
	for _, job := range jobs {
		if job == nil {
			continue
		}
		out = append(out, job.Clone())
	}
	return out
}

func intFromConfig(cfg map[string]any, key string, def int) int {
	if cfg == nil {
		return def
	}
	val, ok := cfg[key]
	if !ok {
		return def
	}
	switch v := val.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n
		}
	}
	return def
}
