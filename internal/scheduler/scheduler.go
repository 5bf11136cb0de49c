package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	auditdomain "github.com/vitrinelabs/vitrine/internal/audit/domain"
	billingservice "github.com/vitrinelabs/vitrine/internal/billing/service"
	"github.com/vitrinelabs/vitrine/internal/clock"
	obsmetrics "github.com/vitrinelabs/vitrine/internal/observability/metrics"
	"github.com/vitrinelabs/vitrine/internal/observability/obscontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	BillingSvc *billingservice.Service
	Config     Config              `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Scheduler drives the subscription-expiry sweeps. It shares the audit
// recorder with the webhook path but none of its per-request state.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	billingSvc *billingservice.Service
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.BillingSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		billingSvc: p.BillingSvc,
		obsMetrics: p.ObsMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	log := s.log.With(zap.String("job", name))
	log.Info("job started")

	err := fn(ctx)
	elapsed := time.Since(start)
	if err == nil {
		log.Info("job finished", zap.Duration("elapsed", elapsed))
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	log.Warn("job failed", zap.Duration("elapsed", elapsed), zap.Error(err))
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"past_due_sweep", s.isJobEnabled("past_due_sweep"), func(ctx context.Context) error {
			return s.runJob(ctx, "past_due_sweep", 30*time.Second, s.PastDueSweepJob)
		}},
		{"suspend_sweep", s.isJobEnabled("suspend_sweep"), func(ctx context.Context) error {
			return s.runJob(ctx, "suspend_sweep", 30*time.Second, s.SuspendSweepJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// PastDueSweepJob demotes expired auto-renewing subscriptions to past_due,
// draining batches until none remain.
func (s *Scheduler) PastDueSweepJob(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		swept, err := s.billingSvc.SweepPastDue(ctx, s.cfg.BatchSize)
		s.recordSweep(ctx, "past_due", swept)
		if err != nil {
			return err
		}
		if swept == 0 {
			return nil
		}
	}
}

// SuspendSweepJob suspends non-renewing expired subscriptions and past_due
// subscriptions beyond the grace window.
func (s *Scheduler) SuspendSweepJob(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		swept, err := s.billingSvc.SweepSuspensions(ctx, s.cfg.BatchSize, s.cfg.GraceDays)
		s.recordSweep(ctx, "suspended", swept)
		if err != nil {
			return err
		}
		if swept == 0 {
			return nil
		}
	}
}

func (s *Scheduler) recordSweep(ctx context.Context, transition string, swept int) {
	if s.obsMetrics == nil || swept <= 0 {
		return
	}
	s.obsMetrics.RecordSweepTransitions(ctx, transition, int64(swept))
}
