package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/vitrinelabs/vitrine/internal/audit/domain"
	billingdomain "github.com/vitrinelabs/vitrine/internal/billing/domain"
	"github.com/vitrinelabs/vitrine/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	actionSubscriptionPastDue       = "SUBSCRIPTION_PAST_DUE"
	actionSubscriptionSuspended     = "SUBSCRIPTION_SUSPENDED"
	actionSubscriptionSuspendedAuto = "SUBSCRIPTION_SUSPENDED_AUTO"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     billingdomain.Repository
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     billingdomain.Repository
	auditSvc auditdomain.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("billing.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) FindInvoiceByProviderChargeID(ctx context.Context, provider string, providerChargeID string) (*billingdomain.Invoice, error) {
	return s.repo.FindInvoiceByProviderChargeID(ctx, s.db, provider, providerChargeID)
}

// ApplyInvoicePaid settles an invoice and renews its subscription inside the
// caller's transaction. The new period always starts at paidAt: period end is
// recomputed as paidAt + cycle length, never extended from a stale value.
// A pending plan or cycle change carried in the invoice metadata takes effect
// on renewal.
func (s *Service) ApplyInvoicePaid(ctx context.Context, tx *gorm.DB, invoice *billingdomain.Invoice, paidAt time.Time) (*billingdomain.Subscription, error) {
	if invoice == nil {
		return nil, billingdomain.ErrInvoiceNotFound
	}

	settled, err := s.repo.MarkInvoicePaid(ctx, tx, invoice.ID, paidAt, paidAt)
	if err != nil {
		return nil, err
	}
	if !settled {
		return nil, billingdomain.ErrInvoiceAlreadyPaid
	}

	subscription, err := s.repo.FindSubscriptionByID(ctx, tx, invoice.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, billingdomain.ErrSubscriptionNotFound
	}

	planID := subscription.PlanID
	if pending := readMetadataID(invoice.Metadata, "pending_plan_id"); pending != 0 {
		planID = pending
	}
	cycle := subscription.BillingCycle
	if pending := billingdomain.BillingCycle(readMetadataString(invoice.Metadata, "pending_billing_cycle")); pending.Valid() {
		cycle = pending
	}

	periodEnd := paidAt.AddDate(0, 0, cycle.CycleDays())
	if err := s.repo.RenewSubscription(ctx, tx, subscription.ID, planID, cycle, paidAt, periodEnd, paidAt); err != nil {
		return nil, err
	}

	subscription.PlanID = planID
	subscription.BillingCycle = cycle
	subscription.Status = billingdomain.SubscriptionActive
	subscription.CurrentPeriodStart = paidAt
	subscription.CurrentPeriodEnd = periodEnd
	return subscription, nil
}

// SweepPastDue demotes expired auto-renewing subscriptions to past_due.
func (s *Service) SweepPastDue(ctx context.Context, batchSize int) (int, error) {
	now := s.clock.Now().UTC()
	expired, err := s.repo.ListExpired(ctx, s.db, billingdomain.SubscriptionActive, true, now, batchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, subscription := range expired {
		if subscription == nil {
			continue
		}
		if err := s.repo.UpdateSubscriptionStatus(ctx, s.db, subscription.ID, billingdomain.SubscriptionPastDue, nil, now); err != nil {
			return swept, err
		}
		s.writeSweepAudit(ctx, actionSubscriptionPastDue, subscription, now)
		swept++
	}
	return swept, nil
}

// SweepSuspensions suspends expired non-renewing subscriptions outright and
// past_due subscriptions older than the grace window.
func (s *Service) SweepSuspensions(ctx context.Context, batchSize int, graceDays int) (int, error) {
	now := s.clock.Now().UTC()
	swept := 0

	nonRenewing, err := s.repo.ListExpired(ctx, s.db, billingdomain.SubscriptionActive, false, now, batchSize)
	if err != nil {
		return 0, err
	}
	autoRenewOff := false
	for _, subscription := range nonRenewing {
		if subscription == nil {
			continue
		}
		if err := s.repo.UpdateSubscriptionStatus(ctx, s.db, subscription.ID, billingdomain.SubscriptionSuspended, &autoRenewOff, now); err != nil {
			return swept, err
		}
		s.writeSweepAudit(ctx, actionSubscriptionSuspendedAuto, subscription, now)
		swept++
	}

	if graceDays < 0 {
		graceDays = 0
	}
	cutoff := now.AddDate(0, 0, -graceDays)
	stale, err := s.repo.ListStalePastDue(ctx, s.db, cutoff, batchSize)
	if err != nil {
		return swept, err
	}
	for _, subscription := range stale {
		if subscription == nil {
			continue
		}
		if err := s.repo.UpdateSubscriptionStatus(ctx, s.db, subscription.ID, billingdomain.SubscriptionSuspended, nil, now); err != nil {
			return swept, err
		}
		s.writeSweepAudit(ctx, actionSubscriptionSuspended, subscription, now)
		swept++
	}

	return swept, nil
}

func (s *Service) FindSubscriptionByID(ctx context.Context, id snowflake.ID) (*billingdomain.Subscription, error) {
	return s.repo.FindSubscriptionByID(ctx, s.db, id)
}

func (s *Service) writeSweepAudit(ctx context.Context, action string, subscription *billingdomain.Subscription, now time.Time) {
	if s.auditSvc == nil {
		return
	}
	targetID := subscription.ID.String()
	storeID := subscription.StoreID
	metadata := map[string]any{
		"subscription_id":    targetID,
		"plan_id":            subscription.PlanID.String(),
		"billing_cycle":      string(subscription.BillingCycle),
		"auto_renew":         subscription.AutoRenew,
		"current_period_end": subscription.CurrentPeriodEnd.UTC().Format(time.RFC3339),
		"swept_at":           now.Format(time.RFC3339),
	}
	if err := s.auditSvc.AuditLog(ctx, &storeID, string(auditdomain.ActorTypeSystem), nil, action, "subscription", &targetID, metadata); err != nil {
		s.log.Warn("failed to write sweep audit log",
			zap.String("action", action),
			zap.String("subscription_id", targetID),
			zap.Error(err),
		)
	}
}

func readMetadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}

func readMetadataID(metadata map[string]any, key string) snowflake.ID {
	raw := readMetadataString(metadata, key)
	if raw == "" {
		return 0
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0
	}
	return id
}
