package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindInvoiceByProviderChargeID(ctx context.Context, db *gorm.DB, provider string, providerChargeID string) (*Invoice, error)
	// MarkInvoicePaid transitions open -> paid. False means the invoice was
	// not open, which the caller treats as an already-settled delivery.
	MarkInvoicePaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time, now time.Time) (bool, error)

	FindSubscriptionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	RenewSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, planID snowflake.ID, cycle BillingCycle, periodStart time.Time, periodEnd time.Time, now time.Time) error
	UpdateSubscriptionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status SubscriptionStatus, autoRenew *bool, now time.Time) error

	// ListExpired returns subscriptions whose period ended before now,
	// filtered by status and auto_renew, oldest first.
	ListExpired(ctx context.Context, db *gorm.DB, status SubscriptionStatus, autoRenew bool, now time.Time, limit int) ([]*Subscription, error)
	// ListStalePastDue returns past_due subscriptions whose period ended
	// before the cutoff.
	ListStalePastDue(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]*Subscription, error)
}
