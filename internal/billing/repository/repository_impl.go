package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/vitrinelabs/vitrine/internal/billing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindInvoiceByProviderChargeID(ctx context.Context, db *gorm.DB, provider string, providerChargeID string) (*domain.Invoice, error) {
	providerChargeID = strings.TrimSpace(providerChargeID)
	if providerChargeID == "" {
		return nil, nil
	}

	var item domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, provider, provider_charge_id, amount, status,
			paid_at, metadata, created_at, updated_at
		 FROM invoices
		 WHERE provider = ? AND provider_charge_id = ?
		 LIMIT 1`,
		provider,
		providerChargeID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkInvoicePaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, paid_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(domain.InvoicePaid),
		paidAt,
		now,
		id,
		string(domain.InvoiceOpen),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindSubscriptionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, store_id, plan_id, status, billing_cycle, auto_renew,
			current_period_start, current_period_end, created_at, updated_at
		 FROM subscriptions
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) RenewSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, planID snowflake.ID, cycle domain.BillingCycle, periodStart time.Time, periodEnd time.Time, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?,
			 plan_id = ?,
			 billing_cycle = ?,
			 current_period_start = ?,
			 current_period_end = ?,
			 updated_at = ?
		 WHERE id = ?`,
		string(domain.SubscriptionActive),
		planID,
		string(cycle),
		periodStart,
		periodEnd,
		now,
		id,
	).Error
}

func (r *repo) UpdateSubscriptionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.SubscriptionStatus, autoRenew *bool, now time.Time) error {
	if autoRenew != nil {
		return db.WithContext(ctx).Exec(
			`UPDATE subscriptions
			 SET status = ?, auto_renew = ?, updated_at = ?
			 WHERE id = ?`,
			string(status),
			*autoRenew,
			now,
			id,
		).Error
	}
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, updated_at = ?
		 WHERE id = ?`,
		string(status),
		now,
		id,
	).Error
}

func (r *repo) ListExpired(ctx context.Context, db *gorm.DB, status domain.SubscriptionStatus, autoRenew bool, now time.Time, limit int) ([]*domain.Subscription, error) {
	var items []*domain.Subscription
	stmt := db.WithContext(ctx).Model(&domain.Subscription{}).
		Where("status = ?", string(status)).
		Where("auto_renew = ?", autoRenew).
		Where("current_period_end < ?", now).
		Order("current_period_end asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListStalePastDue(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]*domain.Subscription, error) {
	var items []*domain.Subscription
	stmt := db.WithContext(ctx).Model(&domain.Subscription{}).
		Where("status = ?", string(domain.SubscriptionPastDue)).
		Where("current_period_end < ?", cutoff).
		Order("current_period_end asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
