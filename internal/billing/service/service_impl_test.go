package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditrepo "github.com/vitrinelabs/vitrine/internal/audit/repository"
	auditservice "github.com/vitrinelabs/vitrine/internal/audit/service"
	billingdomain "github.com/vitrinelabs/vitrine/internal/billing/domain"
	billingrepo "github.com/vitrinelabs/vitrine/internal/billing/repository"
	billingservice "github.com/vitrinelabs/vitrine/internal/billing/service"
	"github.com/vitrinelabs/vitrine/internal/clock"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	svc   *billingservice.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	fake := clock.NewFakeClock(time.Date(2026, 8, 15, 6, 0, 0, 0, time.UTC))

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: fake,
		GenID: node,
		Repo:  auditrepo.Provide(),
	})
	svc := billingservice.NewService(billingservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    fake,
		Repo:     billingrepo.Provide(),
		AuditSvc: auditSvc,
	})

	return &fixture{db: db, node: node, clock: fake, svc: svc}
}

func TestSweepPastDueDemotesExpiredAutoRenew(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := f.clock.Now()

	expired := f.node.Generate()
	current := f.node.Generate()
	nonRenewing := f.node.Generate()
	seedSubscription(t, f.db, expired, "active", "monthly", true, now.AddDate(0, 0, -31), now.AddDate(0, 0, -1))
	seedSubscription(t, f.db, current, "active", "monthly", true, now, now.AddDate(0, 0, 30))
	seedSubscription(t, f.db, nonRenewing, "active", "monthly", false, now.AddDate(0, 0, -31), now.AddDate(0, 0, -1))

	swept, err := f.svc.SweepPastDue(ctx, 100)
	if err != nil {
		t.Fatalf("sweep past due: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept, got %d", swept)
	}

	assertStatus(t, f.db, expired, "past_due")
	assertStatus(t, f.db, current, "active")
	assertStatus(t, f.db, nonRenewing, "active")
	assertCount(t, f.db, "SELECT COUNT(1) FROM audit_logs WHERE action = 'SUBSCRIPTION_PAST_DUE'", 1)
}

func TestSweepSuspensionsHandlesNonRenewing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := f.clock.Now()

	expired := f.node.Generate()
	seedSubscription(t, f.db, expired, "active", "monthly", false, now.AddDate(0, 0, -31), now.AddDate(0, 0, -1))

	swept, err := f.svc.SweepSuspensions(ctx, 100, 7)
	if err != nil {
		t.Fatalf("sweep suspensions: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept, got %d", swept)
	}

	assertStatus(t, f.db, expired, "suspended")

	var autoRenew bool
	if err := f.db.Raw("SELECT auto_renew FROM subscriptions WHERE id = ?", expired).Scan(&autoRenew).Error; err != nil {
		t.Fatalf("scan auto_renew: %v", err)
	}
	if autoRenew {
		t.Fatalf("expected auto_renew to be cleared on suspension")
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM audit_logs WHERE action = 'SUBSCRIPTION_SUSPENDED_AUTO'", 1)
}

func TestSweepSuspensionsRespectsGraceWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := f.clock.Now()

	stale := f.node.Generate()
	withinGrace := f.node.Generate()
	seedSubscription(t, f.db, stale, "past_due", "monthly", true, now.AddDate(0, 0, -40), now.AddDate(0, 0, -10))
	seedSubscription(t, f.db, withinGrace, "past_due", "monthly", true, now.AddDate(0, 0, -33), now.AddDate(0, 0, -3))

	swept, err := f.svc.SweepSuspensions(ctx, 100, 7)
	if err != nil {
		t.Fatalf("sweep suspensions: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept, got %d", swept)
	}

	assertStatus(t, f.db, stale, "suspended")
	assertStatus(t, f.db, withinGrace, "past_due")
	assertCount(t, f.db, "SELECT COUNT(1) FROM audit_logs WHERE action = 'SUBSCRIPTION_SUSPENDED'", 1)
}

func TestSweepsConvergeAfterTimePasses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := f.clock.Now()

	id := f.node.Generate()
	seedSubscription(t, f.db, id, "active", "monthly", true, now.AddDate(0, 0, -31), now.AddDate(0, 0, -1))

	if _, err := f.svc.SweepPastDue(ctx, 100); err != nil {
		t.Fatalf("sweep past due: %v", err)
	}
	assertStatus(t, f.db, id, "past_due")

	// Still inside the grace window: nothing to suspend yet.
	swept, err := f.svc.SweepSuspensions(ctx, 100, 7)
	if err != nil {
		t.Fatalf("sweep suspensions: %v", err)
	}
	if swept != 0 {
		t.Fatalf("expected 0 swept inside grace window, got %d", swept)
	}

	f.clock.Advance(8 * 24 * time.Hour)
	if _, err := f.svc.SweepSuspensions(ctx, 100, 7); err != nil {
		t.Fatalf("sweep suspensions after grace: %v", err)
	}
	assertStatus(t, f.db, id, "suspended")
}

func TestApplyInvoicePaidRenewsFromPaidAt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := f.clock.Now()

	subscriptionID := f.node.Generate()
	invoiceID := f.node.Generate()
	seedSubscription(t, f.db, subscriptionID, "past_due", "semiannual", true, now.AddDate(0, 0, -200), now.AddDate(0, 0, -20))
	seedInvoice(t, f.db, invoiceID, subscriptionID, "efi", "txid_1", 29900, "open")

	invoice, err := f.svc.FindInvoiceByProviderChargeID(ctx, "efi", "txid_1")
	if err != nil {
		t.Fatalf("find invoice: %v", err)
	}
	if invoice == nil {
		t.Fatalf("expected invoice")
	}

	subscription, err := f.svc.ApplyInvoicePaid(ctx, f.db, invoice, now)
	if err != nil {
		t.Fatalf("apply invoice paid: %v", err)
	}
	if subscription.Status != billingdomain.SubscriptionActive {
		t.Fatalf("expected active after renewal, got %s", subscription.Status)
	}
	wantEnd := now.AddDate(0, 0, 180)
	if !subscription.CurrentPeriodEnd.UTC().Equal(wantEnd) {
		t.Fatalf("expected period end %s, got %s", wantEnd, subscription.CurrentPeriodEnd.UTC())
	}

	// Settling the same invoice twice must not extend the period again.
	if _, err := f.svc.ApplyInvoicePaid(ctx, f.db, invoice, now.AddDate(0, 0, 1)); !errors.Is(err, billingdomain.ErrInvoiceAlreadyPaid) {
		t.Fatalf("expected ErrInvoiceAlreadyPaid, got %v", err)
	}
}

func TestFindInvoiceByProviderChargeIDIgnoresBlankID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	invoice, err := f.svc.FindInvoiceByProviderChargeID(ctx, "efi", "  ")
	if err != nil {
		t.Fatalf("find invoice: %v", err)
	}
	if invoice != nil {
		t.Fatalf("expected no match for blank charge id")
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE subscriptions (
			id BIGINT PRIMARY KEY,
			store_id BIGINT NOT NULL,
			plan_id BIGINT NOT NULL,
			status TEXT NOT NULL,
			billing_cycle TEXT NOT NULL,
			auto_renew BOOLEAN NOT NULL,
			current_period_start TIMESTAMP NOT NULL,
			current_period_end TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE invoices (
			id BIGINT PRIMARY KEY,
			subscription_id BIGINT NOT NULL,
			provider TEXT NOT NULL,
			provider_charge_id TEXT NOT NULL,
			amount BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			paid_at TIMESTAMP,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE audit_logs (
			id BIGINT PRIMARY KEY,
			store_id BIGINT,
			actor_type TEXT NOT NULL,
			actor_id TEXT,
			action TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT,
			metadata TEXT,
			ip_address TEXT,
			user_agent TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}

	return db
}

func seedSubscription(t *testing.T, db *gorm.DB, id snowflake.ID, status, cycle string, autoRenew bool, periodStart, periodEnd time.Time) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		"INSERT INTO subscriptions (id, store_id, plan_id, status, billing_cycle, auto_renew, current_period_start, current_period_end, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		id, id, id, status, cycle, autoRenew, periodStart, periodEnd, now, now,
	).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
}

func seedInvoice(t *testing.T, db *gorm.DB, id, subscriptionID snowflake.ID, provider, providerChargeID string, amount int64, status string) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		"INSERT INTO invoices (id, subscription_id, provider, provider_charge_id, amount, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		id, subscriptionID, provider, providerChargeID, amount, status, now, now,
	).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
}

func assertStatus(t *testing.T, db *gorm.DB, id snowflake.ID, expected string) {
	t.Helper()

	var status string
	if err := db.Raw("SELECT status FROM subscriptions WHERE id = ?", id).Scan(&status).Error; err != nil {
		t.Fatalf("scan status: %v", err)
	}
	if status != expected {
		t.Fatalf("subscription %s: expected status %s, got %s", id, expected, status)
	}
}

func assertCount(t *testing.T, db *gorm.DB, query string, expected int64) {
	t.Helper()

	var count int64
	if err := db.Raw(query).Scan(&count).Error; err != nil {
		t.Fatalf("query count: %v", err)
	}
	if count != expected {
		t.Fatalf("%s: expected %d, got %d", query, expected, count)
	}
}
