package scheduler_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditrepo "github.com/vitrinelabs/vitrine/internal/audit/repository"
	auditservice "github.com/vitrinelabs/vitrine/internal/audit/service"
	billingrepo "github.com/vitrinelabs/vitrine/internal/billing/repository"
	billingservice "github.com/vitrinelabs/vitrine/internal/billing/service"
	"github.com/vitrinelabs/vitrine/internal/clock"
	"github.com/vitrinelabs/vitrine/internal/scheduler"
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
	node, err := snowflake.NewNode(11)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	fake := clock.NewFakeClock(time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC))

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

func newScheduler(t *testing.T, f *fixture, cfg scheduler.Config) *scheduler.Scheduler {
	t.Helper()

	s, err := scheduler.New(scheduler.Params{
		Log:        zap.NewNop(),
		Clock:      f.clock,
		BillingSvc: f.svc,
		Config:     cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func TestRunOnceDrainsInBatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := f.clock.Now()

	for i := 0; i < 5; i++ {
		seedSubscription(t, f.db, f.node.Generate(), "active", true, now.AddDate(0, 0, -1))
	}

	s := newScheduler(t, f, scheduler.Config{BatchSize: 2, GraceDays: 7})
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	assertCount(t, f.db, "SELECT COUNT(1) FROM subscriptions WHERE status = 'past_due'", 5)
	assertCount(t, f.db, "SELECT COUNT(1) FROM audit_logs WHERE action = 'SUBSCRIPTION_PAST_DUE'", 5)
}

func TestRunOnceSuspendsAfterGrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := f.clock.Now()

	stale := f.node.Generate()
	seedSubscription(t, f.db, stale, "past_due", true, now.AddDate(0, 0, -10))
	nonRenewing := f.node.Generate()
	seedSubscription(t, f.db, nonRenewing, "active", false, now.AddDate(0, 0, -1))

	s := newScheduler(t, f, scheduler.Config{BatchSize: 10, GraceDays: 7})
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	assertCount(t, f.db, "SELECT COUNT(1) FROM subscriptions WHERE status = 'suspended'", 2)
	assertCount(t, f.db, "SELECT COUNT(1) FROM audit_logs WHERE action = 'SUBSCRIPTION_SUSPENDED'", 1)
	assertCount(t, f.db, "SELECT COUNT(1) FROM audit_logs WHERE action = 'SUBSCRIPTION_SUSPENDED_AUTO'", 1)
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := f.clock.Now()

	seedSubscription(t, f.db, f.node.Generate(), "active", true, now.AddDate(0, 0, -1))
	seedSubscription(t, f.db, f.node.Generate(), "active", false, now.AddDate(0, 0, -1))

	s := newScheduler(t, f, scheduler.Config{BatchSize: 10, GraceDays: 7, EnabledJobs: []string{"past_due_sweep"}})
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	assertCount(t, f.db, "SELECT COUNT(1) FROM subscriptions WHERE status = 'past_due'", 1)
	// The suspend sweep was not enabled, so the non-renewing one stays active.
	assertCount(t, f.db, "SELECT COUNT(1) FROM subscriptions WHERE status = 'suspended'", 0)
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := scheduler.New(scheduler.Params{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
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

func seedSubscription(t *testing.T, db *gorm.DB, id snowflake.ID, status string, autoRenew bool, periodEnd time.Time) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		"INSERT INTO subscriptions (id, store_id, plan_id, status, billing_cycle, auto_renew, current_period_start, current_period_end, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		id, id, id, status, "monthly", autoRenew, periodEnd.AddDate(0, 0, -30), periodEnd, now, now,
	).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
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
