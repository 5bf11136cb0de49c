package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/vitrinelabs/vitrine/internal/audit/domain"
	auditrepo "github.com/vitrinelabs/vitrine/internal/audit/repository"
	auditservice "github.com/vitrinelabs/vitrine/internal/audit/service"
	"github.com/vitrinelabs/vitrine/internal/clock"
	"github.com/vitrinelabs/vitrine/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	svc   auditdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(9)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	fake := clock.NewFakeClock(time.Date(2026, 8, 10, 8, 0, 0, 0, time.UTC))

	svc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: fake,
		GenID: node,
		Repo:  auditrepo.Provide(),
	})
	return &fixture{db: db, clock: fake, svc: svc}
}

func TestAuditLogAppendsEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	targetID := "tx-1"
	if err := f.svc.AuditLog(ctx, nil, "webhook", nil, "PAYMENT_RECEIVED", "transaction", &targetID, map[string]any{
		"provider": "asaas",
		"amount":   int64(10000),
	}); err != nil {
		t.Fatalf("audit log: %v", err)
	}

	var action, actorType, tType string
	row := f.db.Raw("SELECT action, actor_type, target_type FROM audit_logs LIMIT 1").Row()
	if err := row.Scan(&action, &actorType, &tType); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if action != "PAYMENT_RECEIVED" || actorType != "webhook" || tType != "transaction" {
		t.Fatalf("unexpected row: %s %s %s", action, actorType, tType)
	}
}

func TestAuditLogRejectsBlankAction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.svc.AuditLog(ctx, nil, "system", nil, "   ", "subscription", nil, nil); !errors.Is(err, auditdomain.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}

func TestAuditLogDefaultsActorAndTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.svc.AuditLog(ctx, nil, "", nil, "SUBSCRIPTION_PAST_DUE", "", nil, nil); err != nil {
		t.Fatalf("audit log: %v", err)
	}

	var actorType, targetType string
	row := f.db.Raw("SELECT actor_type, target_type FROM audit_logs LIMIT 1").Row()
	if err := row.Scan(&actorType, &targetType); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if actorType != "system" {
		t.Fatalf("expected actor_type system, got %s", actorType)
	}
	if targetType != "unknown" {
		t.Fatalf("expected target_type unknown, got %s", targetType)
	}
}

func TestListPaginatesNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		action := fmt.Sprintf("ACTION_%d", i)
		if err := f.svc.AuditLog(ctx, nil, "system", nil, action, "subscription", nil, nil); err != nil {
			t.Fatalf("audit log %d: %v", i, err)
		}
		f.clock.Advance(time.Minute)
	}

	resp, err := f.svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.AuditLogs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(resp.AuditLogs))
	}
	if !resp.HasMore || resp.NextPageToken == "" {
		t.Fatalf("expected more pages, got %+v", resp.PageInfo)
	}
	if resp.AuditLogs[0].Action != "ACTION_4" {
		t.Fatalf("expected newest first, got %s", resp.AuditLogs[0].Action)
	}

	seen := len(resp.AuditLogs)
	token := resp.NextPageToken
	for token != "" {
		resp, err = f.svc.List(ctx, auditdomain.ListAuditLogRequest{
			Pagination: pagination.Pagination{PageSize: 2, PageToken: token},
		})
		if err != nil {
			t.Fatalf("list page: %v", err)
		}
		seen += len(resp.AuditLogs)
		if !resp.HasMore {
			break
		}
		token = resp.NextPageToken
	}
	if seen != 5 {
		t.Fatalf("expected to walk all 5 logs, got %d", seen)
	}
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	storeID := snowflake.ID(42)
	if err := f.svc.AuditLog(ctx, &storeID, "system", nil, "SUBSCRIPTION_PAST_DUE", "subscription", nil, nil); err != nil {
		t.Fatalf("audit log: %v", err)
	}
	f.clock.Advance(time.Minute)
	if err := f.svc.AuditLog(ctx, nil, "webhook", nil, "PAYMENT_RECEIVED", "transaction", nil, nil); err != nil {
		t.Fatalf("audit log: %v", err)
	}

	resp, err := f.svc.List(ctx, auditdomain.ListAuditLogRequest{Action: "PAYMENT_RECEIVED"})
	if err != nil {
		t.Fatalf("list by action: %v", err)
	}
	if len(resp.AuditLogs) != 1 || resp.AuditLogs[0].Action != "PAYMENT_RECEIVED" {
		t.Fatalf("expected only PAYMENT_RECEIVED, got %+v", resp.AuditLogs)
	}

	resp, err = f.svc.List(ctx, auditdomain.ListAuditLogRequest{StoreID: &storeID})
	if err != nil {
		t.Fatalf("list by store: %v", err)
	}
	if len(resp.AuditLogs) != 1 || resp.AuditLogs[0].Action != "SUBSCRIPTION_PAST_DUE" {
		t.Fatalf("expected only the store-scoped log, got %+v", resp.AuditLogs)
	}

	resp, err = f.svc.List(ctx, auditdomain.ListAuditLogRequest{ActorType: "webhook"})
	if err != nil {
		t.Fatalf("list by actor: %v", err)
	}
	if len(resp.AuditLogs) != 1 || resp.AuditLogs[0].ActorType != "webhook" {
		t.Fatalf("expected only webhook logs, got %+v", resp.AuditLogs)
	}
}

func TestListValidatesInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	start := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	if _, err := f.svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end}); !errors.Is(err, auditdomain.ErrInvalidTimeRange) {
		t.Fatalf("expected ErrInvalidTimeRange, got %v", err)
	}

	if _, err := f.svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: "not base64 json"},
	}); !errors.Is(err, auditdomain.ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	if err := db.Exec(`CREATE TABLE audit_logs (
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
	)`).Error; err != nil {
		t.Fatalf("schema exec failed: %v", err)
	}

	return db
}
