package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) error
	// ClassifyEvent fills in the event type and dedupe key once the delivery
	// has been parsed. The row itself is inserted before parsing.
	ClassifyEvent(ctx context.Context, db *gorm.DB, id snowflake.ID, eventType string, dedupeKey string) error
	// FindSuccessfulEvent reports whether a delivery with the same dedupe key
	// already completed successfully.
	FindSuccessfulEvent(ctx context.Context, db *gorm.DB, dedupeKey string) (*WebhookEvent, error)
	MarkEventOutcome(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time, success bool, errText string) error
	ListEvents(ctx context.Context, db *gorm.DB, filter EventListFilter) ([]*WebhookEvent, error)

	FindTransactionByProviderPaymentID(ctx context.Context, db *gorm.DB, provider string, providerPaymentID string) (*Transaction, error)
	FindTransactionByReference(ctx context.Context, db *gorm.DB, provider string, reference string) (*Transaction, error)
	FindTransactionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	// UpdateTransactionStatus applies the conditional state transition. The
	// returned flag is false when the row was not in an allowed prior state,
	// which the caller treats as an already-processed delivery.
	UpdateTransactionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, target TransactionStatus, allowedPrior []TransactionStatus, paidAt *time.Time, feeAmount *int64, rawPayload []byte, now time.Time) (bool, error)
}

type EventListFilter struct {
	Provider string
	Success  *bool
	Cursor   *EventCursor
	Limit    int
}

type EventCursor struct {
	ID         snowflake.ID
	ReceivedAt time.Time
}
