package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type TransactionStatus string

const (
	StatusPending  TransactionStatus = "pending"
	StatusPaid     TransactionStatus = "paid"
	StatusFailed   TransactionStatus = "failed"
	StatusCanceled TransactionStatus = "canceled"
	StatusRefunded TransactionStatus = "refunded"
	StatusExpired  TransactionStatus = "expired"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFailed, StatusCanceled, StatusRefunded, StatusExpired:
		return true
	}
	return false
}

// OrderStatusFor maps a payment status to the order status it implies. The
// empty result means the order status is left untouched.
func OrderStatusFor(status TransactionStatus) string {
	switch status {
	case StatusPaid:
		return "confirmed"
	case StatusRefunded:
		return "refunded"
	case StatusCanceled, StatusFailed:
		return "canceled"
	case StatusExpired:
		return "expired"
	}
	return ""
}

// AllowedPriorStatuses returns the states a transaction may transition from
// when moving to target. Conditional updates check against this set so a
// redelivered event affects zero rows instead of double-applying.
func AllowedPriorStatuses(target TransactionStatus) []TransactionStatus {
	switch target {
	case StatusRefunded:
		return []TransactionStatus{StatusPending, StatusPaid}
	case StatusPaid, StatusFailed, StatusCanceled, StatusExpired, StatusPending:
		return []TransactionStatus{StatusPending}
	}
	return nil
}

// Transaction records one payment attempt against an order. Rows are created
// at checkout and mutated only by webhook reconciliation.
type Transaction struct {
	ID                snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrderID           snowflake.ID      `json:"order_id" gorm:"not null;index"`
	Provider          string            `json:"provider" gorm:"type:text;not null"`
	ProviderPaymentID string            `json:"provider_payment_id" gorm:"type:text;not null"`
	Reference         *string           `json:"reference,omitempty" gorm:"type:text"`
	Status            TransactionStatus `json:"status" gorm:"type:text;not null"`
	Amount            int64             `json:"amount" gorm:"not null"`
	FeeAmount         *int64            `json:"fee_amount,omitempty"`
	PaidAt            *time.Time        `json:"paid_at,omitempty"`
	RawPayload        datatypes.JSON    `json:"raw_payload,omitempty" gorm:"type:jsonb"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (Transaction) TableName() string { return "transactions" }

// WebhookEvent is the observability record of one inbound delivery. It is
// written before any business logic runs and is immutable afterwards except
// for the processing outcome fields.
type WebhookEvent struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider    string         `json:"provider" gorm:"type:text;not null"`
	EventType   string         `json:"event_type" gorm:"type:text;not null"`
	DedupeKey   *string        `json:"dedupe_key,omitempty" gorm:"type:text"`
	Payload     datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt  time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	Success     bool           `json:"success"`
	Error       *string        `json:"error,omitempty" gorm:"type:text"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// PaymentEvent is the canonical event parsed by provider adapters.
type PaymentEvent struct {
	Provider          string
	EventType         string
	ProviderPaymentID string
	// Reference is the alternate correlation value some providers embed in
	// the payload (order reference, metadata order id). Consulted only when
	// the primary lookup misses.
	Reference  string
	Status     TransactionStatus
	Amount     int64
	FeeAmount  *int64
	OccurredAt time.Time
	RawPayload []byte
}
