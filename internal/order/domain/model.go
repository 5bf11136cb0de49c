package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusConfirmed  = "confirmed"
	StatusCanceled   = "canceled"
	StatusRefunded   = "refunded"
	StatusExpired    = "expired"
)

// Order is the commercial object a transaction settles. Reconciliation keeps
// status and payment_status in line with the latest transaction outcome.
type Order struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	StoreID       snowflake.ID `json:"store_id" gorm:"not null;index"`
	CustomerName  string       `json:"customer_name" gorm:"type:text"`
	TotalAmount   int64        `json:"total_amount" gorm:"not null"`
	Status        string       `json:"status" gorm:"type:text;not null"`
	PaymentStatus string       `json:"payment_status" gorm:"type:text;not null"`
	PaidAt        *time.Time   `json:"paid_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	// UpdateOnPayment applies the reconciliation side effect. An empty status
	// leaves the order's own status untouched.
	UpdateOnPayment(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, paymentStatus string, paidAt *time.Time, now time.Time) error
}
