package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionCanceled  SubscriptionStatus = "canceled"
)

type BillingCycle string

const (
	CycleMonthly    BillingCycle = "monthly"
	CycleSemiannual BillingCycle = "semiannual"
	CycleAnnual     BillingCycle = "annual"
)

// CycleDays returns the renewal period length. Unspecified cycles fall back
// to the monthly length.
func (c BillingCycle) CycleDays() int {
	switch c {
	case CycleSemiannual:
		return 180
	case CycleAnnual:
		return 365
	default:
		return 30
	}
}

func (c BillingCycle) Valid() bool {
	switch c {
	case CycleMonthly, CycleSemiannual, CycleAnnual:
		return true
	}
	return false
}

type Subscription struct {
	ID                 snowflake.ID       `json:"id" gorm:"primaryKey"`
	StoreID            snowflake.ID       `json:"store_id" gorm:"not null;index"`
	PlanID             snowflake.ID       `json:"plan_id" gorm:"not null"`
	Status             SubscriptionStatus `json:"status" gorm:"type:text;not null"`
	BillingCycle       BillingCycle       `json:"billing_cycle" gorm:"type:text;not null"`
	AutoRenew          bool               `json:"auto_renew" gorm:"not null"`
	CurrentPeriodStart time.Time          `json:"current_period_start" gorm:"not null"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end" gorm:"not null"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

type InvoiceStatus string

const (
	InvoiceOpen InvoiceStatus = "open"
	InvoicePaid InvoiceStatus = "paid"
	InvoiceVoid InvoiceStatus = "void"
)

// Invoice bills one subscription period. Metadata may carry a pending plan
// or cycle change applied when the invoice settles.
type Invoice struct {
	ID               snowflake.ID      `json:"id" gorm:"primaryKey"`
	SubscriptionID   snowflake.ID      `json:"subscription_id" gorm:"not null;index"`
	Provider         string            `json:"provider" gorm:"type:text;not null"`
	ProviderChargeID string            `json:"provider_charge_id" gorm:"type:text;not null"`
	Amount           int64             `json:"amount" gorm:"not null"`
	Status           InvoiceStatus     `json:"status" gorm:"type:text;not null"`
	PaidAt           *time.Time        `json:"paid_at,omitempty"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func (Invoice) TableName() string { return "invoices" }

var (
	ErrInvoiceNotFound      = errors.New("invoice_not_found")
	ErrInvoiceAlreadyPaid   = errors.New("invoice_already_paid")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)
