package pagbank

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/vitrinelabs/vitrine/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "pagbank"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	return &Adapter{}, nil
}

type Adapter struct{}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	return nil
}

type pagbankWebhook struct {
	ID          string          `json:"id"`
	ReferenceID string          `json:"reference_id"`
	Charges     []pagbankCharge `json:"charges"`
}

type pagbankCharge struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	PaidAt    string        `json:"paid_at"`
	Amount    pagbankAmount `json:"amount"`
	PaymentID string        `json:"payment_id"`
}

type pagbankAmount struct {
	Value int64        `json:"value"`
	Fees  []pagbankFee `json:"fees"`
}

type pagbankFee struct {
	Amount int64 `json:"amount"`
}

// Parse emits one event per charge in the order notification.
func (a *Adapter) Parse(ctx context.Context, payload []byte) ([]paymentdomain.PaymentEvent, error) {
	var webhook pagbankWebhook
	if err := json.Unmarshal(payload, &webhook); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if len(webhook.Charges) == 0 {
		return nil, paymentdomain.ErrInvalidPayload
	}

	reference := strings.TrimSpace(webhook.ReferenceID)

	events := make([]paymentdomain.PaymentEvent, 0, len(webhook.Charges))
	for _, charge := range webhook.Charges {
		chargeID := strings.TrimSpace(charge.ID)
		if chargeID == "" {
			return nil, paymentdomain.ErrInvalidPayload
		}
		status := strings.ToUpper(strings.TrimSpace(charge.Status))
		events = append(events, paymentdomain.PaymentEvent{
			Provider:          "pagbank",
			EventType:         "CHARGE." + status,
			ProviderPaymentID: chargeID,
			Reference:         reference,
			Status:            mapStatus(status),
			Amount:            charge.Amount.Value,
			FeeAmount:         feeAmount(charge.Amount.Fees),
			OccurredAt:        paidAt(charge.PaidAt),
			RawPayload:        payload,
		})
	}
	return events, nil
}

func mapStatus(status string) paymentdomain.TransactionStatus {
	switch status {
	case "PAID":
		return paymentdomain.StatusPaid
	case "AUTHORIZED", "IN_ANALYSIS", "WAITING":
		return paymentdomain.StatusPending
	case "DECLINED":
		return paymentdomain.StatusFailed
	case "CANCELED":
		return paymentdomain.StatusCanceled
	default:
		return paymentdomain.StatusPending
	}
}

func feeAmount(fees []pagbankFee) *int64 {
	var total int64
	for _, fee := range fees {
		total += fee.Amount
	}
	if total <= 0 {
		return nil
	}
	return &total
}

func paidAt(value string) time.Time {
	value = strings.TrimSpace(value)
	if value != "" {
		if parsed, err := time.Parse(time.RFC3339, value); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
}
