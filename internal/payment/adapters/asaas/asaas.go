package asaas

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"math"
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
	return "asaas"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	token, _ := readString(cfg.Config, "webhook_token")
	return &Adapter{webhookToken: strings.TrimSpace(token)}, nil
}

type Adapter struct {
	webhookToken string
}

// Verify checks the asaas-access-token header when a token is configured.
// Without a configured token every delivery is accepted.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookToken == "" {
		return nil
	}
	received := strings.TrimSpace(headers.Get("asaas-access-token"))
	if received == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(received), []byte(a.webhookToken)) != 1 {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

type asaasWebhook struct {
	Event   string       `json:"event"`
	Payment asaasPayment `json:"payment"`
}

type asaasPayment struct {
	ID                string  `json:"id"`
	Status            string  `json:"status"`
	Value             float64 `json:"value"`
	NetValue          float64 `json:"netValue"`
	ExternalReference string  `json:"externalReference"`
	PaymentDate       string  `json:"paymentDate"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) ([]paymentdomain.PaymentEvent, error) {
	var webhook asaasWebhook
	if err := json.Unmarshal(payload, &webhook); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	paymentID := strings.TrimSpace(webhook.Payment.ID)
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	eventType := strings.TrimSpace(webhook.Event)
	if eventType == "" {
		eventType = "PAYMENT_UPDATED"
	}

	event := paymentdomain.PaymentEvent{
		Provider:          "asaas",
		EventType:         eventType,
		ProviderPaymentID: paymentID,
		Reference:         strings.TrimSpace(webhook.Payment.ExternalReference),
		Status:            mapStatus(webhook.Payment.Status),
		Amount:            toCents(webhook.Payment.Value),
		FeeAmount:         feeAmount(webhook.Payment.Value, webhook.Payment.NetValue),
		OccurredAt:        time.Now().UTC(),
		RawPayload:        payload,
	}
	return []paymentdomain.PaymentEvent{event}, nil
}

func mapStatus(status string) paymentdomain.TransactionStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "CONFIRMED", "RECEIVED", "RECEIVED_IN_CASH":
		return paymentdomain.StatusPaid
	case "OVERDUE":
		return paymentdomain.StatusExpired
	case "REFUNDED", "REFUND_REQUESTED":
		return paymentdomain.StatusRefunded
	case "DELETED":
		return paymentdomain.StatusCanceled
	case "RESTORED", "PENDING":
		return paymentdomain.StatusPending
	default:
		return paymentdomain.StatusPending
	}
}

func feeAmount(value float64, netValue float64) *int64 {
	if value <= 0 || netValue <= 0 || netValue > value {
		return nil
	}
	fee := toCents(value) - toCents(netValue)
	if fee < 0 {
		return nil
	}
	return &fee
}

func toCents(value float64) int64 {
	return int64(math.Round(value * 100))
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return cast, true
	default:
		return "", false
	}
}
