package mercadopago

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/vitrinelabs/vitrine/internal/payment/domain"
)

const (
	defaultBaseURL = "https://api.mercadopago.com"
	lookupTimeout  = 10 * time.Second
)

type Factory struct {
	client *http.Client
}

func NewFactory() *Factory {
	return &Factory{
		client: &http.Client{Timeout: lookupTimeout},
	}
}

func (f *Factory) Provider() string {
	return "mercadopago"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	accessToken, _ := readString(cfg.Config, "access_token")
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	baseURL, _ := readString(cfg.Config, "api_base_url")
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Adapter{
		client:      f.client,
		accessToken: accessToken,
		baseURL:     baseURL,
	}, nil
}

type Adapter struct {
	client      *http.Client
	accessToken string
	baseURL     string
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	return nil
}

type mpWebhook struct {
	Action string `json:"action"`
	Type   string `json:"type"`
	Data   mpData `json:"data"`
}

type mpData struct {
	ID json.Number `json:"id"`
}

type mpPayment struct {
	ID                 json.Number          `json:"id"`
	Status             string               `json:"status"`
	TransactionAmount  float64              `json:"transaction_amount"`
	ExternalReference  string               `json:"external_reference"`
	DateApproved       string               `json:"date_approved"`
	FeeDetails         []mpFeeDetail        `json:"fee_details"`
	TransactionDetails mpTransactionDetails `json:"transaction_details"`
}

type mpFeeDetail struct {
	Amount float64 `json:"amount"`
}

type mpTransactionDetails struct {
	NetReceivedAmount float64 `json:"net_received_amount"`
}

// Parse resolves the referenced payment through a live API lookup rather
// than trusting the notification body. The notification only carries the
// payment id; the authoritative status comes from the payments endpoint.
func (a *Adapter) Parse(ctx context.Context, payload []byte) ([]paymentdomain.PaymentEvent, error) {
	var webhook mpWebhook
	if err := json.Unmarshal(payload, &webhook); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	paymentID := strings.TrimSpace(webhook.Data.ID.String())
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	kind := strings.TrimSpace(webhook.Type)
	if kind == "" {
		kind = strings.TrimSpace(webhook.Action)
	}
	if kind != "" && !strings.Contains(strings.ToLower(kind), "payment") {
		return nil, paymentdomain.ErrEventIgnored
	}

	payment, err := a.lookupPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	eventType := strings.TrimSpace(webhook.Action)
	if eventType == "" {
		eventType = "payment.updated"
	}

	event := paymentdomain.PaymentEvent{
		Provider:          "mercadopago",
		EventType:         eventType,
		ProviderPaymentID: paymentID,
		Reference:         strings.TrimSpace(payment.ExternalReference),
		Status:            mapStatus(payment.Status),
		Amount:            toCents(payment.TransactionAmount),
		FeeAmount:         feeAmount(payment),
		OccurredAt:        approvedAt(payment.DateApproved),
		RawPayload:        payload,
	}
	return []paymentdomain.PaymentEvent{event}, nil
}

func (a *Adapter) lookupPayment(ctx context.Context, paymentID string) (*mpPayment, error) {
	url := fmt.Sprintf("%s/v1/payments/%s", a.baseURL, paymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)

	res, err := a.client.Do(req)
	if err != nil {
		return nil, paymentdomain.ErrProviderUnavailable
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, paymentdomain.ErrTransactionNotFound
	}
	if res.StatusCode != http.StatusOK {
		return nil, paymentdomain.ErrProviderUnavailable
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, paymentdomain.ErrProviderUnavailable
	}

	var payment mpPayment
	if err := json.Unmarshal(body, &payment); err != nil {
		return nil, paymentdomain.ErrProviderUnavailable
	}
	return &payment, nil
}

func mapStatus(status string) paymentdomain.TransactionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved":
		return paymentdomain.StatusPaid
	case "pending", "authorized", "in_process":
		return paymentdomain.StatusPending
	case "rejected":
		return paymentdomain.StatusFailed
	case "cancelled":
		return paymentdomain.StatusCanceled
	case "refunded", "charged_back":
		return paymentdomain.StatusRefunded
	default:
		return paymentdomain.StatusPending
	}
}

func feeAmount(payment *mpPayment) *int64 {
	var total int64
	for _, detail := range payment.FeeDetails {
		total += toCents(detail.Amount)
	}
	if total == 0 && payment.TransactionDetails.NetReceivedAmount > 0 {
		total = toCents(payment.TransactionAmount) - toCents(payment.TransactionDetails.NetReceivedAmount)
	}
	if total <= 0 {
		return nil
	}
	return &total
}

func approvedAt(dateApproved string) time.Time {
	dateApproved = strings.TrimSpace(dateApproved)
	if dateApproved != "" {
		if parsed, err := time.Parse(time.RFC3339, dateApproved); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
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
