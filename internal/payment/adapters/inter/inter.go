package inter

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/vitrinelabs/vitrine/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "inter"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	token, _ := readString(cfg.Config, "webhook_token")
	return &Adapter{webhookToken: strings.TrimSpace(token)}, nil
}

type Adapter struct {
	webhookToken string
}

// Verify validates the shared-secret token against the Authorization bearer
// or the x-webhook-token header. A configured token is mandatory here.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookToken == "" {
		return paymentdomain.ErrInvalidConfig
	}

	received := strings.TrimSpace(headers.Get("x-webhook-token"))
	if received == "" {
		authorization := strings.TrimSpace(headers.Get("Authorization"))
		if after, ok := strings.CutPrefix(authorization, "Bearer "); ok {
			received = strings.TrimSpace(after)
		}
	}
	if received == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(received), []byte(a.webhookToken)) != 1 {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

type pixWebhook struct {
	Pix []pixEntry `json:"pix"`
}

type pixEntry struct {
	TxID       string `json:"txid"`
	Valor      string `json:"valor"`
	EndToEndID string `json:"endToEndId"`
	Horario    string `json:"horario"`
}

// Parse emits one paid event per pix entry, same implicit-status dialect as
// the other pix callbacks.
func (a *Adapter) Parse(ctx context.Context, payload []byte) ([]paymentdomain.PaymentEvent, error) {
	var webhook pixWebhook
	if err := json.Unmarshal(payload, &webhook); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if len(webhook.Pix) == 0 {
		return nil, paymentdomain.ErrInvalidPayload
	}

	events := make([]paymentdomain.PaymentEvent, 0, len(webhook.Pix))
	for _, entry := range webhook.Pix {
		txid := strings.TrimSpace(entry.TxID)
		if txid == "" {
			return nil, paymentdomain.ErrInvalidPayload
		}
		events = append(events, paymentdomain.PaymentEvent{
			Provider:          "inter",
			EventType:         "pix",
			ProviderPaymentID: txid,
			Status:            paymentdomain.StatusPaid,
			Amount:            parseAmount(entry.Valor),
			OccurredAt:        parseHorario(entry.Horario),
			RawPayload:        payload,
		})
	}
	return events, nil
}

func parseAmount(valor string) int64 {
	valor = strings.TrimSpace(valor)
	if valor == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(valor, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(parsed * 100))
}

func parseHorario(horario string) time.Time {
	horario = strings.TrimSpace(horario)
	if horario != "" {
		if parsed, err := time.Parse(time.RFC3339, horario); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
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
