package efi

import (
	"context"
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
	return "efi"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	return &Adapter{}, nil
}

type Adapter struct{}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
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

// Parse emits one paid event per pix entry. The pix callback carries no
// status field: presence of an entry means the transfer settled.
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
			Provider:          "efi",
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
