package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	paymentdomain "github.com/vitrinelabs/vitrine/internal/payment/domain"
)

func TestNewAdapterRequiresSecret(t *testing.T) {
	factory := NewFactory()

	if _, err := factory.NewAdapter(paymentdomain.AdapterConfig{
		Provider: "stripe",
		Config:   map[string]any{},
	}); !errors.Is(err, paymentdomain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	if _, err := factory.NewAdapter(paymentdomain.AdapterConfig{
		Provider: "stripe",
		Config:   map[string]any{"webhook_secret": "whsec_test"},
	}); err != nil {
		t.Fatalf("expected adapter, got error: %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"checkout.session.completed","data":{"object":{}}}`)
	timestamp := time.Now().Unix()

	header := buildSignatureHeader(secret, payload, timestamp)
	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", header)

	adapter := &Adapter{webhookSecret: secret}
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildSignatureHeader("wrong", payload, timestamp))
	if !errors.Is(adapter.Verify(context.Background(), payload, reqHeader), paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error")
	}

	reqHeader.Del("Stripe-Signature")
	if !errors.Is(adapter.Verify(context.Background(), payload, reqHeader), paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected missing signature error")
	}
}

func TestParseCheckoutSessionCompleted(t *testing.T) {
	adapter := &Adapter{webhookSecret: "whsec_test"}
	created := time.Now().UTC().Unix()

	payload := []byte(fmt.Sprintf(
		`{"id":"evt_1","type":"checkout.session.completed","created":%d,"data":{"object":{"id":"cs_1","amount_total":12990,"created":%d,"metadata":{"order_id":"order-42"}}}}`,
		created, created,
	))

	events, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	event := events[0]
	if event.Status != paymentdomain.StatusPaid {
		t.Fatalf("expected status paid, got %s", event.Status)
	}
	if event.ProviderPaymentID != "cs_1" {
		t.Fatalf("expected provider payment id cs_1, got %s", event.ProviderPaymentID)
	}
	if event.Reference != "order-42" {
		t.Fatalf("expected reference order-42, got %s", event.Reference)
	}
	if event.Amount != 12990 {
		t.Fatalf("expected amount 12990, got %d", event.Amount)
	}
}

func TestParseChargeRefunded(t *testing.T) {
	adapter := &Adapter{webhookSecret: "whsec_test"}
	created := time.Now().UTC().Unix()

	payload := []byte(fmt.Sprintf(
		`{"id":"evt_2","type":"charge.refunded","created":%d,"data":{"object":{"id":"ch_1","amount":5000,"amount_refunded":1200,"created":%d}}}`,
		created, created,
	))

	events, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if events[0].Status != paymentdomain.StatusRefunded {
		t.Fatalf("expected status refunded, got %s", events[0].Status)
	}
	if events[0].Amount != 1200 {
		t.Fatalf("expected refunded amount 1200, got %d", events[0].Amount)
	}
}

func TestParseIgnoresUnrelatedEvents(t *testing.T) {
	adapter := &Adapter{webhookSecret: "whsec_test"}

	payload := []byte(`{"id":"evt_3","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
	if _, err := adapter.Parse(context.Background(), payload); !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected ErrEventIgnored, got %v", err)
	}
}

func buildSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}
