package domain

import (
	"context"
	"net/http"
)

// AdapterConfig carries the per-provider credentials resolved from the
// provider config file at dispatch time.
type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

// PaymentAdapter translates one provider's webhook dialect into canonical
// payment events. Verify runs before Parse; providers without a signature
// scheme return nil unconditionally.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	// Parse returns one event per payload entry. Pix providers batch
	// confirmations, so a single delivery may carry several.
	Parse(ctx context.Context, payload []byte) ([]PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}
