package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/vitrinelabs/vitrine/internal/config"
	obsmetrics "github.com/vitrinelabs/vitrine/internal/observability/metrics"
	"github.com/vitrinelabs/vitrine/internal/payment/adapters"
	paymentdomain "github.com/vitrinelabs/vitrine/internal/payment/domain"
	paymentservice "github.com/vitrinelabs/vitrine/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	PaymentSvc *paymentservice.Service
	Adapters   *adapters.Registry
	Providers  *config.ProviderConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service is the webhook entry-point state machine: resolve adapter, verify,
// parse, then reconcile each parsed event.
type Service struct {
	log        *zap.Logger
	paymentSvc *paymentservice.Service
	adapters   *adapters.Registry
	providers  *config.ProviderConfigHolder
	obsMetrics *obsmetrics.Metrics
}

// IngestResult summarizes one delivery for the acknowledgement body.
type IngestResult struct {
	Provider   string `json:"provider"`
	Processed  int    `json:"processed"`
	Duplicates int    `json:"duplicates"`
	Ignored    bool   `json:"ignored,omitempty"`
}

func NewService(p Params) *Service {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		paymentSvc: p.PaymentSvc,
		adapters:   p.Adapters,
		providers:  p.Providers,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*IngestResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return nil, paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return nil, paymentdomain.ErrInvalidPayload
	}

	// The raw delivery is on record before verification, parsing or any
	// outbound lookup runs. A failure past this point leaves the row with
	// success = FALSE for replay and manual reconciliation.
	record, err := s.paymentSvc.RecordDelivery(ctx, provider, payload)
	if err != nil {
		return nil, err
	}

	adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
		Provider: provider,
		Config:   s.providers.Get().AdapterSettings(provider),
	})
	if err != nil {
		s.paymentSvc.ResolveDelivery(ctx, record.ID, false, err)
		return nil, err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook verification failed", zap.String("provider", provider), zap.Error(err))
		s.paymentSvc.ResolveDelivery(ctx, record.ID, false, err)
		return nil, err
	}

	events, err := adapter.Parse(ctx, payload)
	if err != nil {
		s.paymentSvc.ResolveDelivery(ctx, record.ID, false, err)
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return &IngestResult{Provider: provider, Ignored: true}, nil
		}
		return nil, err
	}

	result := &IngestResult{Provider: provider}
	notFound := false
	for i := range events {
		event := &events[i]
		event.Provider = provider
		if event.RawPayload == nil {
			event.RawPayload = payload
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordWebhookEvent(ctx, provider, event.EventType)
		}

		if err := s.paymentSvc.ProcessDeliveredEvent(ctx, event, record.ID); err != nil {
			switch {
			case errors.Is(err, paymentdomain.ErrEventAlreadyProcessed):
				result.Duplicates++
			case errors.Is(err, paymentdomain.ErrTransactionNotFound):
				notFound = true
				s.log.Warn("webhook references unknown payment",
					zap.String("provider", provider),
					zap.String("event_type", event.EventType),
					zap.String("provider_payment_id", event.ProviderPaymentID),
				)
			default:
				s.paymentSvc.ResolveDelivery(ctx, record.ID, false, err)
				return nil, err
			}
			continue
		}
		result.Processed++
	}

	// A delivery that matched nothing at all is the 404 case; partially
	// matched batches still acknowledge what was applied.
	if notFound && result.Processed == 0 && result.Duplicates == 0 {
		s.paymentSvc.ResolveDelivery(ctx, record.ID, false, paymentdomain.ErrTransactionNotFound)
		return nil, paymentdomain.ErrTransactionNotFound
	}
	if result.Processed > 0 {
		s.paymentSvc.ResolveDelivery(ctx, record.ID, true, nil)
	} else {
		// Duplicate-only deliveries are acknowledged but keep success =
		// FALSE: the dedupe index allows one successful row per key.
		s.paymentSvc.ResolveDelivery(ctx, record.ID, false, paymentdomain.ErrEventAlreadyProcessed)
	}
	return result, nil
}
