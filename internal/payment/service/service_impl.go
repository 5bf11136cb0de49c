package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/vitrinelabs/vitrine/internal/audit/domain"
	billingdomain "github.com/vitrinelabs/vitrine/internal/billing/domain"
	billingservice "github.com/vitrinelabs/vitrine/internal/billing/service"
	"github.com/vitrinelabs/vitrine/internal/clock"
	"github.com/vitrinelabs/vitrine/internal/lock"
	obsmetrics "github.com/vitrinelabs/vitrine/internal/observability/metrics"
	orderdomain "github.com/vitrinelabs/vitrine/internal/order/domain"
	paymentdomain "github.com/vitrinelabs/vitrine/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	actionPaymentReceived     = "PAYMENT_RECEIVED"
	actionPaymentRefunded     = "PAYMENT_REFUNDED"
	actionPaymentFailed       = "PAYMENT_FAILED"
	actionPaymentCanceled     = "PAYMENT_CANCELED"
	actionPaymentExpired      = "PAYMENT_EXPIRED"
	actionInvoicePaid         = "INVOICE_PAID"
	actionSubscriptionRenewed = "SUBSCRIPTION_RENEWED"
)

const reconcileLockTTL = 30 * time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       paymentdomain.Repository
	OrderRepo  orderdomain.Repository
	BillingSvc *billingservice.Service
	AuditSvc   auditdomain.Service
	Locker     *lock.Locker        `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service is the reconciliation engine: it turns a canonical payment event
// into consistent transaction, order and billing state.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	repo       paymentdomain.Repository
	orderRepo  orderdomain.Repository
	billingSvc *billingservice.Service
	auditSvc   auditdomain.Service
	locker     *lock.Locker
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		orderRepo:  p.OrderRepo,
		billingSvc: p.BillingSvc,
		auditSvc:   p.AuditSvc,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}
}

// RecordDelivery logs one inbound delivery before any verification, parsing
// or outbound lookup runs, so the row survives whatever fails afterwards.
// The event type and dedupe key are filled in once the payload is parsed.
func (s *Service) RecordDelivery(ctx context.Context, provider string, payload []byte) (*paymentdomain.WebhookEvent, error) {
	record := &paymentdomain.WebhookEvent{
		ID:         s.genID.Generate(),
		Provider:   provider,
		EventType:  "unknown",
		Payload:    datatypes.JSON(payload),
		ReceivedAt: s.clock.Now().UTC(),
	}
	if err := s.repo.InsertEvent(ctx, s.db, record); err != nil {
		return nil, err
	}
	return record, nil
}

// ResolveDelivery records the outcome of a logged delivery. Failure to mark
// the outcome is reported but never unwinds the reconciliation itself.
func (s *Service) ResolveDelivery(ctx context.Context, id snowflake.ID, success bool, cause error) {
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	if err := s.repo.MarkEventOutcome(ctx, s.db, id, s.clock.Now().UTC(), success, errText); err != nil {
		s.log.Warn("failed to mark webhook event outcome", zap.Error(err))
	}
}

// ProcessEvent reconciles one canonical event, logging it as its own
// delivery. Callers that already logged the delivery use
// ProcessDeliveredEvent instead. ErrEventAlreadyProcessed and
// ErrTransactionNotFound are normal outcomes the entry point maps to 200 and
// 404 respectively.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}
	record, err := s.RecordDelivery(ctx, event.Provider, event.RawPayload)
	if err != nil {
		return err
	}
	err = s.ProcessDeliveredEvent(ctx, event, record.ID)
	s.ResolveDelivery(ctx, record.ID, err == nil, err)
	return err
}

// ProcessDeliveredEvent reconciles one canonical event against a delivery
// row that was already inserted. The caller owns the row's final outcome;
// this method only classifies it once the event shape is known.
func (s *Service) ProcessDeliveredEvent(ctx context.Context, event *paymentdomain.PaymentEvent, recordID snowflake.ID) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	dedupeKey := fmt.Sprintf("%s:%s:%s", event.Provider, event.EventType, event.ProviderPaymentID)

	prior, err := s.repo.FindSuccessfulEvent(ctx, s.db, dedupeKey)
	if err != nil {
		return err
	}
	if prior != nil {
		return paymentdomain.ErrEventAlreadyProcessed
	}

	// Classified only past the dedupe check: a row that later completes
	// successfully must be the sole success holder of its key.
	if err := s.repo.ClassifyEvent(ctx, s.db, recordID, event.EventType, dedupeKey); err != nil {
		return err
	}

	release, err := s.acquireLock(ctx, event)
	if err != nil {
		return err
	}
	defer release()

	if err := s.reconcile(ctx, event, now); err != nil {
		return err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordReconciliation(ctx, event.Provider, string(event.Status))
	}
	return nil
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	event.ProviderPaymentID = strings.TrimSpace(event.ProviderPaymentID)
	if event.ProviderPaymentID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	if !event.Status.Valid() {
		return paymentdomain.ErrInvalidEvent
	}
	event.EventType = strings.TrimSpace(event.EventType)
	if event.EventType == "" {
		event.EventType = "unknown"
	}
	if len(event.RawPayload) == 0 || !json.Valid(event.RawPayload) {
		return paymentdomain.ErrInvalidPayload
	}
	return nil
}

func (s *Service) acquireLock(ctx context.Context, event *paymentdomain.PaymentEvent) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	key := fmt.Sprintf("reconcile:%s:%s", event.Provider, event.ProviderPaymentID)
	token, ok, err := s.locker.TryLock(ctx, key, reconcileLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("reconcile_in_progress")
	}
	return func() {
		if err := s.locker.Release(ctx, key, token); err != nil {
			s.log.Warn("failed to release reconcile lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (s *Service) reconcile(ctx context.Context, event *paymentdomain.PaymentEvent, now time.Time) error {
	transaction, err := s.locateTransaction(ctx, event)
	if err != nil {
		return err
	}
	if transaction != nil {
		return s.applyToTransaction(ctx, transaction, event, now)
	}

	invoice, err := s.billingSvc.FindInvoiceByProviderChargeID(ctx, event.Provider, event.ProviderPaymentID)
	if err != nil {
		return err
	}
	if invoice != nil {
		return s.applyToInvoice(ctx, invoice, event, now)
	}

	return paymentdomain.ErrTransactionNotFound
}

// locateTransaction tries the provider payment id first and falls back to
// the payload-embedded reference only on a miss.
func (s *Service) locateTransaction(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.Transaction, error) {
	transaction, err := s.repo.FindTransactionByProviderPaymentID(ctx, s.db, event.Provider, event.ProviderPaymentID)
	if err != nil {
		return nil, err
	}
	if transaction != nil {
		return transaction, nil
	}
	if reference := strings.TrimSpace(event.Reference); reference != "" {
		return s.repo.FindTransactionByReference(ctx, s.db, event.Provider, reference)
	}
	return nil, nil
}

func (s *Service) applyToTransaction(ctx context.Context, transaction *paymentdomain.Transaction, event *paymentdomain.PaymentEvent, now time.Time) error {
	target := event.Status
	if transaction.Status == target {
		return paymentdomain.ErrEventAlreadyProcessed
	}

	allowedPrior := paymentdomain.AllowedPriorStatuses(target)

	var paidAt *time.Time
	if target == paymentdomain.StatusPaid {
		paidAt = &now
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := s.repo.UpdateTransactionStatus(ctx, tx, transaction.ID, target, allowedPrior, paidAt, event.FeeAmount, event.RawPayload, now)
		if err != nil {
			return err
		}
		if !applied {
			return paymentdomain.ErrEventAlreadyProcessed
		}
		return s.orderRepo.UpdateOnPayment(ctx, tx, transaction.OrderID, paymentdomain.OrderStatusFor(target), string(target), paidAt, now)
	})
	if err != nil {
		return err
	}

	if action := paymentAction(target); action != "" {
		s.writePaymentAudit(ctx, action, transaction, event, paidAt)
	}
	return nil
}

// applyToInvoice handles the owner-billing flow: the provider charge settles
// a subscription invoice instead of a storefront transaction.
func (s *Service) applyToInvoice(ctx context.Context, invoice *billingdomain.Invoice, event *paymentdomain.PaymentEvent, now time.Time) error {
	if event.Status != paymentdomain.StatusPaid {
		if action := paymentAction(event.Status); action != "" {
			s.writeInvoiceAudit(ctx, action, invoice, nil, event, now)
		}
		return nil
	}

	var subscription *billingdomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		renewed, err := s.billingSvc.ApplyInvoicePaid(ctx, tx, invoice, now)
		if err != nil {
			return err
		}
		subscription = renewed
		return nil
	})
	if err != nil {
		if errors.Is(err, billingdomain.ErrInvoiceAlreadyPaid) {
			return paymentdomain.ErrEventAlreadyProcessed
		}
		return err
	}

	s.writeInvoiceAudit(ctx, actionInvoicePaid, invoice, subscription, event, now)
	s.writeInvoiceAudit(ctx, actionSubscriptionRenewed, invoice, subscription, event, now)
	return nil
}

func paymentAction(status paymentdomain.TransactionStatus) string {
	switch status {
	case paymentdomain.StatusPaid:
		return actionPaymentReceived
	case paymentdomain.StatusRefunded:
		return actionPaymentRefunded
	case paymentdomain.StatusFailed:
		return actionPaymentFailed
	case paymentdomain.StatusCanceled:
		return actionPaymentCanceled
	case paymentdomain.StatusExpired:
		return actionPaymentExpired
	}
	return ""
}

func (s *Service) writePaymentAudit(ctx context.Context, action string, transaction *paymentdomain.Transaction, event *paymentdomain.PaymentEvent, paidAt *time.Time) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"provider":            event.Provider,
		"event_type":          event.EventType,
		"provider_payment_id": event.ProviderPaymentID,
		"transaction_id":      transaction.ID.String(),
		"order_id":            transaction.OrderID.String(),
		"amount":              event.Amount,
	}
	if event.FeeAmount != nil {
		metadata["fee_amount"] = *event.FeeAmount
	}
	if paidAt != nil {
		metadata["paid_at"] = paidAt.UTC().Format(time.RFC3339)
	}

	targetID := transaction.ID.String()
	if err := s.auditSvc.AuditLog(ctx, nil, string(auditdomain.ActorTypeWebhook), nil, action, "transaction", &targetID, metadata); err != nil {
		s.log.Warn("failed to write payment audit log",
			zap.String("action", action),
			zap.String("transaction_id", targetID),
			zap.Error(err),
		)
	}
}

func (s *Service) writeInvoiceAudit(ctx context.Context, action string, invoice *billingdomain.Invoice, subscription *billingdomain.Subscription, event *paymentdomain.PaymentEvent, now time.Time) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"provider":           event.Provider,
		"event_type":         event.EventType,
		"provider_charge_id": event.ProviderPaymentID,
		"invoice_id":         invoice.ID.String(),
		"subscription_id":    invoice.SubscriptionID.String(),
		"amount":             event.Amount,
		"paid_at":            now.Format(time.RFC3339),
	}

	targetType := "invoice"
	targetID := invoice.ID.String()
	var storeID *snowflake.ID
	if subscription != nil {
		storeID = &subscription.StoreID
		metadata["billing_cycle"] = string(subscription.BillingCycle)
		metadata["current_period_end"] = subscription.CurrentPeriodEnd.UTC().Format(time.RFC3339)
		if action == actionSubscriptionRenewed {
			targetType = "subscription"
			targetID = subscription.ID.String()
		}
	}

	if err := s.auditSvc.AuditLog(ctx, storeID, string(auditdomain.ActorTypeWebhook), nil, action, targetType, &targetID, metadata); err != nil {
		s.log.Warn("failed to write billing audit log",
			zap.String("action", action),
			zap.String("target_id", targetID),
			zap.Error(err),
		)
	}
}

// FindTransactionByID serves the back-office transaction lookup.
func (s *Service) FindTransactionByID(ctx context.Context, id snowflake.ID) (*paymentdomain.Transaction, error) {
	return s.repo.FindTransactionByID(ctx, s.db, id)
}

func (s *Service) ListEvents(ctx context.Context, filter paymentdomain.EventListFilter) ([]*paymentdomain.WebhookEvent, error) {
	return s.repo.ListEvents(ctx, s.db, filter)
}
