package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/vitrinelabs/vitrine/internal/payment/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, provider, event_type, dedupe_key, payload,
			received_at, processed_at, success, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Provider,
		event.EventType,
		event.DedupeKey,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
		event.Success,
		event.Error,
	).Error
}

func (r *repo) ClassifyEvent(ctx context.Context, db *gorm.DB, id snowflake.ID, eventType string, dedupeKey string) error {
	var keyValue *string
	if trimmed := strings.TrimSpace(dedupeKey); trimmed != "" {
		keyValue = &trimmed
	}
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET event_type = ?, dedupe_key = ?
		 WHERE id = ?`,
		eventType,
		keyValue,
		id,
	).Error
}

func (r *repo) FindSuccessfulEvent(ctx context.Context, db *gorm.DB, dedupeKey string) (*domain.WebhookEvent, error) {
	dedupeKey = strings.TrimSpace(dedupeKey)
	if dedupeKey == "" {
		return nil, nil
	}

	var item domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, event_type, dedupe_key, payload,
			received_at, processed_at, success, error
		 FROM webhook_events
		 WHERE dedupe_key = ? AND success = ?
		 LIMIT 1`,
		dedupeKey,
		true,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkEventOutcome(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time, success bool, errText string) error {
	var errValue *string
	if trimmed := strings.TrimSpace(errText); trimmed != "" {
		errValue = &trimmed
	}
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed_at = ?, success = ?, error = ?
		 WHERE id = ?`,
		processedAt,
		success,
		errValue,
		id,
	).Error
}

func (r *repo) ListEvents(ctx context.Context, db *gorm.DB, filter domain.EventListFilter) ([]*domain.WebhookEvent, error) {
	var events []*domain.WebhookEvent
	stmt := db.WithContext(ctx).Model(&domain.WebhookEvent{})

	if provider := strings.TrimSpace(filter.Provider); provider != "" {
		stmt = stmt.Where("provider = ?", provider)
	}
	if filter.Success != nil {
		stmt = stmt.Where("success = ?", *filter.Success)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(received_at < ?) OR (received_at = ? AND id < ?)",
			filter.Cursor.ReceivedAt,
			filter.Cursor.ReceivedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("received_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) FindTransactionByProviderPaymentID(ctx context.Context, db *gorm.DB, provider string, providerPaymentID string) (*domain.Transaction, error) {
	providerPaymentID = strings.TrimSpace(providerPaymentID)
	if providerPaymentID == "" {
		return nil, nil
	}

	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, provider, provider_payment_id, reference, status,
			amount, fee_amount, paid_at, raw_payload, created_at, updated_at
		 FROM transactions
		 WHERE provider = ? AND provider_payment_id = ?
		 LIMIT 1`,
		provider,
		providerPaymentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindTransactionByReference(ctx context.Context, db *gorm.DB, provider string, reference string) (*domain.Transaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, nil
	}

	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, provider, provider_payment_id, reference, status,
			amount, fee_amount, paid_at, raw_payload, created_at, updated_at
		 FROM transactions
		 WHERE provider = ? AND reference = ?
		 LIMIT 1`,
		provider,
		reference,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindTransactionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, provider, provider_payment_id, reference, status,
			amount, fee_amount, paid_at, raw_payload, created_at, updated_at
		 FROM transactions
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateTransactionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, target domain.TransactionStatus, allowedPrior []domain.TransactionStatus, paidAt *time.Time, feeAmount *int64, rawPayload []byte, now time.Time) (bool, error) {
	if len(allowedPrior) == 0 {
		return false, nil
	}

	prior := make([]string, 0, len(allowedPrior))
	for _, status := range allowedPrior {
		prior = append(prior, string(status))
	}

	var payload any
	if len(rawPayload) > 0 {
		payload = datatypes.JSON(rawPayload)
	}

	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET status = ?,
			 paid_at = COALESCE(?, paid_at),
			 fee_amount = COALESCE(?, fee_amount),
			 raw_payload = COALESCE(?, raw_payload),
			 updated_at = ?
		 WHERE id = ? AND status IN ?`,
		string(target),
		paidAt,
		feeAmount,
		payload,
		now,
		id,
		prior,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
