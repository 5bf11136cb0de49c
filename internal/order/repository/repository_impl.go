package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/vitrinelabs/vitrine/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, store_id, customer_name, total_amount, status, payment_status,
			paid_at, created_at, updated_at
		 FROM orders
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

func (r *repo) UpdateOnPayment(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, paymentStatus string, paidAt *time.Time, now time.Time) error {
	if strings.TrimSpace(status) == "" {
		return db.WithContext(ctx).Exec(
			`UPDATE orders
			 SET payment_status = ?, updated_at = ?
			 WHERE id = ?`,
			paymentStatus,
			now,
			id,
		).Error
	}

	return db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?,
			 payment_status = ?,
			 paid_at = COALESCE(?, paid_at),
			 updated_at = ?
		 WHERE id = ?`,
		status,
		paymentStatus,
		paidAt,
		now,
		id,
	).Error
}
