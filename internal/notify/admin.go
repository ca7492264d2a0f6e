package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdminNotification is a row of the admin dashboard notification feed.
type AdminNotification struct {
	Title     string
	Message   string
	InvoiceID string
	CreatedAt time.Time
}

// AdminRepository persists admin notifications.
type AdminRepository struct {
	pool *pgxpool.Pool
}

// NewAdminRepository constructs the repository.
func NewAdminRepository(pool *pgxpool.Pool) *AdminRepository {
	return &AdminRepository{pool: pool}
}

// Insert stores a notification.
func (r *AdminRepository) Insert(ctx context.Context, n AdminNotification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (title, message, type, invoice_id, is_read, created_at)
		VALUES ($1, $2, 'payment', NULLIF($3, '')::uuid, false, $4)`,
		n.Title, n.Message, n.InvoiceID, n.CreatedAt)
	return err
}
