package settings

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/selinggonet/selinggonet/internal/platform/db"
)

// Repository reads and writes the app_settings row.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const settingsColumns = `id,
	COALESCE(app_name, ''), COALESCE(app_short_name, ''), COALESCE(app_description, ''),
	COALESCE(logo_url, ''), COALESCE(favicon_url, ''), COALESCE(theme_color, ''), COALESCE(background_color, ''),
	COALESCE(whatsapp_number, ''), COALESCE(admin_whatsapp_number, ''),
	COALESCE(offline_payment_name, ''), COALESCE(offline_payment_address, ''),
	COALESCE(qris_image_url, ''), COALESCE(qris_title, ''), updated_at`

// Get returns the first settings row.
func (r *Repository) Get(ctx context.Context) (AppSettings, error) {
	var s AppSettings
	err := r.pool.QueryRow(ctx, `SELECT `+settingsColumns+` FROM app_settings ORDER BY id LIMIT 1`).Scan(
		&s.ID, &s.AppName, &s.AppShortName, &s.AppDescription,
		&s.LogoURL, &s.FaviconURL, &s.ThemeColor, &s.BackgroundColor,
		&s.WhatsAppNumber, &s.AdminWhatsAppNumber,
		&s.OfflinePaymentName, &s.OfflinePaymentAddress,
		&s.QRISImageURL, &s.QRISTitle, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return AppSettings{}, ErrNotFound
	}
	if err != nil {
		return AppSettings{}, err
	}
	return s, nil
}

// Upsert writes s over the single settings row, inserting it when the table
// is empty. The row is locked for the duration, and the last write wins.
func (r *Repository) Upsert(ctx context.Context, s AppSettings) (AppSettings, error) {
	args := []any{
		s.AppName, s.AppShortName, s.AppDescription,
		s.LogoURL, s.FaviconURL, s.ThemeColor, s.BackgroundColor,
		s.WhatsAppNumber, s.AdminWhatsAppNumber,
		s.OfflinePaymentName, s.OfflinePaymentAddress,
		s.QRISImageURL, s.QRISTitle,
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, `SELECT id FROM app_settings ORDER BY id LIMIT 1 FOR UPDATE`).Scan(&id)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return tx.QueryRow(ctx, `
				INSERT INTO app_settings (
					app_name, app_short_name, app_description,
					logo_url, favicon_url, theme_color, background_color,
					whatsapp_number, admin_whatsapp_number,
					offline_payment_name, offline_payment_address,
					qris_image_url, qris_title, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
				RETURNING id, updated_at`, args...).Scan(&s.ID, &s.UpdatedAt)
		case err != nil:
			return err
		}
		return tx.QueryRow(ctx, `
			UPDATE app_settings SET
				app_name = $1, app_short_name = $2, app_description = $3,
				logo_url = $4, favicon_url = $5, theme_color = $6, background_color = $7,
				whatsapp_number = $8, admin_whatsapp_number = $9,
				offline_payment_name = $10, offline_payment_address = $11,
				qris_image_url = $12, qris_title = $13, updated_at = NOW()
			WHERE id = $14
			RETURNING id, updated_at`, append(args, id)...).Scan(&s.ID, &s.UpdatedAt)
	})
	if err != nil {
		return AppSettings{}, err
	}
	return s, nil
}
