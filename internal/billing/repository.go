package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads invoices from Postgres and invokes the billing procedures.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const invoiceColumns = `
	i.id::text, i.customer_id::text, i.invoice_period,
	COALESCE(i.amount, 0)::float8, COALESCE(i.total_due, 0)::float8, COALESCE(i.amount_paid, 0)::float8,
	i.status, i.paid_at, i.payment_method, i.due_date, i.created_at,
	COALESCE(p.full_name, ''), COALESCE(p.idpl, ''), COALESCE(p.whatsapp_number, ''),
	p.installation_date, COALESCE(p.status, '')`

const invoiceFrom = `
	FROM invoices i
	LEFT JOIN profiles p ON p.id = i.customer_id`

// ListUnpaid returns invoices with status unpaid only. Partially paid
// invoices belong to the installment slice.
func (r *Repository) ListUnpaid(ctx context.Context, period PeriodFilter) ([]Invoice, error) {
	query, args := buildInvoiceQuery(`i.status = 'unpaid'`, period)
	query += " ORDER BY i.created_at DESC, i.id DESC"
	return r.queryInvoices(ctx, query, args...)
}

// ListInstallment returns partially paid invoices.
func (r *Repository) ListInstallment(ctx context.Context, period PeriodFilter) ([]Invoice, error) {
	query, args := buildInvoiceQuery(`i.status = 'partially_paid' AND i.amount_paid > 0`, period)
	query += " ORDER BY i.created_at DESC, i.id DESC"
	return r.queryInvoices(ctx, query, args...)
}

// ListPaidRange returns one range page of paid invoices, newest payment first.
func (r *Repository) ListPaidRange(ctx context.Context, period PeriodFilter, offset, limit int) ([]Invoice, error) {
	query, args := buildInvoiceQuery(`i.status = 'paid'`, period)
	query += fmt.Sprintf(" ORDER BY i.paid_at DESC NULLS LAST, i.id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	return r.queryInvoices(ctx, query, args...)
}

// ListPaidByCustomer returns the paid history of one customer.
func (r *Repository) ListPaidByCustomer(ctx context.Context, customerID string) ([]Invoice, error) {
	query := "SELECT" + invoiceColumns + invoiceFrom +
		` WHERE i.customer_id::text = $1 AND i.status = 'paid' ORDER BY i.paid_at DESC NULLS LAST, i.id DESC`
	return r.queryInvoices(ctx, query, customerID)
}

// ListOpenByCustomer returns the unpaid and partially paid invoices of one customer.
func (r *Repository) ListOpenByCustomer(ctx context.Context, customerID string) ([]Invoice, error) {
	query := "SELECT" + invoiceColumns + invoiceFrom +
		` WHERE i.customer_id::text = $1 AND i.status IN ('unpaid', 'partially_paid') ORDER BY i.created_at ASC, i.id ASC`
	return r.queryInvoices(ctx, query, customerID)
}

// GetInvoice returns one invoice with its customer profile.
func (r *Repository) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	query := "SELECT" + invoiceColumns + invoiceFrom + ` WHERE i.id::text = $1`
	inv, err := scanInvoice(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetCustomer returns a profile row.
func (r *Repository) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var c Customer
	var installed pgtype.Date
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, COALESCE(full_name, ''), COALESCE(idpl, ''), COALESCE(whatsapp_number, ''),
			installation_date, COALESCE(status, '')
		FROM profiles WHERE id::text = $1`, id).
		Scan(&c.ID, &c.FullName, &c.IDPL, &c.WhatsAppNumber, &installed, &c.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if installed.Valid {
		c.InstallationDate = &installed.Time
	}
	return &c, nil
}

// ListPaymentAccounts returns active rows of payment_methods.
func (r *Repository) ListPaymentAccounts(ctx context.Context) ([]PaymentAccount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, COALESCE(bank_name, ''), COALESCE(account_number, ''), COALESCE(account_holder, ''), COALESCE(sort_order, 0)
		FROM payment_methods
		WHERE is_active
		ORDER BY sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []PaymentAccount
	for rows.Next() {
		var a PaymentAccount
		if err := rows.Scan(&a.ID, &a.Name, &a.AccountNumber, &a.AccountHolder, &a.SortOrder); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ProcessInstallmentPayment invokes process_installment_payment and decodes its envelope.
func (r *Repository) ProcessInstallmentPayment(ctx context.Context, req PaymentRequest) (RPCResponse, error) {
	var raw string
	err := r.pool.QueryRow(ctx,
		`SELECT process_installment_payment($1::uuid, $2::numeric, $3, $4, $5)::text`,
		req.InvoiceID, req.Amount, req.AdminName, string(req.Method), nullableText(req.Note),
	).Scan(&raw)
	if err != nil {
		if paymentNotApplied(err) {
			return RPCResponse{}, fmt.Errorf("process installment payment: %w: %w", ErrPaymentNotApplied, err)
		}
		return RPCResponse{}, fmt.Errorf("process installment payment: %w", err)
	}
	var resp RPCResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return RPCResponse{}, fmt.Errorf("decode payment response: %w", err)
	}
	return resp, nil
}

// paymentNotApplied reports errors after which the procedure certainly did
// not commit: the statement never reached the server, or the server raised
// an error and rolled the call back. Timeouts and broken connections are
// ambiguous and return false.
func paymentNotApplied(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// CreateMonthlyInvoices invokes create_monthly_invoices_v2.
func (r *Repository) CreateMonthlyInvoices(ctx context.Context) (GenerationResult, error) {
	var raw string
	if err := r.pool.QueryRow(ctx, `SELECT create_monthly_invoices_v2()::text`).Scan(&raw); err != nil {
		return GenerationResult{}, fmt.Errorf("create monthly invoices: %w", err)
	}
	var res GenerationResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return GenerationResult{}, fmt.Errorf("decode generation response: %w", err)
	}
	return res, nil
}

func buildInvoiceQuery(statusClause string, period PeriodFilter) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT")
	b.WriteString(invoiceColumns)
	b.WriteString(invoiceFrom)
	b.WriteString(" WHERE ")
	b.WriteString(statusClause)
	var args []any
	switch {
	case period.WholeYear():
		args = append(args, "% "+strconv.Itoa(period.Year))
		b.WriteString(" AND i.invoice_period LIKE $1")
	case period.Active():
		args = append(args, period.Label())
		b.WriteString(" AND i.invoice_period = $1")
	}
	return b.String(), args
}

func (r *Repository) queryInvoices(ctx context.Context, query string, args ...any) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	invoices := make([]Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var status string
	var paidAt pgtype.Timestamptz
	var method pgtype.Text
	var dueDate, installed pgtype.Date
	err := row.Scan(
		&inv.ID, &inv.CustomerID, &inv.InvoicePeriod,
		&inv.Amount, &inv.TotalDue, &inv.AmountPaid,
		&status, &paidAt, &method, &dueDate, &inv.CreatedAt,
		&inv.Customer.FullName, &inv.Customer.IDPL, &inv.Customer.WhatsAppNumber,
		&installed, &inv.Customer.Status,
	)
	if err != nil {
		return Invoice{}, err
	}
	inv.Status = Status(status)
	inv.Customer.ID = inv.CustomerID
	if paidAt.Valid {
		inv.PaidAt = &paidAt.Time
	}
	if method.Valid {
		inv.PaymentMethod = PaymentMethod(method.String)
	}
	if dueDate.Valid {
		inv.DueDate = &dueDate.Time
	}
	if installed.Valid {
		inv.Customer.InstallationDate = &installed.Time
	}
	return inv, nil
}

func nullableText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	return pgtype.Text{String: s, Valid: s != ""}
}
