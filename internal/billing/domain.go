// Package billing owns the invoice lists of the admin board, the payment
// dispatch flow and the customer bill views.
package billing

import (
	"errors"
	"time"

	"github.com/selinggonet/selinggonet/internal/shared"
)

// Status enumerates invoice statuses stored in the invoices table.
type Status string

const (
	StatusUnpaid        Status = "unpaid"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
)

// Label returns the Indonesian badge text.
func (s Status) Label() string {
	switch s {
	case StatusUnpaid:
		return "Belum Lunas"
	case StatusPartiallyPaid:
		return "Cicilan"
	case StatusPaid:
		return "Lunas"
	default:
		return string(s)
	}
}

// PaymentMethod enumerates accepted payment channels.
type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodTransfer PaymentMethod = "transfer"
	MethodEWallet  PaymentMethod = "ewallet"
	MethodQRIS     PaymentMethod = "qris"
)

// PaymentMethods lists the methods offered in the payment modal, in display order.
func PaymentMethods() []PaymentMethod {
	return []PaymentMethod{MethodCash, MethodTransfer, MethodEWallet, MethodQRIS}
}

// Label returns the display name of the method.
func (m PaymentMethod) Label() string {
	switch m {
	case MethodCash:
		return "Tunai"
	case MethodTransfer:
		return "Transfer Bank"
	case MethodEWallet:
		return "E-Wallet"
	case MethodQRIS:
		return "QRIS"
	case "":
		return "-"
	default:
		return string(m)
	}
}

// Valid reports whether m is one of the accepted methods.
func (m PaymentMethod) Valid() bool {
	for _, known := range PaymentMethods() {
		if m == known {
			return true
		}
	}
	return false
}

// Customer is the read-only profile row joined into invoice queries.
type Customer struct {
	ID               string     `json:"id"`
	FullName         string     `json:"full_name"`
	IDPL             string     `json:"idpl"`
	WhatsAppNumber   string     `json:"whatsapp_number"`
	InstallationDate *time.Time `json:"installation_date,omitempty"`
	Status           string     `json:"status"`
}

// Invoice mirrors a row of the invoices table.
//
// While not paid, AmountPaid + Amount == TotalDue. Once paid, Amount holds the
// last remaining value before close and is not meaningful for display.
type Invoice struct {
	ID            string        `json:"id"`
	CustomerID    string        `json:"customer_id"`
	InvoicePeriod string        `json:"invoice_period"`
	Amount        float64       `json:"amount"`
	TotalDue      float64       `json:"total_due"`
	AmountPaid    float64       `json:"amount_paid"`
	Status        Status        `json:"status"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`
	DueDate       *time.Time    `json:"due_date,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	Customer      Customer      `json:"profiles"`
}

// DisplayTotal is the original amount billed.
func (inv Invoice) DisplayTotal() float64 {
	if inv.TotalDue > 0 {
		return inv.TotalDue
	}
	return inv.Amount + inv.AmountPaid
}

// DisplayPaid is the cumulative amount received.
func (inv Invoice) DisplayPaid() float64 {
	if inv.Status == StatusPaid {
		if inv.AmountPaid > 0 {
			return inv.AmountPaid
		}
		return inv.DisplayTotal()
	}
	return inv.AmountPaid
}

// Remaining is the amount still owed.
func (inv Invoice) Remaining() float64 {
	if inv.Status == StatusPaid {
		return 0
	}
	return inv.Amount
}

// Partitions are the three disjoint invoice slices of the board.
type Partitions struct {
	Unpaid      []Invoice `json:"unpaid"`
	Installment []Invoice `json:"installment"`
	Paid        []Invoice `json:"paid"`
}

// PaymentAccount is a bank or e-wallet account customers can pay into.
type PaymentAccount struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	AccountHolder string `json:"account_holder"`
	SortOrder     int    `json:"sort_order"`
}

// PaymentRequest is the argument list of process_installment_payment.
type PaymentRequest struct {
	InvoiceID string
	Amount    float64
	AdminName string
	Method    PaymentMethod
	Note      string
}

// PaymentResult is the data object returned by a successful payment RPC.
type PaymentResult struct {
	RemainingAmount float64 `json:"remaining_amount"`
	NewStatus       Status  `json:"new_status"`
}

// RPCResponse is the JSON envelope returned by process_installment_payment.
type RPCResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Data    PaymentResult `json:"data"`
}

// GenerationResult is the envelope returned by create_monthly_invoices_v2.
type GenerationResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// OK reports whether generation succeeded.
func (g GenerationResult) OK() bool {
	return g.Status == "success" || g.Status == "ok"
}

var (
	// ErrNotFound indicates the invoice does not exist.
	ErrNotFound = errors.New("billing: invoice not found")
	// ErrInvalidAmount rejects amounts outside (0, remaining].
	ErrInvalidAmount = errors.New("billing: invalid payment amount")
	// ErrInvoicePaid rejects payments against a closed invoice.
	ErrInvoicePaid = errors.New("billing: invoice already paid")
	// ErrInvalidMethod rejects unknown payment methods.
	ErrInvalidMethod = errors.New("billing: invalid payment method")
	// ErrPaymentRejected wraps a success:false answer from the payment RPC.
	ErrPaymentRejected = errors.New("billing: payment rejected")
	// ErrPaymentNotApplied marks a payment call that certainly did not commit.
	ErrPaymentNotApplied = errors.New("billing: payment not applied")
	// ErrNoWhatsApp rejects a reminder for a customer without a WhatsApp number.
	ErrNoWhatsApp = errors.New("billing: customer has no whatsapp number")
	// ErrReminderPending rejects a reminder while an earlier one is still queued.
	ErrReminderPending = errors.New("billing: reminder already queued")
	// ErrNotifyUnavailable is returned when no notification outbox is configured.
	ErrNotifyUnavailable = errors.New("billing: notifications unavailable")
	// ErrGenerationFailed wraps a non-success answer from invoice generation.
	ErrGenerationFailed = errors.New("billing: invoice generation failed")
)

func init() {
	shared.RegisterSafeMessage(ErrNotFound, "Tagihan tidak ditemukan")
	shared.RegisterSafeMessage(ErrInvalidAmount, "Jumlah pembayaran tidak valid")
	shared.RegisterSafeMessage(ErrInvoicePaid, "Tagihan sudah lunas")
	shared.RegisterSafeMessage(ErrInvalidMethod, "Metode pembayaran tidak valid")
	shared.RegisterSafeMessage(ErrPaymentRejected, "Pembayaran ditolak")
	shared.RegisterSafeMessage(ErrGenerationFailed, "Gagal membuat tagihan bulanan")
	shared.RegisterSafeMessage(ErrPaymentNotApplied, "Pembayaran gagal dicatat, silakan coba lagi")
	shared.RegisterSafeMessage(ErrNoWhatsApp, "Pelanggan belum memiliki nomor WhatsApp")
	shared.RegisterSafeMessage(ErrReminderPending, "Pengingat untuk tagihan ini sudah dikirim, coba lagi nanti")
	shared.RegisterSafeMessage(ErrNotifyUnavailable, "Notifikasi WhatsApp tidak tersedia")
}

// RejectedError carries the message returned by a store procedure.
type RejectedError struct {
	Cause   error
	Message string
}

func (e *RejectedError) Error() string {
	return e.Cause.Error() + ": " + e.Message
}

func (e *RejectedError) Unwrap() error { return e.Cause }

// SafeMessage exposes the procedure message, which is written for end users.
func (e *RejectedError) SafeMessage() string {
	if e.Message == "" {
		return shared.UserSafeMessage(e.Cause)
	}
	return e.Message
}
