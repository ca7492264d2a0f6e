package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/selinggonet/selinggonet/internal/shared"
)

// DefaultPaidPageSize matches the row cap of the hosted database API.
const DefaultPaidPageSize = 1000

const idempotencyModule = "billing.payment"

// Store defines data access used by the service.
type Store interface {
	ListUnpaid(ctx context.Context, period PeriodFilter) ([]Invoice, error)
	ListInstallment(ctx context.Context, period PeriodFilter) ([]Invoice, error)
	ListPaidRange(ctx context.Context, period PeriodFilter, offset, limit int) ([]Invoice, error)
	ListPaidByCustomer(ctx context.Context, customerID string) ([]Invoice, error)
	ListOpenByCustomer(ctx context.Context, customerID string) ([]Invoice, error)
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	ListPaymentAccounts(ctx context.Context) ([]PaymentAccount, error)
	ProcessInstallmentPayment(ctx context.Context, req PaymentRequest) (RPCResponse, error)
	CreateMonthlyInvoices(ctx context.Context) (GenerationResult, error)
}

// PaymentNotice describes a committed payment for the notification outbox.
type PaymentNotice struct {
	InvoiceID string        `json:"invoice_id"`
	Amount    float64       `json:"amount"`
	Method    PaymentMethod `json:"method"`
	NewStatus Status        `json:"new_status"`
	Remaining float64       `json:"remaining"`
	AdminName string        `json:"admin_name"`
	PaidAt    time.Time     `json:"paid_at"`
}

// BillReminder asks the outbox to send an unpaid-bill reminder to the customer.
type BillReminder struct {
	InvoiceID string `json:"invoice_id"`
	AdminName string `json:"admin_name,omitempty"`
}

// Notifier queues WhatsApp side effects. Each call is independent: a failure
// of one must not prevent the other.
type Notifier interface {
	NotifyCustomer(ctx context.Context, notice PaymentNotice) error
	NotifyAdmin(ctx context.Context, notice PaymentNotice) error
	NotifyReminder(ctx context.Context, reminder BillReminder) error
}

// IdempotencyGuard claims request keys so a double submit is processed once.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Release(ctx context.Context, key, module string) error
}

// ServiceConfig tunes the service.
type ServiceConfig struct {
	PaidPageSize int
}

// Service implements invoice listing and payment dispatch.
type Service struct {
	store    Store
	notifier Notifier
	guard    IdempotencyGuard
	logger   *slog.Logger
	validate *validator.Validate
	pageSize int
	fetches  singleflight.Group
}

// NewService builds a Service. notifier and guard may be nil.
func NewService(store Store, notifier Notifier, guard IdempotencyGuard, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := cfg.PaidPageSize
	if pageSize <= 0 {
		pageSize = DefaultPaidPageSize
	}
	return &Service{
		store:    store,
		notifier: notifier,
		guard:    guard,
		logger:   logger,
		validate: validator.New(),
		pageSize: pageSize,
	}
}

// FetchPartitions loads the unpaid, installment and paid slices for period.
// Any failure discards everything fetched so far. Concurrent calls for the
// same period share one fetch; callers must treat the slices as read-only.
func (s *Service) FetchPartitions(ctx context.Context, period PeriodFilter) (Partitions, error) {
	key := fmt.Sprintf("partitions:%d:%d", period.Year, period.Month)
	detached := context.WithoutCancel(ctx)
	ch := s.fetches.DoChan(key, func() (any, error) {
		return s.fetchPartitions(detached, period)
	})
	select {
	case <-ctx.Done():
		return Partitions{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Partitions{}, res.Err
		}
		return res.Val.(Partitions), nil
	}
}

func (s *Service) fetchPartitions(ctx context.Context, period PeriodFilter) (Partitions, error) {
	unpaid, err := s.store.ListUnpaid(ctx, period)
	if err != nil {
		return Partitions{}, fmt.Errorf("list unpaid invoices: %w", err)
	}
	installment, err := s.store.ListInstallment(ctx, period)
	if err != nil {
		return Partitions{}, fmt.Errorf("list installment invoices: %w", err)
	}
	paid, err := s.fetchPaid(ctx, period)
	if err != nil {
		return Partitions{}, err
	}
	return Partitions{Unpaid: unpaid, Installment: installment, Paid: paid}, nil
}

// fetchPaid pages through paid invoices until a short page, one request at a time.
func (s *Service) fetchPaid(ctx context.Context, period PeriodFilter) ([]Invoice, error) {
	all := make([]Invoice, 0, s.pageSize)
	for offset := 0; ; offset += s.pageSize {
		page, err := s.store.ListPaidRange(ctx, period, offset, s.pageSize)
		if err != nil {
			return nil, fmt.Errorf("list paid invoices at %d: %w", offset, err)
		}
		all = append(all, page...)
		if len(page) < s.pageSize {
			return all, nil
		}
	}
}

// Invoice returns one invoice with its profile.
func (s *Service) Invoice(ctx context.Context, id string) (*Invoice, error) {
	return s.store.GetInvoice(ctx, id)
}

// PaymentInput is the installment form of the payment modal.
type PaymentInput struct {
	InvoiceID      string        `validate:"required"`
	Amount         float64       `validate:"gt=0"`
	Method         PaymentMethod `validate:"required,oneof=cash transfer ewallet qris"`
	Note           string        `validate:"max=500"`
	IdempotencyKey string        `validate:"omitempty,uuid"`
	AdminName      string        `validate:"required,max=100"`
}

// PayOffInput is the fixed full-remaining form of the payment modal.
type PayOffInput struct {
	InvoiceID      string        `validate:"required"`
	Method         PaymentMethod `validate:"required,oneof=cash transfer ewallet qris"`
	Note           string        `validate:"max=500"`
	IdempotencyKey string        `validate:"omitempty,uuid"`
	AdminName      string        `validate:"required,max=100"`
}

// PaymentOutcome reports a committed payment.
type PaymentOutcome struct {
	Invoice Invoice
	Amount  float64
	Message string
	Result  PaymentResult
}

// Pay records an installment of arbitrary amount.
func (s *Service) Pay(ctx context.Context, in PaymentInput) (PaymentOutcome, error) {
	in.Note = strings.TrimSpace(in.Note)
	if err := s.validate.Struct(in); err != nil {
		return PaymentOutcome{}, validationError(err)
	}
	inv, err := s.store.GetInvoice(ctx, in.InvoiceID)
	if err != nil {
		return PaymentOutcome{}, err
	}
	if err := ValidatePayment(StateOf(*inv), in.Amount); err != nil {
		return PaymentOutcome{}, err
	}
	return s.dispatch(ctx, *inv, PaymentRequest{
		InvoiceID: inv.ID,
		Amount:    in.Amount,
		AdminName: in.AdminName,
		Method:    in.Method,
		Note:      in.Note,
	}, in.IdempotencyKey)
}

// PayOff records a payment of the full remaining amount.
func (s *Service) PayOff(ctx context.Context, in PayOffInput) (PaymentOutcome, error) {
	in.Note = strings.TrimSpace(in.Note)
	if err := s.validate.Struct(in); err != nil {
		return PaymentOutcome{}, validationError(err)
	}
	inv, err := s.store.GetInvoice(ctx, in.InvoiceID)
	if err != nil {
		return PaymentOutcome{}, err
	}
	state := StateOf(*inv)
	amount := state.Outstanding()
	if err := ValidatePayment(state, amount); err != nil {
		return PaymentOutcome{}, err
	}
	return s.dispatch(ctx, *inv, PaymentRequest{
		InvoiceID: inv.ID,
		Amount:    amount,
		AdminName: in.AdminName,
		Method:    in.Method,
		Note:      in.Note,
	}, in.IdempotencyKey)
}

func (s *Service) dispatch(ctx context.Context, inv Invoice, req PaymentRequest, key string) (PaymentOutcome, error) {
	logger := s.logger.With(slog.String("invoice_id", inv.ID), slog.Float64("amount", req.Amount), slog.String("method", string(req.Method)))
	if key != "" && s.guard != nil {
		if err := s.guard.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			logger.Warn("payment idempotency claim", slog.Any("error", err))
			return PaymentOutcome{}, err
		}
	}
	release := func() {
		if key == "" || s.guard == nil {
			return
		}
		if err := s.guard.Release(context.WithoutCancel(ctx), key, idempotencyModule); err != nil {
			logger.Warn("release idempotency key", slog.Any("error", err))
		}
	}

	resp, err := s.store.ProcessInstallmentPayment(ctx, req)
	if err != nil {
		// The key stays claimed unless the call certainly did not commit;
		// a resubmit after a lost response must not pay twice.
		if errors.Is(err, ErrPaymentNotApplied) {
			release()
		}
		logger.Error("payment rpc", slog.Any("error", err))
		return PaymentOutcome{}, err
	}
	if !resp.Success {
		release()
		logger.Warn("payment rejected", slog.String("message", resp.Message))
		return PaymentOutcome{}, &RejectedError{Cause: ErrPaymentRejected, Message: resp.Message}
	}
	logger.Info("payment recorded", slog.String("new_status", string(resp.Data.NewStatus)), slog.Float64("remaining", resp.Data.RemainingAmount))

	s.notify(context.WithoutCancel(ctx), PaymentNotice{
		InvoiceID: inv.ID,
		Amount:    req.Amount,
		Method:    req.Method,
		NewStatus: resp.Data.NewStatus,
		Remaining: resp.Data.RemainingAmount,
		AdminName: req.AdminName,
		PaidAt:    time.Now(),
	}, logger)

	return PaymentOutcome{Invoice: inv, Amount: req.Amount, Message: resp.Message, Result: resp.Data}, nil
}

// notify queues both notifications; failures are logged and never returned.
func (s *Service) notify(ctx context.Context, notice PaymentNotice, logger *slog.Logger) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyCustomer(ctx, notice); err != nil {
		logger.Warn("queue customer notification", slog.Any("error", err))
	}
	if err := s.notifier.NotifyAdmin(ctx, notice); err != nil {
		logger.Warn("queue admin notification", slog.Any("error", err))
	}
}

// Remind queues a WhatsApp reminder for an open invoice.
func (s *Service) Remind(ctx context.Context, invoiceID, adminName string) (*Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == StatusPaid {
		return nil, ErrInvoicePaid
	}
	if strings.TrimSpace(inv.Customer.WhatsAppNumber) == "" {
		return nil, ErrNoWhatsApp
	}
	if s.notifier == nil {
		return nil, ErrNotifyUnavailable
	}
	if err := s.notifier.NotifyReminder(ctx, BillReminder{InvoiceID: inv.ID, AdminName: adminName}); err != nil {
		return nil, err
	}
	s.logger.Info("bill reminder queued", slog.String("invoice_id", inv.ID), slog.String("admin", adminName))
	return inv, nil
}

// GenerateMonthlyInvoices runs the monthly invoice procedure.
func (s *Service) GenerateMonthlyInvoices(ctx context.Context) (GenerationResult, error) {
	res, err := s.store.CreateMonthlyInvoices(ctx)
	if err != nil {
		return GenerationResult{}, err
	}
	if !res.OK() {
		return res, &RejectedError{Cause: ErrGenerationFailed, Message: res.Message}
	}
	s.logger.Info("monthly invoices generated", slog.String("message", res.Message))
	return res, nil
}

// CustomerBills is the data of the customer bill page.
type CustomerBills struct {
	Customer Customer
	Open     []Invoice
	Accounts []PaymentAccount
	Total    float64
}

// CustomerBills returns what a customer still owes and where to pay.
func (s *Service) CustomerBills(ctx context.Context, customerID string) (CustomerBills, error) {
	customer, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		return CustomerBills{}, err
	}
	open, err := s.store.ListOpenByCustomer(ctx, customerID)
	if err != nil {
		return CustomerBills{}, fmt.Errorf("list open invoices: %w", err)
	}
	accounts, err := s.store.ListPaymentAccounts(ctx)
	if err != nil {
		s.logger.Warn("list payment accounts", slog.Any("error", err))
	}
	bills := CustomerBills{Customer: *customer, Open: open, Accounts: accounts}
	for _, inv := range open {
		bills.Total += inv.Remaining()
	}
	return bills, nil
}

// PaidHistory is the data of the customer paid-history page.
type PaidHistory struct {
	Customer  Customer
	Invoices  []Invoice
	TotalPaid float64
}

// PaidHistory returns the paid invoices of one customer.
func (s *Service) PaidHistory(ctx context.Context, customerID string) (PaidHistory, error) {
	customer, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		return PaidHistory{}, err
	}
	invoices, err := s.store.ListPaidByCustomer(ctx, customerID)
	if err != nil {
		return PaidHistory{}, fmt.Errorf("list paid history: %w", err)
	}
	history := PaidHistory{Customer: *customer, Invoices: invoices}
	for _, inv := range invoices {
		history.TotalPaid += inv.DisplayPaid()
	}
	return history, nil
}

// ValidationError lists the form fields that failed validation.
type ValidationError struct {
	Fields map[string]string
	cause  error
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, tag := range e.Fields {
		parts = append(parts, field+":"+tag)
	}
	return "billing: validation failed (" + strings.Join(parts, ", ") + ")"
}

func (e *ValidationError) Unwrap() error { return e.cause }

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	ve := &ValidationError{Fields: make(map[string]string, len(verrs)), cause: shared.ErrValidation}
	for _, fe := range verrs {
		ve.Fields[fe.Field()] = fe.Tag()
		switch fe.Field() {
		case "Amount":
			ve.cause = ErrInvalidAmount
		case "Method":
			if ve.cause == shared.ErrValidation {
				ve.cause = ErrInvalidMethod
			}
		}
	}
	return ve
}
