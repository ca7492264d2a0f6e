package billing

import (
	"fmt"
	"time"
)

// State is the lifecycle position of an invoice. It is one of Unpaid,
// PartiallyPaid or Paid.
type State interface {
	Status() Status
	// Outstanding is the amount a payment may cover at most.
	Outstanding() float64
	isState()
}

// Unpaid is an invoice with no payment recorded.
type Unpaid struct {
	Remaining float64
}

// PartiallyPaid is an invoice with at least one installment recorded.
type PartiallyPaid struct {
	Paid      float64
	Remaining float64
}

// Paid is the terminal state.
type Paid struct {
	Total  float64
	Method PaymentMethod
	At     time.Time
}

func (Unpaid) Status() Status        { return StatusUnpaid }
func (PartiallyPaid) Status() Status { return StatusPartiallyPaid }
func (Paid) Status() Status          { return StatusPaid }

func (s Unpaid) Outstanding() float64        { return s.Remaining }
func (s PartiallyPaid) Outstanding() float64 { return s.Remaining }
func (Paid) Outstanding() float64            { return 0 }

func (Unpaid) isState()        {}
func (PartiallyPaid) isState() {}
func (Paid) isState()          {}

// StateOf derives the state of a stored invoice.
func StateOf(inv Invoice) State {
	switch inv.Status {
	case StatusPaid:
		at := inv.CreatedAt
		if inv.PaidAt != nil {
			at = *inv.PaidAt
		}
		return Paid{Total: inv.DisplayTotal(), Method: inv.PaymentMethod, At: at}
	case StatusPartiallyPaid:
		return PartiallyPaid{Paid: inv.AmountPaid, Remaining: inv.Amount}
	default:
		return Unpaid{Remaining: inv.Amount}
	}
}

// Payment is one amount received against an invoice.
type Payment struct {
	Amount float64
	Method PaymentMethod
	At     time.Time
}

// ValidatePayment checks a payment against the current state without applying it.
func ValidatePayment(current State, amount float64) error {
	if _, ok := current.(Paid); ok {
		return ErrInvoicePaid
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	if amount > current.Outstanding() {
		return fmt.Errorf("%w: %.0f exceeds remaining %.0f", ErrInvalidAmount, amount, current.Outstanding())
	}
	return nil
}

// Apply returns the state after p is recorded.
func Apply(current State, p Payment) (State, error) {
	if err := ValidatePayment(current, p.Amount); err != nil {
		return nil, err
	}
	if !p.Method.Valid() {
		return nil, ErrInvalidMethod
	}
	var paidBefore float64
	switch s := current.(type) {
	case Unpaid:
		paidBefore = 0
	case PartiallyPaid:
		paidBefore = s.Paid
	}
	remaining := current.Outstanding() - p.Amount
	if remaining <= 0 {
		return Paid{Total: paidBefore + p.Amount, Method: p.Method, At: p.At}, nil
	}
	return PartiallyPaid{Paid: paidBefore + p.Amount, Remaining: remaining}, nil
}
