package billing

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Tab names one partition of the board.
type Tab string

const (
	TabUnpaid      Tab = "unpaid"
	TabInstallment Tab = "installment"
	TabPaid        Tab = "paid"
)

// RowsPerPage is the number of rows revealed per scroll step.
const RowsPerPage = 20

// DefaultLocation is Western Indonesia Time, the zone row timestamps and
// day filters use unless a board or handler is given another.
var DefaultLocation = time.FixedZone("WIB", 7*60*60)

// TabFromStatus maps the status query parameter to a tab.
func TabFromStatus(status string) Tab {
	switch Tab(strings.TrimSpace(status)) {
	case TabPaid:
		return TabPaid
	case TabInstallment:
		return TabInstallment
	default:
		return TabUnpaid
	}
}

// Label returns the Indonesian tab caption.
func (t Tab) Label() string {
	switch t {
	case TabInstallment:
		return "Cicilan"
	case TabPaid:
		return "Lunas"
	default:
		return "Belum Lunas"
	}
}

// PaidFilter narrows the paid partition.
type PaidFilter struct {
	CustomerName string
	Method       PaymentMethod
	From         time.Time // inclusive day
	To           time.Time // inclusive day
}

// Active reports whether any criterion is set.
func (f PaidFilter) Active() bool {
	return strings.TrimSpace(f.CustomerName) != "" || f.Method != "" || !f.From.IsZero() || !f.To.IsZero()
}

// Actions lists the toolbar buttons visible for the current tab.
type Actions struct {
	CreateInvoice bool
	Filter        bool
}

// SearchBox describes the free-text search input.
type SearchBox struct {
	Enabled     bool
	Placeholder string
	Value       string
}

// Row is the view model of one invoice line.
type Row struct {
	Invoice      Invoice
	MonthColor   string
	Total        float64
	Paid         float64
	Remaining    float64
	CanPay       bool
	CanPayOff    bool
	CanNotify    bool
	StatusLabel  string
	MethodLabel  string
	PaidAtFormat string
}

// Page is one scroll step of rows.
type Page struct {
	Rows    []Row
	Shown   int
	Total   int
	HasMore bool
	Next    int
}

// Board is the state of the invoice page: the last fetched partitions and
// every view choice made on top of them. Partitions are never mutated.
type Board struct {
	Tab          Tab
	Period       PeriodFilter
	Partitions   Partitions
	FilteredPaid []Invoice
	Search       string
	PaidFilter   PaidFilter
	Location     *time.Location
}

// NewBoard wraps freshly fetched partitions.
func NewBoard(tab Tab, period PeriodFilter, parts Partitions) *Board {
	return &Board{
		Tab:          tab,
		Period:       period,
		Partitions:   parts,
		FilteredPaid: parts.Paid,
		Location:     DefaultLocation,
	}
}

// SwitchTab changes the visible partition. It performs no I/O.
func (b *Board) SwitchTab(tab Tab) {
	b.Tab = TabFromStatus(string(tab))
}

// Actions reports toolbar visibility for the current tab.
func (b *Board) Actions() Actions {
	return Actions{
		CreateInvoice: b.Tab == TabUnpaid,
		Filter:        b.Tab == TabPaid,
	}
}

// SetSearch stores the free-text query. It is ignored while a period filter is active.
func (b *Board) SetSearch(q string) {
	b.Search = strings.TrimSpace(q)
}

// SearchBox describes the search input for the current state.
func (b *Board) SearchBox() SearchBox {
	if b.Period.Active() {
		return SearchBox{Enabled: false, Placeholder: "Disaring: " + b.Period.Label()}
	}
	return SearchBox{Enabled: true, Placeholder: "Cari nama pelanggan atau periode...", Value: b.Search}
}

// ApplyPaidFilter rebuilds FilteredPaid from the paid partition.
func (b *Board) ApplyPaidFilter(f PaidFilter) {
	b.PaidFilter = f
	if !f.Active() {
		b.FilteredPaid = b.Partitions.Paid
		return
	}
	name := fold(strings.TrimSpace(f.CustomerName))
	out := make([]Invoice, 0, len(b.Partitions.Paid))
	for _, inv := range b.Partitions.Paid {
		if name != "" && !strings.Contains(fold(inv.Customer.FullName), name) {
			continue
		}
		if f.Method != "" && inv.PaymentMethod != f.Method {
			continue
		}
		if !f.From.IsZero() || !f.To.IsZero() {
			if inv.PaidAt == nil {
				continue
			}
			if !f.From.IsZero() && truncateDay(inv.PaidAt.In(f.From.Location())).Before(truncateDay(f.From)) {
				continue
			}
			if !f.To.IsZero() && truncateDay(inv.PaidAt.In(f.To.Location())).After(truncateDay(f.To)) {
				continue
			}
		}
		out = append(out, inv)
	}
	b.FilteredPaid = out
}

// Active returns the invoices of the current tab after search.
func (b *Board) Active() []Invoice {
	var src []Invoice
	switch b.Tab {
	case TabInstallment:
		src = b.Partitions.Installment
	case TabPaid:
		src = b.FilteredPaid
	default:
		src = b.Partitions.Unpaid
	}
	if b.Period.Active() || b.Search == "" {
		return src
	}
	q := fold(b.Search)
	out := make([]Invoice, 0, len(src))
	for _, inv := range src {
		if strings.Contains(fold(inv.Customer.FullName), q) || strings.Contains(fold(inv.InvoicePeriod), q) {
			out = append(out, inv)
		}
	}
	return out
}

// TabCounts returns the size of each partition, the paid count after filtering.
func (b *Board) TabCounts() map[Tab]int {
	return map[Tab]int{
		TabUnpaid:      len(b.Partitions.Unpaid),
		TabInstallment: len(b.Partitions.Installment),
		TabPaid:        len(b.FilteredPaid),
	}
}

// TotalDisplayed sums what the current tab shows: remaining amounts on open
// tabs, received amounts on the paid tab.
func (b *Board) TotalDisplayed() float64 {
	var total float64
	for _, inv := range b.Active() {
		if b.Tab == TabPaid {
			total += inv.DisplayPaid()
		} else {
			total += inv.Remaining()
		}
	}
	return total
}

// Rows renders the first page*RowsPerPage rows of the current tab.
func (b *Board) Rows(page int) Page {
	active := b.Active()
	if last := len(active)/RowsPerPage + 1; page > last {
		page = last
	}
	if page < 1 {
		page = 1
	}
	limit := page * RowsPerPage
	if limit > len(active) {
		limit = len(active)
	}
	rows := make([]Row, 0, limit)
	for _, inv := range active[:limit] {
		rows = append(rows, newRow(inv, b.Location))
	}
	return Page{
		Rows:    rows,
		Shown:   limit,
		Total:   len(active),
		HasMore: limit < len(active),
		Next:    page + 1,
	}
}

func newRow(inv Invoice, loc *time.Location) Row {
	if loc == nil {
		loc = DefaultLocation
	}
	open := inv.Status != StatusPaid
	row := Row{
		Invoice:     inv,
		MonthColor:  MonthColor(inv.InvoicePeriod),
		Total:       inv.DisplayTotal(),
		Paid:        inv.DisplayPaid(),
		Remaining:   inv.Remaining(),
		CanPay:      open,
		CanPayOff:   open && inv.Remaining() > 0,
		CanNotify:   inv.Customer.WhatsAppNumber != "",
		StatusLabel: inv.Status.Label(),
		MethodLabel: inv.PaymentMethod.Label(),
	}
	if inv.PaidAt != nil {
		row.PaidAtFormat = inv.PaidAt.In(loc).Format("02/01/2006 15:04")
	}
	return row
}

// fold builds a fresh caser per call; casers keep state and are not shared.
func fold(s string) string {
	return cases.Fold().String(s)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
