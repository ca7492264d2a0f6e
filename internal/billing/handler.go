package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/selinggonet/selinggonet/internal/platform/httpx"
	"github.com/selinggonet/selinggonet/internal/settings"
	"github.com/selinggonet/selinggonet/internal/shared"
	"github.com/selinggonet/selinggonet/internal/view"
)

// BillingService is the service surface used by the handler.
type BillingService interface {
	FetchPartitions(ctx context.Context, period PeriodFilter) (Partitions, error)
	Invoice(ctx context.Context, id string) (*Invoice, error)
	Pay(ctx context.Context, in PaymentInput) (PaymentOutcome, error)
	PayOff(ctx context.Context, in PayOffInput) (PaymentOutcome, error)
	Remind(ctx context.Context, invoiceID, adminName string) (*Invoice, error)
	GenerateMonthlyInvoices(ctx context.Context) (GenerationResult, error)
	CustomerBills(ctx context.Context, customerID string) (CustomerBills, error)
	PaidHistory(ctx context.Context, customerID string) (PaidHistory, error)
}

// PaymentInfo supplies the customer-facing payment details.
type PaymentInfo interface {
	WhatsAppNumber() string
	OfflinePaymentInfo() settings.OfflinePayment
	QRISInfo() settings.QRIS
}

// PaymentRecorder counts payment attempts.
type PaymentRecorder interface {
	RecordPayment(kind string, err error)
}

// Handler serves the invoice board, payment forms and customer pages.
type Handler struct {
	logger    *slog.Logger
	service   BillingService
	info      PaymentInfo
	templates *view.Engine
	csrf      *shared.CSRFManager
	adminName string
	location  *time.Location
	recorder  PaymentRecorder
}

// NewHandler builds a Handler. adminName is recorded on payments when the
// session carries no admin name.
func NewHandler(logger *slog.Logger, service BillingService, info PaymentInfo, templates *view.Engine, csrf *shared.CSRFManager, adminName string) *Handler {
	return &Handler{logger: logger, service: service, info: info, templates: templates, csrf: csrf, adminName: adminName, location: DefaultLocation}
}

// WithRecorder attaches a payment counter.
func (h *Handler) WithRecorder(rec PaymentRecorder) *Handler {
	h.recorder = rec
	return h
}

// WithLocation sets the zone of row timestamps and paid-date filters.
func (h *Handler) WithLocation(loc *time.Location) *Handler {
	if loc != nil {
		h.location = loc
	}
	return h
}

// MountRoutes registers /tagihan routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listInvoices)
	r.Get("/data", h.listInvoicesJSON)
	r.Post("/generate", h.generateInvoices)
	r.Get("/{id}", h.showInvoice)
	r.Post("/{id}/cicilan", h.payInstallment)
	r.Post("/{id}/lunas", h.payOff)
	r.Post("/{id}/ingatkan", h.remind)
}

// MountCustomerRoutes registers /pelanggan routes.
func (h *Handler) MountCustomerRoutes(r chi.Router) {
	r.Get("/{id}/tagihan", h.customerBills)
	r.Get("/{id}/riwayat-lunas", h.paidHistory)
}

// boardQuery is the board state carried in the URL.
type boardQuery struct {
	Tab        Tab
	Period     PeriodFilter
	Search     string
	Page       int
	PaidFilter PaidFilter
	Raw        url.Values
}

func (h *Handler) parseBoardQuery(r *http.Request) boardQuery {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	return boardQuery{
		Tab:    TabFromStatus(q.Get("status")),
		Period: ParsePeriodFilter(q.Get("bulan"), q.Get("tahun")),
		Search: q.Get("q"),
		Page:   page,
		PaidFilter: PaidFilter{
			CustomerName: strings.TrimSpace(q.Get("pf_name")),
			Method:       parseMethod(q.Get("pf_method")),
			From:         h.parseDay(q.Get("pf_from")),
			To:           h.parseDay(q.Get("pf_to")),
		},
		Raw: q,
	}
}

func (h *Handler) parseDay(v string) time.Time {
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(v), h.location)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseMethod(v string) PaymentMethod {
	m := PaymentMethod(strings.TrimSpace(v))
	if !m.Valid() {
		return ""
	}
	return m
}

func (h *Handler) buildBoard(q boardQuery, parts Partitions) *Board {
	board := NewBoard(q.Tab, q.Period, parts)
	board.Location = h.location
	board.SetSearch(q.Search)
	board.ApplyPaidFilter(q.PaidFilter)
	return board
}

// TabLink is one tab of the board header.
type TabLink struct {
	Tab    Tab
	Label  string
	Count  int
	URL    string
	Active bool
}

// BoardView is the data of pages/tagihan.html.
type BoardView struct {
	Tab         Tab
	Tabs        []TabLink
	Period      PeriodFilter
	PeriodLabel string
	ClearURL    string
	Search      SearchBox
	Actions     Actions
	Filter      PaidFilterView
	Methods     []PaymentMethod
	Page        Page
	Total       float64
	MoreURL     string
	SelfURL     string
	Error       string
}

// PaidFilterView holds the raw values of the paid filter form.
type PaidFilterView struct {
	Active bool
	Name   string
	Method string
	From   string
	To     string
}

func (h *Handler) boardView(q boardQuery, board *Board) BoardView {
	v := BoardView{
		Tab:         board.Tab,
		Period:      board.Period,
		PeriodLabel: board.Period.Label(),
		ClearURL:    tabURL(board.Tab),
		Search:      board.SearchBox(),
		Actions:     board.Actions(),
		Filter: PaidFilterView{
			Active: board.PaidFilter.Active(),
			Name:   q.Raw.Get("pf_name"),
			Method: string(board.PaidFilter.Method),
			From:   q.Raw.Get("pf_from"),
			To:     q.Raw.Get("pf_to"),
		},
		Methods: PaymentMethods(),
		Page:    board.Rows(q.Page),
		Total:   board.TotalDisplayed(),
	}
	counts := board.TabCounts()
	for _, tab := range []Tab{TabUnpaid, TabInstallment, TabPaid} {
		v.Tabs = append(v.Tabs, TabLink{
			Tab:    tab,
			Label:  tab.Label(),
			Count:  counts[tab],
			URL:    tabURL(tab),
			Active: tab == board.Tab,
		})
	}
	self := cloneValues(q.Raw)
	self.Del("page")
	v.SelfURL = "/tagihan"
	if len(self) > 0 {
		v.SelfURL += "?" + self.Encode()
	}
	if v.Page.HasMore {
		more := cloneValues(q.Raw)
		more.Set("page", strconv.Itoa(v.Page.Next))
		v.MoreURL = "/tagihan?" + more.Encode()
	}
	return v
}

// tabURL links to a tab with no other state; a manual tab click leaves filtered mode.
func tabURL(tab Tab) string {
	return "/tagihan?status=" + url.QueryEscape(string(tab))
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	q := h.parseBoardQuery(r)
	parts, err := h.service.FetchPartitions(r.Context(), q.Period)
	if err != nil {
		h.logger.Error("fetch invoices", slog.Any("error", err), slog.String("period", q.Period.Label()))
		v := h.boardView(q, h.buildBoard(q, Partitions{}))
		v.Error = "Gagal memuat data tagihan: " + shared.UserSafeMessage(err)
		h.render(w, r, "pages/tagihan.html", "Tagihan", v, http.StatusInternalServerError)
		return
	}
	h.render(w, r, "pages/tagihan.html", "Tagihan", h.boardView(q, h.buildBoard(q, parts)), http.StatusOK)
}

// BoardJSON is the JSON form of the board.
type BoardJSON struct {
	Tab       Tab         `json:"tab"`
	Period    string      `json:"period,omitempty"`
	Counts    map[Tab]int `json:"counts"`
	Total     float64     `json:"total"`
	Invoices  []Invoice   `json:"invoices"`
	Shown     int         `json:"shown"`
	Available int         `json:"available"`
	HasMore   bool        `json:"has_more"`
}

func (h *Handler) listInvoicesJSON(w http.ResponseWriter, r *http.Request) {
	q := h.parseBoardQuery(r)
	parts, err := h.service.FetchPartitions(r.Context(), q.Period)
	if err != nil {
		h.logger.Error("fetch invoices", slog.Any("error", err))
		httpx.RespondError(w, err, statusFor)
		return
	}
	board := h.buildBoard(q, parts)
	page := board.Rows(q.Page)
	invoices := make([]Invoice, 0, len(page.Rows))
	for _, row := range page.Rows {
		invoices = append(invoices, row.Invoice)
	}
	httpx.JSON(w, http.StatusOK, BoardJSON{
		Tab:       board.Tab,
		Period:    board.Period.Label(),
		Counts:    board.TabCounts(),
		Total:     board.TotalDisplayed(),
		Invoices:  invoices,
		Shown:     page.Shown,
		Available: page.Total,
		HasMore:   page.HasMore,
	})
}

// DetailView is the data of pages/tagihan_detail.html.
type DetailView struct {
	Row            Row
	State          State
	Methods        []PaymentMethod
	IdempotencyKey string
	Outstanding    float64
	BackURL        string
}

func (h *Handler) showInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.Invoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	state := StateOf(*inv)
	h.render(w, r, "pages/tagihan_detail.html", "Detail Tagihan", DetailView{
		Row:            newRow(*inv, h.location),
		State:          state,
		Methods:        PaymentMethods(),
		IdempotencyKey: uuid.NewString(),
		Outstanding:    state.Outstanding(),
		BackURL:        backURL(r),
	}, http.StatusOK)
}

func (h *Handler) payInstallment(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.redirectWithFlash(w, r, backURL(r), shared.FlashError, "Form tidak dapat dibaca")
		return
	}
	amount, err := parseAmount(r.PostFormValue("amount"))
	if err != nil {
		h.redirectWithFlash(w, r, detailURL(r), shared.FlashError, shared.UserSafeMessage(ErrInvalidAmount))
		return
	}
	outcome, err := h.service.Pay(r.Context(), PaymentInput{
		InvoiceID:      chi.URLParam(r, "id"),
		Amount:         amount,
		Method:         PaymentMethod(r.PostFormValue("method")),
		Note:           r.PostFormValue("note"),
		IdempotencyKey: r.PostFormValue("idempotency_key"),
		AdminName:      shared.AdminNameFromContext(r.Context(), h.adminName),
	})
	h.record("installment", err)
	h.finishPayment(w, r, outcome, err)
}

func (h *Handler) payOff(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.redirectWithFlash(w, r, backURL(r), shared.FlashError, "Form tidak dapat dibaca")
		return
	}
	outcome, err := h.service.PayOff(r.Context(), PayOffInput{
		InvoiceID:      chi.URLParam(r, "id"),
		Method:         PaymentMethod(r.PostFormValue("method")),
		Note:           r.PostFormValue("note"),
		IdempotencyKey: r.PostFormValue("idempotency_key"),
		AdminName:      shared.AdminNameFromContext(r.Context(), h.adminName),
	})
	h.record("payoff", err)
	h.finishPayment(w, r, outcome, err)
}

func (h *Handler) remind(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.Remind(r.Context(), chi.URLParam(r, "id"), shared.AdminNameFromContext(r.Context(), h.adminName))
	if err != nil {
		if _, known := statusFor(err); !known && !errors.Is(err, ErrNoWhatsApp) && !errors.Is(err, ErrReminderPending) {
			h.logger.Error("queue bill reminder", slog.Any("error", err), slog.String("invoice_id", chi.URLParam(r, "id")))
		}
		h.redirectWithFlash(w, r, backURL(r), shared.FlashError, shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, backURL(r), shared.FlashSuccess, "Pengingat WhatsApp untuk "+inv.Customer.FullName+" sedang dikirim")
}

func (h *Handler) record(kind string, err error) {
	if h.recorder != nil {
		h.recorder.RecordPayment(kind, err)
	}
}

func (h *Handler) finishPayment(w http.ResponseWriter, r *http.Request, outcome PaymentOutcome, err error) {
	if err != nil {
		var ve *ValidationError
		if !errors.As(err, &ve) && !errors.Is(err, ErrInvalidAmount) && !errors.Is(err, ErrInvoicePaid) {
			h.logger.Error("process payment", slog.Any("error", err), slog.String("invoice_id", chi.URLParam(r, "id")))
		}
		h.redirectWithFlash(w, r, detailURL(r), shared.FlashError, shared.UserSafeMessage(err))
		return
	}
	msg := "Pembayaran " + shared.FormatRupiah(outcome.Amount) + " berhasil dicatat"
	if outcome.Result.NewStatus == StatusPaid {
		msg = "Tagihan " + outcome.Invoice.InvoicePeriod + " telah lunas"
	}
	h.redirectWithFlash(w, r, backURL(r), shared.FlashSuccess, msg)
}

func (h *Handler) generateInvoices(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.GenerateMonthlyInvoices(r.Context())
	if err != nil {
		h.logger.Error("generate invoices", slog.Any("error", err))
		h.redirectWithFlash(w, r, tabURL(TabUnpaid), shared.FlashError, shared.UserSafeMessage(err))
		return
	}
	msg := res.Message
	if msg == "" {
		msg = "Tagihan bulanan berhasil dibuat"
	}
	h.redirectWithFlash(w, r, tabURL(TabUnpaid), shared.FlashSuccess, msg)
}

// CustomerBillsView is the data of pages/customer_bills.html.
type CustomerBillsView struct {
	Bills    CustomerBills
	Rows     []Row
	WhatsApp string
	Offline  settings.OfflinePayment
	QRIS     settings.QRIS
}

func (h *Handler) customerBills(w http.ResponseWriter, r *http.Request) {
	bills, err := h.service.CustomerBills(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	rows := make([]Row, 0, len(bills.Open))
	for _, inv := range bills.Open {
		rows = append(rows, newRow(inv, h.location))
	}
	v := CustomerBillsView{Bills: bills, Rows: rows}
	if h.info != nil {
		v.WhatsApp = h.info.WhatsAppNumber()
		v.Offline = h.info.OfflinePaymentInfo()
		v.QRIS = h.info.QRISInfo()
	}
	h.render(w, r, "pages/customer_bills.html", "Tagihan Saya", v, http.StatusOK)
}

// PaidHistoryView is the data of pages/paid_history.html.
type PaidHistoryView struct {
	History PaidHistory
	Rows    []Row
}

func (h *Handler) paidHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.PaidHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	rows := make([]Row, 0, len(history.Invoices))
	for _, inv := range history.Invoices {
		rows = append(rows, newRow(inv, h.location))
	}
	h.render(w, r, "pages/paid_history.html", "Riwayat Lunas", PaidHistoryView{History: history, Rows: rows}, http.StatusOK)
}

// parseAmount accepts plain numbers ("150000", "150000.5") and Indonesian
// grouping ("Rp 150.000", "150.000,50").
func parseAmount(v string) (float64, error) {
	v = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "Rp"))
	if v == "" {
		return 0, ErrInvalidAmount
	}
	if strings.Contains(v, ",") || groupedThousands(v) {
		v = strings.ReplaceAll(v, ".", "")
		v = strings.ReplaceAll(v, ",", ".")
	}
	amount, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return amount, nil
}

// groupedThousands reports whether v looks like "1.500" or "12.500.000".
func groupedThousands(v string) bool {
	parts := strings.Split(v, ".")
	if len(parts) < 2 || len(parts[0]) == 0 || len(parts[0]) > 3 {
		return false
	}
	for i, p := range parts {
		if i > 0 && len(p) != 3 {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

// backURL returns the board URL the form came from, limited to local /tagihan paths.
func backURL(r *http.Request) string {
	back := r.FormValue("back")
	if strings.HasPrefix(back, "/tagihan") && !strings.HasPrefix(back, "//") {
		return back
	}
	return tabURL(TabUnpaid)
}

func detailURL(r *http.Request) string {
	u := "/tagihan/" + url.PathEscape(chi.URLParam(r, "id"))
	if back := r.FormValue("back"); back != "" {
		u += "?back=" + url.QueryEscape(backURL(r))
	}
	return u
}

func statusFor(err error) (int, bool) {
	var ve *ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, true
	case errors.As(err, &ve), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidMethod):
		return http.StatusBadRequest, true
	case errors.Is(err, ErrInvoicePaid), errors.Is(err, ErrPaymentRejected):
		return http.StatusConflict, true
	}
	return 0, false
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status, ok := statusFor(err)
	if !ok {
		status = http.StatusInternalServerError
		h.logger.Error("billing request", slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	h.render(w, r, "pages/error.html", "Terjadi Kesalahan", map[string]any{
		"Message": shared.UserSafeMessage(err),
		"BackURL": tabURL(TabUnpaid),
	}, status)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{Title: title, CSRFToken: csrfToken, Flash: flash, CurrentPath: r.URL.Path, Data: data}
	if err := h.templates.Render(w, status, template, viewData); err != nil {
		h.logger.Error("render template", slog.String("template", template), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
