package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selinggonet/selinggonet/internal/billing"
	"github.com/selinggonet/selinggonet/internal/settings"
	"github.com/selinggonet/selinggonet/internal/shared"
	_ "github.com/selinggonet/selinggonet/internal/testing/guard"
	"github.com/selinggonet/selinggonet/internal/view"
)

type stubBillingService struct {
	parts     billing.Partitions
	fetchErr  error
	periods   []billing.PeriodFilter
	invoice   *billing.Invoice
	payIn     []billing.PaymentInput
	payOffIn  []billing.PayOffInput
	payErr    error
	payResult billing.PaymentOutcome
	bills     billing.CustomerBills
	history   billing.PaidHistory
	generated billing.GenerationResult
	reminded  []string
	remindErr error
}

func (s *stubBillingService) FetchPartitions(ctx context.Context, period billing.PeriodFilter) (billing.Partitions, error) {
	s.periods = append(s.periods, period)
	return s.parts, s.fetchErr
}

func (s *stubBillingService) Invoice(ctx context.Context, id string) (*billing.Invoice, error) {
	if s.invoice == nil || s.invoice.ID != id {
		return nil, billing.ErrNotFound
	}
	return s.invoice, nil
}

func (s *stubBillingService) Pay(ctx context.Context, in billing.PaymentInput) (billing.PaymentOutcome, error) {
	s.payIn = append(s.payIn, in)
	return s.payResult, s.payErr
}

func (s *stubBillingService) PayOff(ctx context.Context, in billing.PayOffInput) (billing.PaymentOutcome, error) {
	s.payOffIn = append(s.payOffIn, in)
	return s.payResult, s.payErr
}

func (s *stubBillingService) Remind(ctx context.Context, invoiceID, adminName string) (*billing.Invoice, error) {
	s.reminded = append(s.reminded, invoiceID+"|"+adminName)
	if s.remindErr != nil {
		return nil, s.remindErr
	}
	return &billing.Invoice{ID: invoiceID, Customer: billing.Customer{FullName: "Budi Santoso"}}, nil
}

func (s *stubBillingService) GenerateMonthlyInvoices(ctx context.Context) (billing.GenerationResult, error) {
	return s.generated, nil
}

func (s *stubBillingService) CustomerBills(ctx context.Context, customerID string) (billing.CustomerBills, error) {
	return s.bills, nil
}

func (s *stubBillingService) PaidHistory(ctx context.Context, customerID string) (billing.PaidHistory, error) {
	return s.history, nil
}

type stubInfo struct{}

func (stubInfo) WhatsAppNumber() string { return "6281111" }
func (stubInfo) OfflinePaymentInfo() settings.OfflinePayment {
	return settings.OfflinePayment{Name: "Loket Desa", Address: "Jl. Melati 1"}
}
func (stubInfo) QRISInfo() settings.QRIS {
	return settings.QRIS{Title: "Scan QRIS", ImageURL: "/static/img/qris.png"}
}

type testServer struct {
	router  http.Handler
	handler *billing.Handler
	session *shared.Session
}

type recordedPayment struct {
	kind string
	err  error
}

type stubRecorder struct {
	calls []recordedPayment
}

func (r *stubRecorder) RecordPayment(kind string, err error) {
	r.calls = append(r.calls, recordedPayment{kind: kind, err: err})
}

func newTestServer(t *testing.T, svc *stubBillingService, adminName string) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	engine, err := view.NewEngine()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := billing.NewHandler(logger, svc, stubInfo{}, engine, shared.NewCSRFManager("csrfsecret"), "Admin")

	ts := &testServer{handler: h}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := sessions.Load(req.Context(), req)
			require.NoError(t, err)
			if adminName != "" {
				sess.Set(shared.AdminNameKey, adminName)
			}
			ts.session = sess
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	r.Route("/tagihan", h.MountRoutes)
	r.Route("/pelanggan", h.MountCustomerRoutes)
	ts.router = r
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func boardPartitions() billing.Partitions {
	return billing.Partitions{
		Unpaid: []billing.Invoice{
			{ID: "u1", InvoicePeriod: "Agustus 2025", Amount: 150000, TotalDue: 150000, Status: billing.StatusUnpaid, Customer: billing.Customer{FullName: "Budi Santoso"}},
		},
		Paid: []billing.Invoice{
			{ID: "p1", InvoicePeriod: "Agustus 2025", TotalDue: 150000, Status: billing.StatusPaid, PaymentMethod: billing.MethodCash, Customer: billing.Customer{FullName: "Sari"}},
		},
	}
}

func TestBoardWithPeriodFilterDisablesSearch(t *testing.T) {
	svc := &stubBillingService{parts: boardPartitions()}
	ts := newTestServer(t, svc, "")

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/tagihan?status=unpaid&bulan=8&tahun=2025", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `placeholder="Disaring: Agustus 2025"`)
	assert.Contains(t, body, " disabled")
	assert.Contains(t, body, `href="/tagihan?status=paid"`)
	assert.Contains(t, body, "Budi Santoso")
	assert.Contains(t, body, "Buat Tagihan Bulanan")
	require.Len(t, svc.periods, 1)
	assert.Equal(t, billing.PeriodFilter{Month: 8, Year: 2025}, svc.periods[0])
}

func TestBoardPaidTabShowsFilter(t *testing.T) {
	ts := newTestServer(t, &stubBillingService{parts: boardPartitions()}, "")

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/tagihan?status=paid&pf_method=cash", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Sari")
	assert.NotContains(t, body, "Budi Santoso")
	assert.Contains(t, body, `name="pf_method"`)
	assert.NotContains(t, body, "Buat Tagihan Bulanan")
}

func TestBoardFetchErrorRendersInline(t *testing.T) {
	ts := newTestServer(t, &stubBillingService{fetchErr: errors.New("timeout")}, "")

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/tagihan", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `class="list-error"`)
	assert.Contains(t, body, "Gagal memuat data tagihan")
	assert.Contains(t, body, "Belum Lunas")
}

func TestBoardJSON(t *testing.T) {
	ts := newTestServer(t, &stubBillingService{parts: boardPartitions()}, "")

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/tagihan/data?status=paid", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var got billing.BoardJSON
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, billing.TabPaid, got.Tab)
	require.Len(t, got.Invoices, 1)
	assert.Equal(t, "p1", got.Invoices[0].ID)
	assert.Equal(t, 1, got.Counts[billing.TabUnpaid])
	assert.Equal(t, 150000.0, got.Total)
}

func TestBoardJSONError(t *testing.T) {
	ts := newTestServer(t, &stubBillingService{fetchErr: errors.New("boom")}, "")

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/tagihan/data", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "boom")
}

func TestInvoiceDetailEmbedsIdempotencyKey(t *testing.T) {
	inv := boardPartitions().Unpaid[0]
	ts := newTestServer(t, &stubBillingService{invoice: &inv}, "")

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/tagihan/u1", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `name="idempotency_key"`)
	assert.Contains(t, body, `action="/tagihan/u1/cicilan"`)
	assert.Contains(t, body, `action="/tagihan/u1/lunas"`)
}

func TestInvoiceDetailNotFound(t *testing.T) {
	ts := newTestServer(t, &stubBillingService{}, "")

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/tagihan/missing", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "Tagihan tidak ditemukan")
}

func TestPayInstallmentRedirectsWithFlash(t *testing.T) {
	svc := &stubBillingService{payResult: billing.PaymentOutcome{
		Invoice: billing.Invoice{InvoicePeriod: "Agustus 2025"},
		Amount:  50000,
		Result:  billing.PaymentResult{NewStatus: billing.StatusPartiallyPaid, RemainingAmount: 100000},
	}}
	ts := newTestServer(t, svc, "Rina")
	rec := &stubRecorder{}
	ts.handler.WithRecorder(rec)

	rr := ts.do(postForm("/tagihan/u1/cicilan", url.Values{
		"amount":          {"50.000"},
		"method":          {"cash"},
		"idempotency_key": {"0b5e4c1e-8f0c-4a57-9d7e-3b1f0f1d2a11"},
		"back":            {"/tagihan?status=unpaid&bulan=8&tahun=2025"},
	}))

	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/tagihan?status=unpaid&bulan=8&tahun=2025", rr.Header().Get("Location"))
	require.Len(t, svc.payIn, 1)
	assert.Equal(t, 50000.0, svc.payIn[0].Amount)
	assert.Equal(t, "Rina", svc.payIn[0].AdminName)
	assert.Equal(t, billing.MethodCash, svc.payIn[0].Method)
	flash := ts.session.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, shared.FlashSuccess, flash.Kind)
	assert.Contains(t, flash.Message, "Rp 50.000")
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "installment", rec.calls[0].kind)
	assert.NoError(t, rec.calls[0].err)
}

func TestPayInstallmentRejectsBadAmount(t *testing.T) {
	svc := &stubBillingService{}
	ts := newTestServer(t, svc, "")

	rr := ts.do(postForm("/tagihan/u1/cicilan", url.Values{"amount": {"lima puluh"}, "method": {"cash"}}))

	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/tagihan/u1", rr.Header().Get("Location"))
	assert.Empty(t, svc.payIn)
	flash := ts.session.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, shared.FlashError, flash.Kind)
}

func TestPayOffUsesConfiguredAdminAndReportsRejection(t *testing.T) {
	svc := &stubBillingService{payErr: &billing.RejectedError{Cause: billing.ErrPaymentRejected, Message: "Tagihan sudah lunas"}}
	ts := newTestServer(t, svc, "")

	rr := ts.do(postForm("/tagihan/u1/lunas", url.Values{"method": {"qris"}, "back": {"https://evil.example"}}))

	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/tagihan/u1?back=%2Ftagihan%3Fstatus%3Dunpaid", rr.Header().Get("Location"))
	require.Len(t, svc.payOffIn, 1)
	assert.Equal(t, "Admin", svc.payOffIn[0].AdminName)
	flash := ts.session.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "Tagihan sudah lunas", flash.Message)
}

func TestGenerateInvoicesFlashesProcedureMessage(t *testing.T) {
	svc := &stubBillingService{generated: billing.GenerationResult{Status: "success", Message: "25 tagihan dibuat"}}
	ts := newTestServer(t, svc, "")

	rr := ts.do(postForm("/tagihan/generate", url.Values{}))

	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/tagihan?status=unpaid", rr.Header().Get("Location"))
	flash := ts.session.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "25 tagihan dibuat", flash.Message)
}

func TestCustomerBillsPage(t *testing.T) {
	svc := &stubBillingService{bills: billing.CustomerBills{
		Customer: billing.Customer{ID: "c1", FullName: "Budi"},
		Open:     []billing.Invoice{{ID: "a", InvoicePeriod: "Agustus 2025", Status: billing.StatusUnpaid, Amount: 150000}},
		Accounts: []billing.PaymentAccount{{Name: "BCA", AccountNumber: "1234567", AccountHolder: "Selinggonet"}},
		Total:    150000,
	}}
	ts := newTestServer(t, svc, "")

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/pelanggan/c1/tagihan", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Tagihan Budi")
	assert.Contains(t, body, "Rp 150.000")
	assert.Contains(t, body, "1234567")
	assert.Contains(t, body, "Scan QRIS")
	assert.Contains(t, body, "Loket Desa")
}

func TestPaidHistoryPage(t *testing.T) {
	svc := &stubBillingService{history: billing.PaidHistory{
		Customer:  billing.Customer{ID: "c1", FullName: "Budi"},
		Invoices:  []billing.Invoice{{ID: "p", InvoicePeriod: "Juli 2025", Status: billing.StatusPaid, TotalDue: 150000}},
		TotalPaid: 150000,
	}}
	ts := newTestServer(t, svc, "")

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/pelanggan/c1/riwayat-lunas", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Riwayat Lunas")
	assert.Contains(t, body, "Juli 2025")
}

func TestBoardRowActions(t *testing.T) {
	parts := billing.Partitions{Unpaid: []billing.Invoice{
		{ID: "u1", InvoicePeriod: "Agustus 2025", Amount: 150000, TotalDue: 150000, Status: billing.StatusUnpaid, Customer: billing.Customer{FullName: "Budi Santoso", WhatsAppNumber: "081234567890"}},
		{ID: "u2", InvoicePeriod: "Agustus 2025", Amount: 100000, TotalDue: 100000, Status: billing.StatusUnpaid, Customer: billing.Customer{FullName: "Sari"}},
	}}
	ts := newTestServer(t, &stubBillingService{parts: parts}, "")

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/tagihan?status=unpaid", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `action="/tagihan/u1/ingatkan"`)
	assert.NotContains(t, body, `action="/tagihan/u2/ingatkan"`)
	assert.Contains(t, body, `href="/tagihan/u2?back=%2ftagihan%3fstatus%3dunpaid#lunas"`)
	assert.Contains(t, body, `#cicilan"`)
}

func TestInvoiceDetailOffersReminder(t *testing.T) {
	inv := boardPartitions().Unpaid[0]
	inv.Customer.WhatsAppNumber = "081234567890"
	ts := newTestServer(t, &stubBillingService{invoice: &inv}, "")

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/tagihan/u1", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `action="/tagihan/u1/ingatkan"`)
}

func TestRemindQueuesAndFlashes(t *testing.T) {
	svc := &stubBillingService{}
	ts := newTestServer(t, svc, "Rina")

	rr := ts.do(postForm("/tagihan/u1/ingatkan", url.Values{"back": {"/tagihan?status=installment"}}))

	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/tagihan?status=installment", rr.Header().Get("Location"))
	assert.Equal(t, []string{"u1|Rina"}, svc.reminded)
	flash := ts.session.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, shared.FlashSuccess, flash.Kind)
	assert.Contains(t, flash.Message, "Budi Santoso")
}

func TestRemindWithoutWhatsAppNumber(t *testing.T) {
	svc := &stubBillingService{remindErr: billing.ErrNoWhatsApp}
	ts := newTestServer(t, svc, "")

	rr := ts.do(postForm("/tagihan/u2/ingatkan", url.Values{}))

	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/tagihan?status=unpaid", rr.Header().Get("Location"))
	flash := ts.session.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, shared.FlashError, flash.Kind)
	assert.Equal(t, "Pelanggan belum memiliki nomor WhatsApp", flash.Message)
}

func TestBoardOversizedPageDoesNotFail(t *testing.T) {
	ts := newTestServer(t, &stubBillingService{parts: boardPartitions()}, "")

	for _, target := range []string{"/tagihan?page=461168601842738791", "/tagihan/data?page=461168601842738791"} {
		rr := ts.do(httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusOK, rr.Code, target)
	}
}

func TestPaidRowsUseHandlerLocation(t *testing.T) {
	paidAt := time.Date(2025, 8, 2, 5, 0, 0, 0, time.UTC)
	parts := billing.Partitions{Paid: []billing.Invoice{
		{ID: "p1", InvoicePeriod: "Agustus 2025", TotalDue: 150000, Status: billing.StatusPaid, PaymentMethod: billing.MethodCash, PaidAt: &paidAt, Customer: billing.Customer{FullName: "Sari"}},
	}}
	ts := newTestServer(t, &stubBillingService{parts: parts}, "")

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/tagihan?status=paid", nil))
	assert.Contains(t, rr.Body.String(), "02/08/2025 12:00")

	ts.handler.WithLocation(time.UTC)
	rr = ts.do(httptest.NewRequest(http.MethodGet, "/tagihan?status=paid", nil))
	assert.Contains(t, rr.Body.String(), "02/08/2025 05:00")
}
