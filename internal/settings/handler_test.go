package settings_test

import (
	"context"
	"encoding/json"
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

	"github.com/selinggonet/selinggonet/internal/settings"
	"github.com/selinggonet/selinggonet/internal/shared"
	_ "github.com/selinggonet/selinggonet/internal/testing/guard"
	"github.com/selinggonet/selinggonet/internal/view"
)

func newHandler(t *testing.T, store *stubStore) (http.Handler, *shared.SessionManager, *settings.Service) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := settings.NewService(store, settings.NewMirror(client), logger)
	engine, err := view.NewEngine()
	require.NoError(t, err)
	engine.WithChrome(svc)
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	h := settings.NewHandler(logger, svc, engine, shared.NewCSRFManager("csrfsecret"))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := sessions.Load(req.Context(), req)
			require.NoError(t, err)
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	r.Route("/pengaturan", h.MountRoutes)
	r.Get("/manifest.json", h.Manifest)
	return r, sessions, svc
}

func TestSettingsPageShowsCurrentValues(t *testing.T) {
	store := &stubStore{row: &settings.AppSettings{ID: 1, AppName: "NetKu", WhatsAppNumber: "628111222333"}}
	h, _, _ := newHandler(t, store)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pengaturan", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "NetKu")
	assert.Contains(t, body, "628111222333")
}

func TestSaveSettingsRedirects(t *testing.T) {
	store := &stubStore{}
	h, _, svc := newHandler(t, store)

	form := url.Values{"app_name": {"NetKu"}, "theme_color": {"#123456"}}
	req := httptest.NewRequest(http.MethodPost, "/pengaturan", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/pengaturan", rr.Header().Get("Location"))
	assert.Equal(t, "#123456", svc.Chrome().ThemeColor)
}

func TestSaveSettingsRejectsInvalidInput(t *testing.T) {
	store := &stubStore{}
	h, _, _ := newHandler(t, store)

	form := url.Values{"app_name": {""}}
	req := httptest.NewRequest(http.MethodPost, "/pengaturan", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "Pengaturan tidak valid")
	assert.Empty(t, store.saved)
}

func TestManifestEndpoint(t *testing.T) {
	store := &stubStore{row: &settings.AppSettings{ID: 1, AppName: "NetKu"}}
	h, _, svc := newHandler(t, store)
	svc.Load(context.Background())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/manifest.json", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/manifest+json", rr.Header().Get("Content-Type"))
	var m settings.Manifest
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&m))
	assert.Equal(t, "NetKu", m.Name)
	assert.Equal(t, "standalone", m.Display)
}

func TestSaveSettingsAcceptsJSON(t *testing.T) {
	store := &stubStore{}
	h, _, svc := newHandler(t, store)

	req := httptest.NewRequest(http.MethodPost, "/pengaturan", strings.NewReader(`{"app_name":"NetKu","whatsapp_number":"628111222333"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var saved settings.AppSettings
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&saved))
	assert.Equal(t, "NetKu", saved.AppName)
	assert.Equal(t, "628111222333", svc.WhatsAppNumber())
}

func TestSaveSettingsJSONErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed", `{"app_name":`, http.StatusBadRequest},
		{"invalid", `{"app_name":""}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &stubStore{}
			h, _, _ := newHandler(t, store)

			req := httptest.NewRequest(http.MethodPost, "/pengaturan", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			require.Equal(t, tc.status, rr.Code)
			assert.Contains(t, rr.Body.String(), `"status":`)
			assert.Empty(t, store.saved)
		})
	}
}

func newSessionHandler(t *testing.T) (http.Handler, *shared.Session) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := settings.NewService(&stubStore{}, settings.NewMirror(client), logger)
	engine, err := view.NewEngine()
	require.NoError(t, err)
	engine.WithChrome(svc)
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	sess, err := sessions.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	h := settings.NewHandler(logger, svc, engine, shared.NewCSRFManager("csrfsecret"))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	r.Route("/pengaturan", h.MountRoutes)
	return r, sess
}

func postAdminName(h http.Handler, name string) *httptest.ResponseRecorder {
	form := url.Values{"admin_name": {name}}
	req := httptest.NewRequest(http.MethodPost, "/pengaturan/admin", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestSaveAdminNameStoresInSession(t *testing.T) {
	h, sess := newSessionHandler(t)

	rr := postAdminName(h, "  Rina ")

	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/pengaturan", rr.Header().Get("Location"))
	assert.Equal(t, "Rina", sess.Get(shared.AdminNameKey))

	page := httptest.NewRecorder()
	h.ServeHTTP(page, httptest.NewRequest(http.MethodGet, "/pengaturan", nil))
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), `name="admin_name" value="Rina"`)
	assert.Contains(t, page.Body.String(), "Nama admin disimpan")
}

func TestSaveAdminNameBlankClearsSession(t *testing.T) {
	h, sess := newSessionHandler(t)
	sess.Set(shared.AdminNameKey, "Rina")

	rr := postAdminName(h, "   ")

	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Empty(t, sess.Get(shared.AdminNameKey))
	flash := sess.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "Nama admin dikembalikan ke bawaan", flash.Message)
}

func TestSaveAdminNameRejectsLongName(t *testing.T) {
	h, sess := newSessionHandler(t)
	sess.Set(shared.AdminNameKey, "Rina")

	rr := postAdminName(h, strings.Repeat("a", 61))

	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "Rina", sess.Get(shared.AdminNameKey))
	flash := sess.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, shared.FlashError, flash.Kind)
}
