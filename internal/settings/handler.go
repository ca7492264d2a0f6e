package settings

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/selinggonet/selinggonet/internal/platform/httpx"
	"github.com/selinggonet/selinggonet/internal/shared"
	"github.com/selinggonet/selinggonet/internal/view"
)

// Handler serves the settings page and the web app manifest.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
}

// NewHandler builds a settings handler.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf}
}

// MountRoutes registers /pengaturan routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.showSettings)
	r.Post("/", h.saveSettings)
	r.Post("/admin", h.saveAdminName)
}

// maxAdminNameLength bounds the per-session admin name.
const maxAdminNameLength = 60

// Manifest serves the web app manifest built from the current settings.
func (h *Handler) Manifest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/manifest+json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(h.service.Manifest()); err != nil {
		h.logger.Error("encode manifest", slog.Any("error", err))
	}
}

type pageData struct {
	Form      Form
	Source    Source
	Offline   OfflinePayment
	QRIS      QRIS
	AdminName string
	Error     string
}

func (h *Handler) showSettings(w http.ResponseWriter, r *http.Request) {
	h.service.Load(r.Context())
	h.render(w, r, http.StatusOK, h.pageData(r, FormFrom(h.service.Current()), ""))
}

func (h *Handler) saveSettings(w http.ResponseWriter, r *http.Request) {
	if isJSON(r) {
		h.saveSettingsJSON(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.render(w, r, http.StatusBadRequest, h.pageData(r, FormFrom(h.service.Current()), "Form tidak dapat dibaca"))
		return
	}
	form := Form{
		AppName:               r.PostFormValue("app_name"),
		AppShortName:          r.PostFormValue("app_short_name"),
		AppDescription:        r.PostFormValue("app_description"),
		LogoURL:               r.PostFormValue("logo_url"),
		FaviconURL:            r.PostFormValue("favicon_url"),
		ThemeColor:            r.PostFormValue("theme_color"),
		BackgroundColor:       r.PostFormValue("background_color"),
		WhatsAppNumber:        r.PostFormValue("whatsapp_number"),
		AdminWhatsAppNumber:   r.PostFormValue("admin_whatsapp_number"),
		OfflinePaymentName:    r.PostFormValue("offline_payment_name"),
		OfflinePaymentAddress: r.PostFormValue("offline_payment_address"),
		QRISImageURL:          r.PostFormValue("qris_image_url"),
		QRISTitle:             r.PostFormValue("qris_title"),
	}
	if _, err := h.service.Save(r.Context(), form); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalid) {
			status = http.StatusUnprocessableEntity
		} else {
			h.logger.Error("save settings", slog.Any("error", err))
		}
		h.render(w, r, status, h.pageData(r, form, shared.UserSafeMessage(err)))
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: shared.FlashSuccess, Message: "Pengaturan berhasil disimpan"})
	}
	http.Redirect(w, r, "/pengaturan", http.StatusSeeOther)
}

func (h *Handler) saveSettingsJSON(w http.ResponseWriter, r *http.Request) {
	var form Form
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest), "Body JSON tidak dapat dibaca")
		return
	}
	saved, err := h.service.Save(r.Context(), form)
	if err != nil {
		if !errors.Is(err, ErrInvalid) {
			h.logger.Error("save settings", slog.Any("error", err))
		}
		httpx.RespondError(w, err, func(err error) (int, bool) {
			if errors.Is(err, ErrInvalid) {
				return http.StatusUnprocessableEntity, true
			}
			return 0, false
		})
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

// saveAdminName sets the name recorded on payments made from this session.
// A blank name clears it so the configured default applies again.
func (h *Handler) saveAdminName(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	name := strings.TrimSpace(r.PostFormValue("admin_name"))
	switch {
	case name == "":
		sess.Delete(shared.AdminNameKey)
		sess.AddFlash(shared.FlashMessage{Kind: shared.FlashSuccess, Message: "Nama admin dikembalikan ke bawaan"})
	case utf8.RuneCountInString(name) > maxAdminNameLength:
		sess.AddFlash(shared.FlashMessage{Kind: shared.FlashError, Message: "Nama admin terlalu panjang"})
	default:
		sess.Set(shared.AdminNameKey, name)
		sess.AddFlash(shared.FlashMessage{Kind: shared.FlashSuccess, Message: "Nama admin disimpan"})
	}
	http.Redirect(w, r, "/pengaturan", http.StatusSeeOther)
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func (h *Handler) pageData(r *http.Request, form Form, errMsg string) pageData {
	return pageData{
		Form:      form,
		Source:    h.service.Source(),
		Offline:   h.service.OfflinePaymentInfo(),
		QRIS:      h.service.QRISInfo(),
		AdminName: shared.AdminNameFromContext(r.Context(), ""),
		Error:     errMsg,
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Pengaturan",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if err := h.templates.Render(w, status, "pages/settings.html", viewData); err != nil {
		h.logger.Error("render settings", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
