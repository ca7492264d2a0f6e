package view

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/selinggonet/selinggonet/internal/shared"
	"github.com/selinggonet/selinggonet/web"
)

// Chrome carries the branding applied to every page.
type Chrome struct {
	AppName     string
	Title       string
	FaviconURL  string
	LogoURL     string
	ThemeColor  string
	ManifestURL string
}

// ChromeProvider supplies the current branding.
type ChromeProvider interface {
	Chrome() Chrome
}

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
	chrome    ChromeProvider
	location  *time.Location
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	Chrome      Chrome
	Data        any
}

// DefaultLocation is Western Indonesia Time, used until WithLocation is called.
var DefaultLocation = time.FixedZone("WIB", 7*60*60)

// NewEngine parses the embedded templates.
func NewEngine() (*Engine, error) {
	e := &Engine{location: DefaultLocation}
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.In(e.location).Format("02 Jan 2006 15:04")
		},
		"formatDay": func(t *time.Time) string {
			if t == nil || t.IsZero() {
				return "-"
			}
			return t.In(e.location).Format("02/01/2006")
		},
		"rupiah": shared.FormatRupiah,
		"add": func(a, b int) int {
			return a + b
		},
		// rowActions bundles a list row with the page state its action forms need.
		"rowActions": func(row any, back, csrfToken string) map[string]any {
			return map[string]any{"Row": row, "Back": back, "CSRFToken": csrfToken}
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	e.templates = tpl
	return e, nil
}

// WithLocation sets the time zone dates are displayed in.
func (e *Engine) WithLocation(loc *time.Location) *Engine {
	if loc != nil {
		e.location = loc
	}
	return e
}

// WithChrome sets the branding source used when TemplateData.Chrome is empty.
func (e *Engine) WithChrome(p ChromeProvider) *Engine {
	e.chrome = p
	return e
}

// Render executes a named template with TemplateData and writes it with status.
// The page is rendered to a buffer first so a template error never leaves a
// half-written body behind a 200.
func (e *Engine) Render(w http.ResponseWriter, status int, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	if data.Chrome.AppName == "" && e.chrome != nil {
		data.Chrome = e.chrome.Chrome()
	}
	if data.Chrome.AppName == "" {
		data.Chrome = Chrome{AppName: "Selinggonet", Title: "Selinggonet", ManifestURL: "/manifest.json"}
	}
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
