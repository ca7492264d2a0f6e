package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/selinggonet/selinggonet/internal/view"
)

// Store persists the settings row.
type Store interface {
	Get(ctx context.Context) (AppSettings, error)
	Upsert(ctx context.Context, s AppSettings) (AppSettings, error)
}

// Cache is the offline mirror of the last known settings.
type Cache interface {
	Store(ctx context.Context, s AppSettings) error
	Load(ctx context.Context) (AppSettings, error)
}

// Service holds the current settings in memory and answers synchronous reads.
type Service struct {
	store    Store
	cache    Cache
	logger   *slog.Logger
	validate *validator.Validate

	mu      sync.RWMutex
	current AppSettings
	source  Source
}

// NewService constructs a Service seeded with defaults until Load runs.
func NewService(store Store, cache Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		cache:    cache,
		logger:   logger,
		validate: validator.New(),
		current:  Defaults(),
		source:   SourceDefault,
	}
}

// Load refreshes the in-memory settings: database first, then the mirror,
// then the defaults.
func (s *Service) Load(ctx context.Context) Source {
	loaded, err := s.store.Get(ctx)
	if err == nil {
		if cacheErr := s.cache.Store(ctx, loaded); cacheErr != nil {
			s.logger.Warn("mirror app settings", slog.Any("error", cacheErr))
		}
		s.set(loaded, SourceDatabase)
		return SourceDatabase
	}
	s.logger.Warn("load app settings from database", slog.Any("error", err))

	mirrored, cacheErr := s.cache.Load(ctx)
	if cacheErr == nil {
		s.set(mirrored, SourceMirror)
		return SourceMirror
	}
	s.logger.Warn("load app settings from mirror", slog.Any("error", cacheErr))
	s.set(Defaults(), SourceDefault)
	return SourceDefault
}

// Save validates f, writes it over the current row and refreshes the mirror.
func (s *Service) Save(ctx context.Context, f Form) (AppSettings, error) {
	f = trimForm(f)
	if err := s.validate.Struct(f); err != nil {
		return AppSettings{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	saved, err := s.store.Upsert(ctx, f.apply(s.Current()))
	if err != nil {
		return AppSettings{}, fmt.Errorf("save app settings: %w", err)
	}
	if err := s.cache.Store(ctx, saved); err != nil {
		s.logger.Warn("mirror app settings", slog.Any("error", err))
	}
	s.set(saved, SourceDatabase)
	return saved, nil
}

// Current returns a copy of the settings in use.
func (s *Service) Current() AppSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Source reports where Current came from.
func (s *Service) Source() Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// WhatsAppNumber is the customer service number shown to customers.
func (s *Service) WhatsAppNumber() string {
	return or(s.Current().WhatsAppNumber, DefaultWhatsAppNumber)
}

// AdminWhatsAppNumber receives payment alerts; it falls back to the customer service number.
func (s *Service) AdminWhatsAppNumber() string {
	cur := s.Current()
	return or(cur.AdminWhatsAppNumber, or(cur.WhatsAppNumber, DefaultWhatsAppNumber))
}

// OfflinePaymentInfo is where customers can pay in cash.
func (s *Service) OfflinePaymentInfo() OfflinePayment {
	cur := s.Current()
	return OfflinePayment{
		Name:    or(cur.OfflinePaymentName, DefaultOfflinePaymentName),
		Address: or(cur.OfflinePaymentAddress, DefaultOfflinePaymentAddress),
	}
}

// QRISInfo is the QR payment block.
func (s *Service) QRISInfo() QRIS {
	cur := s.Current()
	return QRIS{
		Title:    or(cur.QRISTitle, DefaultQRISTitle),
		ImageURL: or(cur.QRISImageURL, DefaultQRISImageURL),
	}
}

// AppName is the display name of the operator.
func (s *Service) AppName() string {
	return or(s.Current().AppName, DefaultAppName)
}

// Chrome returns the page branding.
func (s *Service) Chrome() view.Chrome {
	cur := s.Current()
	name := or(cur.AppName, DefaultAppName)
	return view.Chrome{
		AppName:     name,
		Title:       name,
		FaviconURL:  or(cur.FaviconURL, DefaultFaviconURL),
		LogoURL:     or(cur.LogoURL, DefaultLogoURL),
		ThemeColor:  or(cur.ThemeColor, DefaultThemeColor),
		ManifestURL: "/manifest.json",
	}
}

// ManifestIcon is one icon entry of the web app manifest.
type ManifestIcon struct {
	Src     string `json:"src"`
	Sizes   string `json:"sizes"`
	Type    string `json:"type"`
	Purpose string `json:"purpose,omitempty"`
}

// Manifest is the web app manifest document.
type Manifest struct {
	Name            string         `json:"name"`
	ShortName       string         `json:"short_name"`
	Description     string         `json:"description"`
	StartURL        string         `json:"start_url"`
	Display         string         `json:"display"`
	BackgroundColor string         `json:"background_color"`
	ThemeColor      string         `json:"theme_color"`
	Icons           []ManifestIcon `json:"icons"`
}

// Manifest builds the web app manifest from the current settings.
func (s *Service) Manifest() Manifest {
	cur := s.Current()
	logo := or(cur.LogoURL, DefaultLogoURL)
	return Manifest{
		Name:            or(cur.AppName, DefaultAppName),
		ShortName:       or(cur.AppShortName, or(cur.AppName, DefaultAppShortName)),
		Description:     or(cur.AppDescription, DefaultAppDescription),
		StartURL:        "/",
		Display:         "standalone",
		BackgroundColor: or(cur.BackgroundColor, DefaultBackgroundColor),
		ThemeColor:      or(cur.ThemeColor, DefaultThemeColor),
		Icons: []ManifestIcon{
			{Src: logo, Sizes: "192x192", Type: "image/png"},
			{Src: logo, Sizes: "512x512", Type: "image/png", Purpose: "any maskable"},
		},
	}
}

func (s *Service) set(v AppSettings, src Source) {
	s.mu.Lock()
	s.current = v
	s.source = src
	s.mu.Unlock()
}

func or(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func trimForm(f Form) Form {
	for _, p := range []*string{
		&f.AppName, &f.AppShortName, &f.AppDescription, &f.LogoURL, &f.FaviconURL,
		&f.ThemeColor, &f.BackgroundColor, &f.WhatsAppNumber, &f.AdminWhatsAppNumber,
		&f.OfflinePaymentName, &f.OfflinePaymentAddress, &f.QRISImageURL, &f.QRISTitle,
	} {
		*p = strings.TrimSpace(*p)
	}
	return f
}
