// Package settings keeps the single app_settings row: branding, contact
// numbers and the payment information shown to customers.
package settings

import (
	"errors"
	"time"

	"github.com/selinggonet/selinggonet/internal/shared"
)

var (
	// ErrNotFound indicates the settings row does not exist yet.
	ErrNotFound = errors.New("settings: not found")
	// ErrInvalid indicates the settings form failed validation.
	ErrInvalid = errors.New("settings: invalid input")
)

func init() {
	shared.RegisterSafeMessage(ErrInvalid, "Pengaturan tidak valid, periksa kembali isian")
}

// AppSettings mirrors the app_settings row.
type AppSettings struct {
	ID                    int64     `json:"id"`
	AppName               string    `json:"app_name"`
	AppShortName          string    `json:"app_short_name"`
	AppDescription        string    `json:"app_description"`
	LogoURL               string    `json:"logo_url"`
	FaviconURL            string    `json:"favicon_url"`
	ThemeColor            string    `json:"theme_color"`
	BackgroundColor       string    `json:"background_color"`
	WhatsAppNumber        string    `json:"whatsapp_number"`
	AdminWhatsAppNumber   string    `json:"admin_whatsapp_number"`
	OfflinePaymentName    string    `json:"offline_payment_name"`
	OfflinePaymentAddress string    `json:"offline_payment_address"`
	QRISImageURL          string    `json:"qris_image_url"`
	QRISTitle             string    `json:"qris_title"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Source says where the current settings came from.
type Source string

const (
	SourceDatabase Source = "database"
	SourceMirror   Source = "mirror"
	SourceDefault  Source = "default"
)

// Fallback literals used when a field is empty.
const (
	DefaultAppName               = "Selinggonet"
	DefaultAppShortName          = "Selinggonet"
	DefaultAppDescription        = "Layanan internet rumah Selinggonet"
	DefaultLogoURL               = "/static/img/logo.png"
	DefaultFaviconURL            = "/static/img/favicon.png"
	DefaultThemeColor            = "#6a5acd"
	DefaultBackgroundColor       = "#ffffff"
	DefaultWhatsAppNumber        = "6281234567890"
	DefaultOfflinePaymentName    = "Kantor Selinggonet"
	DefaultOfflinePaymentAddress = "Datang langsung ke kantor Selinggonet pada jam kerja"
	DefaultQRISImageURL          = "/static/img/qris.png"
	DefaultQRISTitle             = "Bayar dengan QRIS"
)

// Defaults returns settings made only of fallback literals.
func Defaults() AppSettings {
	return AppSettings{
		AppName:               DefaultAppName,
		AppShortName:          DefaultAppShortName,
		AppDescription:        DefaultAppDescription,
		LogoURL:               DefaultLogoURL,
		FaviconURL:            DefaultFaviconURL,
		ThemeColor:            DefaultThemeColor,
		BackgroundColor:       DefaultBackgroundColor,
		WhatsAppNumber:        DefaultWhatsAppNumber,
		OfflinePaymentName:    DefaultOfflinePaymentName,
		OfflinePaymentAddress: DefaultOfflinePaymentAddress,
		QRISImageURL:          DefaultQRISImageURL,
		QRISTitle:             DefaultQRISTitle,
	}
}

// OfflinePayment is the cash payment location shown to customers.
type OfflinePayment struct {
	Name    string
	Address string
}

// QRIS is the QR payment block shown to customers.
type QRIS struct {
	Title    string
	ImageURL string
}

// Form is the editable part of the settings page.
type Form struct {
	AppName               string `json:"app_name" validate:"required,max=100"`
	AppShortName          string `json:"app_short_name" validate:"omitempty,max=30"`
	AppDescription        string `json:"app_description" validate:"omitempty,max=300"`
	LogoURL               string `json:"logo_url" validate:"omitempty,uri"`
	FaviconURL            string `json:"favicon_url" validate:"omitempty,uri"`
	ThemeColor            string `json:"theme_color" validate:"omitempty,hexcolor"`
	BackgroundColor       string `json:"background_color" validate:"omitempty,hexcolor"`
	WhatsAppNumber        string `json:"whatsapp_number" validate:"omitempty,numeric,min=9,max=15"`
	AdminWhatsAppNumber   string `json:"admin_whatsapp_number" validate:"omitempty,numeric,min=9,max=15"`
	OfflinePaymentName    string `json:"offline_payment_name" validate:"omitempty,max=100"`
	OfflinePaymentAddress string `json:"offline_payment_address" validate:"omitempty,max=300"`
	QRISImageURL          string `json:"qris_image_url" validate:"omitempty,uri"`
	QRISTitle             string `json:"qris_title" validate:"omitempty,max=100"`
}

// FormFrom copies s into an editable form.
func FormFrom(s AppSettings) Form {
	return Form{
		AppName:               s.AppName,
		AppShortName:          s.AppShortName,
		AppDescription:        s.AppDescription,
		LogoURL:               s.LogoURL,
		FaviconURL:            s.FaviconURL,
		ThemeColor:            s.ThemeColor,
		BackgroundColor:       s.BackgroundColor,
		WhatsAppNumber:        s.WhatsAppNumber,
		AdminWhatsAppNumber:   s.AdminWhatsAppNumber,
		OfflinePaymentName:    s.OfflinePaymentName,
		OfflinePaymentAddress: s.OfflinePaymentAddress,
		QRISImageURL:          s.QRISImageURL,
		QRISTitle:             s.QRISTitle,
	}
}

func (f Form) apply(s AppSettings) AppSettings {
	s.AppName = f.AppName
	s.AppShortName = f.AppShortName
	s.AppDescription = f.AppDescription
	s.LogoURL = f.LogoURL
	s.FaviconURL = f.FaviconURL
	s.ThemeColor = f.ThemeColor
	s.BackgroundColor = f.BackgroundColor
	s.WhatsAppNumber = f.WhatsAppNumber
	s.AdminWhatsAppNumber = f.AdminWhatsAppNumber
	s.OfflinePaymentName = f.OfflinePaymentName
	s.OfflinePaymentAddress = f.OfflinePaymentAddress
	s.QRISImageURL = f.QRISImageURL
	s.QRISTitle = f.QRISTitle
	return s
}
