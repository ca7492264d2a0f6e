package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates user input failed validation.
	ErrValidation = errors.New("validation failed")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// SafeMessager is implemented by errors whose text may be shown to users as-is.
type SafeMessager interface {
	SafeMessage() string
}

var safeMessages = map[error]string{
	ErrNotFound:            "Data tidak ditemukan",
	ErrValidation:          "Data yang diisi belum lengkap atau tidak valid",
	ErrIdempotencyConflict: "Pembayaran ini sedang atau sudah diproses",
	ErrCSRFTokenMissing:    "Sesi formulir kedaluwarsa, muat ulang halaman",
	ErrCSRFTokenMismatch:   "Sesi formulir kedaluwarsa, muat ulang halaman",
}

// RegisterSafeMessage maps a sentinel error to an Indonesian user-facing message.
// Packages call it from init.
func RegisterSafeMessage(err error, message string) {
	safeMessages[err] = message
}

// UserSafeMessage converts an error into text suitable for flashes and inline errors.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var sm SafeMessager
	if errors.As(err, &sm) {
		return sm.SafeMessage()
	}
	for sentinel, msg := range safeMessages {
		if errors.Is(err, sentinel) {
			return msg
		}
	}
	return "Terjadi kesalahan, silakan coba lagi"
}
