package billing

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

var monthNames = [12]string{
	"Januari", "Februari", "Maret", "April", "Mei", "Juni",
	"Juli", "Agustus", "September", "Oktober", "November", "Desember",
}

var monthColors = map[string]string{
	"Januari":   "bg-blue-100 text-blue-800",
	"Februari":  "bg-pink-100 text-pink-800",
	"Maret":     "bg-green-100 text-green-800",
	"April":     "bg-yellow-100 text-yellow-800",
	"Mei":       "bg-purple-100 text-purple-800",
	"Juni":      "bg-indigo-100 text-indigo-800",
	"Juli":      "bg-red-100 text-red-800",
	"Agustus":   "bg-orange-100 text-orange-800",
	"September": "bg-teal-100 text-teal-800",
	"Oktober":   "bg-cyan-100 text-cyan-800",
	"November":  "bg-lime-100 text-lime-800",
	"Desember":  "bg-rose-100 text-rose-800",
}

const defaultMonthColor = "bg-gray-100 text-gray-800"

// MonthName returns the Indonesian month name for 1..12, or "".
func MonthName(month int) string {
	if month < 1 || month > 12 {
		return ""
	}
	return monthNames[month-1]
}

// PeriodLabel formats t as an invoice_period value, e.g. "Agustus 2025".
func PeriodLabel(t time.Time) string {
	return MonthName(int(t.Month())) + " " + strconv.Itoa(t.Year())
}

// MonthColor returns the pill classes for the month in an invoice period.
func MonthColor(period string) string {
	month, _, _ := strings.Cut(strings.TrimSpace(period), " ")
	if color, ok := monthColors[month]; ok {
		return color
	}
	return defaultMonthColor
}

// PeriodFilter narrows a fetch to one billing period or one whole year.
// The zero value means no filter.
type PeriodFilter struct {
	Month int // 1..12, 0 for every month of Year
	Year  int
}

// ParsePeriodFilter reads the bulan/tahun query parameters. bulan is a month
// number or "semua"; anything unparsable yields no filter.
func ParsePeriodFilter(bulan, tahun string) PeriodFilter {
	bulan = strings.TrimSpace(bulan)
	year, err := strconv.Atoi(strings.TrimSpace(tahun))
	if bulan == "" || err != nil || year < 2000 || year > 9999 {
		return PeriodFilter{}
	}
	if strings.EqualFold(bulan, "semua") {
		return PeriodFilter{Year: year}
	}
	month, err := strconv.Atoi(bulan)
	if err != nil || month < 1 || month > 12 {
		return PeriodFilter{}
	}
	return PeriodFilter{Month: month, Year: year}
}

// Active reports whether the filter restricts anything.
func (f PeriodFilter) Active() bool {
	return f.Year > 0
}

// WholeYear reports whether every month of Year matches.
func (f PeriodFilter) WholeYear() bool {
	return f.Active() && f.Month == 0
}

// Label is the invoice_period literal for a single month, or a year caption.
func (f PeriodFilter) Label() string {
	switch {
	case !f.Active():
		return ""
	case f.WholeYear():
		return "Semua Bulan " + strconv.Itoa(f.Year)
	default:
		return MonthName(f.Month) + " " + strconv.Itoa(f.Year)
	}
}

// Matches reports whether an invoice_period value falls inside the filter.
func (f PeriodFilter) Matches(period string) bool {
	if !f.Active() {
		return true
	}
	if f.WholeYear() {
		return strings.HasSuffix(period, " "+strconv.Itoa(f.Year))
	}
	return period == f.Label()
}

// Encode writes the filter into q as bulan/tahun.
func (f PeriodFilter) Encode(q url.Values) {
	if !f.Active() {
		return
	}
	if f.WholeYear() {
		q.Set("bulan", "semua")
	} else {
		q.Set("bulan", strconv.Itoa(f.Month))
	}
	q.Set("tahun", strconv.Itoa(f.Year))
}
