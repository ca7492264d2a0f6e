package shared

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var idPrinter = message.NewPrinter(language.Indonesian)

// FormatRupiah renders an amount as "Rp 150.000". Fractions are rounded to whole rupiah.
func FormatRupiah(amount float64) string {
	rounded := int64(math.Round(amount))
	if rounded < 0 {
		return idPrinter.Sprintf("-Rp %d", -rounded)
	}
	return idPrinter.Sprintf("Rp %d", rounded)
}
