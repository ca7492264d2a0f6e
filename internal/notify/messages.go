package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/selinggonet/selinggonet/internal/billing"
	"github.com/selinggonet/selinggonet/internal/shared"
)

// CustomerConfirmation is the WhatsApp receipt sent to the customer.
func CustomerConfirmation(appName string, inv billing.Invoice, notice billing.PaymentNotice, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Halo %s,\n\n", displayName(inv.Customer.FullName))
	if notice.NewStatus == billing.StatusPaid {
		fmt.Fprintf(&b, "Terima kasih, tagihan internet periode *%s* telah *LUNAS*.\n\n", inv.InvoicePeriod)
	} else {
		fmt.Fprintf(&b, "Terima kasih, pembayaran cicilan tagihan periode *%s* telah kami terima.\n\n", inv.InvoicePeriod)
	}
	fmt.Fprintf(&b, "ID Pelanggan: %s\n", orDash(inv.Customer.IDPL))
	fmt.Fprintf(&b, "Jumlah dibayar: %s\n", shared.FormatRupiah(notice.Amount))
	fmt.Fprintf(&b, "Metode: %s\n", notice.Method.Label())
	if notice.NewStatus != billing.StatusPaid {
		fmt.Fprintf(&b, "Sisa tagihan: %s\n", shared.FormatRupiah(notice.Remaining))
	}
	fmt.Fprintf(&b, "Tanggal: %s\n\n", at.Format("02/01/2006 15:04"))
	fmt.Fprintf(&b, "Salam,\n%s", appName)
	return b.String()
}

// AdminAlert is the WhatsApp message sent to the admin number.
func AdminAlert(inv billing.Invoice, notice billing.PaymentNotice, at time.Time) string {
	var b strings.Builder
	b.WriteString("*Pembayaran Diterima*\n\n")
	fmt.Fprintf(&b, "Pelanggan: %s (%s)\n", displayName(inv.Customer.FullName), orDash(inv.Customer.IDPL))
	fmt.Fprintf(&b, "Periode: %s\n", inv.InvoicePeriod)
	fmt.Fprintf(&b, "Jumlah: %s\n", shared.FormatRupiah(notice.Amount))
	fmt.Fprintf(&b, "Metode: %s\n", notice.Method.Label())
	fmt.Fprintf(&b, "Status: %s\n", notice.NewStatus.Label())
	if notice.NewStatus != billing.StatusPaid {
		fmt.Fprintf(&b, "Sisa: %s\n", shared.FormatRupiah(notice.Remaining))
	}
	fmt.Fprintf(&b, "Dicatat oleh: %s\n", orDash(notice.AdminName))
	fmt.Fprintf(&b, "Waktu: %s", at.Format("02/01/2006 15:04"))
	return b.String()
}

// BillReminder is the WhatsApp reminder for an open invoice. contact is the
// number customers reply to; it is omitted when empty.
func BillReminder(appName, contact string, inv billing.Invoice, loc *time.Location) string {
	if loc == nil {
		loc = billing.DefaultLocation
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Halo %s,\n\n", displayName(inv.Customer.FullName))
	fmt.Fprintf(&b, "Kami mengingatkan tagihan internet periode *%s* belum lunas.\n\n", inv.InvoicePeriod)
	fmt.Fprintf(&b, "ID Pelanggan: %s\n", orDash(inv.Customer.IDPL))
	if inv.Status == billing.StatusPartiallyPaid {
		fmt.Fprintf(&b, "Sudah dibayar: %s\n", shared.FormatRupiah(inv.DisplayPaid()))
	}
	fmt.Fprintf(&b, "Sisa tagihan: *%s*\n", shared.FormatRupiah(inv.Remaining()))
	if inv.DueDate != nil && !inv.DueDate.IsZero() {
		fmt.Fprintf(&b, "Jatuh tempo: %s\n", inv.DueDate.In(loc).Format("02/01/2006"))
	}
	if strings.TrimSpace(contact) != "" {
		fmt.Fprintf(&b, "\nKonfirmasi pembayaran melalui WhatsApp %s.\n", contact)
	}
	fmt.Fprintf(&b, "\nAbaikan pesan ini jika sudah membayar.\n\nSalam,\n%s", appName)
	return b.String()
}

// AdminTitle is the headline of the dashboard notification.
func AdminTitle(inv billing.Invoice, notice billing.PaymentNotice) string {
	if notice.NewStatus == billing.StatusPaid {
		return "Tagihan lunas: " + displayName(inv.Customer.FullName)
	}
	return "Cicilan diterima: " + displayName(inv.Customer.FullName)
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Pelanggan"
	}
	return name
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
