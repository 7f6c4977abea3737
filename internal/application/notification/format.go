package notification

import (
	"fmt"
	"html"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/bowatch/bowatch/internal/domain/notification"
	"github.com/bowatch/bowatch/internal/shared/biztime"
)

// Formatter renders records as Telegram HTML.
type Formatter struct {
	printer *message.Printer
}

// NewFormatter formats amounts for the given BCP 47 locale, "tr" by default.
func NewFormatter(locale string) *Formatter {
	tag, err := language.Parse(locale)
	if err != nil || locale == "" {
		tag = language.Turkish
	}
	return &Formatter{printer: message.NewPrinter(tag)}
}

func (f *Formatter) Amount(rec *notification.Record) string {
	amount := f.printer.Sprint(number.Decimal(rec.Amount.InexactFloat64(), number.Scale(2)))
	if rec.Currency == "" {
		return amount
	}
	return amount + " " + rec.Currency
}

func (f *Formatter) Format(rec *notification.Record) string {
	var b strings.Builder

	switch rec.Channel {
	case notification.ChannelWithdrawal:
		b.WriteString("💸 <b>Yeni Çekim Talebi</b>\n\n")
	case notification.ChannelDeposit:
		b.WriteString("💰 <b>Yeni Yatırım Talebi</b>\n\n")
	default:
		fmt.Fprintf(&b, "🔔 <b>%s</b>\n\n", html.EscapeString(string(rec.Channel)))
	}

	line := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		fmt.Fprintf(&b, "<b>%s:</b> %s\n", label, html.EscapeString(value))
	}
	code := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		fmt.Fprintf(&b, "<b>%s:</b> <code>%s</code>\n", label, html.EscapeString(value))
	}

	line("Müşteri", rec.ClientName)
	code("Kullanıcı", rec.ClientLogin)
	code("Müşteri ID", rec.ClientID)
	fmt.Fprintf(&b, "<b>Tutar:</b> %s\n", html.EscapeString(f.Amount(rec)))
	line("Ödeme Sistemi", rec.PaymentSystem)
	line("Hesap Sahibi", rec.AccountHolder)
	code("IBAN", rec.IBAN)
	line("BTag", rec.BTag)
	if !rec.RequestedAt.IsZero() {
		line("Talep Zamanı", biztime.FormatLocal(rec.RequestedAt))
	}
	code("Talep ID", rec.ExternalID)
	if note := strings.TrimSpace(rec.Note); note != "" {
		fmt.Fprintf(&b, "\n<i>%s</i>\n", html.EscapeString(note))
	}

	return strings.TrimRight(b.String(), "\n")
}
