package orderstatus

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// fallbackFormat is used for statuses without a canonical sentence.
const fallbackFormat = "Order status is now: %s"

var sentences = map[string]string{
	"pending":   "Your order was received and is waiting for confirmation.",
	"confirmed": "Your order was confirmed and will be prepared soon.",
	"preparing": "The chef is already working on your order!",
	"ready":     "Your order is ready! Enjoy your meal!",
	"completed": "Order completed. Thank you for your preference!",
	"cancelled": "We are sorry, but your order was cancelled.",
}

var portuguese = map[string]string{
	"Your order was received and is waiting for confirmation.": "Seu pedido foi recebido e aguarda confirmação.",
	"Your order was confirmed and will be prepared soon.":      "Seu pedido foi confirmado e logo entrará em preparação.",
	"The chef is already working on your order!":               "O chef já está trabalhando no seu pedido!",
	"Your order is ready! Enjoy your meal!":                    "Seu pedido está pronto! Bom apetite!",
	"Order completed. Thank you for your preference!":          "Pedido finalizado. Obrigado pela preferência!",
	"We are sorry, but your order was cancelled.":              "Lamentamos, mas seu pedido foi cancelado.",
	fallbackFormat: "Status atualizado para: %s",
}

func init() {
	for key, msg := range portuguese {
		_ = message.SetString(language.BrazilianPortuguese, key, msg)
	}
}

// Messages renders user-facing status sentences for one locale.
type Messages struct {
	printer *message.Printer
}

// NewMessages returns a renderer for locale. Unknown or empty locales fall
// back to English.
func NewMessages(locale string) *Messages {
	tag := language.English
	if locale != "" {
		if parsed, err := language.Parse(locale); err == nil {
			tag = parsed
		}
	}
	return &Messages{printer: message.NewPrinter(tag)}
}

// For returns the canonical sentence for status, or the templated fallback.
func (m *Messages) For(status string) string {
	if sentence, ok := sentences[status]; ok {
		return m.printer.Sprintf(sentence)
	}
	return m.printer.Sprintf(fallbackFormat, status)
}
