package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

var funcs = template.FuncMap{
	"date": func(t time.Time) string { return t.UTC().Format("2 Jan 2006 15:04 MST") },
	"payment": func(method string) string {
		switch method {
		case "wallet":
			return "Wallet"
		case "cash_on_delivery":
			return "Cash on delivery"
		default:
			return method
		}
	},
}

var orderConfirmationTmpl = template.Must(template.New("order").Funcs(funcs).Parse(`<!doctype html>
<html><body style="font-family:Georgia,serif;color:#222">
<h2>Thank you for your order{{if .CustomerName}}, {{.CustomerName}}{{end}}</h2>
<p>Order <strong>{{.OrderID}}</strong> was placed on {{date .PlacedAt}}.</p>
<table cellpadding="6" style="border-collapse:collapse">
<tr><th align="left">Item</th><th>Qty</th><th align="right">Price</th><th align="right">Total</th></tr>
{{range .Items}}<tr><td>{{.Title}}</td><td align="center">{{.Quantity}}</td><td align="right">{{.UnitPrice.StringFixed 2}}</td><td align="right">{{.LineTotal.StringFixed 2}}</td></tr>
{{end}}<tr><td colspan="3" align="right"><strong>Total</strong></td><td align="right"><strong>{{.Total.StringFixed 2}}</strong></td></tr>
</table>
<p>Payment: {{payment .PaymentMethod}}</p>
{{if .ShippingAddress}}<p>Shipping to: {{.ShippingAddress}}</p>{{end}}
<p>Ghazal Library</p>
</body></html>`))

var transferNoticeTmpl = template.Must(template.New("transfer").Funcs(funcs).Parse(`<!doctype html>
<html><body style="font-family:Georgia,serif;color:#222">
<h2>You received {{.Amount.StringFixed 2}}</h2>
<p>{{if .RecipientName}}Hello {{.RecipientName}}, {{end}}{{if .SenderName}}{{.SenderName}}{{else}}{{.SenderEmail}}{{end}} sent you {{.Amount.StringFixed 2}} on {{date .CompletedAt}}. The amount is now in your Ghazal Library wallet.</p>
{{if .Note}}<blockquote>{{.Note}}</blockquote>{{end}}
<p>Ghazal Library</p>
</body></html>`))

// Rendered is a ready-to-send email body.
type Rendered struct {
	Subject string
	HTML    string
}

// RenderOrderConfirmation validates p and renders the buyer email.
func RenderOrderConfirmation(p OrderConfirmation) (Rendered, error) {
	if err := p.Validate(); err != nil {
		return Rendered{}, err
	}
	html, err := execute(orderConfirmationTmpl, p)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{Subject: fmt.Sprintf("Your Ghazal Library order %s", shortID(p.OrderID)), HTML: html}, nil
}

// RenderTransferNotice validates n and renders the recipient email.
func RenderTransferNotice(n TransferNotice) (Rendered, error) {
	if err := n.Validate(); err != nil {
		return Rendered{}, err
	}
	html, err := execute(transferNoticeTmpl, n)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{Subject: fmt.Sprintf("You received %s", n.Amount.StringFixed(2)), HTML: html}, nil
}

func execute(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
