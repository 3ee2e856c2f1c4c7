package email

import (
	"bytes"
	"fmt"
	"net/smtp"
	"text/template"
)

// Template names understood by the sender.
const (
	TemplateUpgradeConfirmed    = "upgrade_confirmed"
	TemplateCancellationNotice  = "cancellation_notice"
	TemplateLowBalance          = "low_balance_warning"
	TemplatePaymentRetryWarning = "payment_retry_warning"
	TemplateTopUpReceipt        = "topup_receipt"
)

// Sender is the transactional-email contract the billing core depends on:
// sendEmail(address, subject, template, data). Rendering details stay on
// this side of the boundary; callers only pick a template and supply data.
type Sender interface {
	Send(address, subject, template string, data map[string]string) error
}

var bodies = map[string]string{
	TemplateUpgradeConfirmed: "Your {{.plan}} plan is active. {{.tokens}} tokens have been added to your account.\n",
	TemplateCancellationNotice: "Your subscription has been canceled and your account moved to the free plan.\n" +
		"Any remaining tokens were forfeited.\n",
	TemplateLowBalance: "You have {{.tokens_remaining}} tokens left on your {{.plan}} plan." +
		"{{if .refresh_date}} Your tokens refresh on {{.refresh_date}}.{{end}}\n",
	TemplatePaymentRetryWarning: "We couldn't process your payment (attempt {{.stage}}). " +
		"Please update your payment method to keep your plan active.\n",
	TemplateTopUpReceipt: "{{.tokens}} top-up tokens were added to your account. They never expire.\n",
}

// SMTPSender delivers rendered templates over plain SMTP.
type SMTPSender struct {
	host     string
	port     string
	from     string
	password string
}

func NewSMTPSender(host, port, from, password string) *SMTPSender {
	return &SMTPSender{host: host, port: port, from: from, password: password}
}

func (s *SMTPSender) Send(address, subject, tmplName string, data map[string]string) error {
	body, err := render(tmplName, data)
	if err != nil {
		return err
	}

	message := []byte("Subject: " + subject + "\r\n" +
		"From: " + s.from + "\r\n" +
		"To: " + address + "\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		body + "\r\n")

	auth := smtp.PlainAuth("", s.from, s.password, s.host)
	if err := smtp.SendMail(s.host+":"+s.port, auth, s.from, []string{address}, message); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func render(name string, data map[string]string) (string, error) {
	raw, ok := bodies[name]
	if !ok {
		return "", fmt.Errorf("unknown email template %q", name)
	}
	tmpl, err := template.New(name).Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse email template %q: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render email template %q: %w", name, err)
	}
	return buf.String(), nil
}
