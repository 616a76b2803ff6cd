package notification

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/DarioSilvaDev/pawgo-sub001/internal/config"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/logger"
)

// SettlementNotice is the payload handed to the admin notification channel
// after a successful settlement commit.
type SettlementNotice struct {
	Code                string
	InfluencerName      string
	InfluencerEmail     string
	TotalAmount         decimal.Decimal
	Currency            string
	CommissionsCount    int
	InfluencerPaymentID string
}

// EmailSender delivers settlement notices to the configured admin
// recipients over SMTP. Delivery is best-effort: callers log and swallow
// errors, a failed mail never rolls back a settlement.
type EmailSender struct {
	cfg config.NotificationConfig
	log *logger.Logger
}

func NewEmailSender(cfg config.NotificationConfig, log *logger.Logger) *EmailSender {
	return &EmailSender{cfg: cfg, log: log}
}

// Enabled reports whether any admin recipients are configured.
func (e *EmailSender) Enabled() bool {
	return len(e.cfg.AdminRecipients) > 0 && e.cfg.SMTPUsername != ""
}

func (e *EmailSender) NotifySettlement(notice *SettlementNotice) error {
	if !e.Enabled() {
		e.log.Info("NOTIFY", "Admin notification skipped: no recipients configured")
		return nil
	}

	subject := fmt.Sprintf("Commission settlement: %s", notice.Code)
	body := fmt.Sprintf(
		"Discount code %s has been settled.\r\n\r\n"+
			"Influencer: %s <%s>\r\n"+
			"Commissions: %d\r\n"+
			"Total: %s %s\r\n"+
			"Influencer payment: %s\r\n",
		notice.Code,
		notice.InfluencerName, notice.InfluencerEmail,
		notice.CommissionsCount,
		notice.TotalAmount.StringFixed(2), notice.Currency,
		notice.InfluencerPaymentID,
	)

	msg := strings.Join([]string{
		"From: " + e.cfg.FromAddress,
		"To: " + strings.Join(e.cfg.AdminRecipients, ", "),
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	addr := e.cfg.SMTPHost + ":" + e.cfg.SMTPPort
	auth := smtp.PlainAuth("", e.cfg.SMTPUsername, e.cfg.SMTPPassword, e.cfg.SMTPHost)
	if err := smtp.SendMail(addr, auth, e.cfg.FromAddress, e.cfg.AdminRecipients, []byte(msg)); err != nil {
		return fmt.Errorf("send settlement notification: %w", err)
	}

	e.log.Info("NOTIFY", fmt.Sprintf("Settlement notification sent for code %s to %d recipients",
		notice.Code, len(e.cfg.AdminRecipients)))
	return nil
}
