package notifier

import (
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"courtbot/internal/config"
	"courtbot/internal/models"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier handles email notifications
type EmailNotifier struct {
	config config.EmailConfig
	auth   smtp.Auth
	send   SendFunc
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	return &EmailNotifier{
		config: cfg,
		auth:   smtp.PlainAuth("", cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.Host),
		send:   smtp.SendMail,
	}
}

// WithSender replaces the SMTP transport.
func (e *EmailNotifier) WithSender(send SendFunc) *EmailNotifier {
	e.send = send
	return e
}

// NotifySlots sends the newly available slots. Nothing is sent for an empty
// list.
func (e *EmailNotifier) NotifySlots(slots []models.Slot, checkedAt time.Time) error {
	slots = models.Available(slots)
	if len(slots) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("テニスコートの空きが見つかりました!\n")
	sb.WriteString("New tennis court availability found!\n\n")
	sb.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	sb.WriteString("🎾 空き枠 (Available slots):\n\n")
	for _, s := range slots {
		fmt.Fprintf(&sb, "  ✅ %s %s  %s %s-%s\n", s.FacilityName, s.CourtName, s.Date, s.Start, s.End)
	}
	sb.WriteString("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Fprintf(&sb, "🕐 確認時刻 (Checked at): %s\n", checkedAt.Format("2006-01-02 15:04:05"))

	subject := fmt.Sprintf("%s (%d)", e.config.Subject, len(slots))
	if err := e.deliver(subject, sb.String()); err != nil {
		return fmt.Errorf("failed to send availability email: %w", err)
	}
	return nil
}

// NotifyBooking reports the outcome of one booking attempt.
func (e *EmailNotifier) NotifyBooking(r models.BookingResult) error {
	var sb strings.Builder
	s := r.Slot
	if r.Succeeded() {
		sb.WriteString("予約が完了しました!\n")
		sb.WriteString("Reservation completed!\n\n")
		fmt.Fprintf(&sb, "📋 予約番号 (Reservation number): %s\n", r.ConfirmationNumber)
	} else {
		sb.WriteString("予約に失敗しました。\n")
		sb.WriteString("Reservation failed.\n\n")
		fmt.Fprintf(&sb, "⚠️ 失敗した手順 (Failed step): %s\n", r.FailureStep)
		fmt.Fprintf(&sb, "   %s\n", r.FailureReason)
		if r.Committed {
			sb.WriteString("   申込は送信済みです。ポータルで予約状況を確認してください。\n")
			sb.WriteString("   The request was submitted; check the portal before retrying.\n")
		}
	}
	sb.WriteString("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Fprintf(&sb, "🎾 %s %s  %s %s-%s\n", s.FacilityName, s.CourtName, s.Date, s.Start, s.End)
	fmt.Fprintf(&sb, "👥 利用人数 (Users): %d\n", r.UserCount)
	fmt.Fprintf(&sb, "🕐 %s\n", r.FinishedAt.Format("2006-01-02 15:04:05"))

	subject := e.config.Subject + " 予約失敗"
	if r.Succeeded() {
		subject = e.config.Subject + " 予約完了 " + r.ConfirmationNumber
	}
	if err := e.deliver(subject, sb.String()); err != nil {
		return fmt.Errorf("failed to send booking email: %w", err)
	}
	return nil
}

// TestConnection tests the email configuration
func (e *EmailNotifier) TestConnection() error {
	body := "courtbot のテストメールです。\n"
	body += "This is a test email from courtbot.\n"
	body += fmt.Sprintf("Time: %s", time.Now().Format("2006-01-02 15:04:05"))
	return e.deliver(e.config.Subject+" test", body)
}

func (e *EmailNotifier) deliver(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", e.config.SMTP.Host, e.config.SMTP.Port)
	return e.send(addr, e.auth, e.config.From, e.config.To, []byte(e.buildMessage(subject, body)))
}

// buildMessage creates the full email message with headers
func (e *EmailNotifier) buildMessage(subject, body string) string {
	headers := [][2]string{
		{"From", e.config.From},
		{"To", strings.Join(e.config.To, ", ")},
		{"Subject", mime.QEncoding.Encode("utf-8", subject)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/plain; charset=UTF-8"},
	}

	var message strings.Builder
	for _, h := range headers {
		fmt.Fprintf(&message, "%s: %s\r\n", h[0], h[1])
	}
	message.WriteString("\r\n")
	message.WriteString(body)
	return message.String()
}
