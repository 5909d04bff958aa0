package mail

import (
	"crypto/tls"
	"fmt"

	gomail "gopkg.in/gomail.v2"
)

// Mailer sends account emails via Gmail SMTP. A zero-value From disables it.
type Mailer struct {
	From string
	Pass string
}

func NewMailer(from, pass string) *Mailer {
	return &Mailer{From: from, Pass: pass}
}

func (m *Mailer) Enabled() bool {
	return m.From != "" && m.Pass != ""
}

// SendWelcomeEmail greets a newly registered user.
func (m *Mailer) SendWelcomeEmail(toEmail, username string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", toEmail)
	msg.SetHeader("Subject", "Welcome to Privora")
	msg.SetBody("text/html", fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; background:#0a0a0f; color:#e2e8f0; padding:40px;">
  <div style="max-width:480px; margin:auto; background:#13131a; border-radius:16px; padding:40px; border:1px solid #2d2d3d;">
    <h2 style="color:#a78bfa; margin:0 0 8px;">Privora</h2>
    <p style="color:#94a3b8; margin:0 0 32px;">Encrypted file sharing</p>
    <p>Hi <strong>%s</strong>, your account is ready.</p>
    <p style="color:#64748b; font-size:14px;">Files you share are encrypted in your browser before upload. The server never sees their contents.</p>
  </div>
</body>
</html>`, username))

	d := gomail.NewDialer("smtp.gmail.com", 587, m.From, m.Pass)
	// Allow TLS on port 587 (STARTTLS)
	d.TLSConfig = &tls.Config{InsecureSkipVerify: false, ServerName: "smtp.gmail.com"}

	if err := d.DialAndSend(msg); err != nil {
		return fmt.Errorf("send welcome email: %w", err)
	}
	return nil
}
