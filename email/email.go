package email

import (
	"fmt"
	"net/smtp"
	"os"
)

// Sender delivers a message to a single recipient. Signup depends on this
// interface rather than on SMTP directly so tests can capture outgoing mail.
type Sender interface {
	Send(to, subject, body string) error
}

type EmailService struct {
	host     string
	port     string
	user     string
	password string
	from     string
}

func NewEmailService() *EmailService {
	return &EmailService{
		host:     os.Getenv("SMTP_HOST"),
		port:     os.Getenv("SMTP_PORT"),
		user:     os.Getenv("SMTP_USER"),
		password: os.Getenv("SMTP_PASSWORD"),
		from:     os.Getenv("SMTP_FROM"),
	}
}

func (e *EmailService) Send(to, subject, body string) error {
	message := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", e.from, to, subject, body)

	auth := smtp.PlainAuth("", e.user, e.password, e.host)
	addr := fmt.Sprintf("%s:%s", e.host, e.port)

	if err := smtp.SendMail(addr, auth, e.from, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %v", err)
	}

	return nil
}

// ConfirmationBody builds the plain-text body of the signup email.
func ConfirmationBody(username, code string) string {
	return fmt.Sprintf(`Hello, %s!

Thank you for registering with Kritika.

Your confirmation code: %s

Exchange it for an access token at /api/v1/auth/token.

If you did not register with Kritika, ignore this email.

---
Kritika - Reviews and Ratings
`, username, code)
}
