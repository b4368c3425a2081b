// Package mail delivers account emails. Requests travel through Kafka so the
// HTTP response never waits on delivery.
package mail

import (
	"fmt"
	"time"
)

// Templates.
const (
	TemplateForgetPassword = "forget_password"
	TemplateOTP            = "otp"
	TemplateWelcome        = "welcome"
)

// Message is a plain-text email.
type Message struct {
	Template string
	To       string
	Subject  string
	Body     string
}

// ForgetPasswordMessage carries the password reset link.
func ForgetPasswordMessage(to, link string, expiresAt time.Time) Message {
	return Message{
		Template: TemplateForgetPassword,
		To:       to,
		Subject:  "Reset your password",
		Body: fmt.Sprintf("We received a request to reset your password.\n\n"+
			"Follow this link to choose a new one:\n%s\n\n"+
			"The link is valid until %s and works once. If you did not ask for it, ignore this email.",
			link, expiresAt.UTC().Format(time.RFC1123)),
	}
}

// OTPMessage carries a one-time login code.
func OTPMessage(to, code string, expiresAt time.Time) Message {
	return Message{
		Template: TemplateOTP,
		To:       to,
		Subject:  "Your verification code",
		Body: fmt.Sprintf("Your verification code is %s.\n\nIt expires at %s.",
			code, expiresAt.UTC().Format(time.RFC1123)),
	}
}

// WelcomeMessage greets a newly registered account.
func WelcomeMessage(to, name string) Message {
	return Message{
		Template: TemplateWelcome,
		To:       to,
		Subject:  "Welcome",
		Body:     fmt.Sprintf("Hi %s,\n\nyour account is ready.", name),
	}
}
