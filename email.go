package userauth

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"log"
	"net/url"
	texttemplate "text/template"
)

// Mailer delivers email. Implementations live in the notify package.
type Mailer interface {
	Send(ctx context.Context, to, subject, text, html string) error
}

// SMSSender delivers text messages
type SMSSender interface {
	Send(ctx context.Context, to, message string) error
}

// ConsoleMailer is a development implementation that logs emails to console
type ConsoleMailer struct{}

func (c *ConsoleMailer) Send(ctx context.Context, to, subject, text, html string) error {
	log.Printf("\n=== EMAIL ===")
	log.Printf("To: %s", to)
	log.Printf("Subject: %s", subject)
	log.Printf("Body: %s", text)
	log.Printf("=============\n")
	return nil
}

// ConsoleSMSSender is a development implementation that logs text messages to console
type ConsoleSMSSender struct{}

func (c *ConsoleSMSSender) Send(ctx context.Context, to, message string) error {
	log.Printf("=== SMS to %s: %s", to, message)
	return nil
}

const verificationMailSubject = "Confirm your email"

var verificationMailText = texttemplate.Must(texttemplate.New("text").Parse(
	`{{if .Username}}Hello {{.Username}}{{else}}Dear user{{end}}

Thanks for signing up for {{.AppName}}. To use your account, you'll first need to confirm your email via the link below.
Copy the following link and paste it in your preferred browser.
{{.Link}}

Thanks,
{{.AppName}}
`))

var verificationMailHTML = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Confirm your email</title>
</head>
<body>
  <div style="font-family: sans-serif; border: 1px solid gray; padding: 15px; width: 75%; border-radius: 7px;">
    <h1 style="color: blue;">Confirm your email address</h1>
    <p>{{if .Username}}Hello {{.Username}}{{else}}Dear user{{end}}</p>
    <p>Thanks for signing up for {{.AppName}}. To use your account, you'll first need to confirm your email via the button below.</p>
    <a href="{{.Link}}" style="text-decoration: none; background-color: blue; color: white; padding: 10px; border-radius: 5px;">Confirm your email</a>
    <p>Thanks,</p>
    <p>{{.AppName}}</p>
  </div>
</body>
</html>
`))

type verificationMailData struct {
	AppName  string
	Username string
	Link     string
}

// renderVerificationMail returns the subject, text and html bodies for a verification email
func renderVerificationMail(appName, username, link string) (subject, text, html string, err error) {
	data := verificationMailData{AppName: appName, Username: username, Link: link}
	var tb, hb bytes.Buffer
	if err = verificationMailText.Execute(&tb, data); err != nil {
		return "", "", "", fmt.Errorf("failed to render mail text: %w", err)
	}
	if err = verificationMailHTML.Execute(&hb, data); err != nil {
		return "", "", "", fmt.Errorf("failed to render mail html: %w", err)
	}
	return verificationMailSubject, tb.String(), hb.String(), nil
}

// verificationSMS is the text carrying an OTP
func verificationSMS(appName, otp string) string {
	return fmt.Sprintf("Your activation code for %s is: %s", appName, otp)
}

// buildVerificationLink appends the token to the client's verification endpoint
func buildVerificationLink(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid verification base url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
