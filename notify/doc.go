// Package notify holds production senders for verification messages:
// an SMTP Mailer built on go-mail and an SMSSender backed by Twilio.
//
//	mailer := notify.NewSMTPMailer(notify.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "no-reply@example.com"})
//	sms := notify.NewTwilioSender(notify.TwilioConfig{AccountSID: sid, AuthToken: token, From: "+15550000000"})
//	engine := userauth.NewVerificationEngine(users, verifications, nil, mailer, sms, cfg)
package notify
