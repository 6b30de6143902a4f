package notify

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/panyam/userauth"
)

// TwilioConfig holds the account credentials and sending number
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
}

// messageCreator is the slice of the Twilio REST API the sender needs
type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioSender delivers SMS through the Twilio Messages API
type TwilioSender struct {
	From string
	api  messageCreator
}

func NewTwilioSender(config TwilioConfig) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: config.AccountSID,
		Password: config.AuthToken,
	})
	return &TwilioSender{From: config.From, api: client.Api}
}

func (s *TwilioSender) Send(ctx context.Context, to, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.From)
	params.SetBody(message)

	if _, err := s.api.CreateMessage(params); err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	return nil
}

var _ userauth.SMSSender = (*TwilioSender)(nil)
