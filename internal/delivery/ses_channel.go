package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
)

const defaultSubject = "Reminder"

// SESAPI is the subset of the SES v2 client used by SESChannel.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Error codes after which resending the same email cannot succeed.
var permanentSESCodes = map[string]struct{}{
	"MessageRejected":                   {},
	"MailFromDomainNotVerifiedException": {},
	"AccountSuspendedException":         {},
	"SendingPausedException":            {},
	"NotFoundException":                 {},
	"BadRequestException":               {},
}

// SESChannel sends notifications as plain-text email through Amazon SES.
type SESChannel struct {
	client  SESAPI
	sender  string
	subject string
}

// NewSESChannel creates an SES channel sending from sender.
func NewSESChannel(client SESAPI, sender string) *SESChannel {
	return &SESChannel{client: client, sender: sender, subject: defaultSubject}
}

// Send emails message to recipient.
func (c *SESChannel) Send(ctx context.Context, recipient, message string) (*Result, error) {
	if recipient == "" {
		return nil, Permanent(errors.New("recipient is empty"))
	}

	out, err := c.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(c.sender),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(c.subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(message)},
				},
			},
		},
	})
	if err != nil {
		return nil, classifySESError(err)
	}

	return &Result{MessageID: aws.ToString(out.MessageId)}, nil
}

func classifySESError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := permanentSESCodes[apiErr.ErrorCode()]; ok {
			return Permanent(fmt.Errorf("ses: %w", err))
		}
	}

	return Transient(fmt.Errorf("ses: %w", err))
}
