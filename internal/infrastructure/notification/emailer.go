// Package notification sends order e-mails through Amazon SES or, locally,
// to the log.
package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/order"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// SESAPI is the subset of the SES v2 client used.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESEmailer sends plain-text mail from a verified identity.
type SESEmailer struct {
	client SESAPI
	from   string
}

func NewSESEmailer(client SESAPI, from string) *SESEmailer {
	return &SESEmailer{client: client, from: from}
}

func (e *SESEmailer) Send(ctx context.Context, email order.Email) error {
	if email.To == "" {
		return shared.ErrValidation.Withf("recipient is required")
	}
	_, err := e.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(e.from),
		Destination:      &types.Destination{ToAddresses: []string{email.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(email.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(email.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err == nil {
		return nil
	}

	var rejected *types.MessageRejected
	if errors.As(err, &rejected) {
		return shared.ErrValidation.Wrap(err)
	}
	var throttled *types.TooManyRequestsException
	var limit *types.LimitExceededException
	if errors.As(err, &throttled) || errors.As(err, &limit) {
		return shared.ErrTransientStore.Wrap(fmt.Errorf("send email: %w", err))
	}
	return fmt.Errorf("send email to %s: %w", email.To, err)
}

// LogEmailer writes mail to the log instead of sending it.
type LogEmailer struct {
	log *zap.Logger
}

func NewLogEmailer(log *zap.Logger) *LogEmailer {
	return &LogEmailer{log: log}
}

func (e *LogEmailer) Send(_ context.Context, email order.Email) error {
	e.log.Info("email",
		zap.String("subject", email.Subject),
		zap.Int("body_bytes", len(email.Body)),
	)
	return nil
}

var (
	_ order.Emailer = (*SESEmailer)(nil)
	_ order.Emailer = (*LogEmailer)(nil)
)
