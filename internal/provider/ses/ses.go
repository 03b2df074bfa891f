// Package ses implements a Provider that sends notification mail via AWS SES v2.
package ses

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/comment-notifier/internal/email"
)

// Config holds the configuration for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Provider sends mail via the AWS SES v2 API.
type Provider struct {
	client SendEmailAPI
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a Provider. Static credentials are used when both keys are
// set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Provider{client: sesv2.NewFromConfig(awsCfg)}, nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(client SendEmailAPI) *Provider {
	return &Provider{client: client}
}

// Send delivers e as a simple UTF-8 HTML message in one API call. The SDK's
// own retryer is the only retry.
func (p *Provider) Send(ctx context.Context, e *email.Email) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("ses: %w", err)
	}

	out, err := p.client.SendEmail(ctx, buildInput(e))
	if err != nil {
		slog.Warn("SES API error", "to", e.Envelope.ToAddress, "error", err)
		return fmt.Errorf("SES API request failed: %w", err)
	}

	if out != nil && out.MessageId != nil {
		e.MessageID = *out.MessageId
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ses"
}

// buildInput creates the SendEmail request. Display names are encoded by
// net/mail when they are not plain ASCII.
func buildInput(e *email.Email) *sesv2.SendEmailInput {
	from := (&mail.Address{Name: e.Envelope.FromName, Address: e.Envelope.FromAddress}).String()
	to := (&mail.Address{Name: e.Envelope.ToName, Address: e.Envelope.ToAddress}).String()

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(e.Message.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(e.Message.Body),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}
}
