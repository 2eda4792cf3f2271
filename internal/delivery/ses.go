package delivery

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/mailroom/internal/domain"
	"github.com/ignite/mailroom/internal/pkg/logger"
)

// SESTransport sends through AWS SES using the SDK v2.
type SESTransport struct {
	client *sesv2.Client
}

// NewSESTransport creates an SES transport from static credentials. Returns
// ErrNotConfigured when credentials are absent.
func NewSESTransport(accessKey, secretKey, region string) (*SESTransport, error) {
	if accessKey == "" || secretKey == "" {
		return nil, ErrNotConfigured
	}
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, err
	}
	return &SESTransport{client: sesv2.NewFromConfig(cfg)}, nil
}

// Name implements Transport.
func (t *SESTransport) Name() string { return "ses" }

// Send implements Transport.
func (t *SESTransport) Send(ctx context.Context, msg *domain.Message) (SendResult, error) {
	if t.client == nil {
		return SendResult{}, ErrNotConfigured
	}

	dest := &types.Destination{}
	for _, a := range msg.To {
		dest.ToAddresses = append(dest.ToAddresses, a.Email)
	}
	for _, a := range msg.Cc {
		dest.CcAddresses = append(dest.CcAddresses, a.Email)
	}
	for _, a := range msg.Bcc {
		dest.BccAddresses = append(dest.BccAddresses, a.Email)
	}

	body := &types.Body{}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From.String()),
		Destination:      dest,
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
	if msg.ReplyTo != nil {
		input.ReplyToAddresses = []string{msg.ReplyTo.Email}
	}
	for k, v := range msg.Metadata {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name:  aws.String(k),
			Value: aws.String(v),
		})
	}

	out, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return SendResult{}, err
	}

	providerID := ""
	if out.MessageId != nil {
		providerID = *out.MessageId
	}
	logger.Debug("ses transmission accepted", "message_id", msg.ID, "provider_id", providerID)

	return SendResult{
		Transport:         t.Name(),
		ProviderMessageID: providerID,
		SentAt:            time.Now().UTC(),
	}, nil
}

// TestConnection verifies credentials by reading the account sending status.
func (t *SESTransport) TestConnection(ctx context.Context) error {
	if t.client == nil {
		return ErrNotConfigured
	}
	_, err := t.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	return err
}
