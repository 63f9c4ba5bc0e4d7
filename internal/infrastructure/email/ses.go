package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"PlumFinder/internal/config"
	"PlumFinder/internal/domain"
	"PlumFinder/internal/ports"
)

const channel = "email"

// ErrNoRecipients is returned when the digest has nowhere to go.
var ErrNoRecipients = errors.New("email: no recipients configured")

// SESAPI is the subset of the SES client used for delivery.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// NewSESClient loads the default AWS chain for the region. Static keys from
// configuration take precedence when both are set.
func NewSESClient(ctx context.Context, cfg config.EmailConfig) (*ses.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return ses.NewFromConfig(awsCfg), nil
}

// Deliverer sends the ranked digest through Amazon SES.
type Deliverer struct {
	client     SESAPI
	sender     string
	recipients []string
	now        func() time.Time
	logger     *zap.Logger
}

var _ ports.Deliverer = (*Deliverer)(nil)

// NewDeliverer wires an SES client with sender and recipients.
func NewDeliverer(client SESAPI, sender string, recipients []string, logger *zap.Logger) *Deliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deliverer{
		client:     client,
		sender:     sender,
		recipients: recipients,
		now:        time.Now,
		logger:     logger.Named("email"),
	}
}

// Channel implements ports.Deliverer.
func (d *Deliverer) Channel() string { return channel }

// Deliver renders and sends one digest to all recipients. The receipt is
// accepted only when SES returns a message id.
func (d *Deliverer) Deliver(ctx context.Context, items []domain.DeliveryItem) (domain.DeliveryReceipt, error) {
	receipt := domain.DeliveryReceipt{Channel: channel}
	if len(d.recipients) == 0 {
		return receipt, ErrNoRecipients
	}

	digest, err := Render(items, d.now())
	if err != nil {
		return receipt, err
	}

	out, err := d.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(d.sender),
		Destination: &types.Destination{ToAddresses: d.recipients},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(digest.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(digest.HTML), Charset: aws.String("UTF-8")},
				Text: &types.Content{Data: aws.String(digest.Text), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return receipt, fmt.Errorf("ses send email: %w", err)
	}

	receipt.MessageID = aws.ToString(out.MessageId)
	receipt.Accepted = receipt.MessageID != ""
	d.logger.Info("digest sent",
		zap.String("message_id", receipt.MessageID),
		zap.Int("items", len(items)),
		zap.Int("recipients", len(d.recipients)))
	return receipt, nil
}
