package queue

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/yairfalse/valvo/telemetry"
	"github.com/yairfalse/valvo/types"
)

// SQSAPI is the narrow SQS surface the consumer needs
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Handler processes one raw message body
type Handler interface {
	Process(ctx context.Context, raw []byte) (*types.Result, error)
}

const (
	maxMessagesPerPoll = 10
	longPollSeconds    = 20
	errorBackoff       = 5 * time.Second
)

// Consumer long-polls an SQS queue and feeds each message through the
// handler. Successfully handled messages are deleted; failed ones are left
// on the queue so the visibility timeout returns them for redelivery.
type Consumer struct {
	client   SQSAPI
	queueURL string
	handler  Handler
	logger   *telemetry.Logger
}

// NewConsumer creates a consumer for one queue
func NewConsumer(client SQSAPI, queueURL string, handler Handler, logger *telemetry.Logger) *Consumer {
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		handler:  handler,
		logger:   logger,
	}
}

// Run polls until the context is cancelled. Receive errors back off and
// retry rather than terminating the loop.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: maxMessagesPerPoll,
			WaitTimeSeconds:     longPollSeconds,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			c.logger.WithContext(ctx).Error().Err(err).Msg("receive failed, backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(errorBackoff):
			}
			continue
		}

		for _, msg := range out.Messages {
			c.handleMessage(ctx, msg)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg sqstypes.Message) {
	result, err := c.handler.Process(ctx, []byte(aws.ToString(msg.Body)))
	if err != nil {
		// Left on the queue: the visibility timeout redelivers it
		c.logger.WithContext(ctx).Error().
			Err(err).
			Str("message_id", aws.ToString(msg.MessageId)).
			Msg("processing failed, message will be redelivered")
		return
	}

	c.logger.WithContext(ctx).Debug().
		Str("message_id", aws.ToString(msg.MessageId)).
		Str("status", result.Status).
		Str("rule", result.RuleName).
		Msg("message handled")

	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		c.logger.WithContext(ctx).Error().
			Err(err).
			Str("message_id", aws.ToString(msg.MessageId)).
			Msg("delete failed, expect a duplicate delivery")
	}
}
