package integration

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/getdoover/digital-matter/core/logger"
	"github.com/getdoover/digital-matter/dm"
)

// sqsReceiver is the slice of the SQS client the worker needs.
type sqsReceiver interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSWorker drains an SQS queue of OEM deliveries. OEM servers that cannot
// call the webhook directly drop payloads onto the queue instead.
type SQSWorker struct {
	client      sqsReceiver
	queueURL    string
	integration *Integration
}

// NewSQSWorker returns a worker reading from the given queue.
func NewSQSWorker(client *sqs.Client, queueURL string, integration *Integration) *SQSWorker {
	return &SQSWorker{client: client, queueURL: queueURL, integration: integration}
}

// Run polls the queue until the context is cancelled. Successfully handled
// and malformed messages are deleted; transient failures leave the message
// for redelivery.
func (w *SQSWorker) Run(ctx context.Context) error {
	rlog := logger.FromContext(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		output, err := w.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(w.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rlog.WithError(err).Warn("cannot receive from queue")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}
		for _, message := range output.Messages {
			if message.Body == nil {
				w.delete(ctx, message.ReceiptHandle)
				continue
			}
			err := w.integration.HandleIngestion(ctx, []byte(*message.Body))
			if err != nil && !errors.Is(err, dm.ErrMalformedPayload) {
				rlog.WithError(err).Warn("cannot handle queued delivery, leaving for retry")
				continue
			}
			if err != nil {
				rlog.WithError(err).Warn("dropping malformed queued delivery")
			}
			w.delete(ctx, message.ReceiptHandle)
		}
	}
}

func (w *SQSWorker) delete(ctx context.Context, receiptHandle *string) {
	_, err := w.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("cannot delete queued message")
	}
}
