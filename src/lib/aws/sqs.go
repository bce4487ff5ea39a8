package aws

import (
	"context"
	"esm/src/lib"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type SQSAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// MessageHandler processes one message body. A nil error acknowledges the
// message; anything else leaves it for redelivery.
type MessageHandler func(ctx context.Context, body string) error

type SQSConsumer struct {
	Name    string
	client  SQSAPI
	handler MessageHandler
	// WaitTime is the long-poll duration per receive call.
	WaitTime int32
	// ErrorBackoff is the pause after a failed receive call.
	ErrorBackoff time.Duration
}

func NewSQSConsumer(client SQSAPI, queue string, handler MessageHandler) *SQSConsumer {
	return &SQSConsumer{
		Name:         queue,
		client:       client,
		handler:      handler,
		WaitTime:     20,
		ErrorBackoff: 5 * time.Second,
	}
}

// Listen polls until ctx is cancelled.
func (s *SQSConsumer) Listen(ctx context.Context) error {
	log := lib.WithComponent("sqs").With().Str("queue", s.Name).Logger()
	qurl, err := s.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(s.Name),
	})
	if err != nil {
		return err
	}
	log.Info().Msg("listening for messages")
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := s.Poll(ctx, qurl.QueueUrl)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("error receiving messages")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.ErrorBackoff):
			}
			continue
		}
		log.Debug().Int("count", n).Msg("batch processed")
	}
}

// Poll receives a single batch and returns how many messages were acknowledged.
func (s *SQSConsumer) Poll(ctx context.Context, qurl *string) (int, error) {
	log := lib.WithComponent("sqs").With().Str("queue", s.Name).Logger()
	output, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            qurl,
		WaitTimeSeconds:     s.WaitTime,
		MaxNumberOfMessages: 10,
	})
	if err != nil {
		return 0, err
	}
	acked := 0
	for _, m := range output.Messages {
		if err := s.handler(ctx, aws.ToString(m.Body)); err != nil {
			log.Warn().Err(err).Str("message_id", aws.ToString(m.MessageId)).Msg("message not processed, leaving for redelivery")
			continue
		}
		if err := s.deleteMessage(ctx, qurl, m); err != nil {
			log.Error().Err(err).Str("message_id", aws.ToString(m.MessageId)).Msg("error deleting message from queue")
			continue
		}
		acked++
	}
	return acked, nil
}

func (s *SQSConsumer) deleteMessage(ctx context.Context, qurl *string, msg sqstypes.Message) error {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      qurl,
		ReceiptHandle: msg.ReceiptHandle,
	})
	return err
}
