package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// Publisher delivers canonical events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, aggregate, correlationID string, evt CanonicalEvent) (Envelope, error)
}

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher writes envelopes to an SQS queue.
type SQSPublisher struct {
	client   sqsSender
	queueURL string
	logger   *logging.Logger
}

// NewSQSPublisher creates a publisher around the provided SQS client.
func NewSQSPublisher(client *sqs.Client, queueURL string, logger *logging.Logger) *SQSPublisher {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	return newSQSPublisher(client, queueURL, logger)
}

func newSQSPublisher(client sqsSender, queueURL string, logger *logging.Logger) *SQSPublisher {
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SQSPublisher{client: client, queueURL: queueURL, logger: logger}
}

// Publish wraps evt in an envelope and sends it.
func (p *SQSPublisher) Publish(ctx context.Context, aggregate, correlationID string, evt CanonicalEvent) (Envelope, error) {
	env, err := NewEnvelope(aggregate, correlationID, evt)
	if err != nil {
		return Envelope{}, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	if err := p.send(ctx, env.EventType, body); err != nil {
		return Envelope{}, err
	}
	p.logger.Debug("event published", "event_type", env.EventType, "event_id", env.EventID.String(), "aggregate", env.Aggregate)
	return env, nil
}

// Handle relays an outbox entry, so the publisher can back a Deliverer.
func (p *SQSPublisher) Handle(ctx context.Context, entry OutboxEntry) error {
	return p.send(ctx, entry.Type, entry.Envelope)
}

func (p *SQSPublisher) send(ctx context.Context, eventType string, body []byte) error {
	_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(eventType)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: failed to send SQS message: %w", err)
	}
	return nil
}

// NopPublisher builds envelopes and drops them. Used when no queue is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(_ context.Context, aggregate, correlationID string, evt CanonicalEvent) (Envelope, error) {
	return NewEnvelope(aggregate, correlationID, evt)
}
