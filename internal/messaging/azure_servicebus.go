package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/fulfillment/config"
)

// EventPublisher publishes order and shipment lifecycle events for
// downstream consumers. Publishing is best-effort; a failed publish never
// rolls back the state change that triggered it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, body interface{}) error
	Close() error
}

// serviceBusPublisher implements EventPublisher over Azure Service Bus
type serviceBusPublisher struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
	source    string
}

// Event types published to the queue
const (
	EventOrderSynced       = "order.synced"
	EventShipmentLabeled   = "shipment.label_created"
	EventShipmentShipped   = "shipment.shipped"
	EventShipmentDelivered = "shipment.delivered"
	EventSyncCompleted     = "sync.completed"
)

// NewServiceBusPublisher creates a new Azure Service Bus publisher
func NewServiceBusPublisher(cfg config.AzureConfig, source string) (EventPublisher, error) {
	if cfg.QueueConnStr == "" {
		return nil, fmt.Errorf("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus sender: %w", err)
	}

	return &serviceBusPublisher{
		client:    client,
		sender:    sender,
		queueName: cfg.QueueName,
		source:    source,
	}, nil
}

// PublishEvent sends a typed event to the queue
func (s *serviceBusPublisher) PublishEvent(ctx context.Context, eventType string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal event body: %w", err)
	}

	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"event_type": eventType,
			"source":     s.source,
			"time":       time.Now().UTC().Format(time.RFC3339),
		},
	}

	return s.sender.SendMessage(ctx, msg, nil)
}

// Close closes the Service Bus sender and client
func (s *serviceBusPublisher) Close() error {
	if s.sender != nil {
		if err := s.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if s.client != nil {
		return s.client.Close(context.Background())
	}
	return nil
}

// noopPublisher drops all events. Used when Service Bus is not configured.
type noopPublisher struct{}

// NewNoopPublisher returns a publisher that discards every event
func NewNoopPublisher() EventPublisher {
	return &noopPublisher{}
}

func (n *noopPublisher) PublishEvent(_ context.Context, eventType string, _ interface{}) error {
	log.Debug().Str("event_type", eventType).Msg("Service Bus not configured, dropping event")
	return nil
}

func (n *noopPublisher) Close() error {
	return nil
}
