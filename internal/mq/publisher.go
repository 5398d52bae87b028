package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	mu         sync.Mutex
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher. A nil connection yields a
// nil publisher, whose methods are no-ops.
func NewPublisher(conn *Connection, exchange, routingKey string, logger *zap.Logger) (*Publisher, error) {
	if conn == nil {
		return nil, nil
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

// SampleAcceptedEvent is published after a sample is newly stored
type SampleAcceptedEvent struct {
	EventID       string `json:"event_id"`
	Kind          string `json:"kind"`
	ApplianceName string `json:"appliance_name"`
	LocalTime     string `json:"local_time"`
	ReceivedAt    string `json:"received_at"`
}

// PublishSampleAccepted publishes an accepted-sample event. The routing key
// is the configured key suffixed with the sample kind.
func (p *Publisher) PublishSampleAccepted(ctx context.Context, event SampleAcceptedEvent) error {
	if p == nil {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	routingKey := p.routingKey + "." + event.Kind

	p.mu.Lock()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    event.EventID,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	p.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published sample accepted event",
		zap.String("routing_key", routingKey),
		zap.String("appliance_name", event.ApplianceName),
		zap.String("local_time", event.LocalTime),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p == nil || p.channel == nil {
		return nil
	}
	return p.channel.Close()
}
