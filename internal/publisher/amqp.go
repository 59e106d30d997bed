package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/logger"
)

const defaultExchange = "traffic-safety"

// AMQPConfig configures the RabbitMQ publisher.
type AMQPConfig struct {
	URL      string `env:"AMQP_URL"      yaml:"url"`
	Exchange string `env:"AMQP_EXCHANGE" yaml:"exchange"`
}

// amqpChannel is the part of *amqp.Channel the publisher needs.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes each record to a durable topic exchange using the
// stream name as routing key.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
	log      logger.Logger
	now      func() time.Time
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(cfg AMQPConfig, log logger.Logger) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	p, err := newAMQPPublisher(ch, cfg.Exchange, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, exchange string, log logger.Logger) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = defaultExchange
	}
	if log == nil {
		log = logger.NewNop()
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{ch: ch, exchange: exchange, log: log, now: time.Now}, nil
}

// Publish sends the JSON record as a persistent message.
func (p *AMQPPublisher) Publish(ctx context.Context, stream string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &PublishError{Stream: stream, Err: fmt.Errorf("marshal record: %w", err)}
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    p.now().UTC(),
		Body:         body,
	}
	if err = p.ch.PublishWithContext(ctx, p.exchange, stream, false, false, msg); err != nil {
		p.log.Error("Failed to publish record",
			logger.Stream(stream),
			logger.String("exchange", p.exchange),
			logger.Error(err),
		)
		return &PublishError{Stream: stream, Err: err}
	}
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
