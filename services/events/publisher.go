package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/tracing"
)

const (
	// Exchange / queue topology
	ExchangeMailsyncDirect = "mailsync-direct"
	QueueReceiveEmail      = "receive-email"
	RoutingKeyReceiveEmail = "mailsync-receive-email"

	DefaultPublishTimeout      = 5 * time.Second
	DefaultReconnectBackoff    = time.Second
	DefaultMaxReconnectBackoff = 30 * time.Second
)

type PublisherConfig struct {
	PublishTimeout      time.Duration
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
}

// RabbitMQPublisher publishes sync events with publisher confirms and
// lazy reconnection.
type RabbitMQPublisher struct {
	url    string
	logger logger.Logger
	config PublisherConfig

	connectionMutex sync.Mutex
	connection      *amqp091.Connection
	publishChannel  *amqp091.Channel
}

func NewRabbitMQPublisher(rabbitmqURL string, log logger.Logger, config *PublisherConfig) (*RabbitMQPublisher, error) {
	if config == nil {
		config = &PublisherConfig{
			PublishTimeout:      DefaultPublishTimeout,
			ReconnectBackoff:    DefaultReconnectBackoff,
			MaxReconnectBackoff: DefaultMaxReconnectBackoff,
		}
	}

	publisher := &RabbitMQPublisher{
		url:    rabbitmqURL,
		logger: log,
		config: *config,
	}

	if err := publisher.connect(); err != nil {
		return nil, err
	}

	return publisher, nil
}

func (p *RabbitMQPublisher) connect() error {
	p.connectionMutex.Lock()
	defer p.connectionMutex.Unlock()

	conn, err := amqp091.Dial(p.url)
	if err != nil {
		return errors.Wrap(err, "failed to connect to RabbitMQ")
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to open publish channel")
	}

	if err := channel.Confirm(false); err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to enable publisher confirms")
	}

	err = channel.ExchangeDeclare(ExchangeMailsyncDirect, "direct", true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to declare exchange")
	}

	_, err = channel.QueueDeclare(QueueReceiveEmail, true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to declare queue")
	}

	err = channel.QueueBind(QueueReceiveEmail, RoutingKeyReceiveEmail, ExchangeMailsyncDirect, false, nil)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to bind queue")
	}

	p.connection = conn
	p.publishChannel = channel
	return nil
}

func (p *RabbitMQPublisher) ensureConnected() error {
	p.connectionMutex.Lock()
	healthy := p.connection != nil && !p.connection.IsClosed()
	p.connectionMutex.Unlock()

	if healthy {
		return nil
	}
	return p.connect()
}

// Publish sends a JSON payload with the given routing key, waiting for
// the broker's confirm.
func (p *RabbitMQPublisher) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQPublisher.Publish")
	defer span.Finish()
	span.SetTag("routing_key", routingKey)

	if err := p.ensureConnected(); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to marshal event payload")
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	p.connectionMutex.Lock()
	defer p.connectionMutex.Unlock()

	confirm, err := p.publishChannel.PublishWithDeferredConfirmWithContext(
		publishCtx,
		ExchangeMailsyncDirect,
		routingKey,
		true,  // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		})
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to publish event")
	}

	acked, err := confirm.WaitContext(publishCtx)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "timed out waiting for publish confirm")
	}
	if !acked {
		err = errors.New("broker nacked publish")
		tracing.TraceErr(span, err)
		return err
	}

	return nil
}

func (p *RabbitMQPublisher) Close() {
	p.connectionMutex.Lock()
	defer p.connectionMutex.Unlock()

	if p.publishChannel != nil {
		_ = p.publishChannel.Close()
	}
	if p.connection != nil {
		_ = p.connection.Close()
	}
}
