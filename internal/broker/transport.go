package broker

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/ngqkhai/script-generator/internal/config"
)

// Transport is the publisher/subscriber pair the gateway consumes and
// publishes through, plus the teardown for the underlying connection.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	Close      func() error
}

// TransportFactory builds a Transport. The default is AMQP; tests inject an
// in-memory one.
type TransportFactory func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

// AMQPTransport connects to RabbitMQ with durable topic pub/sub semantics:
// durable exchanges and queues, persistent delivery mode, idempotent topology
// declaration.
func AMQPTransport(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	amqpConfig := amqp.NewDurablePubSubConfig(
		conf.RabbitMQURL,
		amqp.GenerateQueueNameTopicName,
	)

	conn, err := amqp.NewConnection(amqp.ConnectionConfig{
		AmqpURI:   conf.RabbitMQURL,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return Transport{}, err
	}

	publisher, err := amqp.NewPublisherWithConnection(amqpConfig, logger, conn)
	if err != nil {
		_ = conn.Close()
		return Transport{}, err
	}

	subscriber, err := amqp.NewSubscriberWithConnection(amqpConfig, logger, conn)
	if err != nil {
		_ = conn.Close()
		return Transport{}, err
	}

	return Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
		Close:      conn.Close,
	}, nil
}
