package messaging

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/FaydArshan94/Prodexa-sub000/shared/config"
)

// NewMessageBroker creates the broker selected by cfg.MessageBroker.
// Supported values: "rabbitmq", "kafka" and "memory".
func NewMessageBroker(cfg *config.Config, logger *log.Logger) (MessageBroker, error) {
	opts := Options{
		Logger: logger,
		Retry: RetryPolicy{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			BaseDelay:   cfg.ReconnectBaseDelay,
		},
		RedeliveryLimit: cfg.RedeliveryLimit,
	}

	switch cfg.MessageBroker {
	case config.BrokerRabbitMQ:
		return NewRabbitMQBroker(cfg.RabbitMQURL, opts)
	case config.BrokerKafka:
		return NewKafkaBroker(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, opts)
	case config.BrokerMemory:
		return NewInMemoryBroker(opts), nil
	default:
		return nil, fmt.Errorf("unsupported message broker: %s (supported: rabbitmq, kafka, memory)", cfg.MessageBroker)
	}
}
