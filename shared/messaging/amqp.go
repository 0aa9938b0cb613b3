package messaging

import (
	"github.com/streadway/amqp"
)

// amqpConnection and amqpChannel are the parts of the streadway client the
// broker uses; tests substitute fakes.
type amqpConnection interface {
	Channel() (amqpChannel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Cancel(consumer string, noWait bool) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type dialFunc func(url string) (amqpConnection, error)

type streadwayConnection struct {
	*amqp.Connection
}

func (c streadwayConnection) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return streadwayConnection{conn}, nil
}

func closeReason(err *amqp.Error) string {
	if err == nil {
		return "closed"
	}
	return err.Error()
}
