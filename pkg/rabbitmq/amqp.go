package rabbitmq

import (
	"context"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// connection is the subset of *amqp.Connection used by Client.
type connection interface {
	Channel() (channel, error)
	Close() error
	IsClosed() bool
}

// channel is the subset of *amqp.Channel used by Client.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Confirm(noWait bool) error
	NotifyReturn(c chan amqp.Return) chan amqp.Return
	PublishConfirmed(ctx context.Context, exchange, key string, mandatory bool, msg amqp.Publishing) (confirmation, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
	IsClosed() bool
}

// confirmation resolves once the broker acks or nacks a published message.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type dialFunc func(ctx context.Context, url string, timeout time.Duration) (connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return amqpChannel{ch}, nil
}

type amqpChannel struct {
	*amqp.Channel
}

func (c amqpChannel) PublishConfirmed(ctx context.Context, exchange, key string, mandatory bool, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		// channel is not in confirm mode
		return nil, nil
	}
	return dc, nil
}

// dialAMQP connects with a dial and handshake deadline of timeout, honoring
// ctx for the TCP dial.
func dialAMQP(ctx context.Context, url string, timeout time.Duration) (connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "userservice"},
		Dial: func(network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: timeout}
			nc, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// amqp091 clears the deadline once the handshake completes.
			if err := nc.SetDeadline(time.Now().Add(timeout)); err != nil {
				_ = nc.Close()
				return nil, err
			}
			return nc, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}
