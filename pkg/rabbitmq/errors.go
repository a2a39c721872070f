package rabbitmq

import "errors"

var (
	// ErrConnection reports that the broker could not be reached or rejected
	// the handshake, or that a channel could not be opened.
	ErrConnection = errors.New("rabbitmq: connection failed")

	// ErrQueueConfig reports that a queue already exists with properties that
	// differ from the ones being declared.
	ErrQueueConfig = errors.New("rabbitmq: incompatible queue configuration")

	// ErrPublish reports that a message was not accepted by the broker.
	ErrPublish = errors.New("rabbitmq: publish failed")

	// ErrConnectionLost ends a subscription whose channel was closed by the
	// broker or by a dropped connection.
	ErrConnectionLost = errors.New("rabbitmq: connection lost")

	// ErrAlreadySettled is returned when a delivery is acked or rejected twice.
	ErrAlreadySettled = errors.New("rabbitmq: delivery already settled")

	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("rabbitmq: client closed")
)
