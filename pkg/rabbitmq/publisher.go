package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Message is a single payload published to a queue.
type Message struct {
	Body          []byte
	MessageID     string
	CorrelationID string
	Type          string
}

// Publish sends msg to queue through the default exchange and waits for the
// broker to confirm it. The message is persistent and mandatory, so an
// unroutable message (for example a missing queue) is reported as ErrPublish
// instead of being dropped. Publishing is serialized across goroutines.
func (c *Client) Publish(ctx context.Context, queue string, msg Message) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if c.pubCh == nil || c.pubCh.IsClosed() {
		return fmt.Errorf("%w: channel closed", ErrPublish)
	}
	c.drainReturns()

	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}

	c.logger.Debug("Publishing message", "queue", queue, "message_id", msg.MessageID, "correlation_id", msg.CorrelationID)

	conf, err := c.pubCh.PublishConfirmed(ctx, "", queue, true, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.MessageID,
		CorrelationId: msg.CorrelationID,
		Type:          msg.Type,
		Timestamp:     time.Now().UTC(),
		Body:          msg.Body,
	})
	if err != nil {
		return fmt.Errorf("%w: queue %q: %w", ErrPublish, queue, err)
	}

	if conf != nil {
		acked, err := conf.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("%w: waiting for confirm on queue %q: %w", ErrPublish, queue, err)
		}
		if !acked {
			return fmt.Errorf("%w: queue %q: nacked by broker", ErrPublish, queue)
		}
	}

	// The broker sends basic.return before the confirm for an unroutable
	// mandatory message, so it is already buffered here if it happened.
	for {
		select {
		case ret, ok := <-c.returns:
			if !ok {
				return nil
			}
			if ret.MessageId == msg.MessageID {
				return fmt.Errorf("%w: queue %q: returned by broker: %d %s", ErrPublish, queue, ret.ReplyCode, ret.ReplyText)
			}
		default:
			return nil
		}
	}
}

func (c *Client) drainReturns() {
	for {
		select {
		case _, ok := <-c.returns:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
