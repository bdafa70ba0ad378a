package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rabbitmq/amqp091-go"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

// AMQPDispatcher publishes reminders as persistent JSON messages on a durable
// queue for a downstream mailer to deliver. A send succeeds only once the
// broker confirms the publish.
type AMQPDispatcher struct {
	conn  *amqp091.Connection
	mu    sync.Mutex
	ch    *amqp091.Channel
	queue string
}

func NewAMQPDispatcher(url, queue string) (*AMQPDispatcher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &AMQPDispatcher{conn: conn, ch: ch, queue: queue}, nil
}

func (d *AMQPDispatcher) Send(ctx context.Context, m Message) error {
	if m.To == "" {
		return ErrNoRecipient
	}
	body, err := json.Marshal(m)
	if err != nil {
		return apperr.Dispatch(err)
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		MessageId:    m.AppointmentID.String(),
		Headers: amqp091.Table{
			"message_type": "appointment.reminder",
		},
	}

	d.mu.Lock()
	confirm, err := d.ch.PublishWithDeferredConfirmWithContext(ctx, "", d.queue, false, false, msg)
	d.mu.Unlock()
	if err != nil {
		return apperr.Dispatch(fmt.Errorf("publish: %w", err))
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return apperr.Dispatch(fmt.Errorf("await confirm: %w", err))
	}
	if !acked {
		return apperr.Dispatch(errors.New("broker nacked reminder"))
	}
	return nil
}

// Ping reports whether the connection is still open.
func (d *AMQPDispatcher) Ping() error {
	if d.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

func (d *AMQPDispatcher) Close() error {
	return d.conn.Close()
}
