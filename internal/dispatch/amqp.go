package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const confirmBuffer = 64

type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPDispatcher publishes messages to a durable queue and waits for the
// broker's publisher confirm before reporting success. Delivery workers
// behind the queue talk to the actual email and sms providers.
type AMQPDispatcher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	pub      publisher
	confirms <-chan amqp.Confirmation
	queue    string
	log      *zap.Logger

	// mu orders publishes so delivery tags match the broker's sequence.
	mu      sync.Mutex
	nextTag uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan amqp.Confirmation
	closed    bool
}

func NewAMQPDispatcher(url, queue string, log *zap.Logger) (*AMQPDispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dispatch: connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("dispatch: open channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("dispatch: declare queue: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("dispatch: enable confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer))

	d := newAMQPDispatcher(ch, confirms, q.Name, log)
	d.conn, d.ch = conn, ch
	log.Info("🐇 AMQP dispatcher ready", zap.String("queue", q.Name))
	return d, nil
}

func newAMQPDispatcher(pub publisher, confirms <-chan amqp.Confirmation, queue string, log *zap.Logger) *AMQPDispatcher {
	d := &AMQPDispatcher{
		pub:      pub,
		confirms: confirms,
		queue:    queue,
		log:      log,
		nextTag:  1,
		pending:  make(map[uint64]chan amqp.Confirmation),
	}
	go d.drainConfirms()
	return d
}

// drainConfirms keeps the confirm channel empty so the connection's reader
// never blocks on it, handing each confirm to the Send waiting for its tag.
func (d *AMQPDispatcher) drainConfirms() {
	for c := range d.confirms {
		d.pendingMu.Lock()
		w, ok := d.pending[c.DeliveryTag]
		delete(d.pending, c.DeliveryTag)
		d.pendingMu.Unlock()
		if !ok {
			// the Send for this tag stopped waiting
			d.log.Debug("dropping confirm with no waiter", zap.Uint64("delivery_tag", c.DeliveryTag), zap.Bool("ack", c.Ack))
			continue
		}
		w <- c
	}

	d.pendingMu.Lock()
	d.closed = true
	for tag, w := range d.pending {
		close(w)
		delete(d.pending, tag)
	}
	d.pendingMu.Unlock()
}

func (d *AMQPDispatcher) forget(tag uint64) {
	d.pendingMu.Lock()
	delete(d.pending, tag)
	d.pendingMu.Unlock()
}

func (d *AMQPDispatcher) Send(ctx context.Context, msg Message) (Result, error) {
	if err := ValidateRecipient(msg.Channel, msg.Recipient); err != nil {
		return Result{Success: false, Detail: err.Error()}, nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: encode message: %w", err)
	}
	id := uuid.NewString()

	wait, tag, err := d.publish(amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now().UTC(),
		Type:         string(msg.Channel),
		Body:         body,
	})
	if err != nil {
		return Result{}, err
	}

	select {
	case <-ctx.Done():
		d.forget(tag)
		return Result{}, fmt.Errorf("dispatch: waiting for confirm: %w", ctx.Err())
	case c, ok := <-wait:
		if !ok {
			return Result{}, fmt.Errorf("dispatch: channel closed before confirm")
		}
		if !c.Ack {
			return Result{Success: false, Detail: "broker nacked message", MessageID: id}, nil
		}
		return Result{Success: true, Detail: fmt.Sprintf("%s queued on %s", msg.Channel, d.queue), MessageID: id}, nil
	}
}

// publish registers a waiter for the next delivery tag and sends the message.
// The tag only advances when the publish reaches the channel.
func (d *AMQPDispatcher) publish(p amqp.Publishing) (<-chan amqp.Confirmation, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tag := d.nextTag
	wait := make(chan amqp.Confirmation, 1)
	d.pendingMu.Lock()
	if d.closed {
		d.pendingMu.Unlock()
		return nil, 0, fmt.Errorf("dispatch: confirm channel closed")
	}
	d.pending[tag] = wait
	d.pendingMu.Unlock()

	if err := d.pub.Publish("", d.queue, false, false, p); err != nil {
		d.forget(tag)
		return nil, 0, fmt.Errorf("dispatch: publish: %w", err)
	}
	d.nextTag++
	return wait, tag, nil
}

func (d *AMQPDispatcher) Close() error {
	if d.ch != nil {
		d.ch.Close()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}
