package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPRelay fans events out through a RabbitMQ fanout exchange. Each node binds
// its own exclusive, auto-deleted queue so every node sees every event.
type AMQPRelay struct {
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	subCh    *amqp.Channel
	exchange string
	queue    string
	mu       sync.Mutex
}

func DialAMQPRelay(url, exchange string) (*AMQPRelay, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	subCh, err := conn.Channel()
	if err != nil {
		pubCh.Close()
		conn.Close()
		return nil, err
	}

	relay := &AMQPRelay{conn: conn, pubCh: pubCh, subCh: subCh, exchange: exchange}
	if err := relay.declare(); err != nil {
		relay.Close()
		return nil, err
	}
	return relay, nil
}

func (r *AMQPRelay) declare() error {
	if err := r.pubCh.ExchangeDeclare(r.exchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := r.subCh.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := r.subCh.QueueBind(q.Name, "", r.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	r.queue = q.Name
	return nil
}

func (r *AMQPRelay) Publish(ctx context.Context, ev Event) error {
	body, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubCh.PublishWithContext(ctx, r.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Type:        string(ev.Kind),
		AppId:       ev.Origin,
		Body:        body,
	})
}

func (r *AMQPRelay) Consume(ctx context.Context, handle func(Event)) error {
	deliveries, err := r.subCh.Consume(r.queue, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", r.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp relay: delivery channel closed")
			}
			if ev, ok := decodeEvent(d.Body); ok {
				handle(ev)
			}
		}
	}
}

func (r *AMQPRelay) Close() error {
	if r.subCh != nil {
		_ = r.subCh.Close()
	}
	if r.pubCh != nil {
		_ = r.pubCh.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
