package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/diligence/internal/util"

	"github.com/rabbitmq/amqp091-go"
)

// RunQueue carries run requests from the API to the workers.
const RunQueue = "run_queue"

const retryDelay = 10 * time.Second

// Dial connects using the RABBITMQ_* environment.
func Dial() (*amqp091.Connection, error) {
	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		util.GetEnv("RABBITMQ_USER"),
		util.GetEnv("RABBITMQ_PASSWORD"),
		util.GetEnvString("RABBITMQ_HOST", "localhost"),
		util.GetEnvString("RABBITMQ_PORT", "5672"),
	)
	conn, err := amqp091.Dial(connURL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	return conn, nil
}

type declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
}

// SetupQueues declares each work queue with its dead-letter queue and a
// retry queue whose messages flow back to the work queue after retryDelay.
func SetupQueues(ch declarer, names ...string) error {
	for _, name := range names {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}
		if _, err := ch.QueueDeclare(DeadLetterQueue(name), true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", DeadLetterQueue(name), err)
		}
		_, err := ch.QueueDeclare(RetryQueue(name), true, false, false, false, amqp091.Table{
			"x-message-ttl":             int32(retryDelay / time.Millisecond),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": name,
		})
		if err != nil {
			return fmt.Errorf("declare %s: %w", RetryQueue(name), err)
		}
	}
	return nil
}

func RetryQueue(name string) string      { return name + "_retry" }
func DeadLetterQueue(name string) string { return name + "_dlq" }

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Publish sends a persistent JSON message to queue on the default exchange.
func Publish(ctx context.Context, ch publisher, queue string, body []byte) error {
	return ch.PublishWithContext(ctx, "", queue, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}
