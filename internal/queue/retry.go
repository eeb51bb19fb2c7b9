package queue

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/diligence/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	retriesHeader = "x-retries"
	MaxRetries    = 10
)

// ErrPermanent marks failures that no retry can fix, such as a malformed
// message or an unreadable critical-questions file.
var ErrPermanent = errors.New("permanent run failure")

// RetryCount reads the retry counter header.
func RetryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// HandleFailure routes a failed delivery: permanent failures and messages
// out of retries go to the dead-letter queue, everything else to the retry
// queue with an incremented counter. The delivery is acked once
// republished and requeued if republishing fails.
func HandleFailure(ctx context.Context, ch publisher, msg amqp091.Delivery, queueName string, cause error) {
	retries := RetryCount(msg.Headers)
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	target := RetryQueue(queueName)
	if errors.Is(cause, ErrPermanent) || retries >= MaxRetries {
		target = DeadLetterQueue(queueName)
	} else {
		headers[retriesHeader] = int32(retries + 1)
	}

	err := ch.PublishWithContext(ctx, "", target, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		logger.Error("[Queue] Failed to republish message", "queue", target, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	logger.Info("[Queue] Message rerouted", "queue", target, "retries", retries, "err", cause)
	_ = msg.Ack(false)
}
