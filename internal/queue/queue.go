package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/phone-notifier/internal/domain"
)

// ErrRejected marks a handler failure that retrying cannot fix; the message is
// dead-lettered instead of requeued.
var ErrRejected = errors.New("message rejected")

// Publisher publishes vendor callbacks to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg CallbackMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg CallbackMessage) error

// Consumer consumes callback messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

var supportedKinds = []domain.RecordKind{
	domain.KindCall,
	domain.KindSMS,
}

// QueueName returns the callback work queue of a record kind, e.g. callbacks.sms.
func QueueName(kind domain.RecordKind) string {
	return fmt.Sprintf("callbacks.%s", strings.ToLower(kind.String()))
}

// DLQName returns the dead-letter queue of a record kind, e.g. dlq.callbacks.sms.
func DLQName(kind domain.RecordKind) string {
	return fmt.Sprintf("dlq.%s", QueueName(kind))
}

func WorkQueueNames() []string {
	queues := make([]string, 0, len(supportedKinds))
	for _, kind := range supportedKinds {
		queues = append(queues, QueueName(kind))
	}
	return queues
}

func DLQNames() []string {
	queues := make([]string, 0, len(supportedKinds))
	for _, kind := range supportedKinds {
		queues = append(queues, DLQName(kind))
	}
	return queues
}
