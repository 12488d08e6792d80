package compensation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"
)

// Sink receives compensation events from a Dispatcher.
type Sink interface {
	Send(ctx context.Context, event Event) error
	Name() string
}

// DefaultStream is the Redis stream compensation events are appended to.
const DefaultStream = "ledger:compensations"

// RedisStream appends events to a Redis stream with XADD so a separate
// consumer can reverse the master credit.
type RedisStream struct {
	client rueidis.Client
	stream string
}

// NewRedisStream creates a sink writing to stream.
func NewRedisStream(client rueidis.Client, stream string) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStream{client: client, stream: stream}
}

func (r *RedisStream) Send(ctx context.Context, event Event) error {
	cmd := r.client.B().Xadd().Key(r.stream).Id("*").FieldValue().
		FieldValue("transfer_id", event.TransferID.String()).
		FieldValue("account_number", strconv.FormatInt(event.AccountNumber, 10)).
		FieldValue("master_account_number", strconv.FormatInt(event.MasterAccountNumber, 10)).
		FieldValue("amount", event.Amount.String()).
		FieldValue("reason", event.Reason).
		FieldValue("occurred_at", event.OccurredAt.UTC().Format(time.RFC3339Nano)).
		Build()

	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis xadd %s: %w", r.stream, err)
	}
	return nil
}

func (r *RedisStream) Name() string {
	return "redis-stream"
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Send(ctx context.Context, event Event) error {
	return f(ctx, event)
}

func (f SinkFunc) Name() string {
	return "func"
}
