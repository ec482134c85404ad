package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrUnknownReceipt = errors.New("queue: unknown or expired receipt")
	ErrClosed         = errors.New("queue: channel closed")
	ErrUnknownDriver  = errors.New("queue: unknown driver")
)

// Message is what producers hand to Enqueue.
//
// Envelopes sharing a PartitionKey are delivered in enqueue order across all consumers.
// A DedupKey seen within the dedup window is accepted but not delivered again.
type Message struct {
	PartitionKey string
	DedupKey     string
	Body         []byte
	Attempt      int
}

// Envelope is a received Message plus the receipt needed to Ack it.
type Envelope struct {
	Message
	Receipt    string
	ReceivedAt time.Time
}

// Channel is an ordered, deduplicated, at-least-once delivery channel partitioned by key.
//
// While a partition has an in-flight envelope (received, not acked, visibility not
// expired) no later envelope of that partition is delivered. Receive does not block
// longer than the driver's poll wait and returns an empty slice when nothing is ready.
type Channel interface {
	Enqueue(ctx context.Context, m Message) error
	Receive(ctx context.Context, max int) ([]Envelope, error)
	Ack(ctx context.Context, e Envelope) error
	Close() error
}

// Config selects and configures a channel driver.
//
// Driver values:
//   - "memory": in-process (single binary, tests)
//   - "sqlite": SQLite database file shared by processes on one host
//   - "redis": Redis lists + Lua scripts
//   - "sqs": AWS SQS FIFO queue
type Config struct {
	Driver string

	// Visibility is how long a received envelope blocks its partition before redelivery.
	Visibility time.Duration
	// DedupWindow bounds how long a DedupKey suppresses duplicates.
	DedupWindow time.Duration

	// sqlite
	Path        string
	BusyTimeout time.Duration

	Redis RedisConfig
	SQS   SQSConfig
}

type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string

	// Client overrides Addr/Username/Password/DB. The caller owns its lifecycle.
	Client redis.Cmdable
}

type SQSConfig struct {
	QueueURL string
	// WaitTime enables long polling (0..20s).
	WaitTime time.Duration
	Client   SQSAPI
}

const (
	defaultVisibility  = 30 * time.Second
	defaultDedupWindow = 5 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.Visibility <= 0 {
		c.Visibility = defaultVisibility
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = defaultDedupWindow
	}
	return c
}
