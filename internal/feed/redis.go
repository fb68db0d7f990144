package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultChannelPrefix namespaces the Redis channels events are published on.
const DefaultChannelPrefix = "conciliador:jobs:"

// RedisPublisher publishes every event as JSON on "<prefix><job id>".
// Failures are logged and swallowed; the job never waits on Redis.
type RedisPublisher struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewRedisPublisher wraps client.
func NewRedisPublisher(client redis.UniversalClient, prefix string, log logrus.FieldLogger) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisPublisher{client: client, prefix: prefix, timeout: 2 * time.Second, log: log}
}

// Connect opens a client from a redis:// URL and pings it.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Channel returns the channel events of jobID are published on.
func (p *RedisPublisher) Channel(jobID string) string {
	return p.prefix + jobID
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.WithError(err).Error("failed to encode feed event")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.Channel(ev.JobID), payload).Err(); err != nil {
		p.log.WithError(err).WithField("job_id", ev.JobID).Warn("failed to publish feed event")
	}
}

// Open implements Source, so a stream sees the events of every process
// publishing to the same Redis.
func (p *RedisPublisher) Open(ctx context.Context, jobID string) (<-chan Event, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	ch, err := p.Subscribe(ctx, jobID)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return ch, cancel, nil
}

// Subscribe relays events of jobID published by any process onto a channel
// until ctx is done.
func (p *RedisPublisher) Subscribe(ctx context.Context, jobID string) (<-chan Event, error) {
	sub := p.client.Subscribe(ctx, p.Channel(jobID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", p.Channel(jobID), err)
	}
	out := make(chan Event, DefaultBuffer)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					p.log.WithError(err).Warn("discarding malformed feed event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
