package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/ai-radar/internal/logging"
)

// LogSink writes every record to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("status")}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Render implements Sink.
func (s *LogSink) Render(_ context.Context, rec Record) error {
	s.logger.Info("status updated",
		zap.String("title", rec.Title),
		zap.String("body", rec.Body),
		zap.Uint64("version", rec.Version))
	return nil
}

// Store abstracts the Redis operations used by RedisSink to make testing easier.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Publish(ctx context.Context, channel string, message interface{}) error
}

// RedisStore is a concrete Store backed by go-redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed store adapter.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Set writes a value to Redis.
func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return s.client.Set(ctx, key, value, expiration).Err()
}

// Publish sends a message on a Redis channel.
func (s *RedisStore) Publish(ctx context.Context, channel string, message interface{}) error {
	return s.client.Publish(ctx, channel, message).Err()
}

// RedisSink keeps the record under one key and announces changes on a channel.
type RedisSink struct {
	store          Store
	key            string
	channel        string
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRedisSink creates a RedisSink. An empty channel disables announcements.
func NewRedisSink(store Store, key, channel string, logger *zap.Logger) *RedisSink {
	return &RedisSink{
		store:          store,
		key:            key,
		channel:        channel,
		logger:         logger.Named("status_redis"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     500 * time.Millisecond,
	}
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Render implements Sink.
func (s *RedisSink) Render(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	version := fmt.Sprintf("v%d", rec.Version)
	if err := s.withRetry(ctx, version, "status.redis.set", func() error {
		return s.store.Set(ctx, s.key, string(payload), 0)
	}); err != nil {
		return err
	}
	if s.channel == "" {
		return nil
	}
	return s.withRetry(ctx, version, "status.redis.publish", func() error {
		return s.store.Publish(ctx, s.channel, string(payload))
	})
}

func (s *RedisSink) withRetry(ctx context.Context, version, operation string, fn func() error) error {
	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, version)
	var err error
	attempt := 0
	for ; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewRetryError(operation, version, attempt, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if !isTransientError(err) {
			attempt++
			break
		}
		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewRetryError(operation, version, attempt, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}

// Publisher is the slice of mqtt.Client used by MQTTSink.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes each record as a retained message so late subscribers
// see the current status immediately.
type MQTTSink struct {
	client  Publisher
	topic   string
	qos     byte
	timeout time.Duration
}

// NewMQTTSink creates an MQTTSink.
func NewMQTTSink(client Publisher, topic string, qos byte) *MQTTSink {
	return &MQTTSink{client: client, topic: topic, qos: qos, timeout: 2 * time.Second}
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Render implements Sink.
func (s *MQTTSink) Render(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	token := s.client.Publish(s.topic, s.qos, true, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt publish to %s timed out", s.topic)
	}
	return token.Error()
}

// ConnectMQTT connects a paho client with auto-reconnect enabled.
func ConnectMQTT(broker, clientID string, logger *zap.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connection established", zap.String("broker", broker), zap.String("client_id", clientID))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", zap.String("broker", broker), zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}
