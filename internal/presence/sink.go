package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/logging"
)

// Sink receives presence transitions fire-and-forget for other subsystems
// (unread-count badges, notification workers) to consume. Failures are logged
// and never affect the in-process registry.
type Sink interface {
	Online(userID, email string)
	Offline(userID, email string, lastSeen time.Time)
}

const (
	presenceKeyPrefix = "presence:"
	onlineSetKey      = "online_users"
	presenceChannel   = "presence_events"
)

type presenceEvent struct {
	UserID   string    `json:"user_id"`
	Email    string    `json:"email"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// RedisSink mirrors presence into Redis with a TTL and publishes transitions.
type RedisSink struct {
	redis *redis.Client
	ttl   time.Duration
	log   *logging.Logger
}

func NewRedisSink(client *redis.Client, ttl time.Duration, log *logging.Logger) *RedisSink {
	return &RedisSink{redis: client, ttl: ttl, log: log.With("component", "presence_sink")}
}

func NewRedisClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return client, nil
}

func (s *RedisSink) Online(userID, email string) {
	s.publish(presenceEvent{UserID: userID, Email: email, Status: "online", LastSeen: time.Now()}, true)
}

func (s *RedisSink) Offline(userID, email string, lastSeen time.Time) {
	s.publish(presenceEvent{UserID: userID, Email: email, Status: "offline", LastSeen: lastSeen}, false)
}

func (s *RedisSink) publish(ev presenceEvent, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("marshal presence event", "error", err)
		return
	}

	pipe := s.redis.Pipeline()
	key := presenceKeyPrefix + ev.UserID
	if online {
		pipe.Set(ctx, key, data, s.ttl)
		pipe.SAdd(ctx, onlineSetKey, ev.UserID)
		pipe.Expire(ctx, onlineSetKey, s.ttl*2)
	} else {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, onlineSetKey, ev.UserID)
	}
	pipe.Publish(ctx, presenceChannel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn("presence sink publish failed", "user_id", ev.UserID, "error", err)
	}
}
