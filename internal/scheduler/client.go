package scheduler

import (
	"context"
	"errors"
	"time"

	"leadengine/platform/apperr"
	"leadengine/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const (
	queueName     = "leads"
	taskMaxRetry  = 3
	taskRetention = 24 * time.Hour
)

// Client puts follow-up and retry events on the asynq queue so they survive
// a restart between scheduling and handling.
type Client struct {
	inner *asynq.Client
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	opt, err := redisConnOpt(cfg.GetSchedulerRedisURL())
	if err != nil {
		return nil, err
	}
	return &Client{inner: asynq.NewClient(opt)}, nil
}

// Close is safe on a nil client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

// Enqueue keys the task by event id. A task the queue already holds (still
// pending, or completed within taskRetention) is not enqueued again.
func (c *Client) Enqueue(ctx context.Context, payload EventPayload) error {
	if c == nil || c.inner == nil {
		return nil
	}
	task, err := NewEventTask(payload)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(queueName),
		asynq.TaskID(payload.EventID),
		asynq.MaxRetry(taskMaxRetry),
		asynq.Retention(taskRetention),
	}
	switch _, err := c.inner.EnqueueContext(ctx, task, opts...); {
	case err == nil, errors.Is(err, asynq.ErrTaskIDConflict):
		return nil
	default:
		return apperr.Transient("enqueue lead event", err)
	}
}

// redisConnOpt turns a redis:// or rediss:// URL into asynq options.
func redisConnOpt(url string) (asynq.RedisClientOpt, error) {
	if url == "" {
		return asynq.RedisClientOpt{}, apperr.Validation("scheduler redis url not configured")
	}
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return asynq.RedisClientOpt{}, apperr.Wrap(apperr.KindValidation, "parse scheduler redis url", err)
	}
	return asynq.RedisClientOpt{
		Addr:      parsed.Addr,
		Username:  parsed.Username,
		Password:  parsed.Password,
		DB:        parsed.DB,
		TLSConfig: parsed.TLSConfig,
	}, nil
}
