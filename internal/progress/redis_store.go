package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"videoscope/internal/models"
	"videoscope/internal/redis"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore keeps job records in per-job hashes and broadcasts events over
// redis pub/sub, so state and feed survive across server instances.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func jobKey(jobID string) string      { return "jobs:" + jobID }
func progressKey(jobID string) string { return "progress:" + jobID }
func leaseKey(jobID string) string    { return "jobs:" + jobID + ":lease" }

func (s *RedisStore) Publish(ctx context.Context, jobID string, pct int, msg string, extra map[string]string) error {
	status := statusFromExtra(extra)
	if err := s.client.HSet(ctx, jobKey(jobID), map[string]interface{}{
		"pct":    pct,
		"msg":    msg,
		"status": status,
	}); err != nil {
		return fmt.Errorf("publish hset: %w", err)
	}

	event := map[string]interface{}{
		"type": models.EventProgress,
		"pct":  pct,
		"msg":  msg,
	}
	for k, v := range extra {
		event[k] = v
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("publish marshal: %w", err)
	}
	if err := s.client.Publish(ctx, progressKey(jobID), payload); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	if err := s.client.Expire(ctx, jobKey(jobID), jobTTL); err != nil {
		return fmt.Errorf("publish expire: %w", err)
	}
	return nil
}

func (s *RedisStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(jobID))
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromFields(jobID, fields), nil
}

func (s *RedisStore) SetFilePath(ctx context.Context, jobID, path string) error {
	if err := s.client.HSet(ctx, jobKey(jobID), map[string]interface{}{"file_path": path}); err != nil {
		return fmt.Errorf("set file path: %w", err)
	}
	return s.client.Expire(ctx, jobKey(jobID), jobTTL)
}

func (s *RedisStore) SetResult(ctx context.Context, jobID, result string) error {
	if err := s.client.HSet(ctx, jobKey(jobID), map[string]interface{}{
		"status": string(models.StatusCompleted),
		"result": result,
	}); err != nil {
		return fmt.Errorf("set result: %w", err)
	}
	return s.client.Expire(ctx, jobKey(jobID), jobTTL)
}

func (s *RedisStore) Subscribe(ctx context.Context, jobID string) (Stream, error) {
	pubsub := s.client.Subscribe(ctx, progressKey(jobID))
	if pubsub == nil {
		return nil, fmt.Errorf("redis client not initialized")
	}
	// Force the SUBSCRIBE round-trip so no event published after this call
	// returns can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", jobID, err)
	}
	return &redisStream{pubsub: pubsub}, nil
}

func (s *RedisStore) AcquireLease(ctx context.Context, jobID, token string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, leaseKey(jobID), token, ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return ok, nil
}

var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (s *RedisStore) ReleaseLease(ctx context.Context, jobID, token string) error {
	raw := s.client.Raw()
	if raw == nil {
		return fmt.Errorf("redis client not initialized")
	}
	if err := releaseScript.Run(ctx, raw, []string{leaseKey(jobID)}, token).Err(); err != nil && err != goredis.Nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

type redisStream struct {
	pubsub *goredis.PubSub
}

func (r *redisStream) Next(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	msg, err := r.pubsub.ReceiveTimeout(ctx, timeout)
	if err != nil {
		// Bounded wait: a timeout is the caller's cue to service other work.
		if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
			return nil, false, nil
		}
		return nil, false, err
	}
	switch m := msg.(type) {
	case *goredis.Message:
		return []byte(m.Payload), true, nil
	default:
		// Subscription acks and pongs are not events.
		return nil, false, nil
	}
}

func (r *redisStream) Close() error {
	return r.pubsub.Close()
}

func jobFromFields(jobID string, fields map[string]string) *models.Job {
	job := &models.Job{
		ID:       jobID,
		Status:   models.JobStatus(fields["status"]),
		Message:  fields["msg"],
		FilePath: fields["file_path"],
		Result:   fields["result"],
	}
	if pct, err := strconv.Atoi(fields["pct"]); err == nil {
		job.Percent = pct
	}
	return job
}
