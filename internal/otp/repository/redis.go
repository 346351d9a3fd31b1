package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akshithakatte/AgriConnect/internal/otp/domain"
)

const keyPrefix = "otp:"

// consumeScript deletes the challenge hash only when its id field matches ARGV[1].
var consumeScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'id') == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// incrementScript bumps attempts only on an existing hash so an expired key is not resurrected.
var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`)

// RedisRepository stores each challenge as a hash at otp:<phone> whose TTL is the challenge lifetime.
type RedisRepository struct {
	client redis.UniversalClient
}

// NewRedisRepository returns a challenge repository backed by client.
func NewRedisRepository(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Save(ctx context.Context, c *domain.Challenge) error {
	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		return r.Delete(ctx, c.Phone)
	}
	key := keyPrefix + c.Phone
	fields := map[string]interface{}{
		"id":           c.ID,
		"user_id":      c.UserID,
		"code_hash":    c.CodeHash,
		"attempts":     c.Attempts,
		"max_attempts": c.MaxAttempts,
		"expires_at":   c.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"created_at":   c.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.PExpire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisRepository) GetByPhone(ctx context.Context, phone string) (*domain.Challenge, error) {
	vals, err := r.client.HGetAll(ctx, keyPrefix+phone).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	c := &domain.Challenge{
		ID:       vals["id"],
		Phone:    phone,
		UserID:   vals["user_id"],
		CodeHash: vals["code_hash"],
	}
	c.Attempts, _ = strconv.Atoi(vals["attempts"])
	c.MaxAttempts, _ = strconv.Atoi(vals["max_attempts"])
	if c.ExpiresAt, err = time.Parse(time.RFC3339Nano, vals["expires_at"]); err != nil {
		return nil, err
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, vals["created_at"])
	return c, nil
}

func (r *RedisRepository) IncrementAttempts(ctx context.Context, phone string) (int, error) {
	n, err := incrementScript.Run(ctx, r.client, []string{keyPrefix + phone}).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *RedisRepository) Consume(ctx context.Context, phone, id string) (bool, error) {
	n, err := consumeScript.Run(ctx, r.client, []string{keyPrefix + phone}, id).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisRepository) Delete(ctx context.Context, phone string) error {
	return r.client.Del(ctx, keyPrefix+phone).Err()
}
