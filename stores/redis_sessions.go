package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/tutorbook"
)

// RedisSessionResolver resolves bearer tokens from Redis (key: session:{token}),
// where the auth frontend parks each signed-in identity with a TTL.
type RedisSessionResolver struct {
	client *redis.Client
	keyFmt string // format string, e.g. "session:%s"
	ttl    time.Duration
}

func NewRedisSessionResolver(client *redis.Client) *RedisSessionResolver {
	return &RedisSessionResolver{client: client, keyFmt: "session:%s", ttl: 24 * time.Hour}
}

func (r *RedisSessionResolver) key(token string) string {
	return fmt.Sprintf(r.keyFmt, token)
}

// Put registers a session. Login flows call this; the engine only reads.
func (r *RedisSessionResolver) Put(ctx context.Context, token string, id *tutorbook.Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(token), data, r.ttl).Err()
}

func (r *RedisSessionResolver) Revoke(ctx context.Context, token string) error {
	return r.client.Del(ctx, r.key(token)).Err()
}

func (r *RedisSessionResolver) Resolve(ctx context.Context, token string) (*tutorbook.Identity, error) {
	data, err := r.client.Get(ctx, r.key(token)).Bytes()
	if err != nil {
		return nil, err
	}
	id := &tutorbook.Identity{}
	if err := json.Unmarshal(data, id); err != nil {
		return nil, err
	}
	return id, nil
}
