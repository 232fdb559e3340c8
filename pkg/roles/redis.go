package roles

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// RedisDirectory reads role membership from redis sets maintained by the
// identity system:
//
//	signoff:roles:<tenant>:<role>   set of actor IDs
//	signoff:actors:<tenant>:<actor> set of role IDs
type RedisDirectory struct {
	client redis.UniversalClient
}

// NewRedisDirectory creates a directory backed by the given redis URL.
func NewRedisDirectory(redisURL string) (*RedisDirectory, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return &RedisDirectory{client: redis.NewClient(opts)}, nil
}

func (d *RedisDirectory) ActorsForRole(ctx context.Context, tenantID, role string) ([]string, error) {
	actors, err := d.client.SMembers(ctx, roleKey(tenantID, role)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read role members: %w", err)
	}

	return actors, nil
}

func (d *RedisDirectory) RolesForActor(ctx context.Context, tenantID, actor string) ([]string, error) {
	held, err := d.client.SMembers(ctx, actorKey(tenantID, actor)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read actor roles: %w", err)
	}

	return held, nil
}

func (d *RedisDirectory) HealthCheck(ctx context.Context) error {
	err := d.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

// Close releases the underlying redis connection.
func (d *RedisDirectory) Close() error {
	return d.client.Close()
}

func roleKey(tenantID, role string) string {
	return "signoff:roles:" + tenantID + ":" + role
}

func actorKey(tenantID, actor string) string {
	return "signoff:actors:" + tenantID + ":" + actor
}
