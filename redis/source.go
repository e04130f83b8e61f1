// Package redis provides a jobloop.Source that pops job identifiers from
// a Redis list. Producers append identifiers with Push (RPUSH); Next
// removes them from the head of the list (LPOP).
//
// Usage:
//
//	import (
//		"github.com/redis/go-redis/v9"
//		redissource "github.com/olivere/jobloop/redis"
//	)
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	src := redissource.NewSource(client)
package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/olivere/jobloop"
)

// DefaultKey is the name of the list holding job identifiers.
const DefaultKey = "jobloop:jobs"

var (
	_ jobloop.Source  = (*Source)(nil)
	_ jobloop.Starter = (*Source)(nil)
)

// Source represents a Redis-based job source. The caller owns the
// client lifecycle.
type Source struct {
	client redis.Cmdable
	key    string
}

// SourceOption is an options provider for Source.
type SourceOption func(*Source)

// SetKey overrides the default list key "jobloop:jobs".
func SetKey(key string) SourceOption {
	return func(s *Source) {
		s.key = key
	}
}

// NewSource creates a source reading from a list in Redis.
func NewSource(client redis.Cmdable, options ...SourceOption) *Source {
	s := &Source{client: client, key: DefaultKey}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Key returns the name of the list.
func (s *Source) Key() string { return s.key }

// Start verifies the Redis connection is alive.
func (s *Source) Start(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Next pops the identifier at the head of the list, or returns
// jobloop.ErrExhausted if the list is empty.
func (s *Source) Next(ctx context.Context) (jobloop.JobID, error) {
	id, err := s.client.LPop(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", jobloop.ErrExhausted
	}
	if err != nil {
		return "", err
	}
	return jobloop.JobID(id), nil
}

// Push appends identifiers to the tail of the list.
func (s *Source) Push(ctx context.Context, ids ...jobloop.JobID) error {
	if len(ids) == 0 {
		return nil
	}
	values := make([]interface{}, len(ids))
	for i, id := range ids {
		values[i] = string(id)
	}
	return s.client.RPush(ctx, s.key, values...).Err()
}

// Pending returns the length of the list.
func (s *Source) Pending(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.key).Result()
}
