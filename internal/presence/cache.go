// Package presence tracks which viewers currently have a document open.
// Entries live in Redis under a short TTL, so presence decays on its own
// when a viewer stops heartbeating; nothing is ever deleted explicitly.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 30 * time.Second

// Viewer is one live presence entry for a document.
type Viewer struct {
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
}

type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCache connects to Redis and verifies the connection.
func NewCache(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewCacheWithClient(client), nil
}

// NewCacheWithClient builds a cache from an existing Redis client.
func NewCacheWithClient(client *redis.Client) *Cache {
	return &Cache{client: client, prefix: "presence:", ttl: defaultTTL}
}

func (c *Cache) key(documentID, viewer string) string {
	return c.prefix + documentID + ":" + viewer
}

// Heartbeat records that viewer is looking at the document right now and
// refreshes the entry's TTL.
func (c *Cache) Heartbeat(ctx context.Context, documentID, viewer string) error {
	entry := Viewer{Name: viewer, LastSeen: time.Now().UTC()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal presence entry: %w", err)
	}
	if err := c.client.Set(ctx, c.key(documentID, viewer), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("save presence entry: %w", err)
	}
	return nil
}

// Viewers lists everyone with a live presence entry for the document,
// sorted by name so responses are stable.
func (c *Cache) Viewers(ctx context.Context, documentID string) ([]Viewer, error) {
	pattern := c.prefix + documentID + ":*"
	viewers := make([]Viewer, 0)

	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		data, err := c.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("read presence entry: %w", err)
		}
		var v Viewer
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			continue
		}
		viewers = append(viewers, v)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence entries: %w", err)
	}

	sort.Slice(viewers, func(i, j int) bool { return viewers[i].Name < viewers[j].Name })
	return viewers, nil
}

// Ping checks if Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
