package peerview

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"logosnode/protocol"
)

const (
	peerKeyPrefix = "logosnode:peer:"
	selfKey       = "logosnode:self"
)

// Cache mirrors the peer table into redis so operators and sibling
// processes can read cluster state without touching the node. Entries
// carry a TTL; a node that stops refreshing simply ages out.
type Cache struct {
	rdb *redis.Client
}

func NewCache(addr, password string, db int) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Cache{rdb: rdb}, nil
}

func (c *Cache) StorePeer(ctx context.Context, p PeerState, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal peer %s: %w", p.NodeID, err)
	}
	return c.rdb.Set(ctx, peerKeyPrefix+p.NodeID, data, ttl).Err()
}

func (c *Cache) DeletePeer(ctx context.Context, nodeID string) error {
	return c.rdb.Del(ctx, peerKeyPrefix+nodeID).Err()
}

// StoreSelf publishes this node's own digest under a fixed key.
func (c *Cache) StoreSelf(ctx context.Context, s protocol.NodeSync, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal self digest: %w", err)
	}
	return c.rdb.Set(ctx, selfKey, data, ttl).Err()
}

// LoadPeers reads every cached peer entry, for warming the view at
// startup.
func (c *Cache) LoadPeers(ctx context.Context) ([]PeerState, error) {
	var out []PeerState
	iter := c.rdb.Scan(ctx, 0, peerKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := c.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", iter.Val(), err)
		}
		var p PeerState
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan peers: %w", err)
	}
	return out, nil
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}
