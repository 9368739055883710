package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps the slots in Redis so that several fleetctl processes on
// one operator host share a session. Keys are namespaced by Prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client, prefix: prefix}, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

func (s *RedisStore) GetFleet(ctx context.Context) (*FleetEntry, error) {
	vals, err := s.client.MGet(ctx, s.key(KeyFleetRoutes), s.key(KeyFleetTime)).Result()
	if err != nil {
		return nil, err
	}
	data, ok1 := vals[0].(string)
	stamp, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return nil, nil // cache miss
	}
	ms, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return nil, nil
	}
	return &FleetEntry{Data: []byte(data), CachedAt: time.UnixMilli(ms)}, nil
}

func (s *RedisStore) PutFleet(ctx context.Context, entry FleetEntry) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(KeyFleetRoutes), entry.Data, 0)
		p.Set(ctx, s.key(KeyFleetTime), strconv.FormatInt(entry.CachedAt.UnixMilli(), 10), 0)
		return nil
	})
	return err
}

func (s *RedisStore) ClearFleet(ctx context.Context) error {
	return s.client.Del(ctx, s.key(KeyFleetRoutes), s.key(KeyFleetTime)).Err()
}

func (s *RedisStore) GetDriverRoute(ctx context.Context, vehicleID int64) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(DriverRouteKey(vehicleID))).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // cache miss
		}
		return nil, err
	}
	return data, nil
}

func (s *RedisStore) PutDriverRoute(ctx context.Context, vehicleID int64, data []byte) error {
	return s.client.Set(ctx, s.key(DriverRouteKey(vehicleID)), data, 0).Err()
}

func (s *RedisStore) RemoveDriverRoute(ctx context.Context, vehicleID int64) error {
	return s.client.Del(ctx, s.key(DriverRouteKey(vehicleID))).Err()
}

func (s *RedisStore) SetForceRefresh(ctx context.Context) error {
	return s.client.Set(ctx, s.key(KeyForceRefresh), "true", 0).Err()
}

func (s *RedisStore) TakeForceRefresh(ctx context.Context) (bool, error) {
	v, err := s.client.GetDel(ctx, s.key(KeyForceRefresh)).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}
	return v == "true", nil
}
