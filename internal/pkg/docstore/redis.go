package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis 基于 RedisJSON 实现 Store。
//
// 进程内共享同一个客户端，由启动方创建、关闭（见 cmd/api/main.go）。
type Redis struct {
	rdb *redis.Client
}

// Connect 创建并验证 Redis 连接。
func Connect(ctx context.Context, addr, password string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

// NewRedis 从现有客户端创建 Store。
func NewRedis(rdb *redis.Client) (*Redis, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	return &Redis{rdb: rdb}, nil
}

// Client 返回底层 Redis 客户端，供其他组件复用连接。
func (s *Redis) Client() *redis.Client {
	return s.rdb
}

// Close 关闭底层连接。
func (s *Redis) Close() error {
	return s.rdb.Close()
}

// CreateJSON 使用 JSON.SET ... NX 实现"不存在才创建"。
// NX 条件不满足时 Redis 返回空回复，对应 redis.Nil。
func (s *Redis) CreateJSON(ctx context.Context, key string, doc any) (bool, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("marshal doc: %w", err)
	}
	err = s.rdb.JSONSetMode(ctx, key, RootPath, string(data), "NX").Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("json set nx: %w", err)
	}
	return true, nil
}

func (s *Redis) GetJSON(ctx context.Context, key, path string) ([]byte, error) {
	res, err := s.rdb.JSONGet(ctx, key, path).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("json get: %w", err)
	}
	// "$..." 路径的结果是匹配值组成的 JSON 数组，取第一个匹配。
	var matches []json.RawMessage
	if err := json.Unmarshal([]byte(res), &matches); err != nil {
		return nil, fmt.Errorf("parse json get result: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

func (s *Redis) SetJSON(ctx context.Context, key, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	if err := s.rdb.JSONSet(ctx, key, path, string(data)).Err(); err != nil {
		return fmt.Errorf("json set: %w", err)
	}
	return nil
}

func (s *Redis) AppendJSON(ctx context.Context, key, path string, values ...any) error {
	args := make([]interface{}, 0, len(values))
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal value: %w", err)
		}
		args = append(args, string(data))
	}
	if err := s.rdb.JSONArrAppend(ctx, key, path, args...).Err(); err != nil {
		return fmt.Errorf("json arrappend: %w", err)
	}
	return nil
}

func (s *Redis) IncrJSON(ctx context.Context, key, path string, delta float64) (float64, error) {
	res, err := s.rdb.JSONNumIncrBy(ctx, key, path, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("json numincrby: %w", err)
	}
	var matches []float64
	if err := json.Unmarshal([]byte(res), &matches); err != nil {
		return 0, fmt.Errorf("parse numincrby result: %w", err)
	}
	if len(matches) == 0 {
		return 0, fmt.Errorf("numincrby: path %s not found", path)
	}
	return matches[0], nil
}

func (s *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return n > 0, nil
}

func (s *Redis) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("del: %w", err)
	}
	return n > 0, nil
}

func (s *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get: %w", err)
	}
	return val, nil
}

func (s *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return nil
}

func (s *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ttl: %w", err)
	}
	return ttl, nil
}
