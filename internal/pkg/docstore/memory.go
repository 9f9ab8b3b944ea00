package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Memory 是 Store 的进程内实现，供测试使用。
//
// miniredis 不支持 RedisJSON 命令，账户核心的测试通过 Memory 驱动文档操作。
// 支持的路径仅限核心用到的两种形式："$" 与 "$.field"。
type Memory struct {
	mu      sync.Mutex
	docs    map[string]map[string]any
	strings map[string]string
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemory 创建一个内存存储。
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock 创建一个使用指定时钟的内存存储，测试可借此推进时间。
func NewMemoryWithClock(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		docs:    make(map[string]map[string]any),
		strings: make(map[string]string),
		expires: make(map[string]time.Time),
		now:     now,
	}
}

func (s *Memory) CreateJSON(ctx context.Context, key string, doc any) (bool, error) {
	obj, err := toObject(doc)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[key]; ok {
		return false, nil
	}
	s.docs[key] = obj
	return true, nil
}

func (s *Memory) GetJSON(ctx context.Context, key, path string) ([]byte, error) {
	field, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, nil
	}
	if field == "" {
		return json.Marshal(doc)
	}
	val, ok := doc[field]
	if !ok {
		return nil, nil
	}
	return json.Marshal(val)
}

func (s *Memory) SetJSON(ctx context.Context, key, path string, value any) error {
	field, err := parsePath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if field == "" {
		obj, err := toObject(value)
		if err != nil {
			return err
		}
		s.docs[key] = obj
		return nil
	}
	doc, ok := s.docs[key]
	if !ok {
		return fmt.Errorf("set %s: no such document %s", path, key)
	}
	val, err := roundTrip(value)
	if err != nil {
		return err
	}
	doc[field] = val
	return nil
}

func (s *Memory) AppendJSON(ctx context.Context, key, path string, values ...any) error {
	field, err := parsePath(path)
	if err != nil {
		return err
	}
	if field == "" {
		return fmt.Errorf("append: root path is not an array")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[key]
	if !ok {
		return fmt.Errorf("append %s: no such document %s", path, key)
	}
	arr, ok := doc[field].([]any)
	if !ok {
		return fmt.Errorf("append %s: not an array", path)
	}
	for _, v := range values {
		val, err := roundTrip(v)
		if err != nil {
			return err
		}
		arr = append(arr, val)
	}
	doc[field] = arr
	return nil
}

func (s *Memory) IncrJSON(ctx context.Context, key, path string, delta float64) (float64, error) {
	field, err := parsePath(path)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[key]
	if !ok {
		return 0, fmt.Errorf("incr %s: no such document %s", path, key)
	}
	num, ok := doc[field].(float64)
	if !ok {
		return 0, fmt.Errorf("incr %s: not a number", path)
	}
	num += delta
	doc[field] = num
	return num, nil
}

func (s *Memory) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	if _, ok := s.docs[key]; ok {
		return true, nil
	}
	_, ok := s.strings[key]
	return ok, nil
}

func (s *Memory) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	_, hadDoc := s.docs[key]
	_, hadStr := s.strings[key]
	delete(s.docs, key)
	delete(s.strings, key)
	delete(s.expires, key)
	return hadDoc || hadStr, nil
}

func (s *Memory) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	return s.strings[key], nil
}

func (s *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = value
	if ttl > 0 {
		s.expires[key] = s.now().Add(ttl)
	} else {
		delete(s.expires, key)
	}
	return nil
}

func (s *Memory) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	if _, ok := s.strings[key]; !ok {
		if _, ok := s.docs[key]; !ok {
			return -2 * time.Second, nil
		}
		return -1 * time.Second, nil
	}
	deadline, ok := s.expires[key]
	if !ok {
		return -1 * time.Second, nil
	}
	return deadline.Sub(s.now()), nil
}

// purge 清理已过期的字符串键，调用方需持有锁。
func (s *Memory) purge(key string) {
	deadline, ok := s.expires[key]
	if !ok {
		return
	}
	if !s.now().Before(deadline) {
		delete(s.strings, key)
		delete(s.expires, key)
	}
}

// parsePath 校验路径，返回字段名（根路径返回空串）。
func parsePath(path string) (string, error) {
	if path == RootPath {
		return "", nil
	}
	if strings.HasPrefix(path, "$.") {
		field := path[2:]
		if field != "" && !strings.ContainsAny(field, ".[") {
			return field, nil
		}
	}
	return "", fmt.Errorf("unsupported path: %s", path)
}

// roundTrip 将任意值经 JSON 编解码归一化，保证与 Redis 实现一致的读出形态。
func roundTrip(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return out, nil
}

func toObject(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal doc: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("document is not a JSON object: %w", err)
	}
	return obj, nil
}
