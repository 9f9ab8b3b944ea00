package docstore

import (
	"context"
	"time"
)

// Store 定义账户核心所需的 JSON 文档存储能力。
//
// path 采用 RedisJSON 风格："$" 表示文档根，"$.field" 表示一级字段。
// 读取类操作对缺失的键/路径返回零值而非错误；所有写入均以单键为原子单位，
// 跨键的写入序列不提供事务保证。
type Store interface {
	// CreateJSON 仅当键不存在时写入整个文档，返回是否真正写入。
	CreateJSON(ctx context.Context, key string, doc any) (bool, error)
	// GetJSON 返回路径处的原始 JSON；键或路径缺失时返回 (nil, nil)。
	GetJSON(ctx context.Context, key, path string) ([]byte, error)
	// SetJSON 写入路径处的值。
	SetJSON(ctx context.Context, key, path string, value any) error
	// AppendJSON 向路径处的数组追加元素。
	AppendJSON(ctx context.Context, key, path string, values ...any) error
	// IncrJSON 将路径处的数值加上 delta，返回新值。
	IncrJSON(ctx context.Context, key, path string, delta float64) (float64, error)

	// Exists 检查键是否存在。
	Exists(ctx context.Context, key string) (bool, error)
	// Delete 删除键（任意类型），返回是否真正删除。
	Delete(ctx context.Context, key string) (bool, error)

	// 字符串键操作，用于短时效验证码。
	// Get 读取字符串值；键缺失时返回 ("", nil)。
	Get(ctx context.Context, key string) (string, error)
	// Set 写入字符串值，ttl > 0 时设置过期时间。
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// TTL 返回剩余存活时间；键缺失返回 -2s，无过期时间返回 -1s（与 Redis 语义一致）。
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// RootPath 是文档根路径。
const RootPath = "$"

// FieldPath 返回一级字段的路径。
func FieldPath(field string) string {
	return "$." + field
}
