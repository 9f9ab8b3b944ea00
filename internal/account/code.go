package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"accounthub/internal/pkg/docstore"

	"golang.org/x/sync/errgroup"
)

const (
	codeLifetime = 300 * time.Second
	// 剩余有效期不低于该值时拒绝重发，即只有进入最后 60 秒或过期后才允许重新请求。
	codeResendThreshold = 240 * time.Second

	codeDigits = 6
)

// ErrIdentifierRequired 表示 phone 渠道缺少手机号。
var ErrIdentifierRequired = errors.New("identifier is required for phone channel")

// ThrottledError 表示验证码请求过于频繁，携带剩余等待时间。
type ThrottledError struct {
	Remaining time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("code requested too fast, retry in %s", e.Remaining)
}

// CodeIssue 是一次验证码签发的结果。
type CodeIssue struct {
	Code string
	TTL  time.Duration
	// Reused 为 true 表示返回的是尚未过期的旧验证码（最后 60 秒内的重发）。
	Reused bool
}

// NewCode 为 (channel, identifier) 签发短时效验证码。
//
// 已有验证码剩余有效期 >= 240s 时返回 *ThrottledError 且无副作用；
// 剩余不足 240s 时复用旧码（不重新生成），只有旧码缺失/过期才生成新码并存储 300s。
func (d *DAL) NewCode(ctx context.Context, channel Channel, identifier ...string) (*CodeIssue, error) {
	id, err := d.codeIdentifier(channel, identifier...)
	if err != nil {
		return nil, err
	}
	key := registerCodeKey(channel, id)

	existing, err := d.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lookup code: %w", err)
	}
	if existing != "" {
		ttl, err := d.store.TTL(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("code ttl: %w", err)
		}
		if ttl >= codeResendThreshold {
			return nil, &ThrottledError{Remaining: ttl}
		}
		if ttl > 0 {
			return &CodeIssue{Code: existing, TTL: ttl, Reused: true}, nil
		}
		// 读到旧值但已过期，按缺失处理。
	}

	code, err := generateNumericCode(codeDigits)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	if err := d.store.Set(ctx, key, code, codeLifetime); err != nil {
		return nil, fmt.Errorf("store code: %w", err)
	}
	if d.logger != nil {
		d.logger.Info("verification code issued",
			slog.String("channel", string(channel)),
			slog.String("identifier", id))
	}
	return &CodeIssue{Code: code, TTL: codeLifetime}, nil
}

// ActivateCode 兑换验证码。
//
// 返回的布尔值只反映验证码是否匹配。匹配时并发执行删除验证码键与
// （phone 渠道）把手机号写入账户文档；两者共同等待但不保证原子，
// 任一写入失败会以 error 形式附带返回。
func (d *DAL) ActivateCode(ctx context.Context, code string, channel Channel, identifier ...string) (bool, error) {
	id, err := d.codeIdentifier(channel, identifier...)
	if err != nil {
		return false, err
	}
	key := registerCodeKey(channel, id)

	stored, err := d.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("lookup code: %w", err)
	}
	// 统一按字符串比较，避免数值与字符串混比。
	if stored == "" || strings.TrimSpace(code) != stored {
		return false, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := d.store.Delete(gctx, key); err != nil {
			return fmt.Errorf("delete code: %w", err)
		}
		return nil
	})
	if channel == ChannelPhone {
		g.Go(func() error {
			if err := d.store.SetJSON(gctx, d.key(), docstore.FieldPath("phone"), id); err != nil {
				return fmt.Errorf("persist phone: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return true, err
	}
	if d.logger != nil {
		d.logger.Info("verification code activated",
			slog.String("channel", string(channel)),
			slog.String("identifier", id))
	}
	return true, nil
}

// codeIdentifier 解析验证码的标识：phone 渠道必须显式提供手机号，
// 其余渠道默认使用绑定邮箱。
func (d *DAL) codeIdentifier(channel Channel, identifier ...string) (string, error) {
	if channel == ChannelPhone {
		if len(identifier) == 0 || strings.TrimSpace(identifier[0]) == "" {
			return "", ErrIdentifierRequired
		}
		return strings.TrimSpace(identifier[0]), nil
	}
	if len(identifier) > 0 && strings.TrimSpace(identifier[0]) != "" {
		return strings.TrimSpace(identifier[0]), nil
	}
	return d.email, nil
}
