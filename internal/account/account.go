// Package account 实现以邮箱为唯一标识的账户记录核心。
//
// 每个 DAL 实例绑定一个规范化后的邮箱，所有存储键都从它派生。
// 包内不做任何跨请求的协调：逻辑相关的多次写入并发发起、共同等待，
// 但不构成事务，部分失败由底层存储的单键语义兜底（详见各方法注释）。
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"accounthub/internal/model"
	"accounthub/internal/pkg/docstore"
)

// DefaultPlan 是 role 与 planNow 均缺失时的兜底套餐。
const DefaultPlan = "Free"

const defaultName = "Anonymous"

// DAL 是绑定到单个账户文档的数据访问门面。
type DAL struct {
	store  docstore.Store
	logger *slog.Logger
	email  string
	now    func() time.Time
}

// New 创建绑定到指定邮箱的 DAL，邮箱在此处统一做 trim + 小写规范化。
func New(store docstore.Store, logger *slog.Logger, email string) *DAL {
	return &DAL{
		store:  store,
		logger: logger,
		email:  NormalizeEmail(email),
		now:    time.Now,
	}
}

// NormalizeEmail 返回去除首尾空白并转为小写的邮箱。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Email 返回绑定的规范化邮箱。
func (d *DAL) Email() string {
	return d.email
}

func (d *DAL) key() string {
	return userKey(d.email)
}

// Exists 返回账户文档是否存在。
func (d *DAL) Exists(ctx context.Context) (bool, error) {
	return d.store.Exists(ctx, d.key())
}

// Delete 删除账户文档，返回是否真正删除。
// 不级联删除邀请码文档和注册验证码。
func (d *DAL) Delete(ctx context.Context) (bool, error) {
	return d.store.Delete(ctx, d.key())
}

// FromRegistration 以"不存在才创建"的方式注册账户。
//
// 默认字段与 extra 合并后一次写入（extra 覆盖同名默认值）。
// 账户已存在时返回 (nil, nil)，且不改动已有文档；
// 唯一性依赖存储层的条件写入（JSON.SET ... NX）。
func FromRegistration(ctx context.Context, store docstore.Store, logger *slog.Logger, email, password string, extra map[string]any) (*DAL, error) {
	d := New(store, logger, email)
	now := d.now().UnixMilli()

	doc := map[string]any{
		"name":            defaultName,
		"passwordHash":    hashPassword(password),
		"createdAt":       now,
		"lastLoginAt":     now,
		"isBlocked":       false,
		"resetChances":    0,
		"invitationCodes": []string{},
		"subscriptions":   []model.Subscription{},
	}
	for k, v := range extra {
		doc[k] = v
	}

	created, err := store.CreateJSON(ctx, d.key(), doc)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	if !created {
		return nil, nil
	}
	if logger != nil {
		logger.Info("account created", slog.String("email", d.email))
	}
	return d, nil
}

// Login 校验密码；匹配时刷新 lastLoginAt 并返回 true，
// 不匹配或账户不存在时返回 false 且无任何副作用。
func (d *DAL) Login(ctx context.Context, password string) (bool, error) {
	stored, err := d.getString(ctx, "passwordHash")
	if err != nil {
		return false, err
	}
	if stored == "" || stored != hashPassword(password) {
		return false, nil
	}

	if err := d.store.SetJSON(ctx, d.key(), docstore.FieldPath("lastLoginAt"), d.now().UnixMilli()); err != nil {
		return false, fmt.Errorf("update lastLoginAt: %w", err)
	}
	if d.logger != nil {
		d.logger.Info("login ok", slog.String("email", d.email))
	}
	return true, nil
}

// Plan 返回静态套餐标签：role 优先，其次 planNow，都缺失时为 "Free"。
// 与 CurrentSubscription 基于订阅历史的动态推导是两个刻意分开的概念。
func (d *DAL) Plan(ctx context.Context) (string, error) {
	role, err := d.getString(ctx, "role")
	if err != nil {
		return "", err
	}
	if role != "" {
		return role, nil
	}
	plan, err := d.getString(ctx, "planNow")
	if err != nil {
		return "", err
	}
	if plan != "" {
		return plan, nil
	}
	return DefaultPlan, nil
}

// IsBlocked 返回封禁标记；此核心只读不写该字段。
func (d *DAL) IsBlocked(ctx context.Context) (bool, error) {
	raw, err := d.store.GetJSON(ctx, d.key(), docstore.FieldPath("isBlocked"))
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	var blocked bool
	if err := json.Unmarshal(raw, &blocked); err != nil {
		return false, fmt.Errorf("parse isBlocked: %w", err)
	}
	return blocked, nil
}

// AddResetChances 按增量调整 resetChances 计数器，无下限约束，返回新值。
func (d *DAL) AddResetChances(ctx context.Context, delta int) (int, error) {
	val, err := d.store.IncrJSON(ctx, d.key(), docstore.FieldPath("resetChances"), float64(delta))
	if err != nil {
		return 0, fmt.Errorf("incr resetChances: %w", err)
	}
	return int(val), nil
}

// getString 读取一级字符串字段，键或字段缺失时返回空串。
func (d *DAL) getString(ctx context.Context, field string) (string, error) {
	raw, err := d.store.GetJSON(ctx, d.key(), docstore.FieldPath(field))
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", nil
	}
	var val string
	if err := json.Unmarshal(raw, &val); err != nil {
		return "", fmt.Errorf("parse %s: %w", field, err)
	}
	return val, nil
}
