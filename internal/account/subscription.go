package account

import (
	"context"
	"encoding/json"
	"fmt"

	"accounthub/internal/model"
	"accounthub/internal/pkg/docstore"
)

// AppendSubscription 向订阅历史追加一条记录。历史只追加，永不原地修改或删除。
func (d *DAL) AppendSubscription(ctx context.Context, sub model.Subscription) error {
	if err := d.store.AppendJSON(ctx, d.key(), docstore.FieldPath("subscriptions"), sub); err != nil {
		return fmt.Errorf("append subscription: %w", err)
	}
	return nil
}

// CurrentSubscription 从订阅历史中解析出唯一一条"当前"订阅。
//
// 从左到右单次扫描，第一条记录无条件成为初始候选，之后：
//   - 级别严格更低的记录一律跳过；
//   - 级别严格更高的记录总是取代候选——即使其时间窗口已过期，
//     这是沿用已久的线上行为，调用方依赖它，勿随手"修复"；
//   - 级别相等的记录仅当窗口包含当前时刻（含两端）才取代候选。
//
// 历史为空时返回 (nil, nil)；所有窗口都不含当前时刻时，
// 返回按级别筛选后幸存的候选（可能已过期）。
func (d *DAL) CurrentSubscription(ctx context.Context) (*model.Subscription, error) {
	raw, err := d.store.GetJSON(ctx, d.key(), docstore.FieldPath("subscriptions"))
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var subs []model.Subscription
	if err := json.Unmarshal(raw, &subs); err != nil {
		return nil, fmt.Errorf("parse subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil, nil
	}

	now := d.now().UnixMilli()
	current := subs[0]
	for _, s := range subs[1:] {
		if s.Level < current.Level {
			continue
		}
		if s.Level > current.Level || (s.StartsAt <= now && now <= s.EndsAt) {
			current = s
		}
	}
	return &current, nil
}
