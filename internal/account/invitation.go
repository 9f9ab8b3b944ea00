package account

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"accounthub/internal/model"
	"accounthub/internal/pkg/docstore"

	"golang.org/x/sync/errgroup"
)

// NewInvitationCode 为绑定账户签发一个新邀请码。
//
// 并发创建 `invitationCode:<code>` 文档并把码追加到账户的 invitationCodes 列表；
// 前置条件：绑定账户已存在（此处不校验）。
func (d *DAL) NewInvitationCode(ctx context.Context, codeType string) (string, error) {
	code := invitationCodeFor(d.email, d.now())
	doc := model.InvitationCode{
		InviterEmail:  d.email,
		InviteeEmails: []string{},
		Type:          codeType,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := d.store.CreateJSON(gctx, invitationKey(code), doc); err != nil {
			return fmt.Errorf("create invitation doc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := d.store.AppendJSON(gctx, d.key(), docstore.FieldPath("invitationCodes"), code); err != nil {
			return fmt.Errorf("append invitation code: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	if d.logger != nil {
		d.logger.Info("invitation code issued",
			slog.String("email", d.email),
			slog.String("type", codeType))
	}
	return code, nil
}

// AcceptInvitationCode 兑换他人的邀请码。
//
// 码不存在时返回 (nil, nil) 且无副作用。存在时并发执行：
// 把绑定账户的 inviterCode 置为该码（重复兑换后写覆盖），
// 并把绑定邮箱追加进码文档的 inviteeEmails。
// 返回的是更新前的快照，不包含刚追加的邮箱。
func (d *DAL) AcceptInvitationCode(ctx context.Context, code string) (*model.InvitationCode, error) {
	raw, err := d.store.GetJSON(ctx, invitationKey(code), docstore.RootPath)
	if err != nil {
		return nil, fmt.Errorf("lookup invitation: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var snapshot model.InvitationCode
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("parse invitation: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := d.store.SetJSON(gctx, d.key(), docstore.FieldPath("inviterCode"), code); err != nil {
			return fmt.Errorf("set inviterCode: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := d.store.AppendJSON(gctx, invitationKey(code), docstore.FieldPath("inviteeEmails"), d.email); err != nil {
			return fmt.Errorf("append invitee: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if d.logger != nil {
		d.logger.Info("invitation code accepted",
			slog.String("email", d.email),
			slog.String("inviter", snapshot.InviterEmail))
	}
	return &snapshot, nil
}
