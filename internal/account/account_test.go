package account

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"accounthub/internal/pkg/docstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readField(t *testing.T, store docstore.Store, key, field string, out any) {
	t.Helper()
	raw, err := store.GetJSON(context.Background(), key, docstore.FieldPath(field))
	if err != nil {
		t.Fatalf("read %s: %v", field, err)
	}
	if raw == nil {
		t.Fatalf("field %s missing", field)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("unmarshal %s: %v", field, err)
	}
}

func TestFromRegistration_SecondCallRejected(t *testing.T) {
	store := docstore.NewMemory()
	ctx := context.Background()

	d, err := FromRegistration(ctx, store, testLogger(), "User@Example.COM ", "secret", nil)
	if err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if d == nil {
		t.Fatalf("expected first registration to succeed")
	}
	if d.Email() != "user@example.com" {
		t.Fatalf("expected normalized email, got %q", d.Email())
	}

	dup, err := FromRegistration(ctx, store, testLogger(), "user@example.com", "other", map[string]any{"name": "Mallory"})
	if err != nil {
		t.Fatalf("second registration: %v", err)
	}
	if dup != nil {
		t.Fatalf("expected second registration to be rejected")
	}

	var name string
	readField(t, store, userKey("user@example.com"), "name", &name)
	if name != "Anonymous" {
		t.Fatalf("first record was altered: name=%q", name)
	}
	ok, err := d.Login(ctx, "secret")
	if err != nil || !ok {
		t.Fatalf("original password no longer valid: ok=%v err=%v", ok, err)
	}
}

func TestFromRegistration_ExtraOverridesDefaults(t *testing.T) {
	store := docstore.NewMemory()
	ctx := context.Background()

	d, err := FromRegistration(ctx, store, testLogger(), "a@b.c", "pw", map[string]any{
		"name":    "Alice",
		"planNow": "Pro",
	})
	if err != nil || d == nil {
		t.Fatalf("registration: d=%v err=%v", d, err)
	}

	var name string
	readField(t, store, userKey("a@b.c"), "name", &name)
	if name != "Alice" {
		t.Fatalf("expected override name, got %q", name)
	}
	plan, err := d.Plan(ctx)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan != "Pro" {
		t.Fatalf("expected Pro, got %q", plan)
	}
}

func TestLogin_UpdatesLastLoginAt(t *testing.T) {
	store := docstore.NewMemory()
	ctx := context.Background()

	d, err := FromRegistration(ctx, store, testLogger(), "a@b.c", " secret ", nil)
	if err != nil || d == nil {
		t.Fatalf("registration: d=%v err=%v", d, err)
	}

	before := time.Now().UnixMilli()
	// 密码比较基于去除首尾空白后的输入。
	ok, err := d.Login(ctx, "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !ok {
		t.Fatalf("expected login to succeed")
	}

	var lastLogin int64
	readField(t, store, userKey("a@b.c"), "lastLoginAt", &lastLogin)
	if lastLogin < before {
		t.Fatalf("lastLoginAt not updated: %d < %d", lastLogin, before)
	}
}

func TestLogin_WrongPasswordNoSideEffects(t *testing.T) {
	store := docstore.NewMemory()
	ctx := context.Background()

	d, err := FromRegistration(ctx, store, testLogger(), "a@b.c", "secret", nil)
	if err != nil || d == nil {
		t.Fatalf("registration: d=%v err=%v", d, err)
	}
	var beforeLogin int64
	readField(t, store, userKey("a@b.c"), "lastLoginAt", &beforeLogin)

	ok, err := d.Login(ctx, "wrong")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if ok {
		t.Fatalf("expected login to fail")
	}

	var afterLogin int64
	readField(t, store, userKey("a@b.c"), "lastLoginAt", &afterLogin)
	if afterLogin != beforeLogin {
		t.Fatalf("lastLoginAt changed on failed login: %d -> %d", beforeLogin, afterLogin)
	}
}

func TestLogin_AbsentAccount(t *testing.T) {
	store := docstore.NewMemory()
	d := New(store, testLogger(), "ghost@b.c")

	ok, err := d.Login(context.Background(), "whatever")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if ok {
		t.Fatalf("expected login against absent account to fail")
	}
}

func TestPlan_Precedence(t *testing.T) {
	store := docstore.NewMemory()
	ctx := context.Background()

	cases := []struct {
		name  string
		extra map[string]any
		want  string
	}{
		{"role wins", map[string]any{"role": "admin", "planNow": "Pro"}, "admin"},
		{"planNow fallback", map[string]any{"planNow": "Pro"}, "Pro"},
		{"default", nil, "Free"},
	}
	for i, tc := range cases {
		email := "plan" + string(rune('a'+i)) + "@b.c"
		d, err := FromRegistration(ctx, store, testLogger(), email, "pw", tc.extra)
		if err != nil || d == nil {
			t.Fatalf("%s: registration: d=%v err=%v", tc.name, d, err)
		}
		plan, err := d.Plan(ctx)
		if err != nil {
			t.Fatalf("%s: plan: %v", tc.name, err)
		}
		if plan != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, plan)
		}
	}
}

func TestAddResetChances_NoFloor(t *testing.T) {
	store := docstore.NewMemory()
	ctx := context.Background()

	d, err := FromRegistration(ctx, store, testLogger(), "a@b.c", "pw", nil)
	if err != nil || d == nil {
		t.Fatalf("registration: d=%v err=%v", d, err)
	}

	got, err := d.AddResetChances(ctx, 2)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	got, err = d.AddResetChances(ctx, -5)
	if err != nil {
		t.Fatalf("subtract: %v", err)
	}
	if got != -3 {
		t.Fatalf("expected -3 (no floor), got %d", got)
	}
}

func TestDelete_NoCascade(t *testing.T) {
	store := docstore.NewMemory()
	ctx := context.Background()

	d, err := FromRegistration(ctx, store, testLogger(), "a@b.c", "pw", nil)
	if err != nil || d == nil {
		t.Fatalf("registration: d=%v err=%v", d, err)
	}
	code, err := d.NewInvitationCode(ctx, "referral")
	if err != nil {
		t.Fatalf("invitation: %v", err)
	}

	removed, err := d.Delete(ctx)
	if err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
	exists, err := d.Exists(ctx)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatalf("expected account to be gone")
	}

	// 邀请码文档有独立生命周期，不随账户级联删除。
	ok, err := store.Exists(ctx, invitationKey(code))
	if err != nil || !ok {
		t.Fatalf("invitation doc should survive: ok=%v err=%v", ok, err)
	}

	removed, err = d.Delete(ctx)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if removed {
		t.Fatalf("expected second delete to be a no-op")
	}
}
