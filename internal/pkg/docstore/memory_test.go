package docstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestMemory_CreateJSONOnlyOnce(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	created, err := s.CreateJSON(ctx, "user:a@b.c", map[string]any{"name": "Anonymous"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatalf("expected first create to succeed")
	}

	created, err = s.CreateJSON(ctx, "user:a@b.c", map[string]any{"name": "Other"})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatalf("expected second create to be rejected")
	}

	raw, err := s.GetJSON(ctx, "user:a@b.c", "$.name")
	if err != nil {
		t.Fatalf("get name: %v", err)
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		t.Fatalf("unmarshal name: %v", err)
	}
	if name != "Anonymous" {
		t.Fatalf("expected first document to survive, got name=%q", name)
	}
}

func TestMemory_GetJSONAbsent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	raw, err := s.GetJSON(ctx, "user:missing", "$")
	if err != nil {
		t.Fatalf("get absent key: %v", err)
	}
	if raw != nil {
		t.Fatalf("expected nil for absent key, got %s", raw)
	}

	if _, err := s.CreateJSON(ctx, "user:x", map[string]any{"name": "n"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	raw, err = s.GetJSON(ctx, "user:x", "$.role")
	if err != nil {
		t.Fatalf("get absent field: %v", err)
	}
	if raw != nil {
		t.Fatalf("expected nil for absent field, got %s", raw)
	}
}

func TestMemory_AppendAndIncr(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	doc := map[string]any{"invitationCodes": []string{}, "resetChances": 0}
	if _, err := s.CreateJSON(ctx, "user:x", doc); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.AppendJSON(ctx, "user:x", "$.invitationCodes", "c1", "c2"); err != nil {
		t.Fatalf("append: %v", err)
	}
	raw, err := s.GetJSON(ctx, "user:x", "$.invitationCodes")
	if err != nil {
		t.Fatalf("get codes: %v", err)
	}
	var codes []string
	if err := json.Unmarshal(raw, &codes); err != nil {
		t.Fatalf("unmarshal codes: %v", err)
	}
	if len(codes) != 2 || codes[0] != "c1" || codes[1] != "c2" {
		t.Fatalf("unexpected codes: %v", codes)
	}

	got, err := s.IncrJSON(ctx, "user:x", "$.resetChances", 3)
	if err != nil {
		t.Fatalf("incr: %v", err)
	}
	if got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
	got, err = s.IncrJSON(ctx, "user:x", "$.resetChances", -5)
	if err != nil {
		t.Fatalf("incr negative: %v", err)
	}
	if got != -2 {
		t.Fatalf("expected -2 (no floor), got %v", got)
	}
}

func TestMemory_StringTTL(t *testing.T) {
	current := time.Now()
	s := NewMemoryWithClock(func() time.Time { return current })
	ctx := context.Background()

	if err := s.Set(ctx, "register:code:email:a@b.c", "123456", 300*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	ttl, err := s.TTL(ctx, "register:code:email:a@b.c")
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl != 300*time.Second {
		t.Fatalf("expected 300s, got %v", ttl)
	}

	current = current.Add(100 * time.Second)
	ttl, err = s.TTL(ctx, "register:code:email:a@b.c")
	if err != nil {
		t.Fatalf("ttl after advance: %v", err)
	}
	if ttl != 200*time.Second {
		t.Fatalf("expected 200s, got %v", ttl)
	}

	current = current.Add(201 * time.Second)
	val, err := s.Get(ctx, "register:code:email:a@b.c")
	if err != nil {
		t.Fatalf("get expired: %v", err)
	}
	if val != "" {
		t.Fatalf("expected expired key to be gone, got %q", val)
	}
	ttl, err = s.TTL(ctx, "register:code:email:a@b.c")
	if err != nil {
		t.Fatalf("ttl expired: %v", err)
	}
	if ttl != -2*time.Second {
		t.Fatalf("expected -2s for missing key, got %v", ttl)
	}
}

func TestMemory_DeleteCoversBothKinds(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if _, err := s.CreateJSON(ctx, "user:x", map[string]any{"name": "n"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Set(ctx, "register:code:email:x", "654321", 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	removed, err := s.Delete(ctx, "user:x")
	if err != nil || !removed {
		t.Fatalf("delete doc: removed=%v err=%v", removed, err)
	}
	removed, err = s.Delete(ctx, "register:code:email:x")
	if err != nil || !removed {
		t.Fatalf("delete string: removed=%v err=%v", removed, err)
	}
	removed, err = s.Delete(ctx, "user:x")
	if err != nil {
		t.Fatalf("delete again: %v", err)
	}
	if removed {
		t.Fatalf("expected second delete to be a no-op")
	}
}
