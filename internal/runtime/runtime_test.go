package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ssd-technologies/glyphnet/internal/gip"
	"github.com/ssd-technologies/glyphnet/internal/router"
)

func newRuntime(t *testing.T, mutate func(*Config)) *Runtime {
	t.Helper()
	cfg := DefaultConfig()
	dir := t.TempDir()
	cfg.ThreadLogDB = filepath.Join(dir, "thread.db")
	cfg.KeysDir = filepath.Join(dir, "keys")
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestHandleTx_CapsulePublishAndDedup(t *testing.T) {
	r := newRuntime(t, nil)
	sub := r.Bus.Subscribe("gnet:ucs://local/hub")

	req := TxRequest{
		Recipient: "ucs://local/hub",
		Capsule:   map[string]any{"glyphs": []any{"⊕", "↔"}},
	}
	res, err := r.HandleTx(context.Background(), req)
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if res.Kind != "capsule" || res.Duplicate || res.Delivered != 1 {
		t.Fatalf("result %+v", res)
	}
	if !strings.HasPrefix(res.MsgID, "msg_") {
		t.Fatalf("msg id %q", res.MsgID)
	}
	env := <-sub.C
	if env.ID != res.MsgID {
		t.Fatal("bus envelope id must be the canonical msg id")
	}

	// Identical capsule within the dedup TTL.
	res2, err := r.HandleTx(context.Background(), req)
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if !res2.Duplicate || res2.Delivered != 0 || res2.MsgID != res.MsgID {
		t.Fatalf("result %+v", res2)
	}

	events, err := r.Thread("gnet:ucs://local/hub", "", 10)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("logged %d events, want 1 (duplicate not logged)", len(events))
	}
}

func TestHandleTx_SizeBoundaries(t *testing.T) {
	r := newRuntime(t, func(c *Config) { c.MaxGlyphs = 4; c.MaxTextLen = 8 })

	atCap := make([]any, 4)
	for i := range atCap {
		atCap[i] = "⊕"
	}
	if _, err := r.HandleTx(context.Background(), TxRequest{Recipient: "a", Capsule: map[string]any{"glyphs": atCap}}); err != nil {
		t.Fatalf("payload at cap rejected: %v", err)
	}

	over := append(atCap, "⊕")
	_, err := r.HandleTx(context.Background(), TxRequest{Recipient: "b", Capsule: map[string]any{"glyphs": over}})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("got %v, want ErrTooLarge", err)
	}

	if _, err := r.HandleTx(context.Background(), TxRequest{Recipient: "c", Capsule: map[string]any{"text": "12345678"}}); err != nil {
		t.Fatalf("text at cap rejected: %v", err)
	}
	_, err = r.HandleTx(context.Background(), TxRequest{Recipient: "d", Capsule: map[string]any{"text": "123456789"}})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("got %v, want ErrTooLarge", err)
	}
}

func TestHandleTx_LockCapsule(t *testing.T) {
	r := newRuntime(t, nil)
	sub := r.Bus.Subscribe("gnet:hub")

	res, err := r.HandleTx(context.Background(), TxRequest{
		Recipient: "hub",
		Capsule: map[string]any{
			"type": "entanglement_lock", "op": "acquire",
			"resource": "voice:room1", "owner": "alice", "ttl_ms": 4000.0,
		},
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if res.Kind != "lock" || res.Lock == nil || !res.Lock.Granted {
		t.Fatalf("result %+v", res)
	}

	// The state change is broadcast on the topic.
	env := <-sub.C
	if env.Op != "entanglement_lock" || env.Capsule["resource"] != "voice:room1" {
		t.Fatalf("broadcast %+v", env)
	}

	// Competing acquire is denied and not broadcast.
	res2, err := r.HandleTx(context.Background(), TxRequest{
		Recipient: "hub",
		Capsule: map[string]any{
			"type": "entanglement_lock", "op": "acquire",
			"resource": "voice:room1", "owner": "bob",
		},
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if res2.Lock.Granted || res2.Lock.Owner != "alice" {
		t.Fatalf("lock %+v", res2.Lock)
	}
}

func TestHandleTx_VoiceFrame(t *testing.T) {
	r := newRuntime(t, nil)

	frame := map[string]any{
		"type": "voice_frame", "channel": "room1", "seq": 1.0,
		"ts": 1000.0, "mime": "audio/opus", "data_b64": "QUJD",
	}
	res, err := r.HandleTx(context.Background(), TxRequest{Recipient: "hub", Capsule: frame})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if res.Kind != "voice" {
		t.Fatalf("kind %q", res.Kind)
	}
	if r.Locks.Holder("voice:room1") != "room1" {
		t.Fatal("voice frame must soft-acquire the channel floor")
	}

	// Missing mime.
	bad := map[string]any{"type": "voice_frame", "channel": "room1", "seq": 1.0, "ts": 1000.0, "data_b64": "QUJD"}
	if _, err := r.HandleTx(context.Background(), TxRequest{Recipient: "hub", Capsule: bad}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestHandleTx_InvalidInput(t *testing.T) {
	r := newRuntime(t, nil)

	if _, err := r.HandleTx(context.Background(), TxRequest{Capsule: map[string]any{}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing recipient: %v", err)
	}
	if _, err := r.HandleTx(context.Background(), TxRequest{Recipient: "hub"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing capsule: %v", err)
	}
}

func TestHandleTx_ProductionACL(t *testing.T) {
	r := newRuntime(t, func(c *Config) {
		c.Env = "production"
		c.StrictProdACL = true
		c.AllowPrefixes = []string{"ucs://local/"}
	})

	if _, err := r.HandleTx(context.Background(), TxRequest{
		Recipient: "ucs://local/hub",
		Capsule:   map[string]any{"glyphs": []any{"⊕"}},
	}); err != nil {
		t.Fatalf("allowed recipient: %v", err)
	}

	_, err := r.HandleTx(context.Background(), TxRequest{
		Recipient: "ucs://remote/agent",
		Capsule:   map[string]any{"glyphs": []any{"⊕"}},
	})
	if !errors.Is(err, router.ErrForbidden) {
		t.Fatalf("got %v, want ErrForbidden", err)
	}
}

func TestHandlePush_AutoRoutesToBus(t *testing.T) {
	r := newRuntime(t, func(c *Config) { c.GWEnabled = false })
	sub := r.Bus.Subscribe("gnet:bob")

	p, err := gip.Create(map[string]any{"glyphs": []any{"⊕"}}, "alice", "bob", gip.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := r.HandlePush(context.Background(), p)
	if err != nil || !ok {
		t.Fatalf("push: %v %v", ok, err)
	}
	env := <-sub.C
	if env.ID != p.ID {
		t.Fatalf("envelope %+v", env)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("MAX_GLYPHS", "128")
	t.Setenv("GLYPHNET_ALLOW_DEV_TOKEN", "yes")
	t.Setenv("GLYPHNET_ALLOW_RECIPIENT_PREFIXES", "ucs://a/,ucs://b/")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Production() || cfg.MaxGlyphs != 128 || !cfg.AllowDevToken {
		t.Fatalf("cfg %+v", cfg)
	}
	if len(cfg.AllowPrefixes) != 2 || cfg.AllowPrefixes[1] != "ucs://b/" {
		t.Fatalf("prefixes %v", cfg.AllowPrefixes)
	}
	if cfg.MaxTextLen != 200000 {
		t.Fatal("untouched defaults must survive")
	}
}
