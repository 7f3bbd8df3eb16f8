package router

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ssd-technologies/glyphnet/internal/bus"
	"github.com/ssd-technologies/glyphnet/internal/gip"
	"github.com/ssd-technologies/glyphnet/internal/gwip"
	"github.com/ssd-technologies/glyphnet/internal/qkd"
)

func testPacket(t *testing.T, meta map[string]any) *gip.Packet {
	t.Helper()
	p, err := gip.Create(map[string]any{"glyphs": []any{"⊕"}}, "alice", "bob", gip.CreateOptions{Metadata: meta})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return p
}

func TestDispatch_NamedTransport(t *testing.T) {
	r := New(nil, nil, zerolog.Nop())
	called := ""
	r.Register("local", func(ctx context.Context, p *gip.Packet, opts Options) bool {
		called = "local"
		return true
	})

	ok, err := r.Dispatch(context.Background(), testPacket(t, nil), "local", Options{})
	if err != nil || !ok {
		t.Fatalf("dispatch: %v %v", ok, err)
	}
	if called != "local" {
		t.Fatal("named transport not invoked")
	}

	if _, err := r.Dispatch(context.Background(), testPacket(t, nil), "missing", Options{}); err == nil {
		t.Fatal("unknown transport must error")
	}
}

func TestDispatch_FallbackOrder(t *testing.T) {
	r := New(nil, nil, zerolog.Nop())
	var tried []string
	decline := func(name string) Handler {
		return func(ctx context.Context, p *gip.Packet, opts Options) bool {
			tried = append(tried, name)
			return false
		}
	}
	r.Register("gwave", decline("gwave"))
	r.Register("tcp", decline("tcp"))
	r.Register("local", func(ctx context.Context, p *gip.Packet, opts Options) bool {
		tried = append(tried, "local")
		return true
	})

	ok, err := r.Dispatch(context.Background(), testPacket(t, nil), "", Options{})
	if err != nil || !ok {
		t.Fatalf("dispatch: %v %v", ok, err)
	}
	want := []string{"gwave", "tcp", "local"}
	if len(tried) != len(want) {
		t.Fatalf("tried %v", tried)
	}
	for i := range want {
		if tried[i] != want[i] {
			t.Fatalf("tried %v, want %v", tried, want)
		}
	}
}

func TestDispatch_QKDGateBlocks(t *testing.T) {
	enforcer := qkd.NewEnforcer(qkd.NewHandshake(zerolog.Nop()), qkd.NewStore(), zerolog.Nop())
	r := New(enforcer, nil, zerolog.Nop())
	reached := false
	r.Register("local", func(ctx context.Context, p *gip.Packet, opts Options) bool {
		reached = true
		return true
	})

	p := testPacket(t, map[string]any{"qkd_required": true})
	ok, err := r.Dispatch(context.Background(), p, "local", Options{})
	if ok || !errors.Is(err, qkd.ErrQKDViolation) {
		t.Fatalf("got (%v, %v), want qkd violation", ok, err)
	}
	if reached {
		t.Fatal("transport must not run after a qkd rejection")
	}
}

func TestDispatch_QKDGatePassesWithVerifiedKey(t *testing.T) {
	hs := qkd.NewHandshake(zerolog.Nop())
	enforcer := qkd.NewEnforcer(hs, qkd.NewStore(), zerolog.Nop())
	r := New(enforcer, nil, zerolog.Nop())
	r.Register("local", func(ctx context.Context, p *gip.Packet, opts Options) bool { return true })

	gkey := hs.Initiate("wave-1", "alice->bob", 0.4)
	if !hs.Verify(gkey, 0.4, "alice->bob") {
		t.Fatal("self-verify failed")
	}

	p := testPacket(t, map[string]any{"qkd_required": true})
	ok, err := r.Dispatch(context.Background(), p, "local", Options{GKey: gkey})
	if err != nil || !ok {
		t.Fatalf("dispatch: %v %v", ok, err)
	}
}

func TestBeaconBuffer_FlushOnPresence(t *testing.T) {
	presence := NewTracker()
	b := NewBeaconBuffer(presence, zerolog.Nop())

	p := testPacket(t, nil)
	b.Park(p, Options{})
	if b.Pending("bob") != 1 {
		t.Fatalf("pending %d", b.Pending("bob"))
	}

	delivered := 0
	deliver := func(ctx context.Context, p *gip.Packet, opts Options) bool {
		delivered++
		return true
	}

	if n := b.Flush(context.Background(), deliver); n != 0 {
		t.Fatalf("flushed %d while target offline", n)
	}

	presence.MarkOnline("bob")
	if n := b.Flush(context.Background(), deliver); n != 1 {
		t.Fatalf("flushed %d, want 1", n)
	}
	if delivered != 1 || b.Pending("bob") != 0 {
		t.Fatalf("delivered %d, pending %d", delivered, b.Pending("bob"))
	}
}

func TestBeaconBuffer_FailedFlushReparks(t *testing.T) {
	presence := NewTracker()
	presence.MarkOnline("bob")
	b := NewBeaconBuffer(presence, zerolog.Nop())
	b.Park(testPacket(t, nil), Options{})

	fail := func(ctx context.Context, p *gip.Packet, opts Options) bool { return false }
	if n := b.Flush(context.Background(), fail); n != 0 {
		t.Fatalf("flushed %d", n)
	}
	if b.Pending("bob") != 1 {
		t.Fatal("failed delivery must stay parked")
	}
}

func TestRadioCoder_SurvivesTwoLostShards(t *testing.T) {
	c, err := NewRadioCoder()
	if err != nil {
		t.Fatalf("coder: %v", err)
	}
	payload := bytes.Repeat([]byte("glyphnet radio frame "), 40)

	frames, err := c.Shard("p1", payload)
	if err != nil {
		t.Fatalf("shard: %v", err)
	}
	if len(frames) != radioDataShards+radioParityShards {
		t.Fatalf("%d frames", len(frames))
	}

	// Drop two shards, shuffle the rest.
	survivors := []RadioFrame{frames[5], frames[0], frames[3], frames[2]}
	got, err := c.Reassemble(survivors)
	if err != nil {
		t.Fatalf("reassemble: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload corrupted through shard loss")
	}

	// Three lost shards is past the parity budget.
	if _, err := c.Reassemble(frames[:3]); err == nil {
		t.Fatal("three missing shards must fail")
	}
}

func TestTransports_LocalPublishes(t *testing.T) {
	b := bus.New(zerolog.Nop())
	tr := NewTransports(b, nil, nil, nil, nil, nil, nil, zerolog.Nop())
	sub := b.Subscribe("gnet:bob")

	p := testPacket(t, nil)
	if !tr.Local(context.Background(), p, Options{}) {
		t.Fatal("local transport must accept")
	}
	env := <-sub.C
	if env.ID != p.ID || env.Op != "glyph_push" || env.Recipient != "bob" {
		t.Fatalf("envelope %+v", env)
	}
	if env.Capsule["glyphs"].([]any)[0] != "⊕" {
		t.Fatal("capsule lost")
	}
}

func TestTransports_GWaveCarrierFollowsQKDMode(t *testing.T) {
	b := bus.New(zerolog.Nop())
	codec := gwip.NewCodec(nil, nil, zerolog.Nop())
	tr := NewTransports(b, codec, nil, nil, nil, nil, nil, zerolog.Nop())
	sub := b.Subscribe("gnet:bob")

	carrierOf := func(p *gip.Packet) string {
		t.Helper()
		if !tr.GWave(context.Background(), p, Options{}) {
			t.Fatal("gwave must accept")
		}
		env := <-sub.C
		hdr, ok := env.Capsule["envelope"].(map[string]any)
		if !ok {
			t.Fatalf("capsule %v", env.Capsule)
		}
		carrier, _ := hdr["carrier_type"].(string)
		return carrier
	}

	// Disabled and junk flag values are not qkd requests.
	for _, v := range []any{"false", false, "0"} {
		if got := carrierOf(testPacket(t, map[string]any{"qkd_required": v})); got == gwip.CarrierQuantum {
			t.Fatalf("qkd_required=%v selected the quantum carrier", v)
		}
	}

	if got := carrierOf(testPacket(t, map[string]any{"qkd_required": true})); got != gwip.CarrierQuantum {
		t.Fatalf("qkd traffic rode %q, want %q", got, gwip.CarrierQuantum)
	}
}

func TestTransports_BeaconRequiresOptIn(t *testing.T) {
	presence := NewTracker()
	b := NewBeaconBuffer(presence, zerolog.Nop())
	tr := NewTransports(nil, nil, nil, nil, b, nil, nil, zerolog.Nop())

	if tr.BeaconPark(context.Background(), testPacket(t, nil), Options{}) {
		t.Fatal("beacon must decline packets without the opt-in flag")
	}
	if !tr.BeaconPark(context.Background(), testPacket(t, map[string]any{"beacon": true}), Options{}) {
		t.Fatal("opted-in packet must park")
	}
	if b.Pending("bob") != 1 {
		t.Fatal("packet not parked")
	}
}

func TestTransports_RadioRoundTrip(t *testing.T) {
	coder, err := NewRadioCoder()
	if err != nil {
		t.Fatalf("coder: %v", err)
	}
	air := NewAirLog()
	tr := NewTransports(nil, nil, nil, nil, nil, coder, air, zerolog.Nop())

	if tr.RadioTx(context.Background(), testPacket(t, nil), Options{}) {
		t.Fatal("radio must decline packets without the opt-in flag")
	}

	p := testPacket(t, map[string]any{"radio": true})
	if !tr.RadioTx(context.Background(), p, Options{}) {
		t.Fatal("radio must accept")
	}

	frames := air.Receive(p.ID)
	raw, err := coder.Reassemble(frames)
	if err != nil {
		t.Fatalf("reassemble: %v", err)
	}
	got, err := gip.Decode(string(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != p.ID {
		t.Fatal("packet corrupted over the air")
	}
}
