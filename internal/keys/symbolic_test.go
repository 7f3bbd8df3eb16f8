package keys

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fixedEntropy(s string) *string { return &s }

func TestDerive_Deterministic(t *testing.T) {
	d := NewDeriver(zerolog.Nop())
	opts := DeriveOpts{NoSalt: true, FixedEntropy: fixedEntropy("E0"), Seed: "phrase"}

	k1 := d.Derive(0.7, 0.5, 1700000000, opts)
	k2 := d.Derive(0.7, 0.5, 1700000000, opts)
	if k1 == nil || k2 == nil {
		t.Fatal("derivation returned nil")
	}
	if len(k1) != 32 {
		t.Fatalf("key length %d, want 32", len(k1))
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("same inputs must derive the same key")
	}
}

func TestDerive_InputsChangeKey(t *testing.T) {
	d := NewDeriver(zerolog.Nop())
	base := DeriveOpts{NoSalt: true, FixedEntropy: fixedEntropy("E0")}

	k1 := d.Derive(0.7, 0.5, 1700000000, base)
	k2 := d.Derive(0.8, 0.5, 1700000000, base)
	k3 := d.Derive(0.7, 0.5, 1700000000, DeriveOpts{NoSalt: true, FixedEntropy: fixedEntropy("E1")})

	if bytes.Equal(k1, k2) {
		t.Fatal("trust change must change the key")
	}
	if bytes.Equal(k1, k3) {
		t.Fatal("entropy change must change the key")
	}
}

func TestDerive_SaltedKeysDiffer(t *testing.T) {
	d := NewDeriver(zerolog.Nop())
	opts := DeriveOpts{FixedEntropy: fixedEntropy("E0")}

	k1 := d.Derive(0.7, 0.5, 1700000000, opts)
	k2 := d.Derive(0.7, 0.5, 1700000000, opts)
	if bytes.Equal(k1, k2) {
		t.Fatal("salted derivations must not repeat")
	}
}

func TestVerify(t *testing.T) {
	d := NewDeriver(zerolog.Nop())
	opts := DeriveOpts{NoSalt: true, FixedEntropy: fixedEntropy("E0")}

	key := d.Derive(0.5, 0.5, 1700000000, opts)
	if !d.Verify(key, 0.5, 0.5, 1700000000, opts) {
		t.Fatal("matching key rejected")
	}
	if d.Verify(key, 0.5, 0.5, 1700000001, opts) {
		t.Fatal("different timestamp accepted")
	}
}

func TestDerive_LockoutAfterMaxAttempts(t *testing.T) {
	d := NewDeriver(zerolog.Nop())
	now := time.Unix(1700000000, 0)
	d.now = func() time.Time { return now }

	opts := DeriveOpts{Identity: "alice", NoSalt: true, FixedEntropy: fixedEntropy("E0")}

	for i := 0; i < MaxAttempts; i++ {
		if key := d.Derive(math.NaN(), 0.5, 1700000000, opts); key != nil {
			t.Fatalf("attempt %d: malformed input must fail", i)
		}
	}

	// Valid inputs inside the lockout window still fail.
	if key := d.Derive(0.5, 0.5, 1700000000, opts); key != nil {
		t.Fatal("locked-out identity must get nil")
	}

	// After the lockout expires, derivation recovers.
	now = now.Add(DefaultLockout + time.Second)
	if key := d.Derive(0.5, 0.5, 1700000000, opts); key == nil {
		t.Fatal("lockout should have expired")
	}
}

func TestDerive_SuccessClearsAttempts(t *testing.T) {
	d := NewDeriver(zerolog.Nop())
	opts := DeriveOpts{Identity: "bob", NoSalt: true, FixedEntropy: fixedEntropy("E0")}

	for i := 0; i < MaxAttempts-1; i++ {
		d.Derive(math.Inf(1), 0.5, 1700000000, opts)
	}
	if key := d.Derive(0.5, 0.5, 1700000000, opts); key == nil {
		t.Fatal("valid derive below the threshold must succeed")
	}

	// Counter was reset: another run of failures is needed to lock out.
	for i := 0; i < MaxAttempts-1; i++ {
		d.Derive(math.Inf(1), 0.5, 1700000000, opts)
	}
	if key := d.Derive(0.5, 0.5, 1700000000, opts); key == nil {
		t.Fatal("identity should not be locked out yet")
	}
}
