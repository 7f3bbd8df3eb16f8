package lock

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newManagerAt(base time.Time) (*Manager, *time.Time) {
	m := NewManager(zerolog.Nop())
	now := base
	m.now = func() time.Time { return now }
	return m, &now
}

func TestApply_AcquireAndDeny(t *testing.T) {
	m, _ := newManagerAt(time.Unix(1700000000, 0))

	ev := m.Apply("t", OpAcquire, "voice:hub", "alice", 4000)
	if !ev.Granted || ev.State != StateHeld || ev.Owner != "alice" {
		t.Fatalf("acquire: %+v", ev)
	}
	if ev.Until == 0 {
		t.Fatal("granted lease must carry an expiry")
	}

	ev = m.Apply("t", OpAcquire, "voice:hub", "bob", 4000)
	if ev.Granted || ev.Owner != "alice" || ev.State != StateHeld {
		t.Fatalf("competing acquire must be denied with the holder: %+v", ev)
	}
}

func TestApply_RefreshExtends(t *testing.T) {
	m, now := newManagerAt(time.Unix(1700000000, 0))

	first := m.Apply("t", OpRefresh, "voice:hub", "alice", 1000)
	*now = now.Add(500 * time.Millisecond)
	second := m.Apply("t", OpRefresh, "voice:hub", "alice", 1000)
	if !second.Granted || second.Until <= first.Until {
		t.Fatalf("refresh must extend the lease: %+v then %+v", first, second)
	}
}

func TestApply_ReleaseOwnerOnly(t *testing.T) {
	m, _ := newManagerAt(time.Unix(1700000000, 0))
	m.Apply("t", OpAcquire, "voice:hub", "alice", 4000)

	// A refused release reports state free but names the surviving owner,
	// and the lease itself is untouched.
	ev := m.Apply("t", OpRelease, "voice:hub", "bob", 0)
	if ev.Granted || ev.State != StateFree || ev.Owner != "alice" {
		t.Fatalf("foreign release must be refused: %+v", ev)
	}
	if ev.Until == 0 {
		t.Fatal("refused release must report the surviving lease expiry")
	}
	if m.Holder("voice:hub") != "alice" {
		t.Fatal("lease must survive a foreign release")
	}

	ev = m.Apply("t", OpRelease, "voice:hub", "alice", 0)
	if !ev.Granted || ev.State != StateFree {
		t.Fatalf("owner release: %+v", ev)
	}
	if m.Holder("voice:hub") != "" {
		t.Fatal("lease must be gone after release")
	}
}

func TestApply_ExpiredLeaseIsReacquirable(t *testing.T) {
	m, now := newManagerAt(time.Unix(1700000000, 0))
	m.Apply("t", OpAcquire, "voice:hub", "alice", 1000)

	*now = now.Add(1001 * time.Millisecond)
	ev := m.Apply("t", OpAcquire, "voice:hub", "bob", 1000)
	if !ev.Granted || ev.Owner != "bob" {
		t.Fatalf("expired lease must be reacquirable: %+v", ev)
	}
}

func TestSweep_ReturnsFreedOwners(t *testing.T) {
	m, now := newManagerAt(time.Unix(1700000000, 0))
	m.Apply("t", OpAcquire, "voice:a", "alice", 1000)
	m.Apply("t", OpAcquire, "voice:b", "bob", 10000)

	*now = now.Add(2 * time.Second)
	freed := m.Sweep()
	if len(freed) != 1 || freed[0] != "alice" {
		t.Fatalf("freed %v, want [alice]", freed)
	}
	if m.Holder("voice:b") != "bob" {
		t.Fatal("live lease must survive the sweep")
	}
}

func TestCallback_FiresOnStateChangesOnly(t *testing.T) {
	m, _ := newManagerAt(time.Unix(1700000000, 0))

	var events []Event
	m.SetCallback(func(topic string, ev Event) {
		if topic != "t" {
			t.Fatalf("topic %q", topic)
		}
		events = append(events, ev)
	})

	m.Apply("t", OpAcquire, "voice:hub", "alice", 4000) // change
	m.Apply("t", OpAcquire, "voice:hub", "bob", 4000)   // denied, no change
	m.Apply("t", OpRelease, "voice:hub", "bob", 0)      // refused, no change
	m.Apply("t", OpRelease, "voice:hub", "alice", 0)    // change

	if len(events) != 2 {
		t.Fatalf("callback fired %d times, want 2", len(events))
	}
	if events[0].State != StateHeld || events[1].State != StateFree {
		t.Fatalf("events %+v", events)
	}
}
