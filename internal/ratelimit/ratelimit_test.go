package ratelimit

import (
	"testing"
	"time"
)

func TestTable_AllowsUpToBudget(t *testing.T) {
	tab := NewTable(5, time.Minute)
	for i := 0; i < 5; i++ {
		if !tab.Allow("agent") {
			t.Fatalf("frame %d must be admitted", i+1)
		}
	}
	if tab.Allow("agent") {
		t.Fatal("frame past the budget must be refused")
	}
	if tab.Remaining("agent") != 0 {
		t.Fatalf("remaining %d, want 0", tab.Remaining("agent"))
	}
}

func TestTable_WindowRollsOver(t *testing.T) {
	tab := NewTable(2, time.Minute)
	now := time.Unix(1700000000, 0)
	tab.now = func() time.Time { return now }

	tab.Allow("agent")
	tab.Allow("agent")
	if tab.Allow("agent") {
		t.Fatal("third frame must be refused")
	}

	now = now.Add(61 * time.Second)
	if !tab.Allow("agent") {
		t.Fatal("fresh window must admit")
	}
	if tab.Remaining("agent") != 1 {
		t.Fatalf("remaining %d, want 1", tab.Remaining("agent"))
	}
}

func TestTable_IsolatesClients(t *testing.T) {
	tab := NewTable(2, time.Minute)

	tab.Allow("10.0.0.1:4001")
	tab.Allow("10.0.0.1:4001")
	if tab.Allow("10.0.0.1:4001") {
		t.Fatal("exhausted client must be refused")
	}
	if !tab.Allow("10.0.0.2:4002") {
		t.Fatal("one client's spend must not starve another")
	}
	if tab.Len() != 2 {
		t.Fatalf("len %d, want 2", tab.Len())
	}
}

func TestTable_PrunesIdleClients(t *testing.T) {
	tab := NewTable(10, time.Minute)
	now := time.Unix(1700000000, 0)
	tab.now = func() time.Time { return now }

	tab.Allow("stale")
	now = now.Add(3 * time.Minute)
	tab.Allow("live")
	if tab.Len() != 1 {
		t.Fatalf("len %d, want 1 after pruning the idle client", tab.Len())
	}
	if !tab.Allow("stale") {
		t.Fatal("a pruned client must come back with a fresh window")
	}
}
