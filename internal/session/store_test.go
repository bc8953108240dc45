package session

import (
	"testing"
	"time"

	"github.com/vehicast/relay/pkg/protocol"
)

func TestEnsureMintsAndReuses(t *testing.T) {
	store := NewStore(30 * time.Minute)

	id, created := store.Ensure("")
	if !created {
		t.Fatal("expected a fresh session for empty id")
	}
	if id == "" {
		t.Fatal("expected a minted session id")
	}

	again, created := store.Ensure(id)
	if created {
		t.Fatal("known session must be reused, not re-minted")
	}
	if again != id {
		t.Fatalf("expected %s, got %s", id, again)
	}
}

func TestEnsureUnknownIDMintsFresh(t *testing.T) {
	store := NewStore(30 * time.Minute)

	id, created := store.Ensure("gone-after-restart")
	if !created {
		t.Fatal("unknown session id must mint a fresh session")
	}
	if id == "gone-after-restart" {
		t.Fatal("minted id must not echo the stale one")
	}
}

func TestBeginTurnSerializesPerSession(t *testing.T) {
	store := NewStore(30 * time.Minute)
	id, _ := store.Ensure("")

	if err := store.BeginTurn(id); err != nil {
		t.Fatalf("first BeginTurn err: %v", err)
	}
	if err := store.BeginTurn(id); err != ErrTurnActive {
		t.Fatalf("expected ErrTurnActive, got %v", err)
	}

	store.EndTurn(id)
	if err := store.BeginTurn(id); err != nil {
		t.Fatalf("BeginTurn after EndTurn err: %v", err)
	}
}

func TestBeginTurnIndependentSessions(t *testing.T) {
	store := NewStore(30 * time.Minute)
	first, _ := store.Ensure("")
	second, _ := store.Ensure("")

	if err := store.BeginTurn(first); err != nil {
		t.Fatalf("BeginTurn err: %v", err)
	}
	if err := store.BeginTurn(second); err != nil {
		t.Fatalf("distinct sessions must stream concurrently: %v", err)
	}
}

func TestAppendAndHistory(t *testing.T) {
	store := NewStore(30 * time.Minute)
	id, _ := store.Ensure("")

	if err := store.AppendTurn(id, protocol.Turn{Role: protocol.RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("AppendTurn err: %v", err)
	}
	if err := store.AppendTurn(id, protocol.Turn{Role: protocol.RoleAssistant, Content: "hi there"}); err != nil {
		t.Fatalf("AppendTurn err: %v", err)
	}

	history, err := store.History(id)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(history))
	}

	// Mutating the returned slice must not leak into the store.
	history[0].Content = "tampered"
	fresh, _ := store.History(id)
	if fresh[0].Content != "hello" {
		t.Fatal("History must return a copy")
	}
}

func TestReplaceHistoryDropsInvalidRoles(t *testing.T) {
	store := NewStore(30 * time.Minute)
	id, _ := store.Ensure("")

	err := store.ReplaceHistory(id, []protocol.Turn{
		{Role: protocol.RoleUser, Content: "q"},
		{Role: "system", Content: "injected"},
		{Role: protocol.RoleAssistant, Content: "a"},
	})
	if err != nil {
		t.Fatalf("ReplaceHistory err: %v", err)
	}

	history, _ := store.History(id)
	if len(history) != 2 {
		t.Fatalf("expected invalid role dropped, got %d turns", len(history))
	}
}

func TestSweepEvictsIdleKeepsActive(t *testing.T) {
	store := NewStore(10 * time.Minute)

	current := time.Now()
	store.now = func() time.Time { return current }

	idle, _ := store.Ensure("")
	busy, _ := store.Ensure("")
	if err := store.BeginTurn(busy); err != nil {
		t.Fatalf("BeginTurn err: %v", err)
	}

	current = current.Add(11 * time.Minute)
	if evicted := store.Sweep(); evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}

	if _, err := store.History(idle); err != ErrSessionNotFound {
		t.Fatalf("idle session should be gone, got %v", err)
	}
	if _, err := store.History(busy); err != nil {
		t.Fatalf("in-flight session must survive the sweep: %v", err)
	}
}

func TestTurnOpsOnUnknownSession(t *testing.T) {
	store := NewStore(time.Minute)

	if err := store.BeginTurn("missing"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := store.AppendTurn("missing", protocol.Turn{Role: protocol.RoleUser, Content: "x"}); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
