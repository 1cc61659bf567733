package matchstore

import (
	"errors"
	"sync"
	"testing"

	"racewager/native/match"
	"racewager/storage"
)

type recordingArchiver struct {
	mu       sync.Mutex
	archived []string
}

func (a *recordingArchiver) Archive(mc *match.MatchContext) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, mc.ID)
	return nil
}

func storedMatch(t *testing.T, id string) *match.MatchContext {
	t.Helper()
	mc, err := match.NewMatchContext(match.CreateParams{
		ID:                   id,
		PlayerAAddress:       "race1aaaa",
		BetAmount:            50_000,
		Mode:                 match.ModeScript,
		CreatedAtBlock:       100,
		RefundLocktimeBlocks: 144,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return mc
}

func TestPutGetRoundTrip(t *testing.T) {
	store := New(storage.NewMemDB(), nil)
	mc := storedMatch(t, "m1")
	if err := store.Put(mc); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Get("m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "m1" || got.Status != match.StatusWaitingForOpponent {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.BetAmount != 50_000 {
		t.Fatalf("bet amount lost: %d", got.BetAmount)
	}
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	store := New(storage.NewMemDB(), nil)
	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTerminalRecordIsImmutable(t *testing.T) {
	store := New(storage.NewMemDB(), nil)
	mc := storedMatch(t, "m1")
	mc.Status = match.StatusCancelled
	if err := store.Put(mc); err != nil {
		t.Fatalf("put terminal: %v", err)
	}
	mc.BetAmount = 1
	if err := store.Put(mc); err == nil {
		t.Fatalf("expected rejection writing over a terminal record")
	}
}

func TestTerminalRecordIsArchived(t *testing.T) {
	arch := &recordingArchiver{}
	store := New(storage.NewMemDB(), arch)
	mc := storedMatch(t, "m1")
	if err := store.Put(mc); err != nil {
		t.Fatalf("put active: %v", err)
	}
	if len(arch.archived) != 0 {
		t.Fatalf("active record must not be archived")
	}
	mc.Status = match.StatusCancelled
	if err := store.Put(mc); err != nil {
		t.Fatalf("put terminal: %v", err)
	}
	if len(arch.archived) != 1 || arch.archived[0] != "m1" {
		t.Fatalf("terminal record not archived: %v", arch.archived)
	}
}

func TestLockSerializesWriters(t *testing.T) {
	store := New(storage.NewMemDB(), nil)
	mc := storedMatch(t, "m1")
	mc = mustTransition(t, mc, match.ActionJoin, match.TransitionParams{Address: "race1bbbb"})
	mc = mustTransition(t, mc, match.ActionDepositA, match.TransitionParams{TxID: "txa", Amount: 50_000})
	mc = mustTransition(t, mc, match.ActionDepositB, match.TransitionParams{TxID: "txb", Amount: 50_000})
	if err := store.Put(mc); err != nil {
		t.Fatalf("seed: %v", err)
	}

	confirm := func(action match.Action) {
		unlock := store.Lock("m1")
		defer unlock()
		current, err := store.Get("m1")
		if err != nil {
			t.Errorf("get under lock: %v", err)
			return
		}
		next, err := match.Transition(current, action, match.TransitionParams{})
		if err != nil {
			t.Errorf("transition %s: %v", action, err)
			return
		}
		if err := store.Put(next); err != nil {
			t.Errorf("put under lock: %v", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); confirm(match.ActionConfirmDepositA) }()
	go func() { defer wg.Done(); confirm(match.ActionConfirmDepositB) }()
	wg.Wait()

	final, err := store.Get("m1")
	if err != nil {
		t.Fatalf("final get: %v", err)
	}
	if final.Status != match.StatusDepositsConfirmed {
		t.Fatalf("concurrent confirmations must converge on deposits_confirmed, got %s", final.Status)
	}
}

func mustTransition(t *testing.T, mc *match.MatchContext, action match.Action, p match.TransitionParams) *match.MatchContext {
	t.Helper()
	next, err := match.Transition(mc, action, p)
	if err != nil {
		t.Fatalf("transition %s: %v", action, err)
	}
	return next
}
