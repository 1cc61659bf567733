package script

import (
	"context"
	"testing"

	"racewager/native/match"
)

type recordingBroadcaster struct {
	actions []string
	raws    [][]byte
}

func (b *recordingBroadcaster) Broadcast(ctx context.Context, action string, rawTx []byte) (string, error) {
	b.actions = append(b.actions, action)
	b.raws = append(b.raws, rawTx)
	return "txid-1", nil
}

func scriptedMatch(t *testing.T, p CovenantParams, chain *ChainParams) *match.MatchContext {
	t.Helper()
	addrA, addrB := testPayoutAddresses(t, p, chain)
	scripts, err := GenerateEscrowScripts(p, chain)
	if err != nil {
		t.Fatalf("generate scripts: %v", err)
	}
	return &match.MatchContext{
		ID:     "m1",
		Status: match.StatusSettling,
		PlayerA: match.PlayerSlot{
			Address:          addrA,
			PubKey:           p.PlayerAPubKey,
			DepositTxID:      testTxIDA,
			DepositAmount:    50_000,
			DepositConfirmed: true,
			EscrowScript:     scripts.ScriptA,
			EscrowAddress:    scripts.AddressA,
		},
		PlayerB: match.PlayerSlot{
			Address:          addrB,
			PubKey:           p.PlayerBPubKey,
			DepositTxID:      testTxIDB,
			DepositAmount:    50_000,
			DepositConfirmed: true,
			EscrowScript:     scripts.ScriptB,
			EscrowAddress:    scripts.AddressB,
		},
		BetAmount:            50_000,
		Mode:                 match.ModeScript,
		CreatedAtBlock:       100,
		RefundLocktimeBlocks: 144,
	}
}

func TestBackendGenerateRequiresPubKeys(t *testing.T) {
	chain := testChain()
	p := testParams(t)
	backend := NewBackend(chain, p.OraclePubKey, 1_000, &recordingBroadcaster{})
	mc := &match.MatchContext{ID: "m1", Mode: match.ModeScript}
	if _, err := backend.Generate(mc); err == nil {
		t.Fatalf("expected error without player public keys")
	}
}

func TestBackendSettleBroadcastsValidatedPayout(t *testing.T) {
	chain := testChain()
	p := testParams(t)
	mc := scriptedMatch(t, p, chain)
	mc.WinnerAddress = mc.PlayerA.Address
	broadcaster := &recordingBroadcaster{}
	backend := NewBackend(chain, p.OraclePubKey, 1_000, broadcaster)

	outputs := []match.Output{{Address: mc.PlayerA.Address, Amount: 99_000}}
	txid, err := backend.Settle(context.Background(), mc, match.SettlementWinnerA, outputs)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if txid != "txid-1" {
		t.Fatalf("unexpected txid %q", txid)
	}
	if len(broadcaster.actions) != 1 || broadcaster.actions[0] != "settle:m1" {
		t.Fatalf("unexpected broadcast actions %v", broadcaster.actions)
	}
	if len(broadcaster.raws[0]) == 0 {
		t.Fatalf("empty raw transaction broadcast")
	}
}

func TestBackendSettleRejectsThirdPartyOutput(t *testing.T) {
	chain := testChain()
	p := testParams(t)
	mc := scriptedMatch(t, p, chain)
	mc.WinnerAddress = mc.PlayerA.Address
	broadcaster := &recordingBroadcaster{}
	backend := NewBackend(chain, p.OraclePubKey, 1_000, broadcaster)

	outputs := []match.Output{{Address: "mvNnAbCdEfGh", Amount: 99_000}}
	_, err := backend.Settle(context.Background(), mc, match.SettlementWinnerA, outputs)
	if !match.IsIntegrity(err) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	if len(broadcaster.actions) != 0 {
		t.Fatalf("rejected settlement must never broadcast")
	}
}

func TestBackendRefundBroadcastsSingleSided(t *testing.T) {
	chain := testChain()
	p := testParams(t)
	mc := scriptedMatch(t, p, chain)
	mc.Status = match.StatusDepositsPending
	broadcaster := &recordingBroadcaster{}
	backend := NewBackend(chain, p.OraclePubKey, 1_000, broadcaster)

	txid, err := backend.Refund(context.Background(), mc, mc.PlayerB.Address, 244)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if txid != "txid-1" {
		t.Fatalf("unexpected txid %q", txid)
	}
	want := "refund:m1:" + mc.PlayerB.Address
	if broadcaster.actions[0] != want {
		t.Fatalf("unexpected action %q, want %q", broadcaster.actions[0], want)
	}
}

func TestBackendRefundBlockedBeforeLocktime(t *testing.T) {
	chain := testChain()
	p := testParams(t)
	mc := scriptedMatch(t, p, chain)
	mc.Status = match.StatusDepositsPending
	backend := NewBackend(chain, p.OraclePubKey, 1_000, &recordingBroadcaster{})
	if _, err := backend.Refund(context.Background(), mc, mc.PlayerA.Address, 200); !match.IsPrecondition(err) {
		t.Fatalf("expected precondition before locktime, got %v", err)
	}
}
