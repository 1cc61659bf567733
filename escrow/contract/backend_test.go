package contract

import (
	"context"
	"math/big"
	"testing"

	"racewager/crypto"
	"racewager/native/match"
)

func bech32Addr(fill byte) string {
	addr := newTestAddress(fill)
	return crypto.NewAddress(crypto.RacePrefix, addr[:]).String()
}

func contractMatch(t *testing.T) *match.MatchContext {
	t.Helper()
	return &match.MatchContext{
		ID:     "m1",
		Status: match.StatusSettling,
		PlayerA: match.PlayerSlot{
			Address:          bech32Addr(0xA1),
			DepositTxID:      "deposit-a",
			DepositAmount:    5_000,
			DepositConfirmed: true,
		},
		PlayerB: match.PlayerSlot{
			Address:          bech32Addr(0xB1),
			DepositTxID:      "deposit-b",
			DepositAmount:    5_000,
			DepositConfirmed: true,
		},
		BetAmount:            5_000,
		Mode:                 match.ModeContract,
		CreatedAtBlock:       100,
		RefundLocktimeBlocks: 144,
	}
}

// fundedBackendFixture drives the engine through the backend's own calls: the
// fixture players decode to the same bytes as the bech32 record addresses.
// The engine clock is the chain height, matching the record's creation block.
func fundedBackendFixture(t *testing.T, mc *match.MatchContext) (*Backend, *testFixture) {
	t.Helper()
	f := newFixture(t)
	f.engine.SetNowFunc(func() int64 { return 100 })
	backend := NewBackend(f.engine, f.arbiter, 100)
	if _, err := backend.Generate(mc); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := backend.CollectDeposit(context.Background(), mc, match.PlayerA); err != nil {
		t.Fatalf("collect deposit a: %v", err)
	}
	if err := backend.CollectDeposit(context.Background(), mc, match.PlayerB); err != nil {
		t.Fatalf("collect deposit b: %v", err)
	}
	return backend, f
}

func TestContractGenerateReturnsVaultForBothPlayers(t *testing.T) {
	f := newFixture(t)
	f.engine.SetNowFunc(func() int64 { return 100 })
	backend := NewBackend(f.engine, f.arbiter, 100)
	targets, err := backend.Generate(contractMatch(t))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if targets.AddressA != targets.AddressB {
		t.Fatalf("both players must deposit into the shared vault")
	}
	if targets.AddressA == "" {
		t.Fatalf("empty vault address")
	}
}

func TestContractGenerateCreatesEngineMatch(t *testing.T) {
	f := newFixture(t)
	f.engine.SetNowFunc(func() int64 { return 100 })
	backend := NewBackend(f.engine, f.arbiter, 100)
	mc := contractMatch(t)

	if _, err := backend.Generate(mc); err != nil {
		t.Fatalf("generate: %v", err)
	}
	id, err := ContractMatchID(mc)
	if err != nil {
		t.Fatalf("contract match id: %v", err)
	}
	m, err := f.engine.GetMatch(id)
	if err != nil {
		t.Fatalf("engine match must exist after generate: %v", err)
	}
	if m.Stake.Cmp(big.NewInt(5_000)) != 0 || m.Deadline != 244 {
		t.Fatalf("unexpected engine match %+v", m)
	}
	// Regenerating the same record must not create a second escrow.
	if _, err := backend.Generate(mc); err != nil {
		t.Fatalf("repeat generate: %v", err)
	}
}

func TestContractCollectDepositFundsEscrow(t *testing.T) {
	mc := contractMatch(t)
	_, f := fundedBackendFixture(t, mc)

	id, err := ContractMatchID(mc)
	if err != nil {
		t.Fatalf("contract match id: %v", err)
	}
	m, err := f.engine.GetMatch(id)
	if err != nil {
		t.Fatalf("engine match: %v", err)
	}
	if m.Status != MatchFunded {
		t.Fatalf("expected funded escrow, got %d", m.Status)
	}
	if got := f.state.balance(f.state.vault); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("vault must hold both stakes, has %s", got)
	}
}

func TestContractSettleWinner(t *testing.T) {
	mc := contractMatch(t)
	mc.WinnerAddress = mc.PlayerB.Address
	backend, f := fundedBackendFixture(t, mc)

	outputs := []match.Output{{Address: mc.PlayerB.Address, Amount: 9_900}}
	receipt, err := backend.Settle(context.Background(), mc, match.SettlementWinnerB, outputs)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if receipt == "" {
		t.Fatalf("empty settlement receipt")
	}
	if got := f.state.balance(f.playerB); got.Cmp(big.NewInt(5_000+9_900)) != 0 {
		t.Fatalf("winner balance: %s", got)
	}
}

func TestContractSettleDraw(t *testing.T) {
	mc := contractMatch(t)
	backend, f := fundedBackendFixture(t, mc)

	outputs := []match.Output{
		{Address: mc.PlayerA.Address, Amount: 4_950},
		{Address: mc.PlayerB.Address, Amount: 4_950},
	}
	if _, err := backend.Settle(context.Background(), mc, match.SettlementDraw, outputs); err != nil {
		t.Fatalf("settle draw: %v", err)
	}
	if got := f.state.balance(f.playerA); got.Cmp(big.NewInt(5_000+4_950)) != 0 {
		t.Fatalf("player a draw balance: %s", got)
	}
}

func TestContractSettleRejectsGuardViolations(t *testing.T) {
	mc := contractMatch(t)
	mc.WinnerAddress = mc.PlayerB.Address
	backend, _ := fundedBackendFixture(t, mc)

	// Type inconsistent with the recorded winner never reaches the engine.
	outputs := []match.Output{{Address: mc.PlayerA.Address, Amount: 9_900}}
	if _, err := backend.Settle(context.Background(), mc, match.SettlementWinnerA, outputs); !match.IsIntegrity(err) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestContractRefundAfterDeadline(t *testing.T) {
	mc := contractMatch(t)
	mc.Status = match.StatusDepositsPending
	backend, f := fundedBackendFixture(t, mc)
	f.engine.SetNowFunc(func() int64 { return 300 })

	receipt, err := backend.Refund(context.Background(), mc, mc.PlayerA.Address, 244)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if receipt == "" {
		t.Fatalf("empty refund receipt")
	}
	if got := f.state.balance(f.playerA); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("stake must return in full: %s", got)
	}
}
