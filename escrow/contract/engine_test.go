package contract

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"racewager/core/types"
)

type mockState struct {
	matches  map[[32]byte]*Match
	accounts map[[20]byte]*types.Account
	vault    [20]byte
}

func newMockState() *mockState {
	return &mockState{
		matches:  make(map[[32]byte]*Match),
		accounts: make(map[[20]byte]*types.Account),
		vault:    newTestAddress(0xEE),
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func (s *mockState) MatchPut(m *Match) error {
	s.matches[m.ID] = m.Clone()
	return nil
}

func (s *mockState) MatchGet(id [32]byte) (*Match, bool) {
	m, ok := s.matches[id]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

func (s *mockState) VaultAddress() [20]byte { return s.vault }

func (s *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	if acc, ok := s.accounts[key]; ok {
		return &types.Account{Nonce: acc.Nonce, Balance: new(big.Int).Set(acc.Balance)}, nil
	}
	return &types.Account{Balance: big.NewInt(0)}, nil
}

func (s *mockState) PutAccount(addr []byte, account *types.Account) error {
	var key [20]byte
	copy(key[:], addr)
	s.accounts[key] = &types.Account{Nonce: account.Nonce, Balance: new(big.Int).Set(account.Balance)}
	return nil
}

func (s *mockState) balance(addr [20]byte) *big.Int {
	if acc, ok := s.accounts[addr]; ok {
		return new(big.Int).Set(acc.Balance)
	}
	return big.NewInt(0)
}

func (s *mockState) fund(addr [20]byte, amount int64) {
	s.accounts[addr] = &types.Account{Balance: big.NewInt(amount)}
}

type testFixture struct {
	engine   *Engine
	state    *mockState
	arbiter  [20]byte
	treasury [20]byte
	playerA  [20]byte
	playerB  [20]byte
	nonce    [32]byte
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		state:    newMockState(),
		arbiter:  newTestAddress(0x01),
		treasury: newTestAddress(0x02),
		playerA:  newTestAddress(0xA1),
		playerB:  newTestAddress(0xB1),
	}
	f.nonce[0] = 0x42
	f.engine = NewEngine()
	f.engine.SetState(f.state)
	f.engine.SetArbiter(f.arbiter)
	f.engine.SetFeeTreasury(f.treasury)
	f.engine.SetNowFunc(func() int64 { return 1_000 })
	f.state.fund(f.playerA, 10_000)
	f.state.fund(f.playerB, 10_000)
	return f
}

func (f *testFixture) create(t *testing.T) *Match {
	t.Helper()
	m, err := f.engine.CreateMatch(f.arbiter, f.playerA, f.playerB, big.NewInt(5_000), big.NewInt(100), 2_000, f.nonce)
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	return m
}

func (f *testFixture) fundBoth(t *testing.T, id [32]byte) {
	t.Helper()
	if err := f.engine.Deposit(id, f.playerA); err != nil {
		t.Fatalf("deposit a: %v", err)
	}
	if err := f.engine.Deposit(id, f.playerB); err != nil {
		t.Fatalf("deposit b: %v", err)
	}
}

func TestCreateRequiresArbiter(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateMatch(f.playerA, f.playerA, f.playerB, big.NewInt(5_000), big.NewInt(100), 2_000, f.nonce)
	if !errors.Is(err, errNotArbiter) {
		t.Fatalf("expected errNotArbiter, got %v", err)
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	f := newFixture(t)
	f.create(t)
	_, err := f.engine.CreateMatch(f.arbiter, f.playerA, f.playerB, big.NewInt(5_000), big.NewInt(100), 2_000, f.nonce)
	if !errors.Is(err, errDuplicateMatch) {
		t.Fatalf("expected errDuplicateMatch, got %v", err)
	}
}

func TestCreateRejectsIdenticalPlayers(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateMatch(f.arbiter, f.playerA, f.playerA, big.NewInt(5_000), big.NewInt(100), 2_000, f.nonce)
	if err == nil {
		t.Fatalf("expected error for identical players")
	}
}

func TestDepositMovesStakeToVault(t *testing.T) {
	f := newFixture(t)
	m := f.create(t)
	if err := f.engine.Deposit(m.ID, f.playerA); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := f.state.balance(f.playerA); got.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("player a balance after deposit: %s", got)
	}
	if got := f.state.balance(f.state.vault); got.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("vault balance after deposit: %s", got)
	}
	stored, _ := f.state.MatchGet(m.ID)
	if stored.Status != MatchPartialFunded {
		t.Fatalf("expected partial_funded, got %d", stored.Status)
	}
}

func TestSecondDepositFundsMatch(t *testing.T) {
	f := newFixture(t)
	m := f.create(t)
	f.fundBoth(t, m.ID)
	stored, _ := f.state.MatchGet(m.ID)
	if stored.Status != MatchFunded {
		t.Fatalf("expected funded, got %d", stored.Status)
	}
}

func TestDoubleDepositRejected(t *testing.T) {
	f := newFixture(t)
	m := f.create(t)
	if err := f.engine.Deposit(m.ID, f.playerA); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.Deposit(m.ID, f.playerA); err == nil {
		t.Fatalf("expected error on double deposit")
	}
}

func TestDepositFromStrangerRejected(t *testing.T) {
	f := newFixture(t)
	m := f.create(t)
	stranger := newTestAddress(0xCC)
	f.state.fund(stranger, 10_000)
	if err := f.engine.Deposit(m.ID, stranger); err == nil {
		t.Fatalf("expected error for unregistered depositor")
	}
}

func TestSettlePaysWinnerAndTreasury(t *testing.T) {
	f := newFixture(t)
	m := f.create(t)
	f.fundBoth(t, m.ID)
	if err := f.engine.Settle(m.ID, f.arbiter, WinnerPlayerB); err != nil {
		t.Fatalf("settle: %v", err)
	}
	// Pot 10_000 minus fee 100 to the winner, fee to the treasury.
	if got := f.state.balance(f.playerB); got.Cmp(big.NewInt(5_000+9_900)) != 0 {
		t.Fatalf("winner balance: %s", got)
	}
	if got := f.state.balance(f.treasury); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("treasury balance: %s", got)
	}
	if got := f.state.balance(f.state.vault); got.Sign() != 0 {
		t.Fatalf("vault must be empty after settlement, has %s", got)
	}
}

func TestSettleIsIdempotent(t *testing.T) {
	f := newFixture(t)
	m := f.create(t)
	f.fundBoth(t, m.ID)
	if err := f.engine.Settle(m.ID, f.arbiter, WinnerPlayerA); err != nil {
		t.Fatalf("settle: %v", err)
	}
	before := f.state.balance(f.playerA)
	if err := f.engine.Settle(m.ID, f.arbiter, WinnerPlayerA); err != nil {
		t.Fatalf("repeat settle must be a no-op, got %v", err)
	}
	if after := f.state.balance(f.playerA); after.Cmp(before) != 0 {
		t.Fatalf("repeat settle moved funds: %s -> %s", before, after)
	}
}

func TestSettleRequiresFunded(t *testing.T) {
	f := newFixture(t)
	m := f.create(t)
	if err := f.engine.Settle(m.ID, f.arbiter, WinnerPlayerA); !errors.Is(err, errInvalidStatus) {
		t.Fatalf("expected errInvalidStatus, got %v", err)
	}
}

func TestSettleDrawReturnsStakesMinusFeeShares(t *testing.T) {
	f := newFixture(t)
	m := f.create(t)
	f.fundBoth(t, m.ID)
	if err := f.engine.SettleDraw(m.ID, f.arbiter); err != nil {
		t.Fatalf("settle draw: %v", err)
	}
	if got := f.state.balance(f.playerA); got.Cmp(big.NewInt(5_000+4_950)) != 0 {
		t.Fatalf("player a draw balance: %s", got)
	}
	if got := f.state.balance(f.playerB); got.Cmp(big.NewInt(5_000+4_950)) != 0 {
		t.Fatalf("player b draw balance: %s", got)
	}
	if got := f.state.balance(f.treasury); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("treasury draw balance: %s", got)
	}
}

func TestRefundExpiredPerPlayer(t *testing.T) {
	f := newFixture(t)
	m := f.create(t)
	if err := f.engine.Deposit(m.ID, f.playerA); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.RefundExpired(m.ID, f.playerA, 1_500); err == nil {
		t.Fatalf("expected error before deadline")
	}
	if err := f.engine.RefundExpired(m.ID, f.playerA, 2_500); err != nil {
		t.Fatalf("refund after deadline: %v", err)
	}
	if got := f.state.balance(f.playerA); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("full stake must return: %s", got)
	}
	stored, _ := f.state.MatchGet(m.ID)
	if stored.Status != MatchRefunded {
		t.Fatalf("expected refunded once all outstanding stakes returned, got %d", stored.Status)
	}
	// Repeat refund is a no-op.
	if err := f.engine.RefundExpired(m.ID, f.playerA, 2_500); err != nil && !errors.Is(err, errInvalidStatus) {
		t.Fatalf("repeat refund: %v", err)
	}
}

func TestSettleBlockedAfterPartialRefund(t *testing.T) {
	f := newFixture(t)
	m1 := f.create(t)
	f.fundBoth(t, m1.ID)

	// A second funded match shares the vault; its escrow must survive
	// whatever happens to the first match.
	var nonce2 [32]byte
	nonce2[0] = 0x43
	m2, err := f.engine.CreateMatch(f.arbiter, f.playerA, f.playerB, big.NewInt(5_000), big.NewInt(100), 2_000, nonce2)
	if err != nil {
		t.Fatalf("create second match: %v", err)
	}
	f.fundBoth(t, m2.ID)

	if err := f.engine.RefundExpired(m1.ID, f.playerA, 2_500); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if err := f.engine.Settle(m1.ID, f.arbiter, WinnerPlayerB); !errors.Is(err, errRefundTaken) {
		t.Fatalf("expected errRefundTaken, got %v", err)
	}
	if err := f.engine.SettleDraw(m1.ID, f.arbiter); !errors.Is(err, errRefundTaken) {
		t.Fatalf("expected errRefundTaken on draw, got %v", err)
	}
	// Vault still holds m2's full escrow plus m1's outstanding stake.
	if got := f.state.balance(f.state.vault); got.Cmp(big.NewInt(15_000)) != 0 {
		t.Fatalf("vault balance after blocked settlement: %s", got)
	}
	if err := f.engine.Settle(m2.ID, f.arbiter, WinnerPlayerA); err != nil {
		t.Fatalf("second match must settle cleanly: %v", err)
	}
}

func TestRefundBlockedAfterSettlement(t *testing.T) {
	f := newFixture(t)
	m := f.create(t)
	f.fundBoth(t, m.ID)
	if err := f.engine.Settle(m.ID, f.arbiter, WinnerPlayerA); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := f.engine.RefundExpired(m.ID, f.playerA, 5_000); !errors.Is(err, errInvalidStatus) {
		t.Fatalf("expected errInvalidStatus after settlement, got %v", err)
	}
}

func TestCancelBeforeDeposits(t *testing.T) {
	f := newFixture(t)
	m := f.create(t)
	if err := f.engine.Cancel(m.ID, f.arbiter); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := f.engine.Cancel(m.ID, f.arbiter); err != nil {
		t.Fatalf("repeat cancel must be a no-op, got %v", err)
	}
}

func TestCancelBlockedOnceFunded(t *testing.T) {
	f := newFixture(t)
	m := f.create(t)
	if err := f.engine.Deposit(m.ID, f.playerA); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.Cancel(m.ID, f.arbiter); err == nil {
		t.Fatalf("expected error cancelling a funded match")
	}
}

func TestPauseBlocksMutations(t *testing.T) {
	f := newFixture(t)
	m := f.create(t)
	f.engine.SetPauses(staticPauses{moduleName: true})
	if err := f.engine.Deposit(m.ID, f.playerA); err == nil {
		t.Fatalf("expected pause rejection")
	}
}

type staticPauses map[string]bool

func (p staticPauses) IsPaused(module string) bool { return p[module] }
