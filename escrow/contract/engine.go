// Package contract implements the account-chain escrow backend as callable
// program logic. It expresses the same custody guarantees as the covenant
// script, enforced at call time instead of spend time.
package contract

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"racewager/core/events"
	"racewager/core/types"
	"racewager/native/common"
)

var (
	errNilState       = errors.New("contract escrow: state not configured")
	errNilTreasury    = errors.New("contract escrow: fee treasury not configured")
	errNilArbiter     = errors.New("contract escrow: arbiter not configured")
	errMatchNotFound  = errors.New("contract escrow: match not found")
	errInvalidStatus  = errors.New("contract escrow: status transition not allowed")
	errNotArbiter     = errors.New("contract escrow: caller is not the arbiter")
	errDuplicateMatch = errors.New("contract escrow: match id already exists")
	errRefundTaken    = errors.New("contract escrow: settlement blocked after a refund")
)

const moduleName = "matchescrow"

// MatchStatus represents the on-chain lifecycle of a contract escrow match.
type MatchStatus uint8

const (
	MatchInit MatchStatus = iota
	MatchPartialFunded
	MatchFunded
	MatchSettled
	MatchRefunded
	MatchCancelled
)

// Valid reports whether the status value is within the supported range.
func (s MatchStatus) Valid() bool { return s <= MatchCancelled }

// Winner is the closed set of settlement destinations. Because the type has
// exactly two values, a payout to any address outside the registered pair is
// unrepresentable in the call itself, mirroring the script's
// output-restriction branch rather than relying on a runtime check alone.
type Winner uint8

const (
	WinnerPlayerA Winner = iota
	WinnerPlayerB
)

// Match captures the on-chain state of one escrowed wager.
type Match struct {
	ID         [32]byte
	PlayerA    [20]byte
	PlayerB    [20]byte
	Stake      *big.Int
	Fee        *big.Int
	Deadline   int64
	CreatedAt  int64
	DepositedA bool
	DepositedB bool
	RefundedA  bool
	RefundedB  bool
	Status     MatchStatus
}

// Clone returns a deep copy of the match so callers can safely mutate the
// copy without affecting the stored instance.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Stake != nil {
		clone.Stake = new(big.Int).Set(m.Stake)
	} else {
		clone.Stake = big.NewInt(0)
	}
	if m.Fee != nil {
		clone.Fee = new(big.Int).Set(m.Fee)
	} else {
		clone.Fee = big.NewInt(0)
	}
	return &clone
}

type engineState interface {
	MatchPut(*Match) error
	MatchGet(id [32]byte) (*Match, bool)
	VaultAddress() [20]byte
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Engine wires the escrow program logic with external state and event
// emitters. All value movement happens through account transfers against the
// module vault.
type Engine struct {
	state       engineState
	emitter     events.Emitter
	arbiter     [20]byte
	feeTreasury [20]byte
	minStake    *big.Int
	pauses      common.PauseView
	nowFn       func() int64
}

// NewEngine creates a contract escrow engine with a no-op emitter. Callers
// override collaborators via the Set* methods.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		minStake: big.NewInt(1),
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetArbiter configures the only address allowed to create and settle
// matches.
func (e *Engine) SetArbiter(addr [20]byte) { e.arbiter = addr }

// SetFeeTreasury configures the address that receives settlement fees.
func (e *Engine) SetFeeTreasury(addr [20]byte) { e.feeTreasury = addr }

// SetMinStake configures the minimum deposit accepted at match creation.
func (e *Engine) SetMinStake(min *big.Int) {
	if min == nil || min.Sign() <= 0 {
		e.minStake = big.NewInt(1)
		return
	}
	e.minStake = new(big.Int).Set(min)
}

// SetPauses wires the emergency pause switch. The pauser role is separate
// from the arbiter.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(matchEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// MatchID derives the deterministic identifier for a match from its players
// and a caller-supplied nonce.
func MatchID(playerA, playerB [20]byte, nonce [32]byte) [32]byte {
	return ethcrypto.Keccak256Hash(playerA[:], playerB[:], nonce[:])
}

// CreateMatch initialises a new escrowed wager. Only the arbiter may create
// matches; duplicate ids, identical players and stakes below the minimum are
// rejected.
func (e *Engine) CreateMatch(caller, playerA, playerB [20]byte, stake, fee *big.Int, deadline int64, nonce [32]byte) (*Match, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.arbiter == ([20]byte{}) {
		return nil, errNilArbiter
	}
	if caller != e.arbiter {
		return nil, errNotArbiter
	}
	if playerA == playerB {
		return nil, fmt.Errorf("contract escrow: players must be distinct")
	}
	if playerA == ([20]byte{}) || playerB == ([20]byte{}) {
		return nil, fmt.Errorf("contract escrow: player address required")
	}
	if stake == nil || stake.Cmp(e.minStake) < 0 {
		return nil, fmt.Errorf("contract escrow: stake below minimum %s", e.minStake)
	}
	feeAmt := big.NewInt(0)
	if fee != nil {
		if fee.Sign() < 0 {
			return nil, fmt.Errorf("contract escrow: fee must be non-negative")
		}
		feeAmt = new(big.Int).Set(fee)
	}
	pot := new(big.Int).Mul(stake, big.NewInt(2))
	if pot.Cmp(feeAmt) <= 0 {
		return nil, fmt.Errorf("contract escrow: pot does not cover fee")
	}
	now := e.now()
	if deadline <= now {
		return nil, fmt.Errorf("contract escrow: deadline before creation time")
	}
	id := MatchID(playerA, playerB, nonce)
	if _, ok := e.state.MatchGet(id); ok {
		return nil, errDuplicateMatch
	}
	m := &Match{
		ID:        id,
		PlayerA:   playerA,
		PlayerB:   playerB,
		Stake:     new(big.Int).Set(stake),
		Fee:       feeAmt,
		Deadline:  deadline,
		CreatedAt: now,
		Status:    MatchInit,
	}
	if err := e.state.MatchPut(m); err != nil {
		return nil, err
	}
	e.emit(newCreatedEvent(m))
	return m.Clone(), nil
}

// Deposit pulls the stake from the calling player into the module vault.
// Each player may deposit exactly once; the second deposit automatically
// moves the match to funded.
func (e *Engine) Deposit(id [32]byte, from [20]byte) error {
	m, err := e.loadMatch(id)
	if err != nil {
		return err
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if m.Status != MatchInit && m.Status != MatchPartialFunded {
		return errInvalidStatus
	}
	switch from {
	case m.PlayerA:
		if m.DepositedA {
			return fmt.Errorf("contract escrow: player a already deposited")
		}
	case m.PlayerB:
		if m.DepositedB {
			return fmt.Errorf("contract escrow: player b already deposited")
		}
	default:
		return fmt.Errorf("contract escrow: caller is not a registered player")
	}
	if err := e.transfer(from, e.state.VaultAddress(), m.Stake); err != nil {
		return err
	}
	if from == m.PlayerA {
		m.DepositedA = true
	} else {
		m.DepositedB = true
	}
	if m.DepositedA && m.DepositedB {
		m.Status = MatchFunded
	} else {
		m.Status = MatchPartialFunded
	}
	if err := e.state.MatchPut(m); err != nil {
		return err
	}
	if m.Status == MatchFunded {
		e.emit(newFundedEvent(m))
	} else {
		e.emit(newDepositedEvent(m, from))
	}
	return nil
}

// Settle pays the pot minus the fee to the winner. Only the arbiter may
// settle, and only a registered player can win: the Winner type admits no
// other destination. The operation is idempotent.
func (e *Engine) Settle(id [32]byte, caller [20]byte, winner Winner) error {
	m, err := e.loadMatch(id)
	if err != nil {
		return err
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if m.Status == MatchSettled {
		return nil
	}
	if m.Status != MatchFunded {
		return errInvalidStatus
	}
	// A partially refunded match keeps the funded status while the other
	// stake is outstanding; settling it would pay the full pot out of other
	// matches' escrow.
	if m.RefundedA || m.RefundedB {
		return errRefundTaken
	}
	if caller != e.arbiter {
		return errNotArbiter
	}
	dest := m.PlayerA
	if winner == WinnerPlayerB {
		dest = m.PlayerB
	}
	pot := new(big.Int).Mul(m.Stake, big.NewInt(2))
	payout := new(big.Int).Sub(pot, m.Fee)
	if payout.Sign() <= 0 {
		return fmt.Errorf("contract escrow: pot does not cover fee")
	}
	vault := e.state.VaultAddress()
	if err := e.transfer(vault, dest, payout); err != nil {
		return err
	}
	if err := e.payFee(vault, m.Fee); err != nil {
		return err
	}
	m.Status = MatchSettled
	if err := e.state.MatchPut(m); err != nil {
		return err
	}
	e.emit(newSettledEvent(m, dest))
	return nil
}

// SettleDraw returns each stake minus half the fee. Only the arbiter may
// settle. The operation is idempotent.
func (e *Engine) SettleDraw(id [32]byte, caller [20]byte) error {
	m, err := e.loadMatch(id)
	if err != nil {
		return err
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if m.Status == MatchSettled {
		return nil
	}
	if m.Status != MatchFunded {
		return errInvalidStatus
	}
	if m.RefundedA || m.RefundedB {
		return errRefundTaken
	}
	if caller != e.arbiter {
		return errNotArbiter
	}
	feeA := new(big.Int).Div(m.Fee, big.NewInt(2))
	feeB := new(big.Int).Sub(m.Fee, feeA)
	payoutA := new(big.Int).Sub(m.Stake, feeA)
	payoutB := new(big.Int).Sub(m.Stake, feeB)
	if payoutA.Sign() <= 0 || payoutB.Sign() <= 0 {
		return fmt.Errorf("contract escrow: stake does not cover fee share")
	}
	vault := e.state.VaultAddress()
	if err := e.transfer(vault, m.PlayerA, payoutA); err != nil {
		return err
	}
	if err := e.transfer(vault, m.PlayerB, payoutB); err != nil {
		return err
	}
	if err := e.payFee(vault, m.Fee); err != nil {
		return err
	}
	m.Status = MatchSettled
	if err := e.state.MatchPut(m); err != nil {
		return err
	}
	e.emit(newDrawEvent(m))
	return nil
}

// RefundExpired returns a player's stake once the deadline has elapsed and no
// settlement happened. Each player refunds independently; the match moves to
// refunded when every deposited stake has been returned.
func (e *Engine) RefundExpired(id [32]byte, player [20]byte, now int64) error {
	m, err := e.loadMatch(id)
	if err != nil {
		return err
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if m.Status == MatchSettled || m.Status == MatchCancelled {
		return errInvalidStatus
	}
	if now < m.Deadline {
		return fmt.Errorf("contract escrow: deadline not reached")
	}
	var deposited, refunded *bool
	switch player {
	case m.PlayerA:
		deposited, refunded = &m.DepositedA, &m.RefundedA
	case m.PlayerB:
		deposited, refunded = &m.DepositedB, &m.RefundedB
	default:
		return fmt.Errorf("contract escrow: caller is not a registered player")
	}
	if !*deposited {
		return fmt.Errorf("contract escrow: no deposit to refund")
	}
	if *refunded {
		return nil
	}
	if err := e.transfer(e.state.VaultAddress(), player, m.Stake); err != nil {
		return err
	}
	*refunded = true
	outstanding := (m.DepositedA && !m.RefundedA) || (m.DepositedB && !m.RefundedB)
	if !outstanding {
		m.Status = MatchRefunded
	}
	if err := e.state.MatchPut(m); err != nil {
		return err
	}
	e.emit(newRefundedEvent(m, player))
	return nil
}

// Cancel voids a match before any deposit arrived. Only the arbiter may
// cancel. The operation is idempotent.
func (e *Engine) Cancel(id [32]byte, caller [20]byte) error {
	m, err := e.loadMatch(id)
	if err != nil {
		return err
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if m.Status == MatchCancelled {
		return nil
	}
	if caller != e.arbiter {
		return errNotArbiter
	}
	if m.Status != MatchInit || m.DepositedA || m.DepositedB {
		return fmt.Errorf("contract escrow: cannot cancel once a deposit exists")
	}
	m.Status = MatchCancelled
	if err := e.state.MatchPut(m); err != nil {
		return err
	}
	e.emit(newCancelledEvent(m))
	return nil
}

// GetMatch returns a copy of the stored match.
func (e *Engine) GetMatch(id [32]byte) (*Match, error) {
	m, err := e.loadMatch(id)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

func (e *Engine) loadMatch(id [32]byte) (*Match, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	m, ok := e.state.MatchGet(id)
	if !ok {
		return nil, errMatchNotFound
	}
	return m.Clone(), nil
}

func (e *Engine) payFee(vault [20]byte, fee *big.Int) error {
	if fee == nil || fee.Sign() == 0 {
		return nil
	}
	if e.feeTreasury == ([20]byte{}) {
		return errNilTreasury
	}
	return e.transfer(vault, e.feeTreasury, fee)
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("contract escrow: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("contract escrow: insufficient balance")
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}
