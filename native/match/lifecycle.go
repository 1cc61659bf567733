package match

import (
	"strings"
)

// Action identifies a lifecycle operation on a match.
type Action string

const (
	ActionJoin            Action = "join"
	ActionDepositA        Action = "deposit_a"
	ActionDepositB        Action = "deposit_b"
	ActionConfirmDepositA Action = "confirm_deposit_a"
	ActionConfirmDepositB Action = "confirm_deposit_b"
	ActionStartRace       Action = "start_race"
	ActionSubmitResult    Action = "submit_result"
	ActionSettle          Action = "settle"
	ActionRequestRefund   Action = "request_refund"
	ActionCancel          Action = "cancel"
)

// transitionTable is immutable configuration: the target status for every
// (status, action) pair the lifecycle accepts. An absent entry is a
// precondition rejection, never a panic. Confirming the second deposit
// escalates from deposits_pending to deposits_confirmed via a post-transition
// check rather than two intermediate states.
var transitionTable = map[Status]map[Action]Status{
	StatusCreated: {
		ActionJoin:   StatusWaitingForOpponent,
		ActionCancel: StatusCancelled,
	},
	StatusWaitingForOpponent: {
		ActionJoin:   StatusDepositsPending,
		ActionCancel: StatusCancelled,
	},
	StatusDepositsPending: {
		ActionDepositA:        StatusDepositsPending,
		ActionDepositB:        StatusDepositsPending,
		ActionConfirmDepositA: StatusDepositsPending,
		ActionConfirmDepositB: StatusDepositsPending,
		ActionRequestRefund:   StatusRefunded,
		ActionCancel:          StatusCancelled,
	},
	StatusDepositsConfirmed: {
		ActionStartRace:     StatusRacing,
		ActionRequestRefund: StatusRefunded,
	},
	StatusRacing: {
		ActionSubmitResult: StatusSettling,
	},
	StatusSettling: {
		ActionSettle: StatusSettled,
	},
}

// CreateParams configures a new match record at lobby creation time.
type CreateParams struct {
	ID                   string
	PlayerAAddress       string
	PlayerAPubKey        []byte
	BetAmount            int64
	Mode                 EscrowMode
	CreatedAtBlock       uint64
	RefundLocktimeBlocks uint64
	CreatedAt            int64
}

// NewMatchContext initialises a match record. When the creating player is
// known the record starts in waiting_for_opponent, otherwise in created with
// both slots open for join actions.
func NewMatchContext(p CreateParams) (*MatchContext, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return nil, newPrecondition("create", "match id required")
	}
	if p.BetAmount <= 0 {
		return nil, newPrecondition("create", "bet amount must be positive")
	}
	if !p.Mode.Valid() {
		return nil, newPrecondition("create", "invalid escrow mode %d", p.Mode)
	}
	if p.RefundLocktimeBlocks == 0 {
		return nil, newPrecondition("create", "refund locktime must be positive")
	}
	mc := &MatchContext{
		ID:                   id,
		Status:               StatusCreated,
		BetAmount:            p.BetAmount,
		Mode:                 p.Mode,
		CreatedAtBlock:       p.CreatedAtBlock,
		RefundLocktimeBlocks: p.RefundLocktimeBlocks,
		CreatedAt:            p.CreatedAt,
	}
	if addr := strings.TrimSpace(p.PlayerAAddress); addr != "" {
		mc.PlayerA = PlayerSlot{Address: addr, PubKey: append([]byte(nil), p.PlayerAPubKey...)}
		mc.Status = StatusWaitingForOpponent
	}
	return mc, nil
}

// TransitionParams carries the action-specific inputs of a transition. Fields
// not relevant to the action are ignored.
type TransitionParams struct {
	Address string
	PubKey  []byte
	TxID    string
	Amount  int64
	Winner  string
	Height  uint64
}

// Transition applies an action to the match context and returns the resulting
// record. The function is pure: it never mutates its input and identical
// inputs always yield identical results. Invalid actions return a structured
// precondition error and leave the input untouched.
func Transition(mc *MatchContext, action Action, p TransitionParams) (*MatchContext, error) {
	if mc == nil {
		return nil, newPrecondition(string(action), "nil match context")
	}
	row, ok := transitionTable[mc.Status]
	if !ok {
		return nil, newPrecondition(string(action), "match %s is terminal in state %s", mc.ID, mc.Status)
	}
	target, ok := row[action]
	if !ok {
		return nil, newPrecondition(string(action), "action not allowed in state %s", mc.Status)
	}
	next := mc.Clone()
	if err := applyAction(next, action, p); err != nil {
		return nil, err
	}
	next.Status = target
	// Post-transition check: confirming the second side escalates to
	// deposits_confirmed in the same call, regardless of order.
	if next.Status == StatusDepositsPending && next.BothDepositsConfirmed() {
		next.Status = StatusDepositsConfirmed
	}
	return next, nil
}

func applyAction(mc *MatchContext, action Action, p TransitionParams) error {
	switch action {
	case ActionJoin:
		return applyJoin(mc, p)
	case ActionDepositA:
		return applyDeposit(mc, PlayerA, p)
	case ActionDepositB:
		return applyDeposit(mc, PlayerB, p)
	case ActionConfirmDepositA:
		return applyConfirmDeposit(mc, PlayerA)
	case ActionConfirmDepositB:
		return applyConfirmDeposit(mc, PlayerB)
	case ActionStartRace:
		if !mc.BothDepositsConfirmed() {
			return newPrecondition("start_race", "both deposits must be confirmed")
		}
		return nil
	case ActionSubmitResult:
		return applySubmitResult(mc, p)
	case ActionSettle:
		return applySettle(mc, p)
	case ActionRequestRefund:
		return applyRequestRefund(mc, p)
	case ActionCancel:
		if mc.PlayerA.DepositTxID != "" || mc.PlayerB.DepositTxID != "" {
			return newPrecondition("cancel", "cannot cancel once a deposit exists")
		}
		return nil
	default:
		return newPrecondition(string(action), "unknown action")
	}
}

func applyJoin(mc *MatchContext, p TransitionParams) error {
	addr := strings.TrimSpace(p.Address)
	if addr == "" {
		return newPrecondition("join", "player address required")
	}
	slot := mc.Slot(PlayerA)
	other := mc.Slot(PlayerB)
	if slot.Registered() {
		slot, other = other, slot
	}
	if slot.Registered() {
		return newPrecondition("join", "both player slots are taken")
	}
	if other.Registered() && other.Address == addr {
		return newPrecondition("join", "player %s already registered", addr)
	}
	slot.Address = addr
	slot.PubKey = append([]byte(nil), p.PubKey...)
	return nil
}

func applyDeposit(mc *MatchContext, player Player, p TransitionParams) error {
	slot := mc.Slot(player)
	if !slot.Registered() {
		return newPrecondition("deposit_"+player.String(), "player %s not registered", player)
	}
	if slot.DepositTxID != "" {
		return newPrecondition("deposit_"+player.String(), "deposit already recorded for player %s", player)
	}
	txid := strings.TrimSpace(p.TxID)
	if txid == "" {
		return newPrecondition("deposit_"+player.String(), "deposit txid required")
	}
	if p.Amount <= 0 {
		return newPrecondition("deposit_"+player.String(), "deposit amount must be positive")
	}
	slot.DepositTxID = txid
	slot.DepositAmount = p.Amount
	return nil
}

func applyConfirmDeposit(mc *MatchContext, player Player) error {
	slot := mc.Slot(player)
	if slot.DepositTxID == "" {
		return newPrecondition("confirm_deposit_"+player.String(), "no deposit recorded for player %s", player)
	}
	if slot.DepositConfirmed {
		return newPrecondition("confirm_deposit_"+player.String(), "deposit already confirmed for player %s", player)
	}
	slot.DepositConfirmed = true
	return nil
}

func applySubmitResult(mc *MatchContext, p TransitionParams) error {
	winner := strings.TrimSpace(p.Winner)
	if winner == "" {
		// An empty winner declares a draw; the record keeps no winner and
		// settlement later splits the pot.
		return nil
	}
	if winner != mc.PlayerA.Address && winner != mc.PlayerB.Address {
		return newIntegrity("submit_result", "winner %q is not a registered player", p.Winner)
	}
	mc.WinnerAddress = winner
	return nil
}

func applySettle(mc *MatchContext, p TransitionParams) error {
	if mc.HasSettlement() {
		return newPrecondition("settle", "duplicate settlement for match %s", mc.ID)
	}
	if mc.HasRefund() {
		return newIntegrity("settle", "refund already issued for match %s", mc.ID)
	}
	txid := strings.TrimSpace(p.TxID)
	if txid == "" {
		return newPrecondition("settle", "settlement txid required")
	}
	mc.SettleTxID = txid
	return nil
}

func applyRequestRefund(mc *MatchContext, p TransitionParams) error {
	if mc.HasSettlement() {
		return newIntegrity("request_refund", "settlement already exists for match %s", mc.ID)
	}
	eligibleAt := mc.CreatedAtBlock + mc.RefundLocktimeBlocks
	if p.Height < eligibleAt {
		return newPrecondition("request_refund", "locked until height %d (current %d)", eligibleAt, p.Height)
	}
	player, err := playerByAddress(mc, p.Address)
	if err != nil {
		return err
	}
	slot := mc.Slot(player)
	if slot.DepositTxID == "" {
		return newPrecondition("request_refund", "no deposit recorded for player %s", player)
	}
	if slot.RefundTxID != "" {
		return newPrecondition("request_refund", "refund already issued to player %s", player)
	}
	slot.RefundTxID = strings.TrimSpace(p.TxID)
	return nil
}

func playerByAddress(mc *MatchContext, address string) (Player, error) {
	addr := strings.TrimSpace(address)
	switch {
	case addr == "":
		return 0, newPrecondition("request_refund", "player address required")
	case mc.PlayerA.Registered() && mc.PlayerA.Address == addr:
		return PlayerA, nil
	case mc.PlayerB.Registered() && mc.PlayerB.Address == addr:
		return PlayerB, nil
	default:
		return 0, newPrecondition("request_refund", "address %s is not a registered player", addr)
	}
}

// ValidActions returns the actions whose context-dependent preconditions hold
// for the current record. Height-dependent eligibility (request_refund) is
// reported whenever the record-level conditions hold; callers gate on the
// chain height separately.
func ValidActions(mc *MatchContext) []Action {
	if mc == nil {
		return nil
	}
	row, ok := transitionTable[mc.Status]
	if !ok {
		return nil
	}
	actions := make([]Action, 0, len(row))
	for _, action := range actionOrder {
		if _, defined := row[action]; !defined {
			continue
		}
		if contextAllows(mc, action) {
			actions = append(actions, action)
		}
	}
	return actions
}

// actionOrder fixes the iteration order so ValidActions is deterministic.
var actionOrder = []Action{
	ActionJoin,
	ActionDepositA,
	ActionDepositB,
	ActionConfirmDepositA,
	ActionConfirmDepositB,
	ActionStartRace,
	ActionSubmitResult,
	ActionSettle,
	ActionRequestRefund,
	ActionCancel,
}

func contextAllows(mc *MatchContext, action Action) bool {
	switch action {
	case ActionJoin:
		return !mc.PlayerA.Registered() || !mc.PlayerB.Registered()
	case ActionDepositA:
		return mc.PlayerA.Registered() && mc.PlayerA.DepositTxID == ""
	case ActionDepositB:
		return mc.PlayerB.Registered() && mc.PlayerB.DepositTxID == ""
	case ActionConfirmDepositA:
		return mc.PlayerA.DepositTxID != "" && !mc.PlayerA.DepositConfirmed
	case ActionConfirmDepositB:
		return mc.PlayerB.DepositTxID != "" && !mc.PlayerB.DepositConfirmed
	case ActionStartRace:
		return mc.BothDepositsConfirmed()
	case ActionSettle:
		return !mc.HasSettlement() && !mc.HasRefund()
	case ActionRequestRefund:
		return !mc.HasSettlement() && (mc.PlayerA.DepositTxID != "" || mc.PlayerB.DepositTxID != "")
	case ActionCancel:
		return mc.PlayerA.DepositTxID == "" && mc.PlayerB.DepositTxID == ""
	default:
		return true
	}
}
