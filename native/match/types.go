package match

import (
	"fmt"
	"strings"
)

// Status represents the lifecycle states of a wagered match.
type Status uint8

const (
	StatusCreated Status = iota
	StatusWaitingForOpponent
	StatusDepositsPending
	StatusDepositsConfirmed
	StatusRacing
	StatusSettling
	StatusSettled
	StatusRefunded
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusCreated:            "created",
	StatusWaitingForOpponent: "waiting_for_opponent",
	StatusDepositsPending:    "deposits_pending",
	StatusDepositsConfirmed:  "deposits_confirmed",
	StatusRacing:             "racing",
	StatusSettling:           "settling",
	StatusSettled:            "settled",
	StatusRefunded:           "refunded",
	StatusCancelled:          "cancelled",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsTerminal reports whether no further transition is defined from s.
// Terminal records are archived and never mutated again.
func (s Status) IsTerminal() bool {
	return s == StatusSettled || s == StatusRefunded || s == StatusCancelled
}

// EscrowMode selects the chain backend holding the deposits.
type EscrowMode uint8

const (
	// ModeScript escrows deposits in a dual-branch covenant script on a
	// UTXO chain.
	ModeScript EscrowMode = iota
	// ModeContract escrows deposits in the callable contract engine on the
	// account chain.
	ModeContract
)

func (m EscrowMode) Valid() bool { return m == ModeScript || m == ModeContract }

func (m EscrowMode) String() string {
	if m == ModeContract {
		return "contract"
	}
	return "script"
}

// Player identifies one of the two registered participants.
type Player uint8

const (
	PlayerA Player = iota
	PlayerB
)

func (p Player) String() string {
	if p == PlayerB {
		return "b"
	}
	return "a"
}

// PlayerSlot carries the per-player escrow bookkeeping inside a match record.
// PubKey is populated only in script mode; the contract backend needs
// addresses alone.
type PlayerSlot struct {
	Address          string `json:"address"`
	PubKey           []byte `json:"pubKey,omitempty"`
	DepositTxID      string `json:"depositTxid,omitempty"`
	DepositAmount    int64  `json:"depositAmount,omitempty"`
	DepositConfirmed bool   `json:"depositConfirmed,omitempty"`
	EscrowAddress    string `json:"escrowAddress,omitempty"`
	EscrowScript     []byte `json:"escrowScript,omitempty"`
	RefundTxID       string `json:"refundTxid,omitempty"`
}

// Registered reports whether the slot holds a player.
func (s PlayerSlot) Registered() bool { return strings.TrimSpace(s.Address) != "" }

// MatchContext is the whole-record state of one match. It is created at lobby
// creation, mutated only through lifecycle transitions and becomes immutable
// once a terminal status is reached.
type MatchContext struct {
	ID                   string     `json:"id"`
	Status               Status     `json:"status"`
	PlayerA              PlayerSlot `json:"playerA"`
	PlayerB              PlayerSlot `json:"playerB"`
	BetAmount            int64      `json:"betAmount"`
	Mode                 EscrowMode `json:"mode"`
	SettleTxID           string     `json:"settleTxid,omitempty"`
	WinnerAddress        string     `json:"winnerAddress,omitempty"`
	CreatedAtBlock       uint64     `json:"createdAtBlock"`
	RefundLocktimeBlocks uint64     `json:"refundLocktimeBlocks"`
	CreatedAt            int64      `json:"createdAt"`
}

// Slot returns a pointer to the requested player slot within mc.
func (mc *MatchContext) Slot(p Player) *PlayerSlot {
	if p == PlayerB {
		return &mc.PlayerB
	}
	return &mc.PlayerA
}

// Clone returns a deep copy of the match context so callers can safely mutate
// the copy without affecting the stored instance.
func (mc *MatchContext) Clone() *MatchContext {
	if mc == nil {
		return nil
	}
	clone := *mc
	clone.PlayerA.PubKey = append([]byte(nil), mc.PlayerA.PubKey...)
	clone.PlayerA.EscrowScript = append([]byte(nil), mc.PlayerA.EscrowScript...)
	clone.PlayerB.PubKey = append([]byte(nil), mc.PlayerB.PubKey...)
	clone.PlayerB.EscrowScript = append([]byte(nil), mc.PlayerB.EscrowScript...)
	return &clone
}

// HasSettlement reports whether a settlement transaction was ever recorded.
// Once set, no refund may be issued for the match, and vice versa.
func (mc *MatchContext) HasSettlement() bool {
	return mc != nil && strings.TrimSpace(mc.SettleTxID) != ""
}

// HasRefund reports whether a refund was issued to either player.
func (mc *MatchContext) HasRefund() bool {
	if mc == nil {
		return false
	}
	return strings.TrimSpace(mc.PlayerA.RefundTxID) != "" || strings.TrimSpace(mc.PlayerB.RefundTxID) != ""
}

// BothDepositsConfirmed reports whether both escrow deposits are confirmed.
func (mc *MatchContext) BothDepositsConfirmed() bool {
	if mc == nil {
		return false
	}
	return mc.PlayerA.DepositConfirmed && mc.PlayerB.DepositConfirmed
}

// SanitizeMatch validates the supplied match record and returns a clone with
// trimmed identifiers. The original value is not mutated.
func SanitizeMatch(mc *MatchContext) (*MatchContext, error) {
	if mc == nil {
		return nil, fmt.Errorf("match: nil match context")
	}
	clone := mc.Clone()
	clone.ID = strings.TrimSpace(clone.ID)
	if clone.ID == "" {
		return nil, fmt.Errorf("match: id required")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("match: invalid status %d", clone.Status)
	}
	if !clone.Mode.Valid() {
		return nil, fmt.Errorf("match: invalid escrow mode %d", clone.Mode)
	}
	if clone.BetAmount < 0 {
		return nil, fmt.Errorf("match: bet amount must be non-negative")
	}
	if clone.HasSettlement() && clone.HasRefund() {
		return nil, fmt.Errorf("match: record carries both settlement and refund")
	}
	return clone, nil
}
