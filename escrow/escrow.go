// Package escrow defines the capability interface shared by the two chain
// backends. Callers select a backend by network capability at wiring time and
// never branch on the backend type inside business logic.
package escrow

import (
	"context"

	"racewager/native/match"
)

// DepositTargets describes where each player must send their stake. On the
// script chain these are per-depositor covenant addresses; on the account
// chain both players deposit into the module vault.
type DepositTargets struct {
	AddressA string
	AddressB string
	ScriptA  []byte
	ScriptB  []byte
}

// Backend turns validated match decisions into chain submissions. The script
// backend enforces custody at spend time, the contract backend at call time;
// both consume the identical validation guard first.
type Backend interface {
	// Generate derives the deposit targets for a match deterministically,
	// so a depositor can verify them before funding.
	Generate(mc *match.MatchContext) (*DepositTargets, error)
	// Settle submits the payout for a finished match and returns the
	// transaction id.
	Settle(ctx context.Context, mc *match.MatchContext, typ match.SettlementType, outputs []match.Output) (string, error)
	// Refund submits the single-sided timelock refund for one player and
	// returns the transaction id.
	Refund(ctx context.Context, mc *match.MatchContext, playerAddress string, currentHeight uint64) (string, error)
}

// DepositCollector is implemented by backends that must pull a player's stake
// into escrow themselves when the deposit confirms. The script backend
// observes deposits arriving on chain instead and does not implement it.
type DepositCollector interface {
	CollectDeposit(ctx context.Context, mc *match.MatchContext, player match.Player) error
}
