package match

// The validation guard is the single canonical enforcement point for theft
// resistance. Both escrow backends run these checks before building a chain
// submission, and the script/contract programs duplicate them defensively at
// spend/call time — custody logic never relies on one layer alone. Every
// check is a pure function of its inputs.

// SettlementRequest is the ephemeral input to a settlement validation. It is
// consumed by the calculators and never persisted beyond its result.
type SettlementRequest struct {
	Type SettlementType
	Fee  int64
}

// RefundRequest is the ephemeral input to a refund validation.
type RefundRequest struct {
	PlayerAddress string
	CurrentHeight uint64
}

// ValidateSettlementRequest runs the ordered settlement preconditions against
// the match record: correct phase, no prior settlement, both deposits
// confirmed, pot covering the fee and settlement type consistent with the
// recorded winner.
func ValidateSettlementRequest(mc *MatchContext, req SettlementRequest) error {
	if mc == nil {
		return newPrecondition("validate_settlement", "nil match context")
	}
	if !req.Type.Valid() {
		return newPrecondition("validate_settlement", "unknown settlement type %d", req.Type)
	}
	if mc.Status != StatusRacing && mc.Status != StatusSettling {
		return newPrecondition("validate_settlement", "match %s in state %s cannot settle", mc.ID, mc.Status)
	}
	if mc.HasSettlement() {
		return newPrecondition("validate_settlement", "duplicate settlement for match %s", mc.ID)
	}
	if mc.HasRefund() {
		return newIntegrity("validate_settlement", "refund already issued for match %s", mc.ID)
	}
	if mc.PlayerA.DepositTxID == "" || mc.PlayerB.DepositTxID == "" {
		return newPrecondition("validate_settlement", "both deposits must be recorded")
	}
	if !mc.BothDepositsConfirmed() {
		return newPrecondition("validate_settlement", "both deposits must be confirmed")
	}
	if mc.PlayerA.DepositAmount+mc.PlayerB.DepositAmount <= req.Fee {
		return newPrecondition("validate_settlement", "deposit total does not cover fee %d", req.Fee)
	}
	return validateTypeMatchesWinner(mc, req.Type)
}

func validateTypeMatchesWinner(mc *MatchContext, typ SettlementType) error {
	switch typ {
	case SettlementWinnerA:
		if mc.WinnerAddress != mc.PlayerA.Address {
			return newIntegrity("validate_settlement", "type winner_a inconsistent with recorded winner %q", mc.WinnerAddress)
		}
	case SettlementWinnerB:
		if mc.WinnerAddress != mc.PlayerB.Address {
			return newIntegrity("validate_settlement", "type winner_b inconsistent with recorded winner %q", mc.WinnerAddress)
		}
	case SettlementDraw, SettlementRefund:
		if mc.WinnerAddress != "" {
			return newIntegrity("validate_settlement", "type %s inconsistent with recorded winner %q", typ, mc.WinnerAddress)
		}
	}
	return nil
}

// ValidateSettlementOutputs enforces the custody invariants on a computed
// payout: one or two outputs, every destination one of the two registered
// players and every amount positive. Injecting any third-party address is
// rejected as an integrity violation regardless of the other outputs.
func ValidateSettlementOutputs(mc *MatchContext, outputs []Output) error {
	if mc == nil {
		return newPrecondition("validate_outputs", "nil match context")
	}
	if len(outputs) == 0 {
		return newIntegrity("validate_outputs", "settlement must have at least one output")
	}
	if len(outputs) > 2 {
		return newIntegrity("validate_outputs", "settlement must not have more than two outputs")
	}
	for _, out := range outputs {
		if out.Address != mc.PlayerA.Address && out.Address != mc.PlayerB.Address {
			return newIntegrity("validate_outputs", "output to %q is outside the registered players", out.Address)
		}
		if out.Amount <= 0 {
			return newIntegrity("validate_outputs", "output amount must be positive")
		}
	}
	return nil
}

// ValidateRefundEligibility runs the ordered refund preconditions for a
// single player: no settlement, no prior refund to this player, locktime
// elapsed and a positive confirmed-or-pending deposit to return.
func ValidateRefundEligibility(mc *MatchContext, req RefundRequest) error {
	if mc == nil {
		return newPrecondition("validate_refund", "nil match context")
	}
	if mc.HasSettlement() {
		return newIntegrity("validate_refund", "settlement already exists for match %s", mc.ID)
	}
	player, err := playerByAddress(mc, req.PlayerAddress)
	if err != nil {
		return err
	}
	slot := mc.Slot(player)
	if slot.RefundTxID != "" {
		return newPrecondition("validate_refund", "refund already issued to player %s", player)
	}
	eligibleAt := mc.CreatedAtBlock + mc.RefundLocktimeBlocks
	if req.CurrentHeight < eligibleAt {
		return newPrecondition("validate_refund", "locked until height %d (current %d)", eligibleAt, req.CurrentHeight)
	}
	if slot.DepositTxID == "" {
		return newPrecondition("validate_refund", "no deposit recorded for player %s", player)
	}
	if slot.DepositAmount <= 0 {
		return newPrecondition("validate_refund", "deposit amount must be positive")
	}
	return nil
}

// ValidateCovenantReadiness reports whether the record carries everything the
// script backend needs to spend the escrows: script mode, both per-player
// covenant scripts and both public keys. The contract backend needs only
// addresses and never public keys.
func ValidateCovenantReadiness(mc *MatchContext) error {
	if mc == nil {
		return newPrecondition("validate_covenant", "nil match context")
	}
	if mc.Mode != ModeScript {
		return newPrecondition("validate_covenant", "match %s does not use script escrow", mc.ID)
	}
	if len(mc.PlayerA.EscrowScript) == 0 || len(mc.PlayerB.EscrowScript) == 0 {
		return newPrecondition("validate_covenant", "escrow scripts not generated")
	}
	if len(mc.PlayerA.PubKey) == 0 || len(mc.PlayerB.PubKey) == 0 {
		return newPrecondition("validate_covenant", "player public keys unknown")
	}
	return nil
}
