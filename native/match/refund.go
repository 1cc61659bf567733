package match

// RefundEligibility reports the timelock status of a match refund.
type RefundEligibility struct {
	Eligible         bool   `json:"eligible"`
	EligibleAtHeight uint64 `json:"eligibleAtHeight"`
	BlocksRemaining  uint64 `json:"blocksRemaining"`
}

// IsRefundEligible evaluates the refund timelock against the current chain
// height. Eligibility is monotonic in height: false strictly below
// createdAtBlock+refundLocktimeBlocks, true at and above it, and permanently
// false once a settlement exists.
func IsRefundEligible(mc *MatchContext, currentHeight uint64) RefundEligibility {
	if mc == nil {
		return RefundEligibility{}
	}
	eligibleAt := mc.CreatedAtBlock + mc.RefundLocktimeBlocks
	result := RefundEligibility{EligibleAtHeight: eligibleAt}
	if currentHeight < eligibleAt {
		result.BlocksRemaining = eligibleAt - currentHeight
		return result
	}
	result.Eligible = !mc.HasSettlement()
	return result
}

// BuildRefund constructs the single-sided refund payout for the requesting
// player: only that player's deposit is returned, with the fee charged once
// against it. The same guard preconditions apply as for any refund.
func BuildRefund(mc *MatchContext, playerAddress string, currentHeight uint64, fee int64) (Output, error) {
	if err := ValidateRefundEligibility(mc, RefundRequest{PlayerAddress: playerAddress, CurrentHeight: currentHeight}); err != nil {
		return Output{}, err
	}
	if fee < 0 {
		return Output{}, newPrecondition("build_refund", "fee must be non-negative")
	}
	player, err := playerByAddress(mc, playerAddress)
	if err != nil {
		return Output{}, err
	}
	slot := mc.Slot(player)
	if slot.DepositAmount <= fee {
		return Output{}, newPrecondition("build_refund", "deposit %d does not cover fee %d", slot.DepositAmount, fee)
	}
	return Output{Address: slot.Address, Amount: slot.DepositAmount - fee}, nil
}
