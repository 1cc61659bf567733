package match

import "fmt"

// SettlementType enumerates the payout shapes a match can settle with.
type SettlementType uint8

const (
	SettlementWinnerA SettlementType = iota
	SettlementWinnerB
	SettlementDraw
	SettlementRefund
)

var settlementNames = map[SettlementType]string{
	SettlementWinnerA: "winner_a",
	SettlementWinnerB: "winner_b",
	SettlementDraw:    "draw",
	SettlementRefund:  "refund",
}

func (t SettlementType) String() string {
	if name, ok := settlementNames[t]; ok {
		return name
	}
	return fmt.Sprintf("settlement(%d)", uint8(t))
}

// Valid reports whether the settlement type is supported.
func (t SettlementType) Valid() bool {
	_, ok := settlementNames[t]
	return ok
}

// Output is one (address, amount) payout pair of a settlement or refund.
type Output struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// CalculateSettlementOutputs computes the payout split for the given
// settlement type. For every type the value conservation law holds:
//
//	sum(outputs.amount) == depositA + depositB - fee
//
// Winner settlements pay the whole pot minus the fee to the winner. A draw
// returns each deposit minus half the fee. A refund charges each player a fee
// share proportional to their deposit, with the B share defined as the exact
// remainder so the two shares always sum to the fee.
func CalculateSettlementOutputs(typ SettlementType, depositA, depositB int64, addrA, addrB string, fee int64) ([]Output, error) {
	if !typ.Valid() {
		return nil, newPrecondition("calculate_settlement", "unknown settlement type %d", typ)
	}
	if depositA <= 0 || depositB <= 0 {
		return nil, newPrecondition("calculate_settlement", "deposits must be positive")
	}
	if fee < 0 {
		return nil, newPrecondition("calculate_settlement", "fee must be non-negative")
	}
	pot := depositA + depositB
	if pot <= fee {
		return nil, newPrecondition("calculate_settlement", "total deposits %d do not cover fee %d", pot, fee)
	}
	switch typ {
	case SettlementWinnerA:
		return []Output{{Address: addrA, Amount: pot - fee}}, nil
	case SettlementWinnerB:
		return []Output{{Address: addrB, Amount: pot - fee}}, nil
	case SettlementDraw:
		feeA := fee / 2
		feeB := fee - feeA
		// An asymmetric pot can cover the whole fee while one deposit
		// fails to cover its half.
		if depositA <= feeA || depositB <= feeB {
			return nil, newPrecondition("calculate_settlement", "deposit does not cover fee share")
		}
		return []Output{
			{Address: addrA, Amount: depositA - feeA},
			{Address: addrB, Amount: depositB - feeB},
		}, nil
	case SettlementRefund:
		feeA := fee * depositA / pot
		feeB := fee - feeA
		if depositA <= feeA || depositB <= feeB {
			return nil, newPrecondition("calculate_settlement", "deposit does not cover fee share")
		}
		return []Output{
			{Address: addrA, Amount: depositA - feeA},
			{Address: addrB, Amount: depositB - feeB},
		}, nil
	default:
		return nil, newPrecondition("calculate_settlement", "unknown settlement type %d", typ)
	}
}

// SettlementTypeForWinner maps a recorded winner address to the matching
// settlement type.
func SettlementTypeForWinner(mc *MatchContext, winner string) (SettlementType, error) {
	if mc == nil {
		return 0, newPrecondition("settlement_type", "nil match context")
	}
	switch winner {
	case "":
		return SettlementDraw, nil
	case mc.PlayerA.Address:
		return SettlementWinnerA, nil
	case mc.PlayerB.Address:
		return SettlementWinnerB, nil
	default:
		return 0, newIntegrity("settlement_type", "winner %q is not a registered player", winner)
	}
}
