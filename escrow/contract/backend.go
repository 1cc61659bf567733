package contract

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"racewager/crypto"
	"racewager/escrow"
	"racewager/native/match"
)

// Backend adapts the contract engine to the shared escrow capability
// interface. The engine runs in-process, the way native modules execute
// inside the node, so calls settle immediately and the returned id is the
// deterministic call receipt.
type Backend struct {
	engine  *Engine
	arbiter [20]byte
	fee     int64
}

// NewBackend wraps the engine for use by the arbiter service.
func NewBackend(engine *Engine, arbiter [20]byte, fee int64) *Backend {
	return &Backend{engine: engine, arbiter: arbiter, fee: fee}
}

var (
	_ escrow.Backend          = (*Backend)(nil)
	_ escrow.DepositCollector = (*Backend)(nil)
)

// ContractMatchID derives the on-chain match identifier from the lobby record
// id and the registered players.
func ContractMatchID(mc *match.MatchContext) ([32]byte, error) {
	a, err := playerBytes(mc.PlayerA.Address)
	if err != nil {
		return [32]byte{}, err
	}
	b, err := playerBytes(mc.PlayerB.Address)
	if err != nil {
		return [32]byte{}, err
	}
	nonce := ethcrypto.Keccak256Hash([]byte(mc.ID))
	return MatchID(a, b, nonce), nil
}

// Generate creates the on-chain escrow for the match and returns the vault
// deposit target for both players. The contract backend needs only addresses,
// never public keys. Repeat calls for the same record return the same target
// without creating a second escrow.
//
// The engine clock runs in block heights here, so the lobby record's creation
// height plus its locktime window is the escrow deadline directly.
func (b *Backend) Generate(mc *match.MatchContext) (*escrow.DepositTargets, error) {
	if b == nil || b.engine == nil || b.engine.state == nil {
		return nil, errNilState
	}
	if mc == nil {
		return nil, fmt.Errorf("contract escrow: nil match context")
	}
	vault := b.engine.state.VaultAddress()
	addr := crypto.NewAddress(crypto.RacePrefix, vault[:]).String()
	targets := &escrow.DepositTargets{AddressA: addr, AddressB: addr}

	id, err := ContractMatchID(mc)
	if err != nil {
		return nil, err
	}
	if _, ok := b.engine.state.MatchGet(id); ok {
		return targets, nil
	}
	playerA, err := playerBytes(mc.PlayerA.Address)
	if err != nil {
		return nil, err
	}
	playerB, err := playerBytes(mc.PlayerB.Address)
	if err != nil {
		return nil, err
	}
	nonce := ethcrypto.Keccak256Hash([]byte(mc.ID))
	deadline := int64(mc.CreatedAtBlock + mc.RefundLocktimeBlocks)
	if _, err := b.engine.CreateMatch(b.arbiter, playerA, playerB, StakeAmount(mc.BetAmount), StakeAmount(b.fee), deadline, nonce); err != nil {
		return nil, err
	}
	return targets, nil
}

// CollectDeposit pulls the confirmed player's stake from their account into
// the module vault. The second collection moves the escrow to funded.
func (b *Backend) CollectDeposit(ctx context.Context, mc *match.MatchContext, player match.Player) error {
	if b == nil || b.engine == nil {
		return errNilState
	}
	if mc == nil {
		return fmt.Errorf("contract escrow: nil match context")
	}
	id, err := ContractMatchID(mc)
	if err != nil {
		return err
	}
	from, err := playerBytes(mc.Slot(player).Address)
	if err != nil {
		return err
	}
	return b.engine.Deposit(id, from)
}

// Settle validates the payout against the custody invariants and executes the
// matching engine call. The Winner argument is derived from the registered
// players only; no other destination is expressible.
func (b *Backend) Settle(ctx context.Context, mc *match.MatchContext, typ match.SettlementType, outputs []match.Output) (string, error) {
	if err := match.ValidateSettlementRequest(mc, match.SettlementRequest{Type: typ, Fee: b.fee}); err != nil {
		return "", err
	}
	if err := match.ValidateSettlementOutputs(mc, outputs); err != nil {
		return "", err
	}
	id, err := ContractMatchID(mc)
	if err != nil {
		return "", err
	}
	switch typ {
	case match.SettlementWinnerA:
		err = b.engine.Settle(id, b.arbiter, WinnerPlayerA)
	case match.SettlementWinnerB:
		err = b.engine.Settle(id, b.arbiter, WinnerPlayerB)
	case match.SettlementDraw, match.SettlementRefund:
		err = b.engine.SettleDraw(id, b.arbiter)
	default:
		return "", fmt.Errorf("contract escrow: unsupported settlement type %s", typ)
	}
	if err != nil {
		return "", err
	}
	return receiptID(id, "settle:"+typ.String()), nil
}

// Refund validates the timelock refund and executes the per-player expiry
// call.
func (b *Backend) Refund(ctx context.Context, mc *match.MatchContext, playerAddress string, currentHeight uint64) (string, error) {
	if err := match.ValidateRefundEligibility(mc, match.RefundRequest{PlayerAddress: playerAddress, CurrentHeight: currentHeight}); err != nil {
		return "", err
	}
	id, err := ContractMatchID(mc)
	if err != nil {
		return "", err
	}
	player, err := playerBytes(playerAddress)
	if err != nil {
		return "", err
	}
	if err := b.engine.RefundExpired(id, player, b.engine.now()); err != nil {
		return "", err
	}
	return receiptID(id, "refund:"+playerAddress), nil
}

// StakeAmount converts a chain-unit amount into the engine's account units.
func StakeAmount(amount int64) *big.Int { return big.NewInt(amount) }

func playerBytes(address string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(address)
	if err != nil {
		return out, fmt.Errorf("contract escrow: bad player address %q: %w", address, err)
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

func receiptID(id [32]byte, method string) string {
	h := ethcrypto.Keccak256Hash(id[:], []byte(method))
	return hex.EncodeToString(h[:])
}
