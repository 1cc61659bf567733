package arbiter

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"racewager/escrow"
	"racewager/native/match"
	"racewager/storage"
	"racewager/storage/matchstore"
)

// stubBackend records escrow calls and hands out deterministic txids.
type stubBackend struct {
	generateCalls int
	settleCalls   int
	refundCalls   int
	settleErr     error
	lastType      match.SettlementType
	lastOutputs   []match.Output
}

func (b *stubBackend) Generate(mc *match.MatchContext) (*escrow.DepositTargets, error) {
	b.generateCalls++
	return &escrow.DepositTargets{
		AddressA: "escrow-a",
		AddressB: "escrow-b",
		ScriptA:  []byte{0x51},
		ScriptB:  []byte{0x52},
	}, nil
}

func (b *stubBackend) Settle(ctx context.Context, mc *match.MatchContext, typ match.SettlementType, outputs []match.Output) (string, error) {
	if b.settleErr != nil {
		return "", b.settleErr
	}
	b.settleCalls++
	b.lastType = typ
	b.lastOutputs = append([]match.Output(nil), outputs...)
	return fmt.Sprintf("settle-tx-%d", b.settleCalls), nil
}

func (b *stubBackend) Refund(ctx context.Context, mc *match.MatchContext, playerAddress string, currentHeight uint64) (string, error) {
	b.refundCalls++
	return fmt.Sprintf("refund-tx-%d", b.refundCalls), nil
}

// collectorBackend additionally implements the deposit-pulling capability of
// the contract backend.
type collectorBackend struct {
	stubBackend
	collected  []match.Player
	collectErr error
}

func (b *collectorBackend) CollectDeposit(ctx context.Context, mc *match.MatchContext, player match.Player) error {
	if b.collectErr != nil {
		return b.collectErr
	}
	b.collected = append(b.collected, player)
	return nil
}

func newTestService(t *testing.T, backend escrow.Backend) *Service {
	t.Helper()
	store := matchstore.New(storage.NewMemDB(), nil)
	svc := NewService(store, backend, Config{
		EscrowMode:           match.ModeScript,
		SettlementFee:        1_000,
		MinDeposit:           10_000,
		RefundLocktimeBlocks: 144,
	}, nil)
	ids := 0
	svc.SetIDFunc(func() string {
		ids++
		return fmt.Sprintf("match-%d", ids)
	})
	svc.SetHeightFunc(func() uint64 { return 100 })
	svc.SetNowFunc(func() int64 { return 1_700_000_000 })
	return svc
}

func setupFunded(t *testing.T, svc *Service) *match.MatchContext {
	t.Helper()
	mc, err := svc.CreateMatch("race1aaaa", nil, 50_000)
	require.NoError(t, err)
	_, err = svc.Join(mc.ID, "race1bbbb", nil)
	require.NoError(t, err)
	_, err = svc.RecordDeposit(mc.ID, match.PlayerA, "txa", 50_000)
	require.NoError(t, err)
	_, err = svc.RecordDeposit(mc.ID, match.PlayerB, "txb", 50_000)
	require.NoError(t, err)
	_, err = svc.ConfirmDeposit(context.Background(), mc.ID, match.PlayerA)
	require.NoError(t, err)
	funded, err := svc.ConfirmDeposit(context.Background(), mc.ID, match.PlayerB)
	require.NoError(t, err)
	require.Equal(t, match.StatusDepositsConfirmed, funded.Status)
	return funded
}

func TestCreateAndJoinDerivesEscrowTargets(t *testing.T) {
	backend := &stubBackend{}
	svc := newTestService(t, backend)

	mc, err := svc.CreateMatch("race1aaaa", []byte{0x02}, 50_000)
	require.NoError(t, err)
	require.Equal(t, match.StatusWaitingForOpponent, mc.Status)

	joined, err := svc.Join(mc.ID, "race1bbbb", []byte{0x03})
	require.NoError(t, err)
	require.Equal(t, match.StatusDepositsPending, joined.Status)
	require.Equal(t, 1, backend.generateCalls)
	require.Equal(t, "escrow-a", joined.PlayerA.EscrowAddress)
	require.Equal(t, "escrow-b", joined.PlayerB.EscrowAddress)
}

func TestCreateRejectsBetBelowMinimum(t *testing.T) {
	svc := newTestService(t, &stubBackend{})
	_, err := svc.CreateMatch("race1aaaa", nil, 100)
	require.Error(t, err)
}

func TestFullSettlementFlow(t *testing.T) {
	backend := &stubBackend{}
	svc := newTestService(t, backend)
	mc := setupFunded(t, svc)

	_, err := svc.StartRace(mc.ID)
	require.NoError(t, err)
	_, err = svc.SubmitResult(mc.ID, "race1bbbb")
	require.NoError(t, err)

	settled, err := svc.Settle(context.Background(), mc.ID)
	require.NoError(t, err)
	require.Equal(t, match.StatusSettled, settled.Status)
	require.Equal(t, "settle-tx-1", settled.SettleTxID)
	require.Equal(t, match.SettlementWinnerB, backend.lastType)
	require.Len(t, backend.lastOutputs, 1)
	require.Equal(t, "race1bbbb", backend.lastOutputs[0].Address)
	require.Equal(t, int64(99_000), backend.lastOutputs[0].Amount)
}

func TestSettleIsIdempotent(t *testing.T) {
	backend := &stubBackend{}
	svc := newTestService(t, backend)
	mc := setupFunded(t, svc)
	_, err := svc.StartRace(mc.ID)
	require.NoError(t, err)
	_, err = svc.SubmitResult(mc.ID, "race1aaaa")
	require.NoError(t, err)

	first, err := svc.Settle(context.Background(), mc.ID)
	require.NoError(t, err)
	again, err := svc.Settle(context.Background(), mc.ID)
	require.NoError(t, err)
	require.Equal(t, first.SettleTxID, again.SettleTxID)
	require.Equal(t, 1, backend.settleCalls, "repeat settle must not resubmit")
}

func TestDrawSettlementSplitsPot(t *testing.T) {
	backend := &stubBackend{}
	svc := newTestService(t, backend)
	mc := setupFunded(t, svc)
	_, err := svc.StartRace(mc.ID)
	require.NoError(t, err)
	_, err = svc.SubmitResult(mc.ID, "")
	require.NoError(t, err)

	_, err = svc.Settle(context.Background(), mc.ID)
	require.NoError(t, err)
	require.Equal(t, match.SettlementDraw, backend.lastType)
	require.Len(t, backend.lastOutputs, 2)
	require.Equal(t, int64(49_500), backend.lastOutputs[0].Amount)
	require.Equal(t, int64(49_500), backend.lastOutputs[1].Amount)
}

func TestSubmitResultRejectsThirdParty(t *testing.T) {
	svc := newTestService(t, &stubBackend{})
	mc := setupFunded(t, svc)
	_, err := svc.StartRace(mc.ID)
	require.NoError(t, err)
	_, err = svc.SubmitResult(mc.ID, "race1mallory")
	require.True(t, match.IsIntegrity(err), "expected integrity error, got %v", err)
}

func TestRefundAfterLocktime(t *testing.T) {
	backend := &stubBackend{}
	svc := newTestService(t, backend)
	mc, err := svc.CreateMatch("race1aaaa", nil, 50_000)
	require.NoError(t, err)
	_, err = svc.Join(mc.ID, "race1bbbb", nil)
	require.NoError(t, err)
	_, err = svc.RecordDeposit(mc.ID, match.PlayerA, "txa", 50_000)
	require.NoError(t, err)

	// Below the eligibility height the refund is rejected.
	_, err = svc.RequestRefund(context.Background(), mc.ID, "race1aaaa")
	require.True(t, match.IsPrecondition(err), "expected precondition, got %v", err)

	svc.SetHeightFunc(func() uint64 { return 244 })
	refunded, err := svc.RequestRefund(context.Background(), mc.ID, "race1aaaa")
	require.NoError(t, err)
	require.Equal(t, match.StatusRefunded, refunded.Status)
	require.Equal(t, "refund-tx-1", refunded.PlayerA.RefundTxID)
	require.Equal(t, 1, backend.refundCalls)
}

func TestRefundBlockedAfterSettlement(t *testing.T) {
	backend := &stubBackend{}
	svc := newTestService(t, backend)
	mc := setupFunded(t, svc)
	_, err := svc.StartRace(mc.ID)
	require.NoError(t, err)
	_, err = svc.SubmitResult(mc.ID, "race1aaaa")
	require.NoError(t, err)
	_, err = svc.Settle(context.Background(), mc.ID)
	require.NoError(t, err)

	svc.SetHeightFunc(func() uint64 { return 10_000 })
	_, err = svc.RequestRefund(context.Background(), mc.ID, "race1bbbb")
	require.Error(t, err)
	require.Zero(t, backend.refundCalls)
}

func TestConfirmDepositCollectsContractStake(t *testing.T) {
	backend := &collectorBackend{}
	svc := newTestService(t, backend)
	setupFunded(t, svc)
	require.Equal(t, []match.Player{match.PlayerA, match.PlayerB}, backend.collected)
}

func TestConfirmDepositAbortsWhenCollectionFails(t *testing.T) {
	backend := &collectorBackend{collectErr: fmt.Errorf("insufficient balance")}
	svc := newTestService(t, backend)
	mc, err := svc.CreateMatch("race1aaaa", nil, 50_000)
	require.NoError(t, err)
	_, err = svc.Join(mc.ID, "race1bbbb", nil)
	require.NoError(t, err)
	_, err = svc.RecordDeposit(mc.ID, match.PlayerA, "txa", 50_000)
	require.NoError(t, err)

	_, err = svc.ConfirmDeposit(context.Background(), mc.ID, match.PlayerA)
	require.Error(t, err)
	// The failed collection must leave the record unconfirmed.
	current, err := svc.GetMatch(mc.ID)
	require.NoError(t, err)
	require.False(t, current.PlayerA.DepositConfirmed)
}

func TestCancelBeforeDeposits(t *testing.T) {
	svc := newTestService(t, &stubBackend{})
	mc, err := svc.CreateMatch("race1aaaa", nil, 50_000)
	require.NoError(t, err)
	cancelled, err := svc.Cancel(mc.ID)
	require.NoError(t, err)
	require.Equal(t, match.StatusCancelled, cancelled.Status)
}

func TestValidActionsReflectState(t *testing.T) {
	svc := newTestService(t, &stubBackend{})
	mc, err := svc.CreateMatch("race1aaaa", nil, 50_000)
	require.NoError(t, err)
	actions, err := svc.ValidActions(mc.ID)
	require.NoError(t, err)
	require.Contains(t, actions, match.ActionJoin)
	require.Contains(t, actions, match.ActionCancel)
	require.NotContains(t, actions, match.ActionSettle)
}
