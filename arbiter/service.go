// Package arbiter hosts the semi-trusted operator deciding match outcomes.
// The service serializes all writes to one match behind its store lock,
// validates every decision against the custody guard, and submits the result
// through the configured escrow backend. It can decide winners but can never
// direct funds anywhere except the two registered players.
package arbiter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"racewager/core/events"
	"racewager/core/types"
	"racewager/escrow"
	"racewager/native/common"
	"racewager/native/match"
	"racewager/observability/metrics"
	"racewager/storage/matchstore"
)

const moduleName = "arbiter"

// Config carries the service's operating parameters.
type Config struct {
	EscrowMode           match.EscrowMode
	SettlementFee        int64
	MinDeposit           int64
	RefundLocktimeBlocks uint64
}

// Service orchestrates match lifecycles on behalf of the arbiter.
type Service struct {
	store   *matchstore.Store
	backend escrow.Backend
	cfg     Config

	emitter  events.Emitter
	pauses   common.PauseView
	logger   *slog.Logger
	metrics  *metrics.ArbiterMetrics
	nowFn    func() int64
	heightFn func() uint64
	idFn     func() string
}

// NewService builds the arbiter service over a match store and an escrow
// backend.
func NewService(store *matchstore.Store, backend escrow.Backend, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		backend:  backend,
		cfg:      cfg,
		emitter:  events.NoopEmitter{},
		logger:   logger.With("component", moduleName),
		metrics:  metrics.Arbiter(),
		nowFn:    func() int64 { return 0 },
		heightFn: func() uint64 { return 0 },
		idFn:     uuid.NewString,
	}
}

// SetEmitter configures the event emitter used for lifecycle notifications.
func (s *Service) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	s.emitter = emitter
}

// SetPauses wires the pause switchboard controlling the module.
func (s *Service) SetPauses(p common.PauseView) { s.pauses = p }

// SetNowFunc overrides the wall-clock source.
func (s *Service) SetNowFunc(now func() int64) {
	if now != nil {
		s.nowFn = now
	}
}

// SetHeightFunc overrides the chain height source used for refund eligibility.
func (s *Service) SetHeightFunc(height func() uint64) {
	if height != nil {
		s.heightFn = height
	}
}

// SetIDFunc overrides the match id generator.
func (s *Service) SetIDFunc(id func() string) {
	if id != nil {
		s.idFn = id
	}
}

type lobbyEvent struct {
	evt *types.Event
}

func (e lobbyEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

// Event exposes the underlying payload for subscribers.
func (e lobbyEvent) Event() *types.Event { return e.evt }

func (s *Service) emit(evt *types.Event) {
	if evt == nil {
		return
	}
	s.emitter.Emit(lobbyEvent{evt: evt})
}

func (s *Service) guard() error {
	return common.Guard(s.pauses, moduleName)
}

// CreateMatch opens a new lobby. When creatorAddress is supplied the creator
// occupies the first slot immediately.
func (s *Service) CreateMatch(creatorAddress string, creatorPubKey []byte, betAmount int64) (*match.MatchContext, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if betAmount < s.cfg.MinDeposit {
		return nil, fmt.Errorf("arbiter: bet amount %d below minimum deposit %d", betAmount, s.cfg.MinDeposit)
	}
	mc, err := match.NewMatchContext(match.CreateParams{
		ID:                   s.idFn(),
		PlayerAAddress:       creatorAddress,
		PlayerAPubKey:        creatorPubKey,
		BetAmount:            betAmount,
		Mode:                 s.cfg.EscrowMode,
		CreatedAtBlock:       s.heightFn(),
		RefundLocktimeBlocks: s.cfg.RefundLocktimeBlocks,
		CreatedAt:            s.nowFn(),
	})
	if err != nil {
		return nil, err
	}
	unlock := s.store.Lock(mc.ID)
	defer unlock()
	if err := s.store.Put(mc); err != nil {
		return nil, err
	}
	s.metrics.MatchCreated()
	s.emit(match.NewCreatedEvent(mc))
	s.logger.Info("match created", "matchId", mc.ID, "betAmount", betAmount, "mode", mc.Mode.String())
	return mc, nil
}

// Join registers a player into an open slot. Once both slots are filled the
// escrow deposit targets are derived and stored on the record so depositors
// can verify them independently.
func (s *Service) Join(matchID, address string, pubKey []byte) (*match.MatchContext, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.transition(matchID, match.ActionJoin, match.TransitionParams{Address: address, PubKey: pubKey}, func(next *match.MatchContext) error {
		if next.Status != match.StatusDepositsPending {
			return nil
		}
		targets, err := s.backend.Generate(next)
		if err != nil {
			return err
		}
		next.PlayerA.EscrowAddress = targets.AddressA
		next.PlayerA.EscrowScript = append([]byte(nil), targets.ScriptA...)
		next.PlayerB.EscrowAddress = targets.AddressB
		next.PlayerB.EscrowScript = append([]byte(nil), targets.ScriptB...)
		return nil
	})
}

// RecordDeposit notes a player's deposit transaction before confirmation.
func (s *Service) RecordDeposit(matchID string, player match.Player, txID string, amount int64) (*match.MatchContext, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if amount < s.cfg.MinDeposit {
		return nil, fmt.Errorf("arbiter: deposit %d below minimum %d", amount, s.cfg.MinDeposit)
	}
	action := match.ActionDepositA
	if player == match.PlayerB {
		action = match.ActionDepositB
	}
	return s.transition(matchID, action, match.TransitionParams{TxID: txID, Amount: amount}, nil)
}

// ConfirmDeposit marks a recorded deposit as confirmed. Confirming the second
// side moves the match to the funded state in the same serialized write. On a
// collecting backend the stake is pulled into escrow before the record is
// stored, so a failed collection leaves the lifecycle untouched.
func (s *Service) ConfirmDeposit(ctx context.Context, matchID string, player match.Player) (*match.MatchContext, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	action := match.ActionConfirmDepositA
	if player == match.PlayerB {
		action = match.ActionConfirmDepositB
	}
	next, err := s.transition(matchID, action, match.TransitionParams{}, func(next *match.MatchContext) error {
		collector, ok := s.backend.(escrow.DepositCollector)
		if !ok {
			return nil
		}
		return collector.CollectDeposit(ctx, next, player)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.DepositHeld(next.Slot(player).DepositAmount)
	s.emit(match.NewDepositConfirmedEvent(next, player))
	if next.Status == match.StatusDepositsConfirmed {
		s.emit(match.NewFundedEvent(next))
		s.logger.Info("match fully funded", "matchId", next.ID)
	}
	return next, nil
}

// StartRace begins the race once both deposits are confirmed.
func (s *Service) StartRace(matchID string) (*match.MatchContext, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	next, err := s.transition(matchID, match.ActionStartRace, match.TransitionParams{}, nil)
	if err != nil {
		return nil, err
	}
	s.emit(match.NewRaceStartedEvent(next))
	return next, nil
}

// SubmitResult records the arbiter's outcome decision. The winner must be a
// registered player; an empty winner declares a draw.
func (s *Service) SubmitResult(matchID, winnerAddress string) (*match.MatchContext, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	next, err := s.transition(matchID, match.ActionSubmitResult, match.TransitionParams{Winner: strings.TrimSpace(winnerAddress)}, nil)
	if err != nil {
		return nil, err
	}
	s.emit(match.NewResultSubmittedEvent(next))
	return next, nil
}

// Settle computes the payout split, validates it against the custody guard,
// submits it through the escrow backend, and records the resulting
// transaction id. A repeat call on a settled match returns the recorded id
// without resubmitting.
func (s *Service) Settle(ctx context.Context, matchID string) (*match.MatchContext, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	unlock := s.store.Lock(matchID)
	defer unlock()

	mc, err := s.store.Get(matchID)
	if err != nil {
		return nil, err
	}
	if mc.HasSettlement() {
		s.logger.Info("settlement already recorded", "matchId", mc.ID, "txId", mc.SettleTxID)
		return mc, nil
	}

	typ, err := match.SettlementTypeForWinner(mc, mc.WinnerAddress)
	if err != nil {
		return nil, err
	}
	outputs, err := match.CalculateSettlementOutputs(typ, mc.PlayerA.DepositAmount, mc.PlayerB.DepositAmount, mc.PlayerA.Address, mc.PlayerB.Address, s.cfg.SettlementFee)
	if err != nil {
		return nil, err
	}
	txID, err := s.backend.Settle(ctx, mc, typ, outputs)
	if err != nil {
		if match.IsIntegrity(err) {
			s.metrics.IntegrityRejection("settle")
			s.logger.Error("settlement rejected by custody guard", "matchId", mc.ID, "error", err)
		}
		return nil, err
	}
	next, err := match.Transition(mc, match.ActionSettle, match.TransitionParams{TxID: txID})
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(next); err != nil {
		return nil, err
	}
	s.metrics.Settlement(typ.String())
	s.metrics.FundsReleased(next.PlayerA.DepositAmount + next.PlayerB.DepositAmount)
	s.emit(match.NewSettledEvent(next))
	s.logger.Info("match settled", "matchId", next.ID, "type", typ.String(), "txId", txID)
	return next, nil
}

// RequestRefund executes the single-sided timelock refund for one player once
// the locktime has elapsed and no settlement exists.
func (s *Service) RequestRefund(ctx context.Context, matchID, playerAddress string) (*match.MatchContext, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	unlock := s.store.Lock(matchID)
	defer unlock()

	mc, err := s.store.Get(matchID)
	if err != nil {
		return nil, err
	}
	height := s.heightFn()
	if err := match.ValidateRefundEligibility(mc, match.RefundRequest{PlayerAddress: playerAddress, CurrentHeight: height}); err != nil {
		if match.IsIntegrity(err) {
			s.metrics.IntegrityRejection("request_refund")
		}
		return nil, err
	}
	txID, err := s.backend.Refund(ctx, mc, playerAddress, height)
	if err != nil {
		return nil, err
	}

	var next *match.MatchContext
	if mc.Status.IsTerminal() {
		// Second-player refund after the record already reached the refunded
		// state: record the txid directly, the lifecycle has no further
		// transition to apply.
		next = mc.Clone()
	} else {
		next, err = match.Transition(mc, match.ActionRequestRefund, match.TransitionParams{Address: playerAddress, TxID: txID, Height: height})
		if err != nil {
			return nil, err
		}
	}
	player := match.PlayerA
	if next.PlayerB.Registered() && next.PlayerB.Address == strings.TrimSpace(playerAddress) {
		player = match.PlayerB
	}
	next.Slot(player).RefundTxID = txID
	if err := s.storePutRefund(next); err != nil {
		return nil, err
	}
	s.metrics.Refund()
	if slot := next.Slot(player); slot.DepositConfirmed {
		s.metrics.FundsReleased(slot.DepositAmount)
	}
	s.emit(match.NewRefundedEvent(next, player))
	s.logger.Info("refund issued", "matchId", next.ID, "player", player.String(), "txId", txID)
	return next, nil
}

// storePutRefund writes a refund update, tolerating the terminal-immutability
// rule for the second player's refund txid.
func (s *Service) storePutRefund(next *match.MatchContext) error {
	if err := s.store.Put(next); err == nil {
		return nil
	} else if !next.Status.IsTerminal() {
		return err
	}
	// The record is already terminal; the refund itself succeeded on chain, so
	// losing the second txid annotation is logged but not fatal.
	s.logger.Warn("terminal record not updated with refund txid", "matchId", next.ID)
	return nil
}

// Cancel abandons a lobby before any deposit exists.
func (s *Service) Cancel(matchID string) (*match.MatchContext, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	next, err := s.transition(matchID, match.ActionCancel, match.TransitionParams{}, nil)
	if err != nil {
		return nil, err
	}
	s.emit(match.NewCancelledEvent(next))
	return next, nil
}

// GetMatch returns the current record for a match id.
func (s *Service) GetMatch(matchID string) (*match.MatchContext, error) {
	return s.store.Get(matchID)
}

// ValidActions lists the lifecycle actions currently available on a match.
func (s *Service) ValidActions(matchID string) ([]match.Action, error) {
	mc, err := s.store.Get(matchID)
	if err != nil {
		return nil, err
	}
	return match.ValidActions(mc), nil
}

// transition runs a serialized read-transition-write cycle for one match. The
// optional decorate hook mutates the successor record before it is stored.
func (s *Service) transition(matchID string, action match.Action, p match.TransitionParams, decorate func(*match.MatchContext) error) (*match.MatchContext, error) {
	unlock := s.store.Lock(matchID)
	defer unlock()

	mc, err := s.store.Get(matchID)
	if err != nil {
		return nil, err
	}
	next, err := match.Transition(mc, action, p)
	if err != nil {
		if match.IsIntegrity(err) {
			s.metrics.IntegrityRejection(string(action))
		}
		return nil, err
	}
	if decorate != nil {
		if err := decorate(next); err != nil {
			return nil, err
		}
	}
	if err := s.store.Put(next); err != nil {
		return nil, err
	}
	s.metrics.Transition(string(action))
	switch action {
	case match.ActionJoin:
		s.emit(match.NewJoinedEvent(next))
	case match.ActionDepositA:
		s.emit(match.NewDepositRecordedEvent(next, match.PlayerA))
	case match.ActionDepositB:
		s.emit(match.NewDepositRecordedEvent(next, match.PlayerB))
	}
	return next, nil
}
