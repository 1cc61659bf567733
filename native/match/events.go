package match

import (
	"strconv"

	"racewager/core/types"
)

const (
	EventTypeMatchCreated          = "match.created"
	EventTypeMatchJoined           = "match.joined"
	EventTypeMatchDepositRecorded  = "match.deposit_recorded"
	EventTypeMatchDepositConfirmed = "match.deposit_confirmed"
	EventTypeMatchFunded           = "match.funded"
	EventTypeMatchRaceStarted      = "match.race_started"
	EventTypeMatchResultSubmitted  = "match.result_submitted"
	EventTypeMatchSettled          = "match.settled"
	EventTypeMatchRefunded         = "match.refunded"
	EventTypeMatchCancelled        = "match.cancelled"
)

// NewCreatedEvent returns the canonical payload for a newly created lobby.
func NewCreatedEvent(mc *MatchContext) *types.Event { return newMatchEvent(EventTypeMatchCreated, mc) }

// NewJoinedEvent returns the payload emitted when a player fills a slot.
func NewJoinedEvent(mc *MatchContext) *types.Event { return newMatchEvent(EventTypeMatchJoined, mc) }

// NewDepositRecordedEvent returns the payload emitted when a deposit txid is
// first seen for a player.
func NewDepositRecordedEvent(mc *MatchContext, player Player) *types.Event {
	evt := newMatchEvent(EventTypeMatchDepositRecorded, mc)
	decorateWithPlayer(evt, mc, player)
	return evt
}

// NewDepositConfirmedEvent returns the payload emitted once a deposit reaches
// the confirmation threshold.
func NewDepositConfirmedEvent(mc *MatchContext, player Player) *types.Event {
	evt := newMatchEvent(EventTypeMatchDepositConfirmed, mc)
	decorateWithPlayer(evt, mc, player)
	return evt
}

// NewFundedEvent returns the payload emitted when both deposits are confirmed.
func NewFundedEvent(mc *MatchContext) *types.Event { return newMatchEvent(EventTypeMatchFunded, mc) }

// NewRaceStartedEvent returns the payload emitted when the race begins.
func NewRaceStartedEvent(mc *MatchContext) *types.Event {
	return newMatchEvent(EventTypeMatchRaceStarted, mc)
}

// NewResultSubmittedEvent returns the payload emitted when the race outcome is
// reported.
func NewResultSubmittedEvent(mc *MatchContext) *types.Event {
	return newMatchEvent(EventTypeMatchResultSubmitted, mc)
}

// NewSettledEvent returns the payload emitted when the settlement transaction
// is recorded.
func NewSettledEvent(mc *MatchContext) *types.Event { return newMatchEvent(EventTypeMatchSettled, mc) }

// NewRefundedEvent returns the payload emitted when a timelock refund is
// issued.
func NewRefundedEvent(mc *MatchContext, player Player) *types.Event {
	evt := newMatchEvent(EventTypeMatchRefunded, mc)
	decorateWithPlayer(evt, mc, player)
	return evt
}

// NewCancelledEvent returns the payload emitted when a lobby is cancelled
// before any deposit.
func NewCancelledEvent(mc *MatchContext) *types.Event {
	return newMatchEvent(EventTypeMatchCancelled, mc)
}

func newMatchEvent(eventType string, mc *MatchContext) *types.Event {
	attrs := make(map[string]string)
	if mc == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeMatch(mc)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = sanitized.ID
	attrs["status"] = sanitized.Status.String()
	attrs["mode"] = sanitized.Mode.String()
	attrs["betAmount"] = strconv.FormatInt(sanitized.BetAmount, 10)
	if sanitized.PlayerA.Registered() {
		attrs["playerA"] = sanitized.PlayerA.Address
	}
	if sanitized.PlayerB.Registered() {
		attrs["playerB"] = sanitized.PlayerB.Address
	}
	if sanitized.WinnerAddress != "" {
		attrs["winner"] = sanitized.WinnerAddress
	}
	if sanitized.SettleTxID != "" {
		attrs["settleTxid"] = sanitized.SettleTxID
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func decorateWithPlayer(evt *types.Event, mc *MatchContext, player Player) {
	if evt == nil || mc == nil {
		return
	}
	slot := mc.Slot(player)
	evt.Attributes["player"] = player.String()
	if slot.DepositTxID != "" {
		evt.Attributes["depositTxid"] = slot.DepositTxID
		evt.Attributes["depositAmount"] = strconv.FormatInt(slot.DepositAmount, 10)
	}
	if slot.RefundTxID != "" {
		evt.Attributes["refundTxid"] = slot.RefundTxID
	}
}
