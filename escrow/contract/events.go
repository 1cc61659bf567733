package contract

import (
	"encoding/hex"
	"strconv"

	"racewager/core/types"
	"racewager/crypto"
)

const (
	EventTypeEscrowCreated   = "matchescrow.created"
	EventTypeEscrowDeposited = "matchescrow.deposited"
	EventTypeEscrowFunded    = "matchescrow.funded"
	EventTypeEscrowSettled   = "matchescrow.settled"
	EventTypeEscrowDraw      = "matchescrow.draw"
	EventTypeEscrowRefunded  = "matchescrow.refunded"
	EventTypeEscrowCancelled = "matchescrow.cancelled"
)

type matchEvent struct {
	evt *types.Event
}

func (e matchEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e matchEvent) Event() *types.Event { return e.evt }

func newCreatedEvent(m *Match) *types.Event { return newEscrowEvent(EventTypeEscrowCreated, m) }

func newDepositedEvent(m *Match, from [20]byte) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowDeposited, m)
	evt.Attributes["depositor"] = crypto.NewAddress(crypto.RacePrefix, from[:]).String()
	return evt
}

func newFundedEvent(m *Match) *types.Event { return newEscrowEvent(EventTypeEscrowFunded, m) }

func newSettledEvent(m *Match, winner [20]byte) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowSettled, m)
	evt.Attributes["winner"] = crypto.NewAddress(crypto.RacePrefix, winner[:]).String()
	return evt
}

func newDrawEvent(m *Match) *types.Event { return newEscrowEvent(EventTypeEscrowDraw, m) }

func newRefundedEvent(m *Match, player [20]byte) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowRefunded, m)
	evt.Attributes["player"] = crypto.NewAddress(crypto.RacePrefix, player[:]).String()
	return evt
}

func newCancelledEvent(m *Match) *types.Event { return newEscrowEvent(EventTypeEscrowCancelled, m) }

func newEscrowEvent(eventType string, m *Match) *types.Event {
	attrs := make(map[string]string)
	if m == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(m.ID[:])
	attrs["playerA"] = crypto.NewAddress(crypto.RacePrefix, m.PlayerA[:]).String()
	attrs["playerB"] = crypto.NewAddress(crypto.RacePrefix, m.PlayerB[:]).String()
	if m.Stake != nil {
		attrs["stake"] = m.Stake.String()
	}
	if m.Fee != nil {
		attrs["fee"] = m.Fee.String()
	}
	attrs["deadline"] = strconv.FormatInt(m.Deadline, 10)
	attrs["status"] = strconv.FormatUint(uint64(m.Status), 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}
