package arbiter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"racewager/native/match"
)

// ChainEvent is a pre-validated deposit observation delivered by the node
// client. The watcher trusts the client's confirmation policy; the service
// still re-validates every transition it applies.
type ChainEvent struct {
	Sequence  int64
	MatchID   string
	Player    match.Player
	TxID      string
	Amount    int64
	Confirmed bool
	Height    uint64
}

// NodeClient pulls deposit observations from the chain.
type NodeClient interface {
	FetchDepositEvents(ctx context.Context, afterSequence int64, limit int) ([]ChainEvent, error)
	Height(ctx context.Context) (uint64, error)
}

// Watcher periodically pulls deposit events from the node and feeds them into
// the arbiter service as lifecycle transitions.
type Watcher struct {
	node         NodeClient
	service      *Service
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int
}

// NewWatcher constructs a watcher with sane defaults.
func NewWatcher(node NodeClient, service *Service, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		node:         node,
		service:      service,
		logger:       logger.With("component", "deposit-watcher"),
		pollInterval: 5 * time.Second,
		batchSize:    100,
	}
}

// Run starts the polling loop until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	if w.node == nil || w.service == nil {
		return
	}
	interval := w.pollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	var after int64
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			after = w.poll(ctx, after)
		}
	}
}

func (w *Watcher) poll(ctx context.Context, after int64) int64 {
	batch := w.batchSize
	if batch <= 0 {
		batch = 100
	}
	events, err := w.node.FetchDepositEvents(ctx, after, batch)
	if err != nil {
		w.logger.Warn("deposit event fetch failed", "error", err)
		return after
	}
	lastSeq := after
	for _, evt := range events {
		if evt.Sequence <= lastSeq {
			continue
		}
		w.handleEvent(ctx, evt)
		lastSeq = evt.Sequence
	}
	return lastSeq
}

func (w *Watcher) handleEvent(ctx context.Context, evt ChainEvent) {
	matchID := strings.TrimSpace(evt.MatchID)
	if matchID == "" {
		return
	}
	var err error
	if evt.Confirmed {
		_, err = w.service.ConfirmDeposit(ctx, matchID, evt.Player)
	} else {
		_, err = w.service.RecordDeposit(matchID, evt.Player, evt.TxID, evt.Amount)
	}
	if err != nil {
		// Replayed observations land here as precondition rejections; the
		// lifecycle already holds the state, so they are expected noise.
		if match.IsPrecondition(err) {
			w.logger.Debug("deposit observation already applied", "matchId", matchID, "player", evt.Player.String())
			return
		}
		w.logger.Error("deposit observation rejected", "matchId", matchID, "player", evt.Player.String(), "error", err)
	}
}
