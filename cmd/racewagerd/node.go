package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"racewager/arbiter"
	"racewager/native/match"
)

// rpcNodeClient pulls deposit observations over the node's JSON-RPC endpoint.
type rpcNodeClient struct {
	endpoint string
	client   *http.Client
}

func newRPCNodeClient(endpoint string) *rpcNodeClient {
	return &rpcNodeClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

var _ arbiter.NodeClient = (*rpcNodeClient)(nil)

type depositEventPayload struct {
	Sequence  int64  `json:"sequence"`
	MatchID   string `json:"matchId"`
	Player    string `json:"player"`
	TxID      string `json:"txid"`
	Amount    int64  `json:"amount"`
	Confirmed bool   `json:"confirmed"`
	Height    uint64 `json:"height"`
}

// FetchDepositEvents implements arbiter.NodeClient.
func (c *rpcNodeClient) FetchDepositEvents(ctx context.Context, afterSequence int64, limit int) ([]arbiter.ChainEvent, error) {
	var payload []depositEventPayload
	if err := c.call(ctx, "getdepositevents", []interface{}{afterSequence, limit}, &payload); err != nil {
		return nil, err
	}
	events := make([]arbiter.ChainEvent, 0, len(payload))
	for _, evt := range payload {
		player := match.PlayerA
		if evt.Player == "b" {
			player = match.PlayerB
		}
		events = append(events, arbiter.ChainEvent{
			Sequence:  evt.Sequence,
			MatchID:   evt.MatchID,
			Player:    player,
			TxID:      evt.TxID,
			Amount:    evt.Amount,
			Confirmed: evt.Confirmed,
			Height:    evt.Height,
		})
	}
	return events, nil
}

// Height implements arbiter.NodeClient.
func (c *rpcNodeClient) Height(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.call(ctx, "getblockcount", nil, &height); err != nil {
		return 0, err
	}
	return height, nil
}

func (c *rpcNodeClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node rpc %s returned %s", method, resp.Status)
	}
	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("node rpc %s: decode response: %w", method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("node rpc %s: %s (code %d)", method, decoded.Error.Message, decoded.Error.Code)
	}
	return json.Unmarshal(decoded.Result, out)
}
