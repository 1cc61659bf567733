package submit

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPSender broadcasts raw transactions to a node's JSON-RPC endpoint.
// Network failures and 5xx responses are transient; a node-level rejection of
// the transaction itself is terminal.
type HTTPSender struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSender builds a sender for the node endpoint.
func NewHTTPSender(endpoint string) *HTTPSender {
	return &HTTPSender{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

var _ Sender = (*HTTPSender)(nil)

type rpcRequest struct {
	JSONRPC string   `json:"jsonrpc"`
	ID      int      `json:"id"`
	Method  string   `json:"method"`
	Params  []string `json:"params"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send implements Sender.
func (s *HTTPSender) Send(ctx context.Context, rawTx []byte) (string, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendrawtransaction",
		Params:  []string{hex.EncodeToString(rawTx)},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", Transient(err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", Transient(err)
	}
	if resp.StatusCode >= 500 {
		return "", Transient(fmt.Errorf("node returned %s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("submit: node returned %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	var decoded rpcResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", fmt.Errorf("submit: decode node response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("submit: node rejected transaction: %s (code %d)", decoded.Error.Message, decoded.Error.Code)
	}
	if strings.TrimSpace(decoded.Result) == "" {
		return "", fmt.Errorf("submit: node returned empty txid")
	}
	return decoded.Result, nil
}
