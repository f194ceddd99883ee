// Package solrpc is a minimal Solana JSON-RPC client used by the vault
// audit to read on-chain balances. It never signs or moves anything.
package solrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
)

// DefaultRPCURL is the default Solana RPC endpoint.
const DefaultRPCURL = "https://api.mainnet-beta.solana.com"

// Client issues read-only JSON-RPC calls.
type Client struct {
	url        string
	httpClient *http.Client
}

// New creates a client for the given RPC URL; empty means DefaultRPCURL.
func New(url string) *Client {
	if url == "" {
		url = DefaultRPCURL
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type balanceResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value uint64 `json:"value"`
}

// GetBalance fetches an address's balance in lamports.
func (c *Client) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getBalance",
		Params:  []any{address.String()},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal RPC request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create RPC request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("failed to call RPC: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("RPC returned status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return 0, fmt.Errorf("failed to decode RPC response: %w", err)
	}
	if rpcResp.Error != nil {
		return 0, fmt.Errorf("RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	var result balanceResult
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return 0, fmt.Errorf("failed to decode balance result: %w", err)
	}
	return result.Value, nil
}
