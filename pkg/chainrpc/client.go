// Package chainrpc is the boundary to the Soroban-style chain RPC (simulate /
// sendTransaction / getTransaction). The wire format and transport are an
// external collaborator; this package only canonicalizes hex payloads (via
// go-ethereum's hexutil, the teacher's own hex idiom) and owns the
// submit-then-poll retry loop modeled on go-ethereum's bind.WaitMined.
package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TxStatus mirrors the Soroban getTransaction status field.
type TxStatus string

const (
	TxStatusSuccess TxStatus = "SUCCESS"
	TxStatusFailed  TxStatus = "FAILED"
	TxStatusPending TxStatus = "PENDING"
	TxStatusNotFound TxStatus = "NOT_FOUND"
)

// ScVal is a minimal decoded Soroban contract value. Bool/I128/Bytes/Str
// cover every return type the Executor inspects (spec.md §4.6, scvBool).
type ScVal struct {
	Type  string `json:"type"`
	Bool  *bool  `json:"bool,omitempty"`
	I128  string `json:"i128,omitempty"`
	Bytes []byte `json:"bytes,omitempty"`
	Str   string `json:"str,omitempty"`
}

// AsBool reports whether this value decodes to scvBool, and its value.
func (v ScVal) AsBool() (bool, bool) {
	if v.Type != "Bool" || v.Bool == nil {
		return false, false
	}
	return *v.Bool, true
}

// SimulateResult is the decoded response of a simulateTransaction call.
type SimulateResult struct {
	Success       bool
	ReturnValue   ScVal
	Error         string
	MinResourceFee int64
}

// SubmitResult is the decoded response of a sendTransaction call.
type SubmitResult struct {
	Hash   string
	Status TxStatus
}

// GetTransactionResult is the decoded response of a getTransaction poll.
type GetTransactionResult struct {
	Status      TxStatus
	ReturnValue ScVal
	Ledger      int64
}

// Client is the contract every caller in this service programs against; the
// production implementation speaks Soroban JSON-RPC, a test double can be a
// plain in-memory stub.
type Client interface {
	// Simulate runs functionName(parameters...) against contractAddress
	// without committing it to the ledger.
	Simulate(ctx context.Context, contractAddress, functionName string, parameters map[string]interface{}) (*SimulateResult, error)

	// SendTransaction signs and submits an invocation, returning its hash
	// immediately (submission, not confirmation).
	SendTransaction(ctx context.Context, contractAddress, functionName string, parameters map[string]interface{}, secretKey string) (*SubmitResult, error)

	// GetTransaction polls the status of a previously submitted hash.
	GetTransaction(ctx context.Context, hash string) (*GetTransactionResult, error)

	// ContractExists reports whether contractAddress is deployed on network.
	ContractExists(ctx context.Context, contractAddress, network string) (bool, error)

	// DiscoverFunctions returns the public function signatures of a deployed
	// contract, keyed by name, with parameter name/type pairs.
	DiscoverFunctions(ctx context.Context, contractAddress, network string) (map[string][]Parameter, error)
}

// Parameter is a discovered function parameter (name, Soroban type).
type Parameter struct {
	Name string
	Type string
}

// HTTPClient is the production Client, talking Soroban JSON-RPC over HTTP.
type HTTPClient struct {
	baseURL      string
	httpClient   *http.Client
	pollAttempts int
	pollInterval time.Duration
}

// NewHTTPClient builds an HTTPClient bound to a Soroban RPC endpoint.
func NewHTTPClient(baseURL string, pollAttempts int, pollInterval time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollAttempts: pollAttempts,
		pollInterval: pollInterval,
	}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal rpc params: %w", err)
	}

	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: paramsRaw})
	if err != nil {
		return fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chain rpc request failed: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("chain rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to decode rpc result: %w", err)
		}
	}
	return nil
}

// Simulate implements Client.
func (c *HTTPClient) Simulate(ctx context.Context, contractAddress, functionName string, parameters map[string]interface{}) (*SimulateResult, error) {
	var raw struct {
		Success       bool   `json:"success"`
		ReturnValue   ScVal  `json:"returnValue"`
		Error         string `json:"error"`
		MinResourceFee int64 `json:"minResourceFee"`
	}
	err := c.call(ctx, "simulateTransaction", map[string]interface{}{
		"contract":   contractAddress,
		"function":   functionName,
		"parameters": parameters,
	}, &raw)
	if err != nil {
		return nil, err
	}
	return &SimulateResult{
		Success:        raw.Success,
		ReturnValue:    raw.ReturnValue,
		Error:          raw.Error,
		MinResourceFee: raw.MinResourceFee,
	}, nil
}

// SendTransaction implements Client.
func (c *HTTPClient) SendTransaction(ctx context.Context, contractAddress, functionName string, parameters map[string]interface{}, secretKey string) (*SubmitResult, error) {
	var raw struct {
		Hash   string `json:"hash"`
		Status string `json:"status"`
	}
	err := c.call(ctx, "sendTransaction", map[string]interface{}{
		"contract":   contractAddress,
		"function":   functionName,
		"parameters": parameters,
		"secretKey":  secretKey,
	}, &raw)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Hash: NormalizeHash(raw.Hash), Status: TxStatus(raw.Status)}, nil
}

// GetTransaction implements Client.
func (c *HTTPClient) GetTransaction(ctx context.Context, hash string) (*GetTransactionResult, error) {
	var raw struct {
		Status      string `json:"status"`
		ReturnValue ScVal  `json:"returnValue"`
		Ledger      int64  `json:"ledger"`
	}
	err := c.call(ctx, "getTransaction", map[string]interface{}{"hash": hash}, &raw)
	if err != nil {
		return nil, err
	}
	return &GetTransactionResult{Status: TxStatus(raw.Status), ReturnValue: raw.ReturnValue, Ledger: raw.Ledger}, nil
}

// ContractExists implements Client.
func (c *HTTPClient) ContractExists(ctx context.Context, contractAddress, network string) (bool, error) {
	var raw struct {
		Exists bool `json:"exists"`
	}
	err := c.call(ctx, "getLedgerEntry", map[string]interface{}{"contract": contractAddress, "network": network}, &raw)
	if err != nil {
		return false, err
	}
	return raw.Exists, nil
}

// DiscoverFunctions implements Client.
func (c *HTTPClient) DiscoverFunctions(ctx context.Context, contractAddress, network string) (map[string][]Parameter, error) {
	var raw map[string][]struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	err := c.call(ctx, "getContractSpec", map[string]interface{}{"contract": contractAddress, "network": network}, &raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]Parameter, len(raw))
	for name, params := range raw {
		mapped := make([]Parameter, len(params))
		for i, p := range params {
			mapped[i] = Parameter{Name: p.Name, Type: p.Type}
		}
		out[name] = mapped
	}
	return out, nil
}

// PollUntilTerminal polls getTransaction until it leaves PENDING, up to the
// client's configured attempts*interval (spec.md §5: ≈30 × 2s ≈ 60s). It
// never returns an error for exhaustion — the Executor maps that to
// PendingConfirmation (spec.md §5, §7).
func (c *HTTPClient) PollUntilTerminal(ctx context.Context, hash string) (*GetTransactionResult, bool, error) {
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		result, err := c.GetTransaction(ctx, hash)
		if err != nil {
			return nil, false, err
		}
		if result.Status != TxStatusPending && result.Status != TxStatusNotFound {
			return result, true, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return nil, false, nil
}

// NormalizeHash canonicalizes a transaction hash's hex encoding. Transaction
// hashes are public and safe to log (spec.md §6).
func NormalizeHash(hash string) string {
	if hash == "" {
		return hash
	}
	b, err := hexutil.Decode(ensure0x(hash))
	if err != nil {
		return hash
	}
	return hexutil.Encode(b)[2:]
}

func ensure0x(s string) string {
	if len(s) >= 2 && s[0:2] == "0x" {
		return s
	}
	return "0x" + s
}
