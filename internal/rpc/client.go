// Package rpc provides JSON-RPC client functionality with retry logic.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrReceiptTimeout is returned by WaitForReceipt when no receipt appeared
// within the allotted time.
var ErrReceiptTimeout = errors.New("timed out waiting for transaction receipt")

// DefaultReceiptPollInterval is the spacing between eth_getTransactionReceipt polls.
const DefaultReceiptPollInterval = 100 * time.Millisecond

// Client is the interface for JSON-RPC communication with the node.
type Client interface {
	// Call makes a JSON-RPC call.
	Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error)

	// ChainID returns the chain id.
	ChainID(ctx context.Context) (uint64, error)

	// GetBlockNumber returns the latest block number.
	GetBlockNumber(ctx context.Context) (uint64, error)

	// GetBalance returns the balance for an address in wei.
	GetBalance(ctx context.Context, address common.Address) (*big.Int, error)

	// GetGasPrice returns the current gas price in wei.
	GetGasPrice(ctx context.Context) (*big.Int, error)

	// Accounts returns the accounts managed by the node.
	Accounts(ctx context.Context) ([]common.Address, error)

	// SendTransaction asks the node to sign and submit a transaction from
	// one of its managed accounts.
	SendTransaction(ctx context.Context, args TransactionArgs) (common.Hash, error)

	// GetTransactionReceipt returns the receipt for a transaction, nil if not yet included.
	GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*TransactionReceipt, error)
}

// TransactionReceipt represents an Ethereum transaction receipt.
type TransactionReceipt struct {
	TxHash      common.Hash `json:"transactionHash"`
	Status      uint64      `json:"status"`      // 1 = success, 0 = failure
	GasUsed     uint64      `json:"gasUsed"`     // Actual gas consumed
	BlockNumber uint64      `json:"blockNumber"` // Block this tx was included in
}

// TransactionArgs are the arguments of eth_sendTransaction.
type TransactionArgs struct {
	From     common.Address
	To       common.Address
	Value    *big.Int
	Gas      uint64
	GasPrice *big.Int
}

// MarshalJSON encodes the args with hex quantities.
func (a TransactionArgs) MarshalJSON() ([]byte, error) {
	wire := struct {
		From     common.Address `json:"from"`
		To       common.Address `json:"to"`
		Value    *hexutil.Big   `json:"value,omitempty"`
		Gas      hexutil.Uint64 `json:"gas"`
		GasPrice *hexutil.Big   `json:"gasPrice,omitempty"`
	}{
		From:     a.From,
		To:       a.To,
		Value:    (*hexutil.Big)(a.Value),
		Gas:      hexutil.Uint64(a.Gas),
		GasPrice: (*hexutil.Big)(a.GasPrice),
	}
	return json.Marshal(wire)
}

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ClientConfig holds configuration for the RPC client.
type ClientConfig struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxConns       int
	Logger         *slog.Logger
}

// DefaultClientConfig returns default configuration.
// Receipt waits poll with short calls, so the per-request timeout only has to
// cover a single slow response.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        10 * time.Second,
		MaxRetries:     2,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		MaxConns:       512,
	}
}

// HTTPClient implements Client using HTTP. It is safe for concurrent use.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
	nextID     atomic.Uint64
}

// NewHTTPClient creates a new HTTP-based RPC client.
func NewHTTPClient(cfg ClientConfig) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("RPC URL is required")
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 512
	}

	transport := &http.Transport{
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     maxConns,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   false,
		ForceAttemptHTTP2:   false,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		url: cfg.URL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		logger:     logger,
	}, nil
}

// URL returns the endpoint this client talks to.
func (c *HTTPClient) URL() string {
	return c.url
}

// Close releases idle connections.
func (c *HTTPClient) Close() {
	c.httpClient.CloseIdleConnections()
}

// Call makes a JSON-RPC call with retry logic.
func (c *HTTPClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	return c.call(ctx, method, params, c.maxRetries)
}

func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, maxRetries int) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		result, err := c.doRequest(ctx, body)
		if err == nil {
			return result, nil
		}

		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Check if it's a retryable HTTP error (429, 502, 503, 504)
		if isRetryableHTTPError(err) {
			backoff = getRetryDelay(err, backoff)
			c.logger.Debug("RPC got retryable HTTP error, retrying",
				slog.String("method", method),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			continue
		}

		// Don't retry on RPC errors (application-level errors)
		if isRPCError(err) {
			return nil, err
		}

		c.logger.Debug("RPC call failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	if maxRetries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Check HTTP status code BEFORE reading/parsing body
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	return rpcResp.Result, nil
}

// RPCError is an RPC-specific error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

func isRPCError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}

// HTTPStatusError represents an HTTP-level error (non-2xx status).
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if this HTTP error should be retried.
func (e *HTTPStatusError) IsRetryable() bool {
	// 429 Too Many Requests, 502 Bad Gateway, 503 Service Unavailable, 504 Gateway Timeout
	return e.StatusCode == 429 || e.StatusCode == 502 ||
		e.StatusCode == 503 || e.StatusCode == 504
}

func isRetryableHTTPError(err error) bool {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}
	return false
}

func getRetryDelay(err error, defaultBackoff time.Duration) time.Duration {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}
	return defaultBackoff
}

// decodeQuantity unmarshals a hex quantity result into a uint64.
func decodeQuantity(result json.RawMessage, what string) (uint64, error) {
	var s string
	if err := json.Unmarshal(result, &s); err != nil {
		return 0, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	v, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0, fmt.Errorf("failed to decode %s %q: %w", what, s, err)
	}
	return v, nil
}

// decodeBigQuantity unmarshals a hex quantity result into a big.Int.
func decodeBigQuantity(result json.RawMessage, what string) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(result, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	v, err := hexutil.DecodeBig(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s %q: %w", what, s, err)
	}
	return v, nil
}

// ChainID returns the chain id reported by eth_chainId.
func (c *HTTPClient) ChainID(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_chainId", nil)
	if err != nil {
		return 0, err
	}
	return decodeQuantity(result, "chain id")
}

// GetBlockNumber returns the latest block number.
func (c *HTTPClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}
	return decodeQuantity(result, "block number")
}

// GetBalance returns the balance for an address at the latest block.
func (c *HTTPClient) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_getBalance", []any{address, "latest"})
	if err != nil {
		return nil, err
	}
	return decodeBigQuantity(result, "balance")
}

// GetGasPrice returns the current gas price from the node.
func (c *HTTPClient) GetGasPrice(ctx context.Context) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_gasPrice", nil)
	if err != nil {
		return nil, err
	}
	return decodeBigQuantity(result, "gas price")
}

// Accounts returns the node-managed accounts from eth_accounts.
func (c *HTTPClient) Accounts(ctx context.Context) ([]common.Address, error) {
	result, err := c.Call(ctx, "eth_accounts", nil)
	if err != nil {
		return nil, err
	}

	var accounts []common.Address
	if err := json.Unmarshal(result, &accounts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal accounts: %w", err)
	}
	return accounts, nil
}

// SendTransaction submits a transaction through eth_sendTransaction.
// It is never retried: a retry after a lost response could submit twice.
func (c *HTTPClient) SendTransaction(ctx context.Context, args TransactionArgs) (common.Hash, error) {
	result, err := c.call(ctx, "eth_sendTransaction", []interface{}{args}, 0)
	if err != nil {
		return common.Hash{}, err
	}

	var hash common.Hash
	if err := json.Unmarshal(result, &hash); err != nil {
		return common.Hash{}, fmt.Errorf("failed to unmarshal tx hash: %w", err)
	}
	return hash, nil
}

// GetTransactionReceipt returns the receipt for a transaction.
func (c *HTTPClient) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*TransactionReceipt, error) {
	result, err := c.Call(ctx, "eth_getTransactionReceipt", []any{txHash})
	if err != nil {
		return nil, err
	}

	if len(result) == 0 || string(result) == "null" {
		return nil, nil // Not found yet
	}

	return parseReceipt(result)
}

// parseReceipt parses a TransactionReceipt from JSON.
func parseReceipt(data json.RawMessage) (*TransactionReceipt, error) {
	var rawReceipt struct {
		TxHash      common.Hash `json:"transactionHash"`
		Status      string      `json:"status"`
		GasUsed     string      `json:"gasUsed"`
		BlockNumber string      `json:"blockNumber"`
	}
	if err := json.Unmarshal(data, &rawReceipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	status, err := hexutil.DecodeUint64(rawReceipt.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to decode receipt status %q: %w", rawReceipt.Status, err)
	}
	gasUsed, _ := hexutil.DecodeUint64(rawReceipt.GasUsed)
	blockNumber, _ := hexutil.DecodeUint64(rawReceipt.BlockNumber)

	return &TransactionReceipt{
		TxHash:      rawReceipt.TxHash,
		Status:      status,
		GasUsed:     gasUsed,
		BlockNumber: blockNumber,
	}, nil
}

// WaitForReceipt polls for the receipt of txHash until it is found, the
// timeout elapses or ctx is cancelled. A timeout yields ErrReceiptTimeout.
func WaitForReceipt(ctx context.Context, client Client, txHash common.Hash, timeout, pollInterval time.Duration) (*TransactionReceipt, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultReceiptPollInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.GetTransactionReceipt(waitCtx, txHash)
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: %s after %v", ErrReceiptTimeout, txHash.Hex(), timeout)
			}
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: %s after %v", ErrReceiptTimeout, txHash.Hex(), timeout)
		case <-ticker.C:
		}
	}
}
