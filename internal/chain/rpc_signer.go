package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Bidon15/popdeploy/internal/retry"
)

// RPCSignerConfig configures an RPCSigner.
type RPCSignerConfig struct {
	// Endpoint is the JSON-RPC URL of the node or remote signer.
	Endpoint string
	// APIKey is sent as X-API-Key when set.
	APIKey string
	// ChainID is the chain ID for EIP-155 signing.
	ChainID *big.Int
	// Retry controls retries of transient failures (default: 3 attempts from 1s).
	Retry retry.Config
	// HTTPClient is an optional custom HTTP client (for testing).
	HTTPClient HTTPClient
	Logger     *slog.Logger
}

// HTTPClient interface for HTTP operations (allows mocking in tests).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RPCSigner delegates signing to a JSON-RPC endpoint through
// eth_signTransaction. This covers node-unlocked accounts (Ganache's
// accounts[0]) and remote signers speaking the same method.
type RPCSigner struct {
	config RPCSignerConfig
	client HTTPClient
	retry  retry.Strategy
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonRPCError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

func (e *jsonRPCError) ErrorCode() int {
	return e.Code
}

// transactionArgs is the transaction object eth_signTransaction expects.
type transactionArgs struct {
	From                 string  `json:"from"`
	To                   *string `json:"to,omitempty"`
	Gas                  string  `json:"gas"`
	GasPrice             *string `json:"gasPrice,omitempty"`
	MaxFeePerGas         *string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *string `json:"maxPriorityFeePerGas,omitempty"`
	Value                string  `json:"value"`
	Nonce                string  `json:"nonce"`
	Data                 string  `json:"data,omitempty"`
	ChainID              string  `json:"chainId"`
}

// signTransactionResult covers both shapes nodes return: a raw hex string
// (remote signers) or geth's {raw, tx} object.
type signTransactionResult struct {
	Raw hexutil.Bytes `json:"raw"`
}

// NewRPCSigner creates a new RPCSigner.
func NewRPCSigner(cfg RPCSignerConfig) *RPCSigner {
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &RPCSigner{
		config: cfg,
		client: client,
		retry:  retry.New(cfg.Retry, cfg.Logger),
	}
}

// SignTx signs tx through eth_signTransaction.
func (s *RPCSigner) SignTx(ctx context.Context, from common.Address, tx *types.Transaction) (*types.Transaction, error) {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  "eth_signTransaction",
		Params:  []any{s.buildTransactionArgs(from, tx)},
		ID:      1,
	}

	var result json.RawMessage
	err := s.retry.Do(ctx, "eth_signTransaction", func(ctx context.Context) error {
		var callErr error
		result, callErr = s.call(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}

	signedTx, err := decodeSignedTransaction(result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signed transaction: %w", err)
	}
	return signedTx, nil
}

// Addresses returns the endpoint's accounts via eth_accounts.
func (s *RPCSigner) Addresses(ctx context.Context) ([]common.Address, error) {
	req := jsonRPCRequest{JSONRPC: "2.0", Method: "eth_accounts", Params: []any{}, ID: 1}

	var result json.RawMessage
	err := s.retry.Do(ctx, "eth_accounts", func(ctx context.Context) error {
		var callErr error
		result, callErr = s.call(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var addrs []common.Address
	if err := json.Unmarshal(result, &addrs); err != nil {
		return nil, fmt.Errorf("unmarshal accounts: %w", err)
	}
	return addrs, nil
}

func (s *RPCSigner) buildTransactionArgs(from common.Address, tx *types.Transaction) transactionArgs {
	args := transactionArgs{
		From:    from.Hex(),
		Gas:     hexutil.EncodeUint64(tx.Gas()),
		Value:   hexutil.EncodeBig(tx.Value()),
		Nonce:   hexutil.EncodeUint64(tx.Nonce()),
		ChainID: hexutil.EncodeBig(s.config.ChainID),
	}

	// nil for contract creation
	if tx.To() != nil {
		to := tx.To().Hex()
		args.To = &to
	}

	if len(tx.Data()) > 0 {
		args.Data = hexutil.Encode(tx.Data())
	}

	switch tx.Type() {
	case types.DynamicFeeTxType:
		maxFee := hexutil.EncodeBig(tx.GasFeeCap())
		maxTip := hexutil.EncodeBig(tx.GasTipCap())
		args.MaxFeePerGas = &maxFee
		args.MaxPriorityFeePerGas = &maxTip
	default:
		gasPrice := hexutil.EncodeBig(tx.GasPrice())
		args.GasPrice = &gasPrice
	}

	return args
}

func (s *RPCSigner) call(ctx context.Context, rpcReq jsonRPCRequest) (json.RawMessage, error) {
	reqBody, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		httpReq.Header.Set("X-API-Key", s.config.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, retry.Retryable(fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 500 {
		return nil, retry.Retryable(fmt.Errorf("server error: %d %s", resp.StatusCode, string(body)))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("client error: %d %s", resp.StatusCode, string(body))
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

func decodeSignedTransaction(result json.RawMessage) (*types.Transaction, error) {
	var raw hexutil.Bytes
	if err := json.Unmarshal(result, &raw); err != nil {
		var obj signTransactionResult
		if objErr := json.Unmarshal(result, &obj); objErr != nil || len(obj.Raw) == 0 {
			return nil, fmt.Errorf("unexpected result %s", string(result))
		}
		raw = obj.Raw
	}

	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}
	return &tx, nil
}

var _ Signer = (*RPCSigner)(nil)
