// Package chain is the RPC boundary to an Ethereum-compatible node: the client
// interface the deployer talks through, its go-ethereum and w3 backends, and
// the transaction signers.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the subset of node RPC the deployment core needs.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (tx *types.Transaction, isPending bool, err error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	Close()
}

// Backend names accepted by Dial.
const (
	BackendEthclient = "ethclient"
	BackendW3        = "w3"
)

// Dialer creates clients for RPC endpoints.
type Dialer interface {
	Dial(ctx context.Context, rpcURL string) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, rpcURL string) (Client, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, rpcURL string) (Client, error) {
	return f(ctx, rpcURL)
}

// NewDialer returns the dialer for a backend name. An empty name selects
// go-ethereum's ethclient.
func NewDialer(backend string) (Dialer, error) {
	switch backend {
	case "", BackendEthclient:
		return DialerFunc(DialEthClient), nil
	case BackendW3:
		return DialerFunc(DialW3), nil
	default:
		return nil, fmt.Errorf("unknown rpc backend %q", backend)
	}
}

// ethClient wraps ethclient.Client to implement Client.
type ethClient struct {
	*ethclient.Client
}

// DialEthClient connects to an RPC endpoint using go-ethereum's ethclient.
func DialEthClient(ctx context.Context, rpcURL string) (Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return &ethClient{Client: client}, nil
}

var _ Client = (*ethClient)(nil)

// VerifyChainID checks that the node serves the expected chain.
// A zero expected value skips the check and returns the node's chain ID.
func VerifyChainID(ctx context.Context, client Client, expected uint64) (*big.Int, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	if expected != 0 && (!chainID.IsUint64() || chainID.Uint64() != expected) {
		return nil, fmt.Errorf("%w: node reports %s, configured %d", ErrChainIDMismatch, chainID, expected)
	}
	return chainID, nil
}
