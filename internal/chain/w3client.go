package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/lmittmann/w3"
	"github.com/lmittmann/w3/module/eth"
	"github.com/lmittmann/w3/w3types"
)

// W3Client implements Client on top of lmittmann/w3.
type W3Client struct {
	client *w3.Client
}

// DialW3 connects to an RPC endpoint using w3.
func DialW3(ctx context.Context, rpcURL string) (Client, error) {
	client, err := w3.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return &W3Client{client: client}, nil
}

// NewW3Client wraps an existing w3 client.
func NewW3Client(client *w3.Client) *W3Client {
	return &W3Client{client: client}
}

var pendingBlock = big.NewInt(int64(rpc.PendingBlockNumber))

func (c *W3Client) ChainID(ctx context.Context) (*big.Int, error) {
	var chainID uint64
	if err := c.client.CallCtx(ctx, eth.ChainID().Returns(&chainID)); err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(chainID), nil
}

func (c *W3Client) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	var nonce uint64
	if err := c.client.CallCtx(ctx, eth.Nonce(account, blockNumber).Returns(&nonce)); err != nil {
		return 0, err
	}
	return nonce, nil
}

func (c *W3Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.NonceAt(ctx, account, pendingBlock)
}

func (c *W3Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	if err := c.client.CallCtx(ctx, eth.GasPrice().Returns(&price)); err != nil {
		return nil, err
	}
	return price, nil
}

func (c *W3Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var tip *big.Int
	if err := c.client.CallCtx(ctx, eth.GasTipCap().Returns(&tip)); err != nil {
		return nil, err
	}
	return tip, nil
}

func (c *W3Client) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	msg := &w3types.Message{
		From:      call.From,
		To:        call.To,
		Gas:       call.Gas,
		GasPrice:  call.GasPrice,
		GasFeeCap: call.GasFeeCap,
		GasTipCap: call.GasTipCap,
		Value:     call.Value,
		Input:     call.Data,
	}

	var gas uint64
	if err := c.client.CallCtx(ctx, eth.EstimateGas(msg, pendingBlock).Returns(&gas)); err != nil {
		return 0, err
	}
	return gas, nil
}

func (c *W3Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	var hash common.Hash
	return callError(c.client.CallCtx(ctx, eth.SendTx(tx).Returns(&hash)))
}

func (c *W3Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	if err := c.client.CallCtx(ctx, eth.TxReceipt(txHash).Returns(&receipt)); err != nil {
		return nil, normalizeNotFound(err)
	}
	if receipt == nil {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// TransactionByHash reports isPending as true for any known transaction;
// callers check the receipt first to learn whether it was mined.
func (c *W3Client) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	var tx *types.Transaction
	if err := c.client.CallCtx(ctx, eth.Tx(txHash).Returns(&tx)); err != nil {
		return nil, false, normalizeNotFound(err)
	}
	if tx == nil {
		return nil, false, ethereum.NotFound
	}
	return tx, true, nil
}

func (c *W3Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	if err := c.client.CallCtx(ctx, eth.HeaderByNumber(number).Returns(&header)); err != nil {
		return nil, normalizeNotFound(err)
	}
	if header == nil {
		return nil, ethereum.NotFound
	}
	return header, nil
}

func (c *W3Client) Close() {
	_ = c.client.Close()
}

// normalizeNotFound maps w3's null-result errors to ethereum.NotFound so both
// backends report missing receipts the same way.
// callError returns the error of a single-call batch so that the node's
// JSON-RPC error stays visible to errors.As.
func callError(err error) error {
	var callErrs w3.CallErrors
	if errors.As(err, &callErrs) && len(callErrs) == 1 && callErrs[0] != nil {
		return callErrs[0]
	}
	return err
}

func normalizeNotFound(err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return err
	}
	if strings.Contains(strings.ToLower(err.Error()), "not found") {
		return fmt.Errorf("%w: %v", ethereum.NotFound, err)
	}
	return err
}

var _ Client = (*W3Client)(nil)
