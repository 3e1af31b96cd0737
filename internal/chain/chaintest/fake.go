// Package chaintest provides an in-memory chain for exercising code that talks
// through chain.Client.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Bidon15/popdeploy/internal/chain"
)

// DefaultBlockGasLimit mirrors Ganache's default block gas limit.
const DefaultBlockGasLimit uint64 = 6721975

// FakeChain is a scripted single-node chain. Transactions sit in a pool until
// Mine is called, or are mined on arrival when AutoMine is set. Errors can be
// queued per RPC method; each queued error is returned once, in order.
type FakeChain struct {
	mu sync.Mutex

	chainID  *big.Int
	head     uint64
	baseFee  *big.Int
	gasLimit uint64

	minedNonce   map[common.Address]uint64
	pendingNonce map[common.Address]uint64
	pool         []*types.Transaction
	txs          map[common.Hash]*types.Transaction
	receipts     map[common.Hash]*types.Receipt

	autoMine    bool
	revertAll   bool
	estimateGas uint64

	estimateErrs []error
	sendErrs     []error
	receiptErrs  []error

	sendCount     int
	estimateCalls int
	receiptCalls  int
	closed        bool

	// OnSend, when set, runs after a transaction is accepted into the pool.
	OnSend func(tx *types.Transaction)
}

// NewFakeChain returns a chain at block 0 with EIP-1559 enabled and
// auto-mining on.
func NewFakeChain(chainID int64) *FakeChain {
	return &FakeChain{
		chainID:      big.NewInt(chainID),
		baseFee:      big.NewInt(1_000_000_000),
		gasLimit:     DefaultBlockGasLimit,
		minedNonce:   make(map[common.Address]uint64),
		pendingNonce: make(map[common.Address]uint64),
		txs:          make(map[common.Hash]*types.Transaction),
		receipts:     make(map[common.Hash]*types.Receipt),
		autoMine:     true,
		estimateGas:  500_000,
	}
}

// SetAutoMine toggles mining on arrival.
func (f *FakeChain) SetAutoMine(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoMine = on
}

// SetLegacy removes the base fee from headers, as pre-London dev chains do.
func (f *FakeChain) SetLegacy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.baseFee = nil
}

// SetRevertAll makes every mined transaction fail with status 0.
func (f *FakeChain) SetRevertAll(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revertAll = on
}

// SetEstimateGas sets the value EstimateGas returns.
func (f *FakeChain) SetEstimateGas(gas uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimateGas = gas
}

// SetBlockGasLimit sets the gas limit reported in headers.
func (f *FakeChain) SetBlockGasLimit(limit uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gasLimit = limit
}

// SetAccountNonce moves an account's nonce as if other transactions were mined.
func (f *FakeChain) SetAccountNonce(addr common.Address, nonce uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minedNonce[addr] = nonce
	f.pendingNonce[addr] = nonce
}

func (f *FakeChain) QueueEstimateError(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimateErrs = append(f.estimateErrs, errs...)
}

func (f *FakeChain) QueueSendError(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErrs = append(f.sendErrs, errs...)
}

func (f *FakeChain) QueueReceiptError(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptErrs = append(f.receiptErrs, errs...)
}

// SendCount returns how many transactions were accepted.
func (f *FakeChain) SendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCount
}

// EstimateCalls returns how many times EstimateGas was called.
func (f *FakeChain) EstimateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.estimateCalls
}

// ReceiptCalls returns how many times TransactionReceipt was called.
func (f *FakeChain) ReceiptCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receiptCalls
}

// Head returns the current block number.
func (f *FakeChain) Head() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head
}

// Closed reports whether Close was called.
func (f *FakeChain) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Mine includes every pooled transaction in a new block.
func (f *FakeChain) Mine() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mineLocked()
}

// AdvanceBlocks mines n empty blocks.
func (f *FakeChain) AdvanceBlocks(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head += n
}

// Drop evicts a pooled transaction, as a node restart or mempool eviction does.
func (f *FakeChain) Drop(hash common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, tx := range f.pool {
		if tx.Hash() != hash {
			continue
		}
		f.pool = append(f.pool[:i], f.pool[i+1:]...)
		delete(f.txs, hash)
		if from, err := f.sender(tx); err == nil {
			f.pendingNonce[from] = f.minedNonce[from]
		}
		return
	}
}

func (f *FakeChain) mineLocked() {
	f.head++
	for _, tx := range f.pool {
		from, err := f.sender(tx)
		if err != nil {
			continue
		}
		status := types.ReceiptStatusSuccessful
		if f.revertAll {
			status = types.ReceiptStatusFailed
		}
		receipt := &types.Receipt{
			Type:        tx.Type(),
			Status:      status,
			TxHash:      tx.Hash(),
			GasUsed:     tx.Gas() / 2,
			BlockNumber: new(big.Int).SetUint64(f.head),
		}
		if tx.To() == nil && status == types.ReceiptStatusSuccessful {
			receipt.ContractAddress = crypto.CreateAddress(from, tx.Nonce())
		}
		f.receipts[tx.Hash()] = receipt
		if tx.Nonce()+1 > f.minedNonce[from] {
			f.minedNonce[from] = tx.Nonce() + 1
		}
	}
	f.pool = nil
}

func (f *FakeChain) sender(tx *types.Transaction) (common.Address, error) {
	return types.Sender(types.LatestSignerForChainID(f.chainID), tx)
}

func popErr(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (f *FakeChain) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.chainID), nil
}

func (f *FakeChain) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.minedNonce[account], nil
}

func (f *FakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return max(f.pendingNonce[account], f.minedNonce[account]), nil
}

func (f *FakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(20_000_000_000), nil
}

func (f *FakeChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *FakeChain) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimateCalls++
	if err := popErr(&f.estimateErrs); err != nil {
		return 0, err
	}
	return f.estimateGas, nil
}

func (f *FakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()

	if err := popErr(&f.sendErrs); err != nil {
		f.mu.Unlock()
		return err
	}
	if _, known := f.txs[tx.Hash()]; known {
		f.mu.Unlock()
		return errors.New("already known")
	}

	from, err := f.sender(tx)
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("invalid sender: %w", err)
	}
	next := max(f.pendingNonce[from], f.minedNonce[from])
	switch {
	case tx.Nonce() < next:
		f.mu.Unlock()
		return fmt.Errorf("nonce too low: next nonce %d, tx nonce %d", next, tx.Nonce())
	case tx.Nonce() > next:
		f.mu.Unlock()
		return fmt.Errorf("nonce too high: next nonce %d, tx nonce %d", next, tx.Nonce())
	}

	f.txs[tx.Hash()] = tx
	f.pool = append(f.pool, tx)
	f.pendingNonce[from] = next + 1
	f.sendCount++
	if f.autoMine {
		f.mineLocked()
	}
	hook := f.OnSend
	f.mu.Unlock()

	if hook != nil {
		hook(tx)
	}
	return nil
}

func (f *FakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptCalls++
	if err := popErr(&f.receiptErrs); err != nil {
		return nil, err
	}
	receipt, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (f *FakeChain) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[txHash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	_, mined := f.receipts[txHash]
	return tx, !mined, nil
}

func (f *FakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	header := &types.Header{
		Number:   new(big.Int).SetUint64(f.head),
		GasLimit: f.gasLimit,
	}
	if f.baseFee != nil {
		header.BaseFee = new(big.Int).Set(f.baseFee)
	}
	return header, nil
}

func (f *FakeChain) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

var _ chain.Client = (*FakeChain)(nil)
