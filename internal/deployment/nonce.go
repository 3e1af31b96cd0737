package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/popdeploy/internal/retry"
)

// NonceSource reports an account's pending transaction count.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceTracker hands out transaction nonces per account. At most one
// reservation per account is outstanding: Reserve blocks until the previous
// holder calls Commit, Release or Conflict.
type NonceTracker struct {
	source NonceSource
	retry  retry.Strategy
	logger *slog.Logger
	locks  *keyedMutex

	mu       sync.Mutex
	accounts map[common.Address]*accountNonces
}

type accountNonces struct {
	synced        bool
	next          uint64
	committed     bool
	lastCommitted uint64
	skipped       map[uint64]struct{}
	held          *reservation
}

type reservation struct {
	nonce  uint64
	unlock func()
}

// NewNonceTracker creates a tracker backed by source. A nil strategy means a
// single attempt per network read.
func NewNonceTracker(source NonceSource, strategy retry.Strategy, logger *slog.Logger) *NonceTracker {
	if strategy == nil {
		strategy = retry.NewNoRetryStrategy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NonceTracker{
		source:   source,
		retry:    strategy,
		logger:   logger,
		locks:    newKeyedMutex(),
		accounts: make(map[common.Address]*accountNonces),
	}
}

func (t *NonceTracker) account(addr common.Address) *accountNonces {
	acct, ok := t.accounts[addr]
	if !ok {
		acct = &accountNonces{skipped: make(map[uint64]struct{})}
		t.accounts[addr] = acct
	}
	return acct
}

// Reserve returns the next nonce for addr, initializing from the node's
// pending count on first use. The account stays locked until the
// reservation is committed, released or reported as a conflict.
func (t *NonceTracker) Reserve(ctx context.Context, addr common.Address) (uint64, error) {
	unlock, err := t.locks.Lock(ctx, addr.Hex())
	if err != nil {
		return 0, fmt.Errorf("wait for nonce lock: %w", err)
	}

	t.mu.Lock()
	synced := t.account(addr).synced
	t.mu.Unlock()

	if !synced {
		if err := t.sync(ctx, addr); err != nil {
			unlock()
			return 0, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	acct := t.account(addr)
	nonce := acct.next
	acct.next++
	acct.held = &reservation{nonce: nonce, unlock: unlock}
	return nonce, nil
}

// sync loads the node's pending count. The caller holds the account lock.
func (t *NonceTracker) sync(ctx context.Context, addr common.Address) error {
	var pending uint64
	err := t.retry.Do(ctx, "eth_getTransactionCount", func(ctx context.Context) error {
		var err error
		pending, err = t.source.PendingNonceAt(ctx, addr)
		return err
	})
	if err != nil {
		return fmt.Errorf("get pending nonce for %s: %w", addr.Hex(), err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	acct := t.account(addr)
	if acct.synced && pending < acct.next {
		t.logger.Warn("node reports a lower nonce than tracked",
			slog.String("address", addr.Hex()),
			slog.Uint64("tracked", acct.next),
			slog.Uint64("node", pending),
		)
	}
	acct.next = pending
	acct.synced = true
	for n := range acct.skipped {
		if n >= pending {
			delete(acct.skipped, n)
		}
	}
	return nil
}

// take ends the outstanding reservation of nonce for addr.
// Must be called with t.mu held.
func (t *NonceTracker) take(addr common.Address, nonce uint64) (*accountNonces, func(), error) {
	acct, ok := t.accounts[addr]
	if !ok || acct.held == nil || acct.held.nonce != nonce {
		return nil, nil, fmt.Errorf("%w: %s nonce %d", ErrNoReservation, addr.Hex(), nonce)
	}
	unlock := acct.held.unlock
	acct.held = nil
	return acct, unlock, nil
}

// Commit records that nonce reached the network and unlocks the account.
func (t *NonceTracker) Commit(addr common.Address, nonce uint64) error {
	t.mu.Lock()
	acct, unlock, err := t.take(addr, nonce)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if !acct.committed || nonce > acct.lastCommitted {
		acct.lastCommitted = nonce
	}
	acct.committed = true
	t.mu.Unlock()

	unlock()
	return nil
}

// Release returns an unused nonce and unlocks the account. The counter rolls
// back only if nothing after nonce was committed; otherwise the nonce is
// recorded as skipped.
func (t *NonceTracker) Release(addr common.Address, nonce uint64) error {
	t.mu.Lock()
	acct, unlock, err := t.take(addr, nonce)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if acct.next == nonce+1 && !(acct.committed && acct.lastCommitted > nonce) {
		acct.next = nonce
	} else {
		acct.skipped[nonce] = struct{}{}
		t.logger.Warn("nonce skipped",
			slog.String("address", addr.Hex()),
			slog.Uint64("nonce", nonce),
		)
	}
	t.mu.Unlock()

	unlock()
	return nil
}

// Conflict ends a reservation the node rejected and drops the cached count,
// so the next Reserve re-reads it from the node.
func (t *NonceTracker) Conflict(addr common.Address, nonce uint64) error {
	t.mu.Lock()
	acct, unlock, err := t.take(addr, nonce)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	acct.synced = false
	t.mu.Unlock()

	t.logger.Warn("nonce rejected by node, resyncing",
		slog.String("address", addr.Hex()),
		slog.Uint64("nonce", nonce),
	)
	unlock()
	return nil
}

// Resync waits for the account to be idle and reloads its count from the node.
func (t *NonceTracker) Resync(ctx context.Context, addr common.Address) error {
	unlock, err := t.locks.Lock(ctx, addr.Hex())
	if err != nil {
		return fmt.Errorf("wait for nonce lock: %w", err)
	}
	defer unlock()
	return t.sync(ctx, addr)
}

// Next returns the nonce the next Reserve would hand out, if known.
func (t *NonceTracker) Next(addr common.Address) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	acct, ok := t.accounts[addr]
	if !ok || !acct.synced {
		return 0, false
	}
	return acct.next, true
}

// skipped returns the nonces released after a later nonce was committed.
func (t *NonceTracker) skipped(addr common.Address) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	acct, ok := t.accounts[addr]
	if !ok {
		return nil
	}
	out := make([]uint64, 0, len(acct.skipped))
	for n := range acct.skipped {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
