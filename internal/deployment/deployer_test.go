package deployment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/popdeploy/internal/chain"
	"github.com/Bidon15/popdeploy/internal/chain/chaintest"
	"github.com/Bidon15/popdeploy/internal/registry"
	"github.com/Bidon15/popdeploy/internal/retry"
)

const ganacheNetwork = "ganache"

var ganacheAccount = common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1")

// stubArtifact returns fixed init code followed by one byte per argument.
type stubArtifact struct {
	code []byte
	err  error
}

func (a stubArtifact) CreationData(args ...any) ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	out := append([]byte{}, a.code...)
	for range args {
		out = append(out, 0x00)
	}
	return out, nil
}

// nodeError is a JSON-RPC error reply as returned by the rpc package.
type nodeError struct {
	code int
	msg  string
}

func (e nodeError) Error() string  { return e.msg }
func (e nodeError) ErrorCode() int { return e.code }

var securityLogger = stubArtifact{code: []byte{0x60, 0x80, 0x60, 0x40, 0x52}}

type testEnv struct {
	chain    *chaintest.FakeChain
	registry *registry.FileRegistry
	signer   *chain.DevSigner
	deployer *Deployer
	cfg      Config
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		ConfirmationTimeout: 2 * time.Second,
		PollInitialInterval: 2 * time.Millisecond,
		PollMaxInterval:     10 * time.Millisecond,
		Retry:               retry.Config{Attempts: 3, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond},
		Logger:              testLogger(),
	}
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	fake := chaintest.NewFakeChain(1337)
	reg, err := registry.NewFileRegistry(filepath.Join(t.TempDir(), "deployments.json"))
	require.NoError(t, err)
	signer, err := chain.NewDevSigner(big.NewInt(1337))
	require.NoError(t, err)

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	env := &testEnv{chain: fake, registry: reg, signer: signer, cfg: cfg}
	env.deployer = env.newDeployer(t)
	return env
}

// newDeployer returns a deployer with fresh in-memory state over the same
// chain and registry, as after a process restart.
func (e *testEnv) newDeployer(t *testing.T) *Deployer {
	t.Helper()
	d, err := NewDeployer(e.registry, e.cfg, &Network{
		Name:    ganacheNetwork,
		ChainID: big.NewInt(1337),
		Client:  e.chain,
		Signer:  e.signer,
	})
	require.NoError(t, err)
	return d
}

func request(contract string) Request {
	return Request{
		ContractName: contract,
		Artifact:     securityLogger,
		Network:      ganacheNetwork,
		From:         ganacheAccount,
	}
}

func gasLimit(v uint64) *uint64 { return &v }

func TestDeploy_SecurityLoggerOnGanache(t *testing.T) {
	env := newTestEnv(t)
	env.chain.SetLegacy()

	var sent []*types.Transaction
	env.chain.OnSend = func(tx *types.Transaction) { sent = append(sent, tx) }

	req := request("SecurityLogger")
	req.GasOverride = gasLimit(LegacyDefaultGasLimit)

	rec, err := env.deployer.Deploy(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, registry.StatusConfirmed, rec.Status)
	assert.Equal(t, crypto.CreateAddress(ganacheAccount, 0), rec.Address)
	assert.Equal(t, uint64(0), rec.Nonce)
	assert.Equal(t, LegacyDefaultGasLimit, rec.GasLimit)
	assert.Equal(t, LegacyDefaultGasLimit/2, rec.GasUsed)
	require.NotNil(t, rec.BlockNumber)
	assert.Equal(t, uint64(1), *rec.BlockNumber)

	assert.Zero(t, env.chain.EstimateCalls(), "override skips estimation")
	require.Len(t, sent, 1)
	assert.Equal(t, uint8(types.LegacyTxType), sent[0].Type())
	assert.Nil(t, sent[0].To())
	assert.Equal(t, rec.TxHash, sent[0].Hash())

	stored, err := env.registry.Lookup(context.Background(), ganacheNetwork, "SecurityLogger")
	require.NoError(t, err)
	assert.Equal(t, rec.Address, stored.Address)
	assert.Equal(t, registry.StatusConfirmed, stored.Status)
}

func TestDeploy_DynamicFeeTransaction(t *testing.T) {
	env := newTestEnv(t)

	var sent *types.Transaction
	env.chain.OnSend = func(tx *types.Transaction) { sent = tx }

	rec, err := env.deployer.Deploy(context.Background(), request("Token"))
	require.NoError(t, err)

	require.NotNil(t, sent)
	assert.Equal(t, uint8(types.DynamicFeeTxType), sent.Type())
	// 500000 estimate plus the 20% margin
	assert.Equal(t, uint64(600_000), rec.GasLimit)
	assert.Zero(t, big.NewInt(3_000_000_000).Cmp(sent.GasFeeCap()))
	assert.Zero(t, big.NewInt(1_000_000_000).Cmp(sent.GasTipCap()))
}

func TestDeploy_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
	require.NoError(t, err)

	second, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
	require.NoError(t, err)

	// A restarted process sees the same record.
	third, err := env.newDeployer(t).Deploy(ctx, request("SecurityLogger"))
	require.NoError(t, err)

	assert.Equal(t, 1, env.chain.SendCount())
	assert.Equal(t, first.TxHash, second.TxHash)
	assert.Equal(t, first.Address, third.Address)
	assert.Equal(t, first.ID, third.ID)
}

func TestDeploy_ConcurrentDeploysGetDistinctNonces(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	records := make([]*registry.Record, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			records[i], errs[i] = env.deployer.Deploy(ctx, request(fmt.Sprintf("Contract%d", i)))
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[records[i].Nonce], "nonce %d handed out twice", records[i].Nonce)
		seen[records[i].Nonce] = true
		assert.Equal(t, crypto.CreateAddress(ganacheAccount, records[i].Nonce), records[i].Address)
	}
	for nonce := uint64(0); nonce < n; nonce++ {
		assert.True(t, seen[nonce], "nonce %d unused", nonce)
	}
	assert.Equal(t, n, env.chain.SendCount())
}

func TestDeploy_SamePairConcurrentlySubmitsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, env.chain.SendCount())
	assert.Zero(t, env.deployer.pairs.size())
}

func TestDeploy_TimeoutLeavesPendingAndResumes(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.ConfirmationTimeout = 50 * time.Millisecond })
	env.chain.SetAutoMine(false)
	ctx := context.Background()

	start := time.Now()
	_, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
	elapsed := time.Since(start)
	assert.LessOrEqual(t, elapsed, env.cfg.ConfirmationTimeout+env.cfg.PollMaxInterval+250*time.Millisecond,
		"polling stops at the confirmation deadline")
	var timeoutErr *ConfirmationTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, uint64(0), timeoutErr.Nonce)
	assert.False(t, IsTerminal(err))

	pending, err := env.registry.Lookup(ctx, ganacheNetwork, "SecurityLogger")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusPending, pending.Status)
	assert.Equal(t, timeoutErr.TxHash, pending.TxHash.Hex())

	env.chain.Mine()

	rec, err := env.newDeployer(t).Deploy(ctx, request("SecurityLogger"))
	require.NoError(t, err)
	assert.Equal(t, registry.StatusConfirmed, rec.Status)
	assert.Equal(t, pending.TxHash, rec.TxHash)
	assert.Equal(t, 1, env.chain.SendCount())
}

func TestDeploy_CancelledContextLeavesPending(t *testing.T) {
	env := newTestEnv(t)
	env.chain.SetAutoMine(false)

	ctx, cancel := context.WithCancel(context.Background())
	env.chain.OnSend = func(*types.Transaction) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
	}

	_, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
	require.ErrorIs(t, err, context.Canceled)

	rec, err := env.registry.Lookup(context.Background(), ganacheNetwork, "SecurityLogger")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusPending, rec.Status)
}

func TestDeploy_RecoversUnsentPendingRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Every broadcast attempt fails at the transport, so the outcome is unknown.
	refused := errors.New("dial tcp 127.0.0.1:7545: connection refused")
	env.chain.QueueSendError(refused, refused, refused)

	_, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.NotEmpty(t, subErr.TxHash)
	assert.ErrorIs(t, err, ErrOutcomeUnknown)
	assert.False(t, IsTerminal(err), "the transaction may still be mined")

	pending, err := env.registry.Lookup(ctx, ganacheNetwork, "SecurityLogger")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusPending, pending.Status)
	assert.NotEmpty(t, pending.RawTx)
	assert.Zero(t, env.chain.SendCount())

	rec, err := env.newDeployer(t).Deploy(ctx, request("SecurityLogger"))
	require.NoError(t, err)
	assert.Equal(t, pending.TxHash, rec.TxHash, "stored transaction is rebroadcast, not rebuilt")
	assert.Equal(t, registry.StatusConfirmed, rec.Status)
	assert.Equal(t, 1, env.chain.SendCount())
}

func TestDeploy_RebroadcastsEvictedTransaction(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.ConfirmationTimeout = 30 * time.Millisecond })
	env.chain.SetAutoMine(false)
	ctx := context.Background()

	_, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
	require.Error(t, err)
	pending, err := env.registry.Lookup(ctx, ganacheNetwork, "SecurityLogger")
	require.NoError(t, err)

	env.chain.Drop(pending.TxHash)
	env.chain.SetAutoMine(true)

	rec, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
	require.NoError(t, err)
	assert.Equal(t, pending.TxHash, rec.TxHash)
	assert.Equal(t, registry.StatusConfirmed, rec.Status)
	assert.Equal(t, 2, env.chain.SendCount())
}

func TestDeploy_ReplacesDroppedTransaction(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.ConfirmationTimeout = 30 * time.Millisecond })
	env.chain.SetAutoMine(false)
	ctx := context.Background()

	_, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
	require.Error(t, err)
	dropped, err := env.registry.Lookup(ctx, ganacheNetwork, "SecurityLogger")
	require.NoError(t, err)

	// Another transaction took nonce 0.
	env.chain.Drop(dropped.TxHash)
	env.chain.SetAccountNonce(ganacheAccount, 1)
	env.chain.SetAutoMine(true)

	rec, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Nonce)
	assert.NotEqual(t, dropped.TxHash, rec.TxHash)
	require.NotNil(t, rec.Supersedes)
	assert.Equal(t, dropped.TxHash, *rec.Supersedes)

	history, err := env.registry.History(ctx, ganacheNetwork, "SecurityLogger")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, registry.StatusFailed, history[0].Status)
	assert.Contains(t, history[0].Error, "dropped")
}

func TestRedeploy_SupersedesConfirmedRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
	require.NoError(t, err)

	second, err := env.deployer.Redeploy(ctx, request("SecurityLogger"))
	require.NoError(t, err)

	assert.Equal(t, 2, env.chain.SendCount())
	assert.Equal(t, uint64(1), second.Nonce)
	assert.NotEqual(t, first.Address, second.Address)
	require.NotNil(t, second.Supersedes)
	assert.Equal(t, first.TxHash, *second.Supersedes)

	history, err := env.registry.History(ctx, ganacheNetwork, "SecurityLogger")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, first.TxHash, history[0].TxHash)
	assert.Equal(t, registry.StatusConfirmed, history[0].Status)
}

func TestDeploy_Reverted(t *testing.T) {
	env := newTestEnv(t)
	env.chain.SetRevertAll(true)
	ctx := context.Background()

	_, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
	require.ErrorIs(t, err, ErrReverted)
	assert.True(t, IsTerminal(err))

	rec, err := env.registry.Lookup(ctx, ganacheNetwork, "SecurityLogger")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "reverted")

	// A failed record does not block a new attempt.
	env.chain.SetRevertAll(false)
	again, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), again.Nonce)
	assert.Equal(t, registry.StatusConfirmed, again.Status)
}

func TestDeploy_EstimationFailure(t *testing.T) {
	t.Run("falls back to default gas limit", func(t *testing.T) {
		env := newTestEnv(t, func(c *Config) { c.DefaultGasLimit = LegacyDefaultGasLimit })
		env.chain.QueueEstimateError(errors.New("gas required exceeds allowance (6721975)"))

		rec, err := env.deployer.Deploy(context.Background(), request("SecurityLogger"))
		require.NoError(t, err)
		assert.Equal(t, LegacyDefaultGasLimit, rec.GasLimit)
	})

	t.Run("reverting constructor skips the default", func(t *testing.T) {
		env := newTestEnv(t, func(c *Config) { c.DefaultGasLimit = LegacyDefaultGasLimit })
		env.chain.QueueEstimateError(errors.New("VM Exception while processing transaction: revert Ownable: caller is not the owner"))

		_, err := env.deployer.Deploy(context.Background(), request("SecurityLogger"))
		var estErr *EstimationError
		require.ErrorAs(t, err, &estErr)
		assert.Zero(t, env.chain.SendCount())
	})

	t.Run("fails without default and releases the nonce", func(t *testing.T) {
		env := newTestEnv(t)
		env.chain.QueueEstimateError(errors.New("execution reverted"))

		_, err := env.deployer.Deploy(context.Background(), request("SecurityLogger"))
		var estErr *EstimationError
		require.ErrorAs(t, err, &estErr)
		assert.Equal(t, "SecurityLogger", estErr.Contract)
		assert.Equal(t, ganacheNetwork, estErr.Network)
		assert.True(t, IsTerminal(err))

		_, err = env.registry.Lookup(context.Background(), ganacheNetwork, "SecurityLogger")
		assert.ErrorIs(t, err, registry.ErrNotFound, "no record before broadcast")
		assert.Zero(t, env.chain.SendCount())

		net, err := env.deployer.Network(ganacheNetwork)
		require.NoError(t, err)
		next, ok := net.Nonces.Next(ganacheAccount)
		require.True(t, ok)
		assert.Equal(t, uint64(0), next)
	})
}

func TestDeploy_NonceConflict(t *testing.T) {
	t.Run("resyncs and retries", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()

		_, err := env.deployer.Deploy(ctx, request("First"))
		require.NoError(t, err)

		// Transactions sent outside this process moved the account on.
		env.chain.SetAccountNonce(ganacheAccount, 5)

		rec, err := env.deployer.Deploy(ctx, request("Second"))
		require.NoError(t, err)
		assert.Equal(t, uint64(5), rec.Nonce)
		assert.Equal(t, crypto.CreateAddress(ganacheAccount, 5), rec.Address)

		history, err := env.registry.History(ctx, ganacheNetwork, "Second")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, registry.StatusFailed, history[0].Status)
		assert.Equal(t, uint64(1), history[0].Nonce)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		env := newTestEnv(t, func(c *Config) { c.MaxNonceRetries = 2 })
		tooLow := errors.New("nonce too low")
		env.chain.QueueSendError(tooLow, tooLow, tooLow)

		_, err := env.deployer.Deploy(context.Background(), request("SecurityLogger"))
		var conflict *NonceConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, 3, conflict.Attempts)
		assert.True(t, IsTerminal(err))
		assert.Zero(t, env.chain.SendCount())
	})
}

func TestDeploy_SendRejected(t *testing.T) {
	env := newTestEnv(t)
	env.chain.QueueSendError(errors.New("insufficient funds for gas * price + value"))
	ctx := context.Background()

	_, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	require.NotNil(t, subErr.Nonce)
	assert.Equal(t, uint64(0), *subErr.Nonce)

	rec, err := env.registry.Lookup(ctx, ganacheNetwork, "SecurityLogger")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusFailed, rec.Status)

	// The rejected nonce is handed out again.
	again, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), again.Nonce)
}

func TestDeploy_NodeRejectionReleasesNonce(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"insufficient funds", nodeError{code: -32000, msg: "sender doesn't have enough funds to send tx. The upfront cost is: 134439500000000000 and the sender's account only has: 0"}},
		{"underpriced", nodeError{code: -32000, msg: "transaction underpriced"}},
		{"server error code", nodeError{code: -32005, msg: "limit exceeded"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			// A second copy would be consumed by a retry and make the
			// redeploy below fail.
			env.chain.QueueSendError(tt.err, tt.err)

			_, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
			var subErr *SubmissionError
			require.ErrorAs(t, err, &subErr)
			assert.NotErrorIs(t, err, ErrOutcomeUnknown)
			assert.True(t, IsTerminal(err))

			rec, err := env.registry.Lookup(ctx, ganacheNetwork, "SecurityLogger")
			require.NoError(t, err)
			assert.Equal(t, registry.StatusFailed, rec.Status)
			assert.Contains(t, rec.Error, tt.err.Error())

			net, err := env.deployer.Network(ganacheNetwork)
			require.NoError(t, err)
			next, ok := net.Nonces.Next(ganacheAccount)
			require.True(t, ok)
			assert.Equal(t, uint64(0), next)

			// The queued copy is still there, so the node saw one attempt.
			_, err = env.deployer.Deploy(ctx, request("SecurityLogger"))
			require.ErrorAs(t, err, &subErr)

			again, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
			require.NoError(t, err)
			assert.Equal(t, uint64(0), again.Nonce)
			assert.Equal(t, 1, env.chain.SendCount())
		})
	}
}

func TestDeploy_ReceiptPollingFailureLeavesPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.chain.QueueReceiptError(errors.New("invalid argument 0: hex string has length 63, want 64 for common.Hash"))

	_, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
	var receiptErr *ReceiptError
	require.ErrorAs(t, err, &receiptErr)
	assert.Equal(t, ganacheNetwork, receiptErr.Network)
	assert.Equal(t, "SecurityLogger", receiptErr.Contract)
	assert.Equal(t, uint64(0), receiptErr.Nonce)
	assert.False(t, IsTerminal(err))

	pending, err := env.registry.Lookup(ctx, ganacheNetwork, "SecurityLogger")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusPending, pending.Status)
	assert.Equal(t, receiptErr.TxHash, pending.TxHash.Hex())

	rec, err := env.deployer.Deploy(ctx, request("SecurityLogger"))
	require.NoError(t, err)
	assert.Equal(t, registry.StatusConfirmed, rec.Status)
	assert.Equal(t, 1, env.chain.SendCount())
}

func TestDeploy_InvalidRequests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.deployer.Deploy(ctx, Request{Network: ganacheNetwork, Artifact: securityLogger})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = env.deployer.Deploy(ctx, Request{ContractName: "SecurityLogger", Network: ganacheNetwork})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req := request("SecurityLogger")
	req.Network = "mainnet"
	_, err = env.deployer.Deploy(ctx, req)
	assert.ErrorIs(t, err, ErrUnknownNetwork)

	req = request("SecurityLogger")
	req.Artifact = stubArtifact{err: errors.New("constructor expects 1 argument")}
	_, err = env.deployer.Deploy(ctx, req)
	var subErr *SubmissionError
	assert.ErrorAs(t, err, &subErr)

	assert.Zero(t, env.chain.SendCount())
}

func TestDeploy_ConfirmationThreshold(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.ConfirmationThreshold = 3 })

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				env.chain.AdvanceBlocks(1)
			}
		}
	}()

	rec, err := env.deployer.Deploy(context.Background(), request("SecurityLogger"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, env.chain.Head(), *rec.BlockNumber+2)
}

func TestDeploy_OnConfirmedHook(t *testing.T) {
	var got []*registry.Record
	env := newTestEnv(t, func(c *Config) {
		c.OnConfirmed = func(ctx context.Context, rec *registry.Record) error {
			got = append(got, rec)
			return errors.New("export failed")
		}
	})

	rec, err := env.deployer.Deploy(context.Background(), request("SecurityLogger"))
	require.NoError(t, err, "hook errors are logged, not returned")
	require.Len(t, got, 1)
	assert.Equal(t, rec.Address, got[0].Address)

	_, err = env.deployer.Deploy(context.Background(), request("SecurityLogger"))
	require.NoError(t, err)
	assert.Len(t, got, 1, "cached deployments do not rerun the hook")
}

func TestNewDeployer_RejectsBadNetworks(t *testing.T) {
	reg, err := registry.NewFileRegistry(filepath.Join(t.TempDir(), "deployments.json"))
	require.NoError(t, err)
	fake := chaintest.NewFakeChain(1337)
	signer, err := chain.NewDevSigner(big.NewInt(1337))
	require.NoError(t, err)

	_, err = NewDeployer(reg, testConfig(), &Network{Name: "ganache", Client: fake, Signer: signer})
	assert.ErrorIs(t, err, ErrInvalidRequest, "missing chain id")

	net := &Network{Name: "ganache", ChainID: big.NewInt(1337), Client: fake, Signer: signer}
	d, err := NewDeployer(reg, testConfig(), net)
	require.NoError(t, err)
	assert.NotNil(t, net.Gas)
	assert.NotNil(t, net.Nonces)

	err = d.AddNetwork(&Network{Name: "ganache", ChainID: big.NewInt(1337), Client: fake, Signer: signer})
	assert.ErrorIs(t, err, ErrInvalidRequest, "duplicate name")
}

func TestConfirmations(t *testing.T) {
	assert.Equal(t, uint64(0), confirmations(nil, big.NewInt(1)))
	assert.Equal(t, uint64(0), confirmations(big.NewInt(4), big.NewInt(5)))
	assert.Equal(t, uint64(1), confirmations(big.NewInt(5), big.NewInt(5)))
	assert.Equal(t, uint64(3), confirmations(big.NewInt(7), big.NewInt(5)))
}
