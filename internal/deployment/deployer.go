package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-playground/validator/v10"

	"github.com/Bidon15/popdeploy/internal/chain"
	"github.com/Bidon15/popdeploy/internal/metrics"
	"github.com/Bidon15/popdeploy/internal/pkg/ulid"
	"github.com/Bidon15/popdeploy/internal/registry"
	"github.com/Bidon15/popdeploy/internal/retry"
)

var validate = validator.New()

// Deployer runs the deployment state machine. Deployments of different
// (network, contract) pairs run concurrently; each pair and each deployer
// account is serialized.
type Deployer struct {
	config   Config
	registry registry.Registry
	retry    retry.Strategy
	logger   *slog.Logger
	pairs    *keyedMutex

	mu       sync.RWMutex
	networks map[string]*Network
}

// NewDeployer creates a Deployer writing to reg.
func NewDeployer(reg registry.Registry, cfg Config, networks ...*Network) (*Deployer, error) {
	cfg.applyDefaults()

	d := &Deployer{
		config:   cfg,
		registry: reg,
		retry:    retry.New(cfg.Retry, cfg.Logger),
		logger:   cfg.Logger,
		pairs:    newKeyedMutex(),
		networks: make(map[string]*Network),
	}
	for _, n := range networks {
		if err := d.AddNetwork(n); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// AddNetwork registers a deployment target.
func (d *Deployer) AddNetwork(n *Network) error {
	if n == nil || n.Name == "" || n.Client == nil || n.Signer == nil {
		return fmt.Errorf("%w: network needs a name, client and signer", ErrInvalidRequest)
	}
	if n.ChainID == nil {
		return fmt.Errorf("%w: network %s has no chain id", ErrInvalidRequest, n.Name)
	}
	if n.Gas == nil {
		n.Gas = NewGasEstimator(n.Client, d.retry, d.config.GasMarginPercent, d.logger)
	}
	if n.Nonces == nil {
		n.Nonces = NewNonceTracker(n.Client, d.retry, d.logger)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.networks[n.Name]; exists {
		return fmt.Errorf("%w: network %s already registered", ErrInvalidRequest, n.Name)
	}
	d.networks[n.Name] = n
	return nil
}

// Network returns a registered target.
func (d *Deployer) Network(name string) (*Network, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.networks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
	}
	return n, nil
}

// Deploy deploys req unless the registry already holds a confirmed record for
// it, in which case that record is returned without touching the chain. A
// pending record is awaited instead of resubmitted.
func (d *Deployer) Deploy(ctx context.Context, req Request) (*registry.Record, error) {
	return d.deploy(ctx, req, false)
}

// Redeploy always submits a new transaction. The resulting record supersedes
// the current one, which moves to the registry history.
func (d *Deployer) Redeploy(ctx context.Context, req Request) (*registry.Record, error) {
	return d.deploy(ctx, req, true)
}

// deployment carries per-call state through the state machine.
type deployment struct {
	req    Request
	net    *Network
	logger *slog.Logger
}

func (d *Deployer) deploy(ctx context.Context, req Request, force bool) (*registry.Record, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	net, err := d.Network(req.Network)
	if err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = ulid.NewRequestID()
	}
	dep := &deployment{
		req: req,
		net: net,
		logger: d.logger.With(
			slog.String("request_id", id),
			slog.String("network", req.Network),
			slog.String("contract", req.ContractName),
		),
	}

	unlock, err := d.pairs.Lock(ctx, registry.Key(req.Network, req.ContractName))
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", registry.Key(req.Network, req.ContractName), err)
	}
	defer unlock()

	dep.transition(StateNotStarted, nil, slog.Bool("force", force))

	existing, err := d.registry.Lookup(ctx, req.Network, req.ContractName)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		existing = nil
	case err != nil:
		dep.transition(StateFailed, err)
		return nil, fmt.Errorf("lookup %s: %w", registry.Key(req.Network, req.ContractName), err)
	}

	if existing != nil && !force {
		switch existing.Status {
		case registry.StatusConfirmed:
			dep.transition(StateConfirmed, nil,
				slog.String("address", existing.Address.Hex()),
				slog.String("txHash", existing.TxHash.Hex()),
				slog.Bool("cached", true),
			)
			metrics.RecordDeployment(req.Network, metrics.ResultCached)
			return existing, nil

		case registry.StatusPending:
			dep.transition(StateAwaitingConfirmation, nil,
				slog.String("txHash", existing.TxHash.Hex()),
				slog.Uint64("nonce", existing.Nonce),
				slog.Bool("resumed", true),
			)
			outcome, err := d.checkPending(ctx, dep, existing)
			if err != nil {
				dep.logger.Warn("could not check pending transaction", slog.String("error", err.Error()))
			}
			if outcome != pendingDropped {
				return d.await(ctx, dep, existing)
			}
			// The slot was taken by another transaction; start over.
		}
	}

	rec, err := d.submit(ctx, dep)
	if err != nil {
		return nil, err
	}
	return d.await(ctx, dep, rec)
}

// transition logs a state change with the deployment's context.
func (dep *deployment) transition(state State, err error, attrs ...any) {
	args := append([]any{slog.String("state", string(state))}, attrs...)
	if err != nil {
		args = append(args, slog.String("error", err.Error()))
		dep.logger.Error("deployment state changed", args...)
		return
	}
	dep.logger.Info("deployment state changed", args...)
}

// submit reserves a nonce, builds and signs the creation transaction, writes
// the pending record and broadcasts. Nonces the node rejects are
// re-reserved up to MaxNonceRetries times.
func (d *Deployer) submit(ctx context.Context, dep *deployment) (*registry.Record, error) {
	req, net := dep.req, dep.net

	data, err := req.Artifact.CreationData(req.ConstructorArgs...)
	if err != nil {
		err = &SubmissionError{Network: req.Network, Contract: req.ContractName, Err: fmt.Errorf("encode creation data: %w", err)}
		dep.transition(StateFailed, err)
		metrics.RecordDeployment(req.Network, metrics.ResultFailed)
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		dep.transition(StateSubmitting, nil, slog.Int("attempt", attempt))

		nonce, err := net.Nonces.Reserve(ctx, req.From)
		if err != nil {
			err = &SubmissionError{Network: req.Network, Contract: req.ContractName, Err: fmt.Errorf("reserve nonce: %w", err)}
			dep.transition(StateFailed, err)
			metrics.RecordDeployment(req.Network, metrics.ResultFailed)
			return nil, err
		}

		rec, err := d.submitWithNonce(ctx, dep, data, nonce)
		if err == nil {
			return rec, nil
		}

		var conflict *NonceConflictError
		if !errors.As(err, &conflict) {
			dep.transition(StateFailed, err, slog.Uint64("nonce", nonce))
			metrics.RecordDeployment(req.Network, metrics.ResultFailed)
			return nil, err
		}

		metrics.RecordNonceConflict(req.Network)
		conflict.Attempts = attempt
		if attempt > d.config.MaxNonceRetries {
			dep.transition(StateFailed, err, slog.Uint64("nonce", nonce))
			metrics.RecordDeployment(req.Network, metrics.ResultFailed)
			return nil, err
		}
		dep.logger.Warn("nonce rejected, re-reserving",
			slog.Uint64("nonce", nonce),
			slog.Int("attempt", attempt),
			slog.String("error", conflict.Err.Error()),
		)
	}
}

// submitWithNonce owns the reservation of nonce and settles it before
// returning: committed once the transaction may have reached the node,
// released when it certainly did not, and reported as a conflict when the
// node rejected the nonce.
func (d *Deployer) submitWithNonce(ctx context.Context, dep *deployment, data []byte, nonce uint64) (*registry.Record, error) {
	req, net := dep.req, dep.net
	submissionErr := func(err error) error {
		n := nonce
		return &SubmissionError{Network: req.Network, Contract: req.ContractName, Nonce: &n, Err: err}
	}
	release := func() {
		if err := net.Nonces.Release(req.From, nonce); err != nil {
			dep.logger.Error("release nonce", slog.String("error", err.Error()))
		}
	}

	gas, source, err := d.gasLimit(ctx, dep, data)
	if err != nil {
		release()
		return nil, err
	}
	metrics.ObserveGasLimit(req.Network, source, gas)

	tx, err := d.buildTx(ctx, net, nonce, gas, data)
	if err != nil {
		release()
		return nil, submissionErr(err)
	}

	signed, err := net.Signer.SignTx(ctx, req.From, tx)
	if err != nil {
		release()
		return nil, submissionErr(fmt.Errorf("sign transaction: %w", err))
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		release()
		return nil, submissionErr(fmt.Errorf("encode transaction: %w", err))
	}

	rec := &registry.Record{
		Network:      req.Network,
		ContractName: req.ContractName,
		Address:      crypto.CreateAddress(req.From, nonce),
		TxHash:       signed.Hash(),
		Status:       registry.StatusPending,
		Deployer:     req.From,
		Nonce:        nonce,
		GasLimit:     gas,
		RawTx:        raw,
	}

	// The pending record goes to disk before the broadcast so that a crash
	// in between never leaves an unrecorded transaction on the network.
	if err := d.registry.Record(ctx, rec); err != nil {
		release()
		return nil, submissionErr(fmt.Errorf("write pending record: %w", err))
	}

	err = d.sendRaw(ctx, net, signed)

	switch {
	case err == nil:
		if err := net.Nonces.Commit(req.From, nonce); err != nil {
			dep.logger.Error("commit nonce", slog.String("error", err.Error()))
		}
		metrics.RecordSubmission(req.Network, "new")
		dep.transition(StateAwaitingConfirmation, nil,
			slog.String("txHash", rec.TxHash.Hex()),
			slog.Uint64("nonce", nonce),
			slog.Uint64("gas", gas),
			slog.String("gas_source", source),
			slog.String("predicted_address", rec.Address.Hex()),
		)
		return rec, nil

	case chain.IsNonceConflict(err):
		d.markFailed(ctx, dep, rec, fmt.Sprintf("nonce %d rejected: %v", nonce, err))
		if cerr := net.Nonces.Conflict(req.From, nonce); cerr != nil {
			dep.logger.Error("report nonce conflict", slog.String("error", cerr.Error()))
		}
		return nil, &NonceConflictError{Network: req.Network, Contract: req.ContractName, Nonce: nonce, Err: err}

	case !retry.IsNodeReply(err) && (retry.IsRetryable(err) || ctx.Err() != nil):
		// The node may have accepted the transaction before the connection
		// failed, so its nonce stays consumed and the record stays pending
		// for reconciliation.
		if cerr := net.Nonces.Commit(req.From, nonce); cerr != nil {
			dep.logger.Error("commit nonce", slog.String("error", cerr.Error()))
		}
		dep.transition(StateAwaitingConfirmation, err, slog.String("txHash", rec.TxHash.Hex()))
		e := submissionErr(fmt.Errorf("%w: %w", ErrOutcomeUnknown, err)).(*SubmissionError)
		e.TxHash = rec.TxHash.Hex()
		return nil, e

	default:
		d.markFailed(ctx, dep, rec, err.Error())
		release()
		e := submissionErr(fmt.Errorf("send transaction: %w", err)).(*SubmissionError)
		e.TxHash = rec.TxHash.Hex()
		return nil, e
	}
}

// sendRaw broadcasts tx, retrying transport failures. A JSON-RPC error
// reply is final: the node saw the transaction and refused it.
func (d *Deployer) sendRaw(ctx context.Context, net *Network, tx *types.Transaction) error {
	return d.retry.Do(ctx, "eth_sendRawTransaction", func(ctx context.Context) error {
		err := net.Client.SendTransaction(ctx, tx)
		switch {
		case err == nil || chain.IsAlreadyKnown(err):
			return nil
		case retry.IsNodeReply(err):
			return retry.Permanent(err)
		}
		return err
	})
}

// gasLimit returns the limit for the creation transaction and where it came
// from: the request override, a node estimate, or the configured default.
func (d *Deployer) gasLimit(ctx context.Context, dep *deployment, data []byte) (uint64, string, error) {
	req := dep.req
	if req.GasOverride != nil {
		return *req.GasOverride, metrics.GasSourceOverride, nil
	}

	gas, err := dep.net.Gas.Estimate(ctx, CreationCall{From: req.From, Data: data})
	if err == nil {
		return gas, metrics.GasSourceEstimate, nil
	}

	var estErr *EstimationError
	if errors.As(err, &estErr) {
		estErr.Network = req.Network
		estErr.Contract = req.ContractName
	}
	// A reverting constructor fails the same way with any gas limit.
	if d.config.DefaultGasLimit == 0 || ctx.Err() != nil || chain.IsReverted(err) {
		return 0, "", err
	}

	dep.logger.Warn("gas estimation failed, using default gas limit",
		slog.Uint64("gas", d.config.DefaultGasLimit),
		slog.String("error", err.Error()),
	)
	return d.config.DefaultGasLimit, metrics.GasSourceDefault, nil
}

// buildTx creates an EIP-1559 transaction when the head block has a base fee
// and a legacy one otherwise.
func (d *Deployer) buildTx(ctx context.Context, net *Network, nonce, gas uint64, data []byte) (*types.Transaction, error) {
	var header *types.Header
	err := d.retry.Do(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		var err error
		header, err = net.Client.HeaderByNumber(ctx, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get block header: %w", err)
	}

	if header.BaseFee == nil {
		gasPrice, err := net.Client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("get gas price: %w", err)
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       nil, // contract creation
			Value:    big.NewInt(0),
			Data:     data,
		}), nil
	}

	gasTipCap, err := net.Client.SuggestGasTipCap(ctx)
	if err != nil {
		// Fall back to legacy gas price
		gasPrice, priceErr := net.Client.SuggestGasPrice(ctx)
		if priceErr != nil {
			return nil, fmt.Errorf("get gas price: %w", priceErr)
		}
		gasTipCap = gasPrice
	}

	// Max fee covers two doublings of the base fee plus the tip
	gasFeeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	gasFeeCap.Add(gasFeeCap, gasTipCap)

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   net.ChainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gas,
		To:        nil, // contract creation
		Value:     big.NewInt(0),
		Data:      data,
	}), nil
}

// await polls for the receipt of rec with bounded exponential backoff until
// the confirmation threshold is reached, the transaction reverts or the
// confirmation deadline passes.
func (d *Deployer) await(ctx context.Context, dep *deployment, rec *registry.Record) (*registry.Record, error) {
	req := dep.req
	started := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, d.config.ConfirmationTimeout)
	defer cancel()

	receipt, err := d.waitForConfirmation(waitCtx, dep.net, rec)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			dep.logger.Warn("confirmation wait cancelled, record left pending",
				slog.String("txHash", rec.TxHash.Hex()),
				slog.String("error", ctx.Err().Error()),
			)
			return nil, fmt.Errorf("wait for %s: %w", rec.TxHash.Hex(), ctx.Err())

		case waitCtx.Err() != nil:
			timeoutErr := &ConfirmationTimeoutError{
				Network:  req.Network,
				Contract: req.ContractName,
				Nonce:    rec.Nonce,
				TxHash:   rec.TxHash.Hex(),
				Err:      fmt.Errorf("no confirmation within %s: %w", d.config.ConfirmationTimeout, waitCtx.Err()),
			}
			dep.transition(StateAwaitingConfirmation, timeoutErr, slog.String("txHash", rec.TxHash.Hex()))
			metrics.RecordDeployment(req.Network, metrics.ResultTimeout)
			return nil, timeoutErr

		default:
			receiptErr := &ReceiptError{
				Network:  req.Network,
				Contract: req.ContractName,
				Nonce:    rec.Nonce,
				TxHash:   rec.TxHash.Hex(),
				Err:      err,
			}
			dep.transition(StateAwaitingConfirmation, receiptErr, slog.String("txHash", rec.TxHash.Hex()))
			return nil, receiptErr
		}
	}

	final, err := d.settle(ctx, dep, rec, receipt)
	if err == nil {
		metrics.ObserveConfirmation(req.Network, time.Since(started))
	}
	return final, err
}

// waitForConfirmation returns the receipt once it is reverted or has enough
// confirmations. Transient RPC errors are retried by the strategy; a missing
// receipt means the transaction is still pending.
func (d *Deployer) waitForConfirmation(ctx context.Context, net *Network, rec *registry.Record) (*types.Receipt, error) {
	backoff := d.config.PollInitialInterval

	for {
		receipt, err := d.receipt(ctx, net, rec)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			return nil, err
		}

		if receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, nil
			}
			ok, err := d.confirmed(ctx, net, receipt)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err != nil {
				return nil, err
			}
			if ok {
				return receipt, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, d.config.PollMaxInterval)
	}
}

// receipt fetches the receipt of rec. Returns (nil, nil) while pending.
func (d *Deployer) receipt(ctx context.Context, net *Network, rec *registry.Record) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := d.retry.Do(ctx, "eth_getTransactionReceipt", func(ctx context.Context) error {
		var err error
		receipt, err = net.Client.TransactionReceipt(ctx, rec.TxHash)
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	return receipt, err
}

// confirmed reports whether receipt has reached the confirmation threshold.
func (d *Deployer) confirmed(ctx context.Context, net *Network, receipt *types.Receipt) (bool, error) {
	var header *types.Header
	err := d.retry.Do(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		var err error
		header, err = net.Client.HeaderByNumber(ctx, nil)
		return err
	})
	if err != nil {
		return false, err
	}
	return confirmations(header.Number, receipt.BlockNumber) >= d.config.ConfirmationThreshold, nil
}

// confirmations counts the inclusion block and every block after it.
func confirmations(head, included *big.Int) uint64 {
	if head == nil || included == nil || head.Cmp(included) < 0 {
		return 0
	}
	return new(big.Int).Sub(head, included).Uint64() + 1
}

// settle moves rec to its terminal state from a receipt that is either
// reverted or sufficiently confirmed.
func (d *Deployer) settle(ctx context.Context, dep *deployment, rec *registry.Record, receipt *types.Receipt) (*registry.Record, error) {
	req := dep.req

	if receipt.Status != types.ReceiptStatusSuccessful {
		reason := fmt.Sprintf("reverted in block %s", receipt.BlockNumber)
		d.markFailed(ctx, dep, rec, reason)
		err := &SubmissionError{
			Network:  req.Network,
			Contract: req.ContractName,
			Nonce:    &rec.Nonce,
			TxHash:   rec.TxHash.Hex(),
			Err:      fmt.Errorf("%w: status=%d", ErrReverted, receipt.Status),
		}
		dep.transition(StateFailed, err, slog.String("txHash", rec.TxHash.Hex()))
		metrics.RecordDeployment(req.Network, metrics.ResultReverted)
		return nil, err
	}

	updated := rec.Clone()
	if receipt.ContractAddress != (common.Address{}) {
		updated.Address = receipt.ContractAddress
	}
	updated.GasUsed = receipt.GasUsed
	if err := d.registry.Record(ctx, updated); err != nil {
		return nil, fmt.Errorf("record receipt of %s: %w", rec.TxHash.Hex(), err)
	}

	blockNumber := receipt.BlockNumber.Uint64()
	if err := d.registry.MarkConfirmed(ctx, req.Network, req.ContractName, blockNumber); err != nil {
		return nil, fmt.Errorf("mark %s confirmed: %w", registry.Key(req.Network, req.ContractName), err)
	}

	final, err := d.registry.Lookup(ctx, req.Network, req.ContractName)
	if err != nil {
		return nil, fmt.Errorf("reload %s: %w", registry.Key(req.Network, req.ContractName), err)
	}

	dep.transition(StateConfirmed, nil,
		slog.String("address", final.Address.Hex()),
		slog.String("txHash", final.TxHash.Hex()),
		slog.Uint64("block", blockNumber),
		slog.Uint64("gasUsed", receipt.GasUsed),
	)
	metrics.RecordDeployment(req.Network, metrics.ResultConfirmed)

	if d.config.OnConfirmed != nil {
		if err := d.config.OnConfirmed(ctx, final.Clone()); err != nil {
			dep.logger.Error("post-confirmation hook failed", slog.String("error", err.Error()))
		}
	}
	return final, nil
}

func (d *Deployer) markFailed(ctx context.Context, dep *deployment, rec *registry.Record, reason string) {
	if err := d.registry.MarkFailed(ctx, rec.Network, rec.ContractName, reason); err != nil {
		dep.logger.Error("mark record failed",
			slog.String("txHash", rec.TxHash.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// pendingOutcome is what checkPending found for a pending record.
type pendingOutcome int

const (
	pendingKnown pendingOutcome = iota
	pendingMined
	pendingRebroadcast
	pendingDropped
)

// checkPending looks at a pending record the node may have lost. When the
// node no longer knows the transaction but the account nonce has not moved
// past it, the stored raw transaction is sent again; the hash is unchanged,
// so this cannot create a second deployment. When the nonce has moved past
// it, the record is marked failed.
func (d *Deployer) checkPending(ctx context.Context, dep *deployment, rec *registry.Record) (pendingOutcome, error) {
	net := dep.net

	receipt, err := d.receipt(ctx, net, rec)
	if err != nil {
		return pendingKnown, err
	}
	if receipt != nil {
		return pendingMined, nil
	}

	_, _, err = net.Client.TransactionByHash(ctx, rec.TxHash)
	if err == nil {
		return pendingKnown, nil
	}
	if !errors.Is(err, ethereum.NotFound) {
		return pendingKnown, fmt.Errorf("get transaction: %w", err)
	}

	var mined uint64
	err = d.retry.Do(ctx, "eth_getTransactionCount", func(ctx context.Context) error {
		var err error
		mined, err = net.Client.NonceAt(ctx, rec.Deployer, nil)
		return err
	})
	if err != nil {
		return pendingKnown, fmt.Errorf("get account nonce: %w", err)
	}

	if mined > rec.Nonce {
		// The receipt may have appeared since the first check.
		receipt, err := d.receipt(ctx, net, rec)
		if err != nil {
			return pendingKnown, err
		}
		if receipt != nil {
			return pendingMined, nil
		}
		reason := fmt.Sprintf("dropped: nonce %d used by another transaction", rec.Nonce)
		d.markFailed(ctx, dep, rec, reason)
		dep.transition(StateFailed, fmt.Errorf("%w: %s", ErrDropped, rec.TxHash.Hex()), slog.Uint64("nonce", rec.Nonce))
		metrics.RecordDeployment(rec.Network, metrics.ResultDropped)
		// Other transactions used the account; the cached count is stale.
		if err := net.Nonces.Resync(ctx, rec.Deployer); err != nil {
			dep.logger.Warn("resync nonce after drop", slog.String("error", err.Error()))
		}
		return pendingDropped, nil
	}

	if len(rec.RawTx) == 0 {
		return pendingKnown, nil
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(rec.RawTx); err != nil {
		return pendingKnown, fmt.Errorf("decode stored transaction: %w", err)
	}
	if err := d.sendRaw(ctx, net, &tx); err != nil {
		return pendingKnown, fmt.Errorf("rebroadcast: %w", err)
	}

	metrics.RecordSubmission(rec.Network, "rebroadcast")
	dep.logger.Info("rebroadcast pending transaction",
		slog.String("txHash", rec.TxHash.Hex()),
		slog.Uint64("nonce", rec.Nonce),
	)
	return pendingRebroadcast, nil
}
