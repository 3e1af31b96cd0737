package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Bidon15/popdeploy/internal/metrics"
	"github.com/Bidon15/popdeploy/internal/registry"
)

// ReconcileAction is what Reconcile did with a pending record.
type ReconcileAction string

const (
	ActionConfirmed   ReconcileAction = "confirmed"
	ActionReverted    ReconcileAction = "reverted"
	ActionDropped     ReconcileAction = "dropped"
	ActionRebroadcast ReconcileAction = "rebroadcast"
	ActionPending     ReconcileAction = "pending"
	ActionSkipped     ReconcileAction = "skipped"
	ActionError       ReconcileAction = "error"
)

// ReconcileResult reports the outcome for one pending record.
type ReconcileResult struct {
	Key    string          `json:"key" yaml:"key"`
	TxHash string          `json:"tx_hash" yaml:"tx_hash"`
	Action ReconcileAction `json:"action" yaml:"action"`
	Error  string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// Reconcile checks every pending record of network against the chain once,
// without waiting: mined records are settled, lost transactions are
// rebroadcast and records whose nonce was used by another transaction are
// marked failed. Records short of the confirmation threshold stay pending.
func (d *Deployer) Reconcile(ctx context.Context, network string) ([]ReconcileResult, error) {
	net, err := d.Network(network)
	if err != nil {
		return nil, err
	}

	records, err := d.registry.List(ctx)
	if err != nil && !errors.Is(err, registry.ErrCorrupted) {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if err != nil {
		d.logger.Warn("skipping corrupted registry entries", slog.String("error", err.Error()))
	}

	var results []ReconcileResult
	stillPending := 0
	for _, rec := range records {
		if rec.Network != network || rec.Status != registry.StatusPending {
			continue
		}
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		res := d.reconcileOne(ctx, net, rec)
		if res.Action == ActionPending || res.Action == ActionRebroadcast || res.Action == ActionError {
			stillPending++
		}
		results = append(results, res)
	}

	metrics.SetPendingRecords(network, stillPending)
	return results, nil
}

func (d *Deployer) reconcileOne(ctx context.Context, net *Network, rec *registry.Record) ReconcileResult {
	res := ReconcileResult{Key: rec.Key(), TxHash: rec.TxHash.Hex()}
	fail := func(err error) ReconcileResult {
		res.Action = ActionError
		res.Error = err.Error()
		return res
	}

	unlock, err := d.pairs.Lock(ctx, rec.Key())
	if err != nil {
		return fail(err)
	}
	defer unlock()

	dep := &deployment{
		req: Request{Network: rec.Network, ContractName: rec.ContractName, From: rec.Deployer},
		net: net,
		logger: d.logger.With(
			slog.String("network", rec.Network),
			slog.String("contract", rec.ContractName),
			slog.String("mode", "reconcile"),
		),
	}

	// The record may have settled while we waited for the lock.
	current, err := d.registry.Lookup(ctx, rec.Network, rec.ContractName)
	if err != nil {
		return fail(err)
	}
	if current.Status != registry.StatusPending || current.TxHash != rec.TxHash {
		res.Action = ActionSkipped
		return res
	}

	outcome, err := d.checkPending(ctx, dep, current)
	if err != nil {
		return fail(err)
	}
	switch outcome {
	case pendingDropped:
		res.Action = ActionDropped
		return res
	case pendingRebroadcast:
		res.Action = ActionRebroadcast
		return res
	case pendingKnown:
		res.Action = ActionPending
		return res
	}

	receipt, err := d.receipt(ctx, net, current)
	if err != nil {
		return fail(err)
	}
	if receipt == nil {
		res.Action = ActionPending
		return res
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		ok, err := d.confirmed(ctx, net, receipt)
		if err != nil {
			return fail(err)
		}
		if !ok {
			res.Action = ActionPending
			return res
		}
	}

	if _, err := d.settle(ctx, dep, current, receipt); err != nil {
		if errors.Is(err, ErrReverted) {
			res.Action = ActionReverted
			return res
		}
		return fail(err)
	}
	res.Action = ActionConfirmed
	return res
}
