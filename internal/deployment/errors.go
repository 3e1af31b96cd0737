package deployment

import (
	"errors"
	"fmt"
)

// Sentinel errors - Requests
var (
	ErrInvalidRequest = errors.New("deployment: invalid request")
	ErrUnknownNetwork = errors.New("deployment: unknown network")
)

// Sentinel errors - Chain
var (
	ErrReverted        = errors.New("deployment: contract creation reverted")
	ErrDropped         = errors.New("deployment: transaction dropped")
	ErrInvalidEstimate = errors.New("deployment: invalid gas estimate")
	ErrNoReservation   = errors.New("deployment: no matching nonce reservation")
	ErrOutcomeUnknown  = errors.New("deployment: broadcast outcome unknown")
)

// EstimationError reports that no gas limit could be obtained from the node.
type EstimationError struct {
	Network  string
	Contract string
	Err      error
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("gas estimation failed for %s on %s: %v", e.Contract, e.Network, e.Err)
}

func (e *EstimationError) Unwrap() error {
	return e.Err
}

// NonceConflictError reports that the node kept rejecting reserved nonces
// after every allowed re-reservation.
type NonceConflictError struct {
	Network  string
	Contract string
	Nonce    uint64
	Attempts int
	Err      error
}

func (e *NonceConflictError) Error() string {
	return fmt.Sprintf("nonce conflict for %s on %s: nonce %d rejected after %d attempts: %v",
		e.Contract, e.Network, e.Nonce, e.Attempts, e.Err)
}

func (e *NonceConflictError) Unwrap() error {
	return e.Err
}

// SubmissionError reports a transaction that could not be built, signed or
// broadcast, or that reverted on chain. It is never retried.
type SubmissionError struct {
	Network  string
	Contract string
	Nonce    *uint64
	TxHash   string
	Err      error
}

func (e *SubmissionError) Error() string {
	msg := fmt.Sprintf("submission failed for %s on %s", e.Contract, e.Network)
	if e.Nonce != nil {
		msg += fmt.Sprintf(" (nonce %d)", *e.Nonce)
	}
	if e.TxHash != "" {
		msg += " tx " + e.TxHash
	}
	return msg + ": " + e.Err.Error()
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// ConfirmationTimeoutError reports that the confirmation deadline passed.
// The registry record stays pending for later reconciliation.
type ConfirmationTimeoutError struct {
	Network  string
	Contract string
	Nonce    uint64
	TxHash   string
	Err      error
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s on %s (nonce %d, tx %s): %v",
		e.Contract, e.Network, e.Nonce, e.TxHash, e.Err)
}

func (e *ConfirmationTimeoutError) Unwrap() error {
	return e.Err
}

// ReceiptError reports that polling for a receipt failed with an error the
// retry strategy gave up on. The registry record stays pending.
type ReceiptError struct {
	Network  string
	Contract string
	Nonce    uint64
	TxHash   string
	Err      error
}

func (e *ReceiptError) Error() string {
	return fmt.Sprintf("receipt polling failed for %s on %s (nonce %d, tx %s): %v",
		e.Contract, e.Network, e.Nonce, e.TxHash, e.Err)
}

func (e *ReceiptError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether err leaves nothing on chain to wait for, so a
// caller may start a fresh deployment. A broadcast with an unknown outcome
// is not terminal: the transaction may still be mined.
func IsTerminal(err error) bool {
	if errors.Is(err, ErrOutcomeUnknown) {
		return false
	}
	var subErr *SubmissionError
	var estErr *EstimationError
	var nonceErr *NonceConflictError
	return errors.As(err, &subErr) || errors.As(err, &estErr) || errors.As(err, &nonceErr)
}
