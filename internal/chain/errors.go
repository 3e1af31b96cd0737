package chain

import (
	"errors"
	"strings"
)

var (
	ErrChainIDMismatch   = errors.New("chain id mismatch")
	ErrUnknownAccount    = errors.New("signer has no key for account")
	ErrProductionChainID = errors.New("dev keys refused on production chain")
)

// Node error messages differ between geth, Ganache, Anvil and Hardhat; these
// cover the wording each of them uses.
var (
	nonceConflictPatterns = []string{
		"nonce too low",
		"nonce too high",
		"replacement transaction underpriced",
		"the tx doesn't have the correct nonce",
		"invalid nonce",
		"nonce has already been used",
	}
	alreadyKnownPatterns = []string{
		"already known",
		"known transaction",
		"transaction already imported",
		"already in mempool",
	}
	revertPatterns = []string{
		"execution reverted",
		"vm exception while processing transaction: revert",
		"transaction reverted",
	}
)

func matchesAny(err error, patterns []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsNonceConflict reports whether the node rejected a transaction because its
// nonce was already used or out of order.
func IsNonceConflict(err error) bool {
	return matchesAny(err, nonceConflictPatterns)
}

// IsAlreadyKnown reports whether the node already holds the transaction. A
// rebroadcast that hits this error is a successful send.
func IsAlreadyKnown(err error) bool {
	return matchesAny(err, alreadyKnownPatterns)
}

// IsReverted reports whether the error is an EVM revert.
func IsReverted(err error) bool {
	return matchesAny(err, revertPatterns)
}
