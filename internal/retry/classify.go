package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// Node rejections that no amount of retrying will fix. These are checked
// before the transient patterns because geth reports several of them with
// the generic -32000 server error code.
var permanentPatterns = []string{
	"insufficient funds",
	"execution reverted",
	"nonce too low",
	"nonce too high",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"gas required exceeds allowance",
	"invalid sender",
	"invalid opcode",
	"max code size exceeded",
	"max initcode size",
	"doesn't have enough funds",
	"underpriced",
	"less than block base fee",
}

// Transport failures that are typically recoverable.
var transientPatterns = []string{
	"connection reset by peer",
	"connection refused",
	"timeout",
	"temporary failure",
	"network is unreachable",
	"broken pipe",
	"i/o timeout",
	"eof",
	"tls handshake timeout",
	"no such host",
	"connection timed out",
	"dial tcp",
	"too many requests",
	"503 service unavailable",
	"502 bad gateway",
}

// IsTransient reports whether err looks like a transport-level failure
// (connection reset, RPC timeout, 5xx-class server error) rather than a
// rejection by the node.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range permanentPatterns {
		if strings.Contains(msg, pattern) {
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && isRetryableRPCError(rpcErr.ErrorCode()) {
		return true
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && (httpErr.StatusCode >= 500 || httpErr.StatusCode == 429) {
		return true
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

// IsNodeReply reports whether err is a JSON-RPC error returned by the node.
// The request reached the node and was answered, so for a broadcast the
// outcome is known: the transaction was not accepted.
func IsNodeReply(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

// isRetryableRPCError checks if a JSON-RPC error code is retryable.
func isRetryableRPCError(code int) bool {
	// -32000 to -32099 are server errors that may be transient
	return code >= -32099 && code <= -32000
}
