// Package deployment deploys contracts idempotently: it reserves nonces,
// picks gas limits, submits creation transactions, waits for confirmation
// and keeps the registry in step with the chain.
package deployment

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/popdeploy/internal/chain"
	"github.com/Bidon15/popdeploy/internal/registry"
	"github.com/Bidon15/popdeploy/internal/retry"
)

// State is a step of the deployment state machine.
type State string

const (
	StateNotStarted           State = "not_started"
	StateSubmitting           State = "submitting"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateConfirmed            State = "confirmed"
	StateFailed               State = "failed"
)

// Artifact produces the creation payload of a contract.
type Artifact interface {
	// CreationData returns the init code with ABI-encoded constructor args
	// appended.
	CreationData(args ...any) ([]byte, error)
}

// Request asks for a contract to be deployed. The Deployer never modifies it.
type Request struct {
	// ID correlates log lines; one is generated when empty.
	ID              string
	ContractName    string   `validate:"required"`
	Artifact        Artifact `validate:"required"`
	ConstructorArgs []any
	Network         string `validate:"required"`
	From            common.Address
	// GasOverride skips estimation when set.
	GasOverride *uint64
}

// Defaults for Config.
const (
	DefaultConfirmationThreshold = 1
	DefaultConfirmationTimeout   = 120 * time.Second
	DefaultPollInitialInterval   = time.Second
	DefaultPollMaxInterval       = 30 * time.Second
	DefaultMaxNonceRetries       = 3

	// LegacyDefaultGasLimit is Ganache's default block gas limit, the fixed
	// limit Truffle migrations commonly use.
	LegacyDefaultGasLimit uint64 = 6721975
)

// Config holds Deployer settings.
type Config struct {
	// ConfirmationThreshold is the number of blocks, counting the inclusion
	// block, before a deployment is confirmed.
	ConfirmationThreshold uint64
	ConfirmationTimeout   time.Duration
	PollInitialInterval   time.Duration
	PollMaxInterval       time.Duration
	// MaxNonceRetries bounds re-reservations after the node rejects a nonce.
	MaxNonceRetries int
	// DefaultGasLimit is used when estimation fails. Zero disables the fallback.
	DefaultGasLimit uint64
	// GasMarginPercent is added to node estimates.
	GasMarginPercent uint64
	// Retry applies to estimation, polling and broadcast of RPC calls.
	Retry retry.Config
	// OnConfirmed runs after a record is confirmed. Errors are logged.
	OnConfirmed func(ctx context.Context, rec *registry.Record) error
	Logger      *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.ConfirmationThreshold == 0 {
		c.ConfirmationThreshold = DefaultConfirmationThreshold
	}
	if c.ConfirmationTimeout <= 0 {
		c.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if c.PollInitialInterval <= 0 {
		c.PollInitialInterval = DefaultPollInitialInterval
	}
	if c.PollMaxInterval < c.PollInitialInterval {
		c.PollMaxInterval = max(DefaultPollMaxInterval, c.PollInitialInterval)
	}
	if c.MaxNonceRetries <= 0 {
		c.MaxNonceRetries = DefaultMaxNonceRetries
	}
	if c.Retry.Attempts <= 0 {
		c.Retry = retry.DefaultConfig()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Network is a deployment target: a node, the signer for its deployer
// accounts, and the per-network gas and nonce state.
type Network struct {
	Name    string
	ChainID *big.Int
	Client  chain.Client
	Signer  chain.Signer

	// Gas and Nonces are created by the Deployer when nil.
	Gas    *GasEstimator
	Nonces *NonceTracker
}
