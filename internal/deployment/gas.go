package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Bidon15/popdeploy/internal/retry"
)

// DefaultGasMarginPercent is the safety margin added to node estimates.
const DefaultGasMarginPercent = 20

// GasClient is the node access GasEstimator needs.
type GasClient interface {
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// CreationCall describes a contract-creation payload to estimate.
type CreationCall struct {
	From     common.Address
	Data     []byte
	Value    *big.Int
	Override *uint64
}

// GasEstimator picks gas limits for contract creation.
type GasEstimator struct {
	client        GasClient
	retry         retry.Strategy
	marginPercent uint64
	logger        *slog.Logger
}

// NewGasEstimator creates an estimator. A zero margin selects
// DefaultGasMarginPercent.
func NewGasEstimator(client GasClient, strategy retry.Strategy, marginPercent uint64, logger *slog.Logger) *GasEstimator {
	if strategy == nil {
		strategy = retry.NewNoRetryStrategy()
	}
	if marginPercent == 0 {
		marginPercent = DefaultGasMarginPercent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GasEstimator{client: client, retry: strategy, marginPercent: marginPercent, logger: logger}
}

// Estimate returns call.Override unchanged when set. Otherwise it asks the
// node for an estimate, adds the safety margin and caps the result at the
// latest block gas limit. Failures are returned as *EstimationError.
func (g *GasEstimator) Estimate(ctx context.Context, call CreationCall) (uint64, error) {
	if call.Override != nil {
		return *call.Override, nil
	}

	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	var estimated uint64
	err := g.retry.Do(ctx, "eth_estimateGas", func(ctx context.Context) error {
		var err error
		estimated, err = g.client.EstimateGas(ctx, ethereum.CallMsg{
			From:  call.From,
			To:    nil, // contract creation
			Data:  call.Data,
			Value: value,
		})
		return err
	})
	if err != nil {
		return 0, &EstimationError{Err: err}
	}
	if estimated == 0 {
		return 0, &EstimationError{Err: ErrInvalidEstimate}
	}

	var header *types.Header
	err = g.retry.Do(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		var err error
		header, err = g.client.HeaderByNumber(ctx, nil)
		return err
	})
	if err != nil {
		return 0, &EstimationError{Err: fmt.Errorf("get block gas limit: %w", err)}
	}

	limit := estimated + estimated*g.marginPercent/100
	if blockLimit := header.GasLimit; blockLimit > 0 && limit > blockLimit {
		if estimated > blockLimit {
			return 0, &EstimationError{Err: fmt.Errorf("%w: estimate %d exceeds block gas limit %d",
				ErrInvalidEstimate, estimated, blockLimit)}
		}
		g.logger.Debug("gas limit capped at block gas limit",
			slog.Uint64("estimated", estimated),
			slog.Uint64("block_gas_limit", blockLimit),
		)
		limit = blockLimit
	}
	return limit, nil
}
