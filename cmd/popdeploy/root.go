package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/Bidon15/popdeploy/internal/chain"
	"github.com/Bidon15/popdeploy/internal/config"
	"github.com/Bidon15/popdeploy/internal/deployment"
	"github.com/Bidon15/popdeploy/internal/registry"
)

// app is the state shared by every subcommand after configuration loads.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var (
		configPath string
		logFormat  string
	)

	root := &cobra.Command{
		Use:   "popdeploy",
		Short: "Deploy contracts idempotently and track them in a registry",
		Long: `popdeploy deploys compiled contracts to EVM networks exactly once.

Each deployment is keyed by network and contract name. Running the same
plan again returns the recorded addresses without sending transactions;
interrupted deployments resume from the registry.

Examples:
  # Deploy everything in a plan
  popdeploy deploy --plan deploy.yaml

  # Deploy a single Truffle artifact to the local Ganache network
  popdeploy deploy --network ganache build/contracts/SecurityLogger.json

  # Show recorded deployments
  popdeploy status --network ganache

  # Settle pending records against the chain
  popdeploy reconcile --network ganache

  # Serve the registry over HTTP
  popdeploy serve`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(cfg.Log)
			slog.SetDefault(a.logger)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: ./popdeploy.yaml)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: json or text")

	root.AddCommand(
		newDeployCmd(a),
		newStatusCmd(a),
		newReconcileCmd(a),
		newServeCmd(a),
	)
	return root
}

// newLogger builds the slog logger. DEBUG=true forces debug level.
func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func (a *app) openRegistry(ctx context.Context) (registry.Registry, error) {
	reg, err := registry.Open(ctx, a.cfg.Registry.Open())
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	return reg, nil
}

// connect dials a configured network, checks its chain ID and builds the
// signer for it.
func (a *app) connect(ctx context.Context, nc *config.NetworkConfig) (*deployment.Network, error) {
	dialer, err := chain.NewDialer(nc.Client)
	if err != nil {
		return nil, err
	}
	client, err := dialer.Dial(ctx, nc.RPCURL)
	if err != nil {
		return nil, err
	}

	chainID, err := chain.VerifyChainID(ctx, client, nc.ChainID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("network %s: %w", nc.Name, err)
	}

	signer, err := a.signer(nc, chainID.Uint64())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("network %s: %w", nc.Name, err)
	}

	a.logger.Debug("connected to network",
		slog.String("network", nc.Name),
		slog.String("rpc_url", nc.RPCURL),
		slog.String("chain_id", chainID.String()),
		slog.String("signer", nc.Signer.Type),
	)

	return &deployment.Network{
		Name:    nc.Name,
		ChainID: chainID,
		Client:  client,
		Signer:  signer,
	}, nil
}

func (a *app) signer(nc *config.NetworkConfig, chainID uint64) (chain.Signer, error) {
	id := new(big.Int).SetUint64(chainID)
	switch nc.Signer.Type {
	case config.SignerLocal:
		return chain.NewLocalSigner(nc.Signer.PrivateKey, id)
	case config.SignerRemote:
		return chain.NewRPCSigner(chain.RPCSignerConfig{
			Endpoint: nc.Signer.Endpoint,
			APIKey:   nc.Signer.APIKey,
			ChainID:  id,
			Retry:    a.cfg.Deployment.Retry(),
			Logger:   a.logger,
		}), nil
	default:
		return chain.NewDevSigner(id)
	}
}

// resolveFrom picks the deployer account: an explicit address, then the
// network's configured account, then the signer's first account.
func resolveFrom(ctx context.Context, explicit string, nc *config.NetworkConfig, signer chain.Signer) (common.Address, error) {
	if explicit != "" {
		if !common.IsHexAddress(explicit) {
			return common.Address{}, fmt.Errorf("invalid from address %q", explicit)
		}
		return common.HexToAddress(explicit), nil
	}
	if from, ok := nc.FromAddress(); ok {
		return from, nil
	}
	addrs, err := signer.Addresses(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("list signer accounts: %w", err)
	}
	if len(addrs) == 0 {
		return common.Address{}, fmt.Errorf("network %s: signer has no accounts", nc.Name)
	}
	return addrs[0], nil
}
