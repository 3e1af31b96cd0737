package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Bidon15/popdeploy/internal/artifact"
	"github.com/Bidon15/popdeploy/internal/deployment"
	"github.com/Bidon15/popdeploy/internal/registry"
)

func newDeployCmd(a *app) *cobra.Command {
	var (
		planPath string
		network  string
		from     string
		redeploy bool
		gas      uint64
		output   string
	)

	cmd := &cobra.Command{
		Use:   "deploy [artifact...]",
		Short: "Deploy contracts from a plan or from artifact files",
		Long: `Deploy contracts and wait for confirmation.

Contracts already confirmed on the network are returned from the registry
without sending a transaction. Pending deployments are resumed.

Examples:
  popdeploy deploy --plan deploy.yaml
  popdeploy deploy --network ganache build/contracts/SecurityLogger.json
  popdeploy deploy --network ganache --redeploy build/contracts/SecurityLogger.json
  popdeploy deploy --network ganache --gas 6721975 build/contracts/SecurityLogger.json

Gas limits and redeploy settings in the plan take precedence over the
flags, which take precedence over the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var plan *Plan
			switch {
			case planPath != "" && len(args) > 0:
				return errors.New("use either --plan or artifact arguments, not both")
			case planPath != "":
				p, err := loadPlan(planPath)
				if err != nil {
					return err
				}
				plan = p
			case len(args) > 0:
				plan = planFromArtifacts(network, args)
			default:
				return errors.New("nothing to deploy: pass --plan or artifact files")
			}
			if network != "" {
				plan.Network = network
			}
			if from != "" {
				plan.From = from
			}
			if redeploy {
				a.cfg.Deployment.ForceRedeploy = true
			}
			if cmd.Flags().Changed("gas") {
				a.cfg.Deployment.GasLimitOverride = gas
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			records, err := a.runPlan(ctx, plan)
			if len(records) > 0 {
				if perr := printRecords(cmd.OutOrStdout(), output, records); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&planPath, "plan", "p", "", "YAML deployment plan")
	cmd.Flags().StringVarP(&network, "network", "n", "", "network name (overrides the plan)")
	cmd.Flags().StringVar(&from, "from", "", "deployer address (default: network from, then first signer account)")
	cmd.Flags().BoolVar(&redeploy, "redeploy", false, "deploy again even if already confirmed")
	cmd.Flags().Uint64Var(&gas, "gas", 0, "gas limit for contracts without one in the plan (0 estimates)")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table, json or yaml")
	return cmd
}

// runPlan deploys the plan's contracts in order and stops at the first
// failure. Records of the contracts handled so far are returned.
func (a *app) runPlan(ctx context.Context, plan *Plan) ([]*registry.Record, error) {
	if plan.Network == "" {
		if len(a.cfg.Networks) != 1 {
			return nil, errors.New("no network given and more than one configured")
		}
		plan.Network = a.cfg.Networks[0].Name
	}
	nc, err := a.cfg.Network(plan.Network)
	if err != nil {
		return nil, err
	}
	plan.withDefaults(a.cfg.Deployment.GasLimitOverride, a.cfg.Deployment.ForceRedeploy)

	exporter := &artifact.Exporter{
		ContractDataFile: a.cfg.Deployment.ContractDataFile,
		NetworkID:        nc.NetworkID,
		Logger:           a.logger,
	}
	if len(plan.Contracts) > 1 && !exporter.PerContract() {
		return nil, fmt.Errorf("contract data file %s holds one contract; add %s to its path to deploy %d contracts",
			exporter.ContractDataFile, artifact.ContractPlaceholder, len(plan.Contracts))
	}

	// Load every artifact before touching the chain.
	type job struct {
		contract PlanContract
		artifact *artifact.Artifact
		args     []any
	}
	jobs := make([]job, 0, len(plan.Contracts))
	byName := make(map[string]*artifact.Artifact, len(plan.Contracts))
	for _, c := range plan.Contracts {
		art, err := artifact.Load(c.Artifact)
		if err != nil {
			return nil, err
		}
		if c.Name == "" {
			c.Name = art.ContractName
		}
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("contract %s listed twice", c.Name)
		}
		args, err := art.ConvertArgs(c.Args)
		if err != nil {
			return nil, err
		}
		byName[c.Name] = art
		jobs = append(jobs, job{contract: c, artifact: art, args: args})
	}

	reg, err := a.openRegistry(ctx)
	if err != nil {
		return nil, err
	}
	defer reg.Close()

	net, err := a.connect(ctx, nc)
	if err != nil {
		return nil, err
	}
	defer net.Client.Close()

	fromAddr, err := resolveFrom(ctx, plan.From, nc, net.Signer)
	if err != nil {
		return nil, err
	}

	dcfg := a.cfg.Deployment.Deployer(a.logger)
	dcfg.OnConfirmed = func(ctx context.Context, rec *registry.Record) error {
		art, ok := byName[rec.ContractName]
		if !ok {
			return nil
		}
		return exporter.Export(ctx, art, rec)
	}

	deployer, err := deployment.NewDeployer(reg, dcfg, net)
	if err != nil {
		return nil, err
	}

	a.logger.Info("deploying",
		slog.String("network", nc.Name),
		slog.String("from", fromAddr.Hex()),
		slog.Int("contracts", len(jobs)),
	)

	records := make([]*registry.Record, 0, len(jobs))
	for _, j := range jobs {
		req := deployment.Request{
			ContractName:    j.contract.Name,
			Artifact:        j.artifact,
			ConstructorArgs: j.args,
			Network:         nc.Name,
			From:            fromAddr,
		}
		if j.contract.Gas > 0 {
			gas := j.contract.Gas
			req.GasOverride = &gas
		}

		deploy := deployer.Deploy
		if j.contract.redeploy() {
			deploy = deployer.Redeploy
		}
		rec, err := deploy(ctx, req)
		if err != nil {
			a.logger.Error("deployment failed",
				slog.String("contract", j.contract.Name),
				slog.String("error", err.Error()),
				slog.String("hint", failureHint(err)),
			)
			return records, fmt.Errorf("deploy %s: %w", j.contract.Name, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// failureHint tells the operator what a failed deployment left behind.
func failureHint(err error) string {
	if deployment.IsTerminal(err) {
		return "nothing is pending on chain; fix the cause and deploy again"
	}
	return "the transaction may still be mined; run reconcile or deploy again to resume"
}
