package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bidon15/popdeploy/internal/config"
	"github.com/Bidon15/popdeploy/internal/deployment"
)

func newReconcileCmd(a *app) *cobra.Command {
	var (
		network string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Settle pending deployments against the chain",
		Long: `Check every pending deployment once without waiting.

Mined transactions are confirmed or marked failed, transactions the node
lost are rebroadcast, and records whose nonce was taken by another
transaction are marked dropped. Without --network every configured
network is reconciled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			networks := a.cfg.Networks
			if network != "" {
				nc, err := a.cfg.Network(network)
				if err != nil {
					return err
				}
				networks = []config.NetworkConfig{*nc}
			}
			if len(networks) == 0 {
				return errors.New("no networks configured")
			}

			reg, err := a.openRegistry(ctx)
			if err != nil {
				return err
			}
			defer reg.Close()

			var errs []error
			for i := range networks {
				nc := &networks[i]
				net, err := a.connect(ctx, nc)
				if err != nil {
					errs = append(errs, err)
					continue
				}

				deployer, err := deployment.NewDeployer(reg, a.cfg.Deployment.Deployer(a.logger), net)
				if err != nil {
					net.Client.Close()
					errs = append(errs, err)
					continue
				}
				results, err := deployer.Reconcile(ctx, nc.Name)
				net.Client.Close()
				if err != nil {
					errs = append(errs, fmt.Errorf("reconcile %s: %w", nc.Name, err))
					continue
				}
				if err := printReconcile(cmd.OutOrStdout(), output, nc.Name, results); err != nil {
					return err
				}
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringVarP(&network, "network", "n", "", "only reconcile this network")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table, json or yaml")
	return cmd
}
