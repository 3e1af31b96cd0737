package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Bidon15/popdeploy/internal/registry"
)

func newStatusCmd(a *app) *cobra.Command {
	var (
		network string
		status  string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "status [contract]",
		Short: "Show recorded deployments",
		Long: `Show the current deployment records, or the history of one contract.

Examples:
  popdeploy status
  popdeploy status --network ganache --status pending -o json
  popdeploy status --network ganache SecurityLogger`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if status != "" && !registry.Status(status).IsValid() {
				return errors.New("status must be pending, confirmed or failed")
			}

			reg, err := a.openRegistry(ctx)
			if err != nil {
				return err
			}
			defer reg.Close()

			if len(args) == 1 {
				if network == "" {
					return errors.New("--network is required with a contract name")
				}
				current, err := reg.Lookup(ctx, network, args[0])
				if err != nil {
					return err
				}
				history, err := reg.History(ctx, network, args[0])
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), output, append([]*registry.Record{current}, history...))
			}

			records, err := reg.List(ctx)
			if err != nil {
				if !errors.Is(err, registry.ErrCorrupted) {
					return err
				}
				a.logger.Warn("some registry entries are unreadable", slog.String("error", err.Error()))
			}
			return printRecords(cmd.OutOrStdout(), output, filterRecords(records, network, registry.Status(status)))
		},
	}

	cmd.Flags().StringVarP(&network, "network", "n", "", "only show this network")
	cmd.Flags().StringVar(&status, "status", "", "only show records with this status")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table, json or yaml")
	return cmd
}

func filterRecords(records []*registry.Record, network string, status registry.Status) []*registry.Record {
	out := make([]*registry.Record, 0, len(records))
	for _, r := range records {
		if network != "" && r.Network != network {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r)
	}
	return out
}
