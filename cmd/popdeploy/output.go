package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/Bidon15/popdeploy/internal/deployment"
	"github.com/Bidon15/popdeploy/internal/registry"
)

// Output formats.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// recordView is the printable form of a registry record.
type recordView struct {
	Network     string `json:"network" yaml:"network"`
	Contract    string `json:"contract" yaml:"contract"`
	Status      string `json:"status" yaml:"status"`
	Address     string `json:"address" yaml:"address"`
	TxHash      string `json:"tx_hash" yaml:"tx_hash"`
	Deployer    string `json:"deployer" yaml:"deployer"`
	Nonce       uint64 `json:"nonce" yaml:"nonce"`
	BlockNumber uint64 `json:"block_number,omitempty" yaml:"block_number,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty" yaml:"gas_used,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
	Supersedes  string `json:"supersedes,omitempty" yaml:"supersedes,omitempty"`
	UpdatedAt   string `json:"updated_at" yaml:"updated_at"`
}

func viewRecord(r *registry.Record) recordView {
	v := recordView{
		Network:   r.Network,
		Contract:  r.ContractName,
		Status:    string(r.Status),
		Address:   r.Address.Hex(),
		TxHash:    r.TxHash.Hex(),
		Deployer:  r.Deployer.Hex(),
		Nonce:     r.Nonce,
		GasUsed:   r.GasUsed,
		Error:     r.Error,
		UpdatedAt: r.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
	if r.BlockNumber != nil {
		v.BlockNumber = *r.BlockNumber
	}
	if r.Supersedes != nil {
		v.Supersedes = r.Supersedes.Hex()
	}
	return v
}

func printRecords(w io.Writer, format string, records []*registry.Record) error {
	views := make([]recordView, len(records))
	for i, r := range records {
		views[i] = viewRecord(r)
	}

	switch format {
	case outputJSON:
		return printJSON(w, views)
	case outputYAML:
		return printYAML(w, views)
	case outputTable, "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	if len(views) == 0 {
		_, err := fmt.Fprintln(w, "No deployments found")
		return err
	}

	tw := newTable(w)
	printTableHeader(tw, "NETWORK", "CONTRACT", "STATUS", "ADDRESS", "TX", "NONCE", "BLOCK")
	for _, v := range views {
		block := "-"
		if v.BlockNumber > 0 {
			block = strconv.FormatUint(v.BlockNumber, 10)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			v.Network,
			v.Contract,
			v.Status,
			v.Address,
			truncate(v.TxHash, 18),
			v.Nonce,
			block,
		)
	}
	return tw.Flush()
}

func printReconcile(w io.Writer, format string, network string, results []deployment.ReconcileResult) error {
	switch format {
	case outputJSON:
		return printJSON(w, results)
	case outputYAML:
		return printYAML(w, results)
	case outputTable, "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	if len(results) == 0 {
		_, err := fmt.Fprintf(w, "No pending deployments on %s\n", network)
		return err
	}

	tw := newTable(w)
	printTableHeader(tw, "KEY", "TX", "ACTION", "ERROR")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Key, truncate(r.TxHash, 18), r.Action, r.Error)
	}
	return tw.Flush()
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printTableHeader(w io.Writer, cols ...string) {
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, c)
	}
	fmt.Fprintln(w)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
