package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Plan lists the contracts to deploy to one network, in order.
type Plan struct {
	Network   string         `yaml:"network"`
	From      string         `yaml:"from"`
	Contracts []PlanContract `yaml:"contracts"`
}

// PlanContract is one entry of a Plan.
type PlanContract struct {
	// Name defaults to the artifact's contract name.
	Name     string `yaml:"name"`
	Artifact string `yaml:"artifact"`
	Args     []any  `yaml:"args"`
	Gas      uint64 `yaml:"gas"`
	// Redeploy submits a new transaction even if a confirmed record exists.
	// Unset falls back to --redeploy and deployment.force_redeploy.
	Redeploy *bool `yaml:"redeploy"`
}

func (c PlanContract) redeploy() bool {
	return c.Redeploy != nil && *c.Redeploy
}

// withDefaults fills the gas limit and redeploy setting of contracts that
// do not set their own. A zero gas leaves the limit to estimation.
func (p *Plan) withDefaults(gas uint64, redeploy bool) {
	for i := range p.Contracts {
		c := &p.Contracts[i]
		if c.Gas == 0 {
			c.Gas = gas
		}
		if c.Redeploy == nil {
			force := redeploy
			c.Redeploy = &force
		}
	}
}

// loadPlan reads a YAML plan. Artifact paths are relative to the plan file.
func loadPlan(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if len(p.Contracts) == 0 {
		return nil, fmt.Errorf("plan %s lists no contracts", path)
	}

	base := filepath.Dir(path)
	seen := make(map[string]bool, len(p.Contracts))
	for i := range p.Contracts {
		c := &p.Contracts[i]
		if c.Artifact == "" {
			return nil, fmt.Errorf("plan %s: contract %d has no artifact", path, i)
		}
		if !filepath.IsAbs(c.Artifact) {
			c.Artifact = filepath.Join(base, c.Artifact)
		}
		if c.Name == "" {
			continue
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("plan %s: contract %s listed twice", path, c.Name)
		}
		seen[c.Name] = true
	}
	return &p, nil
}

// planFromArtifacts builds a plan deploying each artifact without
// constructor arguments.
func planFromArtifacts(network string, paths []string) *Plan {
	p := &Plan{Network: network}
	for _, path := range paths {
		p.Contracts = append(p.Contracts, PlanContract{Artifact: strings.TrimSpace(path)})
	}
	return p
}
