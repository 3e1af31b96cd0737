package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Bidon15/popdeploy/internal/registry"
)

// ContractData is the {address, abi} document backends read to talk to a
// deployed contract.
type ContractData struct {
	Address string          `json:"address"`
	ABI     json.RawMessage `json:"abi"`
}

// ContractPlaceholder in a contract-data path is replaced by the contract
// name, giving each contract its own file.
const ContractPlaceholder = "{contract}"

// ErrContractDataConflict is returned when a second contract would
// overwrite the contract-data file of another.
var ErrContractDataConflict = errors.New("artifact: contract data file already holds another contract")

// Exporter publishes confirmed deployments for other tools.
type Exporter struct {
	// ContractDataFile receives ContractData and may contain
	// ContractPlaceholder. Skipped when empty.
	ContractDataFile string
	// NetworkID is the key used in the Truffle artifact's networks map.
	// Skipped when empty.
	NetworkID string
	Logger    *slog.Logger

	mu      sync.Mutex
	written map[string]string // path -> contract
}

// ContractDataPath returns the contract-data file for contract.
func (e *Exporter) ContractDataPath(contract string) string {
	return strings.ReplaceAll(e.ContractDataFile, ContractPlaceholder, contract)
}

// PerContract reports whether every contract gets its own contract-data file.
func (e *Exporter) PerContract() bool {
	return e.ContractDataFile == "" || strings.Contains(e.ContractDataFile, ContractPlaceholder)
}

// Export writes the contract-data file and records the deployment in the
// artifact's networks map. Compressed artifacts are left untouched.
func (e *Exporter) Export(ctx context.Context, a *Artifact, rec *registry.Record) error {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if e.ContractDataFile != "" {
		path := e.ContractDataPath(rec.ContractName)
		if err := e.writeContractData(path, a, rec); err != nil {
			return err
		}
		logger.Info("wrote contract data",
			slog.String("contract", rec.ContractName),
			slog.String("path", path),
		)
	}

	if e.NetworkID == "" || a.Path == "" || strings.HasSuffix(a.Path, ".zst") {
		return nil
	}
	if err := updateNetworks(a.Path, e.NetworkID, NetworkEntry{
		Address:         rec.Address.Hex(),
		TransactionHash: rec.TxHash.Hex(),
	}); err != nil {
		return fmt.Errorf("update %s: %w", a.Path, err)
	}
	if a.Networks == nil {
		a.Networks = make(map[string]NetworkEntry)
	}
	a.Networks[e.NetworkID] = NetworkEntry{Address: rec.Address.Hex(), TransactionHash: rec.TxHash.Hex()}

	logger.Info("updated artifact networks",
		slog.String("contract", rec.ContractName),
		slog.String("network_id", e.NetworkID),
		slog.String("path", a.Path),
	)
	return nil
}

func (e *Exporter) writeContractData(path string, a *Artifact, rec *registry.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if owner, ok := e.written[path]; ok && owner != rec.ContractName {
		return fmt.Errorf("%w: %s has %s, not writing %s", ErrContractDataConflict, path, owner, rec.ContractName)
	}

	data, err := json.MarshalIndent(ContractData{Address: rec.Address.Hex(), ABI: a.ABI}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode contract data: %w", err)
	}
	if err := writeFileAtomic(path, append(data, '\n')); err != nil {
		return fmt.Errorf("write contract data: %w", err)
	}

	if e.written == nil {
		e.written = make(map[string]string)
	}
	e.written[path] = rec.ContractName
	return nil
}

// updateNetworks sets networks[id] in the artifact at path, keeping every
// other field as it was.
func updateNetworks(path, id string, entry NetworkEntry) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}

	networks := make(map[string]json.RawMessage)
	if existing, ok := doc["networks"]; ok && string(existing) != "null" {
		if err := json.Unmarshal(existing, &networks); err != nil {
			return fmt.Errorf("networks: %w", err)
		}
	}

	// Truffle also stores events and links per network.
	merged := map[string]any{}
	if prev, ok := networks[id]; ok && string(prev) != "null" {
		if err := json.Unmarshal(prev, &merged); err != nil {
			return fmt.Errorf("networks[%s]: %w", id, err)
		}
	}
	merged["address"] = entry.Address
	merged["transactionHash"] = entry.TransactionHash
	if _, ok := merged["events"]; !ok {
		merged["events"] = map[string]any{}
	}
	if _, ok := merged["links"]; !ok {
		merged["links"] = map[string]any{}
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	networks[id] = encoded

	if doc["networks"], err = json.Marshal(networks); err != nil {
		return err
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(out, '\n'))
}

// writeFileAtomic writes to a temp file first, then renames for atomicity.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
