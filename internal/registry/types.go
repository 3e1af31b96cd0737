// Package registry persists deployment records, one current entry per
// network and contract name plus the history of records it superseded.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-playground/validator/v10"
)

// Status is the lifecycle state of a deployment record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusFailed:
		return true
	}
	return false
}

// Record is one deployment attempt of a contract on a network.
type Record struct {
	ID           string         `json:"id"`
	Network      string         `json:"network" validate:"required"`
	ContractName string         `json:"contract_name" validate:"required"`
	Address      common.Address `json:"address"`
	TxHash       common.Hash    `json:"tx_hash"`
	BlockNumber  *uint64        `json:"block_number,omitempty"`
	Status       Status         `json:"status" validate:"required,oneof=pending confirmed failed"`
	Deployer     common.Address `json:"deployer"`
	Nonce        uint64         `json:"nonce"`
	GasLimit     uint64         `json:"gas_limit"`
	GasUsed      uint64         `json:"gas_used,omitempty"`
	RawTx        hexutil.Bytes  `json:"raw_tx,omitempty"`
	Error        string         `json:"error,omitempty"`
	Supersedes   *common.Hash   `json:"supersedes,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Key returns the registry key "{network}:{contractName}".
func Key(network, contractName string) string {
	return network + ":" + contractName
}

// Key returns the registry key of the record.
func (r *Record) Key() string {
	return Key(r.Network, r.ContractName)
}

var validate = validator.New()

// Validate checks the fields every backend relies on.
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if r.TxHash == (common.Hash{}) {
		return fmt.Errorf("%w: tx hash is required", ErrInvalidRecord)
	}
	return nil
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.BlockNumber != nil {
		bn := *r.BlockNumber
		c.BlockNumber = &bn
	}
	if r.Supersedes != nil {
		h := *r.Supersedes
		c.Supersedes = &h
	}
	if r.RawTx != nil {
		c.RawTx = append(hexutil.Bytes(nil), r.RawTx...)
	}
	return &c
}

// Registry stores deployment records. Implementations are safe for
// concurrent use.
type Registry interface {
	// Lookup returns the current record for a contract on a network, or
	// ErrNotFound.
	Lookup(ctx context.Context, network, contractName string) (*Record, error)

	// Record upserts rec as the current record of its key. Writing a record
	// identical to the current one is a no-op. A record with the same tx
	// hash updates the current one in place; a different tx hash moves the
	// current record to history and sets rec.Supersedes.
	Record(ctx context.Context, rec *Record) error

	// MarkConfirmed marks the current record confirmed at blockNumber.
	MarkConfirmed(ctx context.Context, network, contractName string, blockNumber uint64) error

	// MarkFailed marks the current record failed with reason.
	MarkFailed(ctx context.Context, network, contractName, reason string) error

	// History returns superseded records for a key, newest first.
	History(ctx context.Context, network, contractName string) ([]*Record, error)

	// List returns the current record of every readable entry, ordered by
	// key. Entries that cannot be decoded are reported as a joined
	// *RegistryCorruptionError alongside the records that could.
	List(ctx context.Context) ([]*Record, error)

	Close() error
}
