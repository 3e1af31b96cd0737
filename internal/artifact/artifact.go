// Package artifact loads compiled contract artifacts produced by Truffle,
// Hardhat, Foundry or solc and encodes their creation payloads.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/klauspost/compress/zstd"
)

var (
	ErrEmptyBytecode   = errors.New("artifact: empty bytecode")
	ErrUnlinked        = errors.New("artifact: bytecode has unlinked library references")
	ErrConstructorArgs = errors.New("artifact: constructor arguments do not match")
)

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Artifact is a compiled contract with its ABI and creation bytecode.
type Artifact struct {
	ContractName     string                  `json:"contractName,omitempty"`
	ABI              json.RawMessage         `json:"abi"`
	Bytecode         Bytecode                `json:"bytecode"`
	DeployedBytecode Bytecode                `json:"deployedBytecode,omitempty"`
	Networks         map[string]NetworkEntry `json:"networks,omitempty"`

	// Path is the file the artifact was loaded from, if any.
	Path string `json:"-"`

	parsed abi.ABI
}

// NetworkEntry is a Truffle per-network deployment entry.
type NetworkEntry struct {
	Address         string `json:"address"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

// Bytecode holds contract bytecode as a hex string.
// It handles both formats:
// - Simple string: "0x608060..."
// - Object with "object" field: {"object": "0x608060..."}
type Bytecode struct {
	hex string
}

// UnmarshalJSON handles both string and object bytecode formats.
func (b *Bytecode) UnmarshalJSON(data []byte) error {
	// Truffle, Hardhat
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b.hex = s
		return nil
	}

	// Foundry, solc standard JSON
	var obj struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		b.hex = obj.Object
		return nil
	}

	return fmt.Errorf("bytecode must be a string or object with 'object' field")
}

// MarshalJSON marshals the bytecode as a string.
func (b Bytecode) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.hex)
}

func (b Bytecode) String() string {
	return b.hex
}

// Bytes decodes the bytecode. Unlinked library placeholders are an error.
func (b Bytecode) Bytes() ([]byte, error) {
	code := strings.TrimPrefix(strings.TrimSpace(b.hex), "0x")
	if code == "" {
		return nil, ErrEmptyBytecode
	}
	if strings.Contains(code, "__") {
		return nil, ErrUnlinked
	}
	return hexutil.Decode("0x" + code)
}

// Load reads an artifact from path. Files ending in .zst, or starting with
// a zstd frame, are decompressed first.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	if strings.HasSuffix(path, ".zst") || bytes.HasPrefix(data, zstdMagic) {
		data, err = decompress(data)
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", path, err)
		}
	}

	a, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	a.Path = path
	if a.ContractName == "" {
		a.ContractName = nameFromPath(path)
	}
	return a, nil
}

func decompress(data []byte) ([]byte, error) {
	zr, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()
	return zr.DecodeAll(data, nil)
}

// nameFromPath turns "build/contracts/SecurityLogger.json.zst" into
// "SecurityLogger".
func nameFromPath(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, ".zst")
	name = strings.TrimSuffix(name, ".json")
	return name
}

// Parse decodes an artifact document and its ABI.
func Parse(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	if len(a.ABI) == 0 || string(a.ABI) == "null" {
		a.ABI = json.RawMessage("[]")
	}

	parsed, err := abi.JSON(bytes.NewReader(a.ABI))
	if err != nil {
		return nil, fmt.Errorf("parse ABI: %w", err)
	}
	a.parsed = parsed

	if _, err := a.Bytecode.Bytes(); err != nil {
		return nil, err
	}
	return &a, nil
}

// ParsedABI returns the decoded ABI.
func (a *Artifact) ParsedABI() abi.ABI {
	return a.parsed
}

// ConstructorInputs returns the constructor parameters, empty when the
// contract has no explicit constructor.
func (a *Artifact) ConstructorInputs() abi.Arguments {
	return a.parsed.Constructor.Inputs
}

// CreationData returns the creation bytecode with the ABI-encoded
// constructor arguments appended.
func (a *Artifact) CreationData(args ...any) ([]byte, error) {
	code, err := a.Bytecode.Bytes()
	if err != nil {
		return nil, err
	}

	inputs := a.ConstructorInputs()
	if len(args) != len(inputs) {
		return nil, fmt.Errorf("%w: %s constructor takes %d arguments, got %d",
			ErrConstructorArgs, a.ContractName, len(inputs), len(args))
	}
	if len(args) == 0 {
		return code, nil
	}

	packed, err := inputs.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstructorArgs, err)
	}

	out := make([]byte, 0, len(code)+len(packed))
	out = append(out, code...)
	return append(out, packed...), nil
}
