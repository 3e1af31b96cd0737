package artifact

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ConvertArgs turns loosely typed values, as decoded from a YAML or JSON
// deployment plan, into the Go types the ABI encoder expects for the
// constructor. Numbers may be given as strings to avoid float rounding.
func (a *Artifact) ConvertArgs(raw []any) ([]any, error) {
	inputs := a.ConstructorInputs()
	if len(raw) != len(inputs) {
		return nil, fmt.Errorf("%w: %s constructor takes %d arguments, got %d",
			ErrConstructorArgs, a.ContractName, len(inputs), len(raw))
	}

	out := make([]any, len(raw))
	for i, in := range inputs {
		v, err := convert(in.Type, raw[i])
		if err != nil {
			name := in.Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			return nil, fmt.Errorf("%w: argument %s (%s): %v", ErrConstructorArgs, name, in.Type.String(), err)
		}
		out[i] = v
	}
	return out, nil
}

func convert(t abi.Type, v any) (any, error) {
	switch t.T {
	case abi.AddressTy:
		s, ok := v.(string)
		if !ok || !common.IsHexAddress(s) {
			return nil, fmt.Errorf("expected hex address, got %v", v)
		}
		return common.HexToAddress(s), nil

	case abi.BoolTy:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(b)
		}
		return nil, fmt.Errorf("expected bool, got %T", v)

	case abi.StringTy:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil

	case abi.BytesTy:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected hex string, got %T", v)
		}
		return hexutil.Decode(s)

	case abi.FixedBytesTy:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected hex string, got %T", v)
		}
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, err
		}
		if len(b) != t.Size {
			return nil, fmt.Errorf("expected %d bytes, got %d", t.Size, len(b))
		}
		if t.Size == 32 {
			var out [32]byte
			copy(out[:], b)
			return out, nil
		}
		return nil, fmt.Errorf("bytes%d is not supported", t.Size)

	case abi.UintTy, abi.IntTy:
		n, err := toBig(v)
		if err != nil {
			return nil, err
		}
		return sizedInt(t, n)

	case abi.SliceTy, abi.ArrayTy:
		return nil, fmt.Errorf("array arguments are not supported")
	}
	return nil, fmt.Errorf("unsupported type %s", t.String())
}

func toBig(v any) (*big.Int, error) {
	switch n := v.(type) {
	case int:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return nil, fmt.Errorf("expected integer, got %v", n)
		}
		return big.NewInt(int64(n)), nil
	case string:
		s := strings.TrimSpace(n)
		out, ok := new(big.Int).SetString(s, 0)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", n)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected integer, got %T", v)
}

// sizedInt converts n to the Go type go-ethereum packs for t: fixed-width
// integers up to 64 bits, *big.Int above.
func sizedInt(t abi.Type, n *big.Int) (any, error) {
	unsigned := t.T == abi.UintTy
	if unsigned && n.Sign() < 0 {
		return nil, fmt.Errorf("negative value for %s", t.String())
	}
	if n.BitLen() > t.Size {
		return nil, fmt.Errorf("value overflows %s", t.String())
	}

	switch {
	case t.Size > 64:
		return n, nil
	case unsigned:
		u := n.Uint64()
		switch t.Size {
		case 8:
			return uint8(u), nil
		case 16:
			return uint16(u), nil
		case 32:
			return uint32(u), nil
		case 64:
			return u, nil
		}
	default:
		i := n.Int64()
		switch t.Size {
		case 8:
			return int8(i), nil
		case 16:
			return int16(i), nil
		case 32:
			return int32(i), nil
		case 64:
			return i, nil
		}
	}
	return n, nil
}
