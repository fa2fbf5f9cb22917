package web3

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var bigIntType = reflect.TypeOf(&big.Int{})

// DecodeConstructorArgs converts textual constructor arguments, as received
// from flags or JSON bodies, into the Go values the ABI encoder expects.
//
// Arity is not validated: values without a matching constructor
// input are forwarded as plain strings and rejected later by the encoder.
func DecodeConstructorArgs(abiJSON string, raw []string) ([]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: 解析 ABI 失败: %w", ErrMalformedRequest, err)
	}
	inputs := parsed.Constructor.Inputs

	args := make([]any, len(raw))
	for i, value := range raw {
		if i >= len(inputs) {
			args[i] = value
			continue
		}
		arg, err := decodeArg(inputs[i].Type, strings.TrimSpace(value))
		if err != nil {
			name := inputs[i].Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			return nil, fmt.Errorf("%w: 构造参数 %s (%s): %w", ErrMalformedRequest, name, inputs[i].Type.String(), err)
		}
		args[i] = arg
	}
	return args, nil
}

func decodeArg(typ abi.Type, value string) (any, error) {
	switch typ.T {
	case abi.StringTy:
		return value, nil
	case abi.BoolTy:
		return strconv.ParseBool(value)
	case abi.AddressTy:
		if !common.IsHexAddress(value) {
			return nil, fmt.Errorf("invalid address %q", value)
		}
		return common.HexToAddress(value), nil
	case abi.BytesTy:
		return hexutil.Decode(value)
	case abi.FixedBytesTy:
		b, err := hexutil.Decode(value)
		if err != nil {
			return nil, err
		}
		if len(b) > typ.Size {
			return nil, fmt.Errorf("value has %d bytes, want at most %d", len(b), typ.Size)
		}
		out := reflect.New(typ.GetType()).Elem()
		reflect.Copy(out, reflect.ValueOf(b))
		return out.Interface(), nil
	case abi.IntTy, abi.UintTy:
		return decodeInteger(typ, value)
	default:
		return nil, fmt.Errorf("unsupported argument type %s", typ.String())
	}
}

// fitsWidth reports whether n is representable in the type's bit width.
// Values outside the range are not rejected by the ABI encoder.
func fitsWidth(typ abi.Type, n *big.Int) bool {
	if typ.T == abi.UintTy {
		return n.BitLen() <= typ.Size
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(typ.Size-1))
	return n.Cmp(limit) < 0 && n.Cmp(new(big.Int).Neg(limit)) >= 0
}

func decodeInteger(typ abi.Type, value string) (any, error) {
	n, ok := new(big.Int).SetString(value, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", value)
	}
	if typ.T == abi.UintTy && n.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s for unsigned type", value)
	}

	goType := typ.GetType()
	if goType == bigIntType {
		if !fitsWidth(typ, n) {
			return nil, fmt.Errorf("value %s overflows %s", value, typ.String())
		}
		return n, nil
	}

	out := reflect.New(goType).Elem()
	if typ.T == abi.UintTy {
		if !n.IsUint64() || out.OverflowUint(n.Uint64()) {
			return nil, fmt.Errorf("value %s overflows %s", value, typ.String())
		}
		out.SetUint(n.Uint64())
		return out.Interface(), nil
	}
	if !n.IsInt64() || out.OverflowInt(n.Int64()) {
		return nil, fmt.Errorf("value %s overflows %s", value, typ.String())
	}
	out.SetInt(n.Int64())
	return out.Interface(), nil
}
