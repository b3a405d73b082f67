package deploy

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

var bigIntType = reflect.TypeOf(&big.Int{})

// EncodeParameters abi encodes values, given as strings, against types and
// returns the 0x prefixed hex result.
func EncodeParameters(typeNames []string, values []string) (string, error) {
	if len(typeNames) != len(values) {
		return "", fmt.Errorf("abi encode: %d types but %d values", len(typeNames), len(values))
	}

	args := make(abi.Arguments, 0, len(typeNames))
	packed := make([]interface{}, 0, len(values))
	for i, name := range typeNames {
		typ, err := abi.NewType(name, "", nil)
		if err != nil {
			return "", errors.Wrapf(err, "parse abi type %q", name)
		}
		value, err := coerceValue(typ, values[i])
		if err != nil {
			return "", errors.Wrapf(err, "parameter %d (%s)", i, name)
		}
		args = append(args, abi.Argument{Type: typ})
		packed = append(packed, value)
	}

	data, err := args.Pack(packed...)
	if err != nil {
		return "", errors.Wrap(err, "abi encode")
	}
	return hexutil.Encode(data), nil
}

// coerceValue converts a string into the go value abi.Arguments.Pack expects
// for typ.
func coerceValue(typ abi.Type, raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	switch typ.T {
	case abi.AddressTy:
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("invalid address %q", raw)
		}
		return common.HexToAddress(raw), nil
	case abi.BoolTy:
		return strconv.ParseBool(raw)
	case abi.StringTy:
		return raw, nil
	case abi.BytesTy:
		return hexutil.Decode(raw)
	case abi.FixedBytesTy:
		b, err := hexutil.Decode(raw)
		if err != nil {
			return nil, err
		}
		if len(b) > typ.Size {
			return nil, fmt.Errorf("%d bytes do not fit bytes%d", len(b), typ.Size)
		}
		arr := reflect.New(typ.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil
	case abi.IntTy, abi.UintTy:
		return coerceInteger(typ, raw)
	case abi.SliceTy, abi.ArrayTy:
		return coerceList(typ, raw)
	default:
		return nil, fmt.Errorf("unsupported abi type %s", typ.String())
	}
}

func coerceInteger(typ abi.Type, raw string) (interface{}, error) {
	n, ok := new(big.Int).SetString(raw, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}

	unsigned := typ.T == abi.UintTy
	if unsigned && n.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s for %s", raw, typ.String())
	}
	bits := n.BitLen()
	if !unsigned {
		if n.Sign() < 0 {
			bits = new(big.Int).Add(n, big.NewInt(1)).BitLen()
		}
		// leave room for the sign bit
		bits++
	}
	if bits > typ.Size {
		return nil, fmt.Errorf("value %s overflows %s", raw, typ.String())
	}

	goType := typ.GetType()
	if goType == bigIntType {
		return n, nil
	}
	if unsigned {
		return reflect.ValueOf(n.Uint64()).Convert(goType).Interface(), nil
	}
	return reflect.ValueOf(n.Int64()).Convert(goType).Interface(), nil
}

// coerceList reads raw as a JSON array whose items are strings or plain
// JSON scalars.
func coerceList(typ abi.Type, raw string) (interface{}, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, errors.Wrapf(err, "decode %s list", typ.String())
	}

	var list reflect.Value
	if typ.T == abi.ArrayTy {
		if len(items) != typ.Size {
			return nil, fmt.Errorf("expected %d items for %s, got %d", typ.Size, typ.String(), len(items))
		}
		list = reflect.New(typ.GetType()).Elem()
	} else {
		list = reflect.MakeSlice(typ.GetType(), len(items), len(items))
	}

	for i, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			s = string(item)
		}
		value, err := coerceValue(*typ.Elem, s)
		if err != nil {
			return nil, errors.Wrapf(err, "item %d", i)
		}
		list.Index(i).Set(reflect.ValueOf(value))
	}
	return list.Interface(), nil
}
