package deploy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

type ParamKind string

const (
	// ParamLiteral is a plain value taken as is.
	ParamLiteral ParamKind = "literal"
	// ParamDefault is an object carrying a non empty defaultValue.
	ParamDefault ParamKind = "default"
	// ParamDynamic is an object whose value comes from referenced contracts.
	ParamDynamic ParamKind = "dynamic"
)

type DynamicType string

const (
	DynamicAddress      DynamicType = "address"
	DynamicAddressArray DynamicType = "address[]"
	DynamicBytes        DynamicType = "bytes"
	DynamicBytesArray   DynamicType = "bytes[]"
)

// RefContract identifies a published contract deployed to fill a parameter.
type RefContract struct {
	PublisherAddress string `json:"publisherAddress"`
	Version          string `json:"version"`
	ContractID       string `json:"contractId"`
	Salt             string `json:"salt,omitempty"`
}

func (r RefContract) String() string {
	return fmt.Sprintf("%s/%s@%s", r.PublisherAddress, r.ContractID, r.Version)
}

// DecodedParam is one abi typed entry of an encoded bytes parameter.
type DecodedParam struct {
	Type         string        `json:"type"`
	DefaultValue string        `json:"defaultValue,omitempty"`
	DynamicValue *DynamicValue `json:"dynamicValue,omitempty"`
}

type DynamicValue struct {
	Type         DynamicType      `json:"type"`
	RefContracts []RefContract    `json:"refContracts,omitempty"`
	DecodedBytes [][]DecodedParam `json:"decodedBytes,omitempty"`
}

// Param is a constructor or initializer parameter. In JSON a string (or any
// other scalar) is a literal, an object carries defaultValue and/or
// dynamicValue.
type Param struct {
	Kind         ParamKind
	Value        string
	DefaultValue string
	DynamicValue *DynamicValue
}

func Literal(value string) Param {
	return Param{Kind: ParamLiteral, Value: value}
}

func Default(value string) Param {
	return Param{Kind: ParamDefault, DefaultValue: value}
}

func Dynamic(value *DynamicValue) Param {
	return Param{Kind: ParamDynamic, DynamicValue: value}
}

type paramObject struct {
	DefaultValue string        `json:"defaultValue,omitempty"`
	DynamicValue *DynamicValue `json:"dynamicValue,omitempty"`
}

func (p *Param) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = Literal("")
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Literal(s)
	case '{':
		var obj paramObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		p.DefaultValue = obj.DefaultValue
		p.DynamicValue = obj.DynamicValue
		p.Value = ""
		if obj.DefaultValue != "" {
			p.Kind = ParamDefault
		} else {
			p.Kind = ParamDynamic
		}
	default:
		// numbers, booleans and arrays keep their JSON text
		*p = Literal(string(data))
	}
	return nil
}

func (p Param) MarshalJSON() ([]byte, error) {
	if p.Kind == ParamLiteral || p.Kind == "" {
		return json.Marshal(p.Value)
	}
	return json.Marshal(paramObject{DefaultValue: p.DefaultValue, DynamicValue: p.DynamicValue})
}

// fallback is the value returned when a referenced contract is already
// deployed, or when a dynamic value can not be resolved.
func (p Param) fallback() string {
	switch p.Kind {
	case ParamDefault:
		return p.DefaultValue
	case ParamDynamic:
		return ""
	default:
		return p.Value
	}
}

// Params maps parameter names to values. Resolution walks the names in
// sorted order.
type Params map[string]Param

func (ps Params) Keys() []string {
	keys := make([]string, 0, len(ps))
	for key := range ps {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
