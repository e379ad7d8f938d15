// Package wire encodes session values as typed JSON so they cross the RPC
// boundary without losing their Go type.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

const (
	KindNull     = "null"
	KindDouble   = "double"
	KindDoubles  = "double[]"
	KindSingle   = "single"
	KindSingles  = "single[]"
	KindInt64    = "int64"
	KindInt64s   = "int64[]"
	KindInt32    = "int32"
	KindInt32s   = "int32[]"
	KindLogical  = "logical"
	KindLogicals = "logical[]"
	KindChar     = "char"
	KindStrings  = "string[]"
	KindComplex  = "complex"
	KindComplexs = "complex[]"
	KindCell     = "cell"
)

var ErrUnsupported = errors.New("value cannot be encoded")

// Value is one encoded session value.
type Value struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode converts v into its typed form. Go int values are sent as int64.
func Encode(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Value{Kind: KindNull}, nil
	case float64:
		return encode(KindDouble, number(t))
	case []float64:
		return encode(KindDoubles, numbers(t))
	case float32:
		return encode(KindSingle, number(float64(t)))
	case []float32:
		ns := make([]number, len(t))
		for i, f := range t {
			ns[i] = number(float64(f))
		}
		return encode(KindSingles, ns)
	case int:
		return encode(KindInt64, int64(t))
	case int64:
		return encode(KindInt64, t)
	case []int64:
		return encode(KindInt64s, t)
	case int32:
		return encode(KindInt32, t)
	case []int32:
		return encode(KindInt32s, t)
	case bool:
		return encode(KindLogical, t)
	case []bool:
		return encode(KindLogicals, t)
	case string:
		return encode(KindChar, t)
	case []string:
		return encode(KindStrings, t)
	case complex128:
		return encode(KindComplex, [2]number{number(real(t)), number(imag(t))})
	case []complex128:
		pairs := make([][2]number, len(t))
		for i, c := range t {
			pairs[i] = [2]number{number(real(c)), number(imag(c))}
		}
		return encode(KindComplexs, pairs)
	case []any:
		cells, err := EncodeAll(t)
		if err != nil {
			return Value{}, err
		}
		return encode(KindCell, cells)
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupported, v)
	}
}

// EncodeAll encodes each value in order.
func EncodeAll(values []any) ([]Value, error) {
	out := make([]Value, len(values))
	for i, v := range values {
		enc, err := Encode(v)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = enc
	}
	return out, nil
}

// Decode restores the Go value of an encoded value.
func Decode(v Value) (any, error) {
	switch v.Kind {
	case KindNull:
		return nil, nil
	case KindDouble:
		n, err := decode[number](v)
		return float64(n), err
	case KindDoubles:
		ns, err := decode[[]number](v)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(ns))
		for i, n := range ns {
			out[i] = float64(n)
		}
		return out, nil
	case KindSingle:
		n, err := decode[number](v)
		return float32(n), err
	case KindSingles:
		ns, err := decode[[]number](v)
		if err != nil {
			return nil, err
		}
		out := make([]float32, len(ns))
		for i, n := range ns {
			out[i] = float32(n)
		}
		return out, nil
	case KindInt64:
		return decode[int64](v)
	case KindInt64s:
		return decode[[]int64](v)
	case KindInt32:
		return decode[int32](v)
	case KindInt32s:
		return decode[[]int32](v)
	case KindLogical:
		return decode[bool](v)
	case KindLogicals:
		return decode[[]bool](v)
	case KindChar:
		return decode[string](v)
	case KindStrings:
		return decode[[]string](v)
	case KindComplex:
		p, err := decode[[2]number](v)
		return complex(float64(p[0]), float64(p[1])), err
	case KindComplexs:
		pairs, err := decode[[][2]number](v)
		if err != nil {
			return nil, err
		}
		out := make([]complex128, len(pairs))
		for i, p := range pairs {
			out[i] = complex(float64(p[0]), float64(p[1]))
		}
		return out, nil
	case KindCell:
		cells, err := decode[[]Value](v)
		if err != nil {
			return nil, err
		}
		return DecodeAll(cells)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrUnsupported, v.Kind)
	}
}

// DecodeAll decodes each value in order. The result is never nil.
func DecodeAll(values []Value) ([]any, error) {
	out := make([]any, len(values))
	for i, v := range values {
		dec, err := Decode(v)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = dec
	}
	return out, nil
}

func encode(kind string, data any) (Value, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: kind, Data: raw}, nil
}

func decode[T any](v Value) (T, error) {
	var out T
	if len(v.Data) == 0 {
		return out, fmt.Errorf("%s value has no data", v.Kind)
	}
	if err := json.Unmarshal(v.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", v.Kind, err)
	}
	return out, nil
}

// number is a float64 that survives JSON when it is NaN or infinite.
type number float64

func numbers(fs []float64) []number {
	out := make([]number, len(fs))
	for i, f := range fs {
		out[i] = number(f)
	}
	return out
}

func (n number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	switch {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"Inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Inf"`), nil
	default:
		return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
	}
}

func (n *number) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"NaN"`:
		*n = number(math.NaN())
	case `"Inf"`:
		*n = number(math.Inf(1))
	case `"-Inf"`:
		*n = number(math.Inf(-1))
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		*n = number(f)
	}
	return nil
}
