package wire

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestEncodeDecodePreservesTypes(t *testing.T) {
	values := []any{
		nil,
		2.5,
		[]float64{1, 2},
		float32(1.5),
		[]float32{0.25, -3},
		int64(-7),
		[]int64{1, -2, 1 << 40},
		int32(12),
		[]int32{7, -8},
		true,
		[]bool{true, false},
		"text",
		[]string{"a", "b"},
		complex(1, -2),
		[]complex128{complex(0, 1)},
		[]any{1.0, "x", []any{int32(3)}},
	}
	encoded, err := EncodeAll(values)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw, err := json.Marshal(encoded)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back []Value
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	decoded, err := DecodeAll(back)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, values) {
		t.Fatalf("values changed in transit:\n got %#v\nwant %#v", decoded, values)
	}
}

func TestIntIsSentAsInt64(t *testing.T) {
	v, err := Encode(3)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if v.Kind != KindInt64 {
		t.Fatalf("unexpected kind %q", v.Kind)
	}
	out, err := Decode(v)
	if err != nil || out != int64(3) {
		t.Fatalf("decode: %#v, %v", out, err)
	}
}

func TestNonFiniteDoubles(t *testing.T) {
	v, err := Encode([]float64{math.NaN(), math.Inf(1), math.Inf(-1), 0})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(v.Data) != `["NaN","Inf","-Inf",0]` {
		t.Fatalf("unexpected data %s", v.Data)
	}
	out, err := Decode(v)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	fs := out.([]float64)
	if !math.IsNaN(fs[0]) || !math.IsInf(fs[1], 1) || !math.IsInf(fs[2], -1) || fs[3] != 0 {
		t.Fatalf("unexpected values %v", fs)
	}
}

func TestUnsupportedValues(t *testing.T) {
	if _, err := Encode(struct{}{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
	if _, err := Encode([]any{map[string]int{}}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported cell element, got %v", err)
	}
	if _, err := Decode(Value{Kind: "struct"}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
	if _, err := Decode(Value{Kind: KindDouble}); err == nil {
		t.Fatal("expected missing data error")
	}
}
