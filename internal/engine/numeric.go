package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NumericArray is a real or complex numeric array stored column-major.
// Imag is nil for real arrays. Dims defaults to a 1xN row vector.
type NumericArray struct {
	Real []float64 `yaml:"real" json:"real"`
	Imag []float64 `yaml:"imag,omitempty" json:"imag,omitempty"`
	Dims []int     `yaml:"dims,omitempty" json:"dims,omitempty"`
}

func (a NumericArray) IsReal() bool { return a.Imag == nil }

// Shape returns the array dimensions.
func (a NumericArray) Shape() []int {
	if len(a.Dims) == 0 {
		return []int{1, len(a.Real)}
	}
	return a.Dims
}

func (a NumericArray) Validate() error {
	if a.Imag != nil && len(a.Imag) != len(a.Real) {
		return fmt.Errorf("numeric array has %d real and %d imaginary values", len(a.Real), len(a.Imag))
	}
	dims := a.Shape()
	if len(dims) < 2 {
		return fmt.Errorf("numeric array needs at least 2 dimensions, got %d", len(dims))
	}
	n := 1
	for _, d := range dims {
		if d < 0 {
			return fmt.Errorf("numeric array has negative dimension %d", d)
		}
		n *= d
	}
	if n != len(a.Real) {
		return fmt.Errorf("numeric array dimensions %v hold %d values, got %d", dims, n, len(a.Real))
	}
	return nil
}

// Installer sends the values as one packed vector and rebuilds the array
// in the session with a single statement.
func (a NumericArray) Installer() Installer {
	return InstallFunc(func(ctx context.Context, s Session, name string) error {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrArgument, err)
		}
		n := len(a.Real)
		packed := make([]float64, 0, n+len(a.Imag))
		packed = append(packed, a.Real...)
		packed = append(packed, a.Imag...)
		if err := s.SetVariable(ctx, name, packed); err != nil {
			return err
		}
		dims := formatDims(a.Shape())
		if a.IsReal() {
			return s.Eval(ctx, fmt.Sprintf("%s = reshape(%s, %s);", name, name, dims))
		}
		return s.Eval(ctx, fmt.Sprintf("%s = reshape(complex(%s(1:%d), %s(%d:end)), %s);", name, name, n, name, n+1, dims))
	})
}

func (a NumericArray) Extractor() Extractor { return &numericExtractor{} }

type numericExtractor struct {
	size, isReal, real, imag any
}

func (x *numericExtractor) Extract(ctx context.Context, s Session, name string) error {
	steps := []struct {
		script string
		dst    *any
	}{
		{"size(" + name + ")", &x.size},
		{"isreal(" + name + ")", &x.isReal},
		{"real(" + name + "(:))", &x.real},
	}
	for _, step := range steps {
		out, err := s.ReturningEval(ctx, step.script, 1)
		if err != nil {
			return err
		}
		if len(out) != 1 {
			return fmt.Errorf("%s returned %d values", step.script, len(out))
		}
		*step.dst = out[0]
	}
	isReal, err := toBool(x.isReal)
	if err != nil {
		return fmt.Errorf("isreal(%s): %w", name, err)
	}
	if isReal {
		return nil
	}
	out, err := s.ReturningEval(ctx, "imag("+name+"(:))", 1)
	if err != nil {
		return err
	}
	if len(out) != 1 {
		return fmt.Errorf("imag(%s(:)) returned %d values", name, len(out))
	}
	x.imag = out[0]
	return nil
}

func (x *numericExtractor) Value() (any, error) {
	sizes, err := toFloat64s(x.size)
	if err != nil {
		return nil, fmt.Errorf("size: %w", err)
	}
	dims := make([]int, len(sizes))
	for i, v := range sizes {
		if v < 0 || v != math.Trunc(v) {
			return nil, fmt.Errorf("size: invalid dimension %v", v)
		}
		dims[i] = int(v)
	}
	out := NumericArray{Dims: dims}
	if out.Real, err = toFloat64s(x.real); err != nil {
		return nil, fmt.Errorf("real part: %w", err)
	}
	if x.imag != nil {
		if out.Imag, err = toFloat64s(x.imag); err != nil {
			return nil, fmt.Errorf("imaginary part: %w", err)
		}
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func formatDims(dims []int) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func toFloat64s(v any) ([]float64, error) {
	switch t := v.(type) {
	case []float64:
		return t, nil
	case float64:
		return []float64{t}, nil
	case []float32:
		out := make([]float64, len(t))
		for i, f := range t {
			out[i] = float64(f)
		}
		return out, nil
	case []int:
		out := make([]float64, len(t))
		for i, n := range t {
			out[i] = float64(n)
		}
		return out, nil
	case []int64:
		out := make([]float64, len(t))
		for i, n := range t {
			out[i] = float64(n)
		}
		return out, nil
	case int:
		return []float64{float64(t)}, nil
	case []any:
		out := make([]float64, len(t))
		for i, e := range t {
			f, ok := e.(float64)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, not a number", i, e)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected numeric values, got %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case []bool:
		if len(t) == 1 {
			return t[0], nil
		}
	case float64:
		return t != 0, nil
	case []float64:
		if len(t) == 1 {
			return t[0] != 0, nil
		}
	}
	return false, fmt.Errorf("expected a logical scalar, got %T", v)
}
