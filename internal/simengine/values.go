package simengine

import (
	"fmt"
	"slices"
)

// matrix is a numeric array held column-major. im is nil for real arrays.
type matrix struct {
	re   []float64
	im   []float64
	dims []int
}

func rowVector(re []float64) *matrix {
	return &matrix{re: re, dims: []int{1, len(re)}}
}

func scalar(v float64) *matrix {
	return &matrix{re: []float64{v}, dims: []int{1, 1}}
}

func (m *matrix) numel() int { return len(m.re) }

func (m *matrix) isReal() bool { return m.im == nil }

func (m *matrix) clone() *matrix {
	return &matrix{re: slices.Clone(m.re), im: slices.Clone(m.im), dims: slices.Clone(m.dims)}
}

// importValue converts a host value into its workspace form.
func importValue(v any) any {
	switch t := v.(type) {
	case float64:
		return scalar(t)
	case float32:
		return scalar(float64(t))
	case []float64:
		return rowVector(slices.Clone(t))
	case []float32:
		re := make([]float64, len(t))
		for i, f := range t {
			re[i] = float64(f)
		}
		return rowVector(re)
	case complex128:
		return &matrix{re: []float64{real(t)}, im: []float64{imag(t)}, dims: []int{1, 1}}
	case []complex128:
		m := &matrix{re: make([]float64, len(t)), im: make([]float64, len(t)), dims: []int{1, len(t)}}
		for i, c := range t {
			m.re[i], m.im[i] = real(c), imag(c)
		}
		return m
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

// exportValue converts a workspace value into what GetVariable returns.
// Numeric arrays, scalars included, come back as flat slices.
func exportValue(v any) any {
	m, ok := v.(*matrix)
	if !ok {
		return v
	}
	if m.isReal() {
		return slices.Clone(m.re)
	}
	out := make([]complex128, len(m.re))
	for i := range m.re {
		out[i] = complex(m.re[i], m.im[i])
	}
	return out
}

func asMatrix(v any, what string) (*matrix, error) {
	switch t := v.(type) {
	case *matrix:
		return t, nil
	case bool:
		if t {
			return scalar(1), nil
		}
		return scalar(0), nil
	case int:
		return scalar(float64(t)), nil
	default:
		return nil, fmt.Errorf("%s: expected a numeric value, got %T", what, v)
	}
}

func dimsFrom(v any) ([]int, error) {
	m, err := asMatrix(v, "dimensions")
	if err != nil {
		return nil, err
	}
	dims := make([]int, m.numel())
	for i, f := range m.re {
		if f < 0 || f != float64(int(f)) {
			return nil, fmt.Errorf("dimensions: invalid size %v", f)
		}
		dims[i] = int(f)
	}
	return dims, nil
}
