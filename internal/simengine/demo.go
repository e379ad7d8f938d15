package simengine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Demo returns a small function library used by the simulator binary and
// tests: plus, sum, mean, max (value and index) and upper.
func Demo() map[string]Func {
	return map[string]Func{
		"plus": func(args []any, _ int) ([]any, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
			}
			a, err := Numbers(args[0])
			if err != nil {
				return nil, err
			}
			b, err := Numbers(args[1])
			if err != nil {
				return nil, err
			}
			switch {
			case len(a) == 1:
				a, b = b, a
				fallthrough
			case len(b) == 1:
				out := make([]float64, len(a))
				for i := range a {
					out[i] = a[i] + b[0]
				}
				return []any{out}, nil
			case len(a) == len(b):
				out := make([]float64, len(a))
				for i := range a {
					out[i] = a[i] + b[i]
				}
				return []any{out}, nil
			default:
				return nil, fmt.Errorf("arrays have incompatible sizes %d and %d", len(a), len(b))
			}
		},
		"sum": unary(func(xs []float64) ([]any, error) {
			total := 0.0
			for _, x := range xs {
				total += x
			}
			return []any{total}, nil
		}),
		"mean": unary(func(xs []float64) ([]any, error) {
			if len(xs) == 0 {
				return nil, fmt.Errorf("mean of an empty array")
			}
			total := 0.0
			for _, x := range xs {
				total += x
			}
			return []any{total / float64(len(xs))}, nil
		}),
		"max": unary(func(xs []float64) ([]any, error) {
			if len(xs) == 0 {
				return nil, fmt.Errorf("max of an empty array")
			}
			best := 0
			for i, x := range xs {
				if x > xs[best] {
					best = i
				}
			}
			return []any{xs[best], float64(best + 1)}, nil
		}),
		"upper": func(args []any, _ int) ([]any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
			}
			s, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("expected a string, got %T", args[0])
			}
			return []any{strings.ToUpper(s)}, nil
		},
	}
}

// RegisterDemo registers the Demo library globally.
func (s *Session) RegisterDemo() {
	for name, fn := range Demo() {
		s.Register(name, fn)
	}
}

func unary(fn func([]float64) ([]any, error)) Func {
	return func(args []any, _ int) ([]any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		xs, err := Numbers(args[0])
		if err != nil {
			return nil, err
		}
		return fn(xs)
	}
}

// Numbers converts a numeric argument to its values.
func Numbers(v any) ([]float64, error) {
	switch t := v.(type) {
	case []float64:
		return t, nil
	case float64:
		return []float64{t}, nil
	case int:
		return []float64{float64(t)}, nil
	case int32:
		return []float64{float64(t)}, nil
	case int64:
		return []float64{float64(t)}, nil
	case []int64:
		out := make([]float64, len(t))
		for i, n := range t {
			out[i] = float64(n)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(t))
		for i, n := range t {
			out[i] = float64(n)
		}
		return out, nil
	case bool:
		if t {
			return []float64{1}, nil
		}
		return []float64{0}, nil
	default:
		return nil, fmt.Errorf("expected numeric values, got %T", v)
	}
}

// RegisterScripts registers each demo function that has a matching .m file
// in dir, as if the file defined it. The canonical form of dir is used so
// that it matches the directory a linked proxy changes to. It returns the
// number of functions registered.
func (s *Session) RegisterScripts(dir string) (int, error) {
	canonical, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return 0, err
	}
	if canonical, err = filepath.Abs(canonical); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(canonical)
	if err != nil {
		return 0, err
	}
	demo := Demo()
	n := 0
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".m")
		if !ok || e.IsDir() {
			continue
		}
		if fn, ok := demo[name]; ok {
			s.RegisterIn(canonical, name, fn)
			n++
		}
	}
	return n, nil
}
