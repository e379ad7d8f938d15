package simengine

import (
	"fmt"
	"maps"
	"slices"
)

type builtin func(s *Session, args []any, nargout int) ([]any, error)

var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"cd":      builtinCd,
		"complex": builtinComplex,
		"deal":    builtinDeal,
		"imag":    builtinPart("imag", false),
		"isreal":  builtinIsReal,
		"numel":   builtinNumel,
		"pwd":     builtinPwd,
		"real":    builtinPart("real", true),
		"reshape": builtinReshape,
		"size":    builtinSize,
		"who":     builtinWho,
	}
}

func (s *Session) exec(st statement) error {
	if st.isClear {
		if len(st.clear) == 0 {
			clear(s.vars)
			return nil
		}
		for _, name := range st.clear {
			delete(s.vars, name)
		}
		return nil
	}
	vals, err := s.evalExpr(st.value, len(st.targets))
	if err != nil {
		return err
	}
	if len(vals) < len(st.targets) {
		return fmt.Errorf("too many output arguments: %d requested, %d available", len(st.targets), len(vals))
	}
	for i, name := range st.targets {
		s.vars[name] = vals[i]
	}
	return nil
}

// evalExpr evaluates e requesting nargout values. Expressions other than
// function calls always produce exactly one value.
func (s *Session) evalExpr(e expr, nargout int) ([]any, error) {
	switch t := e.(type) {
	case numberExpr:
		return []any{scalar(t.v)}, nil
	case stringExpr:
		return []any{t.v}, nil
	case vectorExpr:
		var re []float64
		for _, el := range t.elems {
			v, err := s.evalOne(el)
			if err != nil {
				return nil, err
			}
			m, err := asMatrix(v, "vector element")
			if err != nil {
				return nil, err
			}
			if !m.isReal() {
				return nil, fmt.Errorf("complex vector literals are not supported")
			}
			re = append(re, m.re...)
		}
		return []any{rowVector(re)}, nil
	case identExpr:
		if v, ok := s.vars[t.name]; ok {
			return []any{v}, nil
		}
		return s.callFunction(t.name, nil, nargout)
	case callExpr:
		if v, ok := s.vars[t.name]; ok {
			out, err := s.index(v, t.args)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", t.name, err)
			}
			return []any{out}, nil
		}
		args := make([]any, len(t.args))
		for i, a := range t.args {
			v, err := s.evalOne(a)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return s.callFunction(t.name, args, nargout)
	case colonExpr, rangeExpr:
		return nil, fmt.Errorf("ranges are only valid as indices")
	default:
		return nil, fmt.Errorf("unsupported expression %T", e)
	}
}

func (s *Session) evalOne(e expr) (any, error) {
	vals, err := s.evalExpr(e, 1)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("expression produced no value")
	}
	return vals[0], nil
}

// index applies linear indexing to a numeric value: x(:), x(lo:hi) or x(k).
func (s *Session) index(v any, args []expr) (any, error) {
	m, err := asMatrix(v, "index")
	if err != nil {
		return nil, err
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("only linear indexing is supported")
	}
	n := m.numel()
	var lo, hi int
	colon := false
	switch a := args[0].(type) {
	case colonExpr:
		lo, hi, colon = 1, n, true
	case rangeExpr:
		if lo, err = s.bound(a.lo, n); err != nil {
			return nil, err
		}
		if hi, err = s.bound(a.hi, n); err != nil {
			return nil, err
		}
	default:
		if lo, err = s.bound(a, n); err != nil {
			return nil, err
		}
		hi = lo
	}
	if hi < lo {
		return rowVector([]float64{}), nil
	}
	if lo < 1 || hi > n {
		return nil, fmt.Errorf("index %d:%d out of bounds for %d elements", lo, hi, n)
	}
	out := &matrix{re: slices.Clone(m.re[lo-1 : hi])}
	if !m.isReal() {
		out.im = slices.Clone(m.im[lo-1 : hi])
	}
	if colon {
		out.dims = []int{hi - lo + 1, 1}
	} else {
		out.dims = []int{1, hi - lo + 1}
	}
	return out, nil
}

func (s *Session) bound(e expr, n int) (int, error) {
	if id, ok := e.(identExpr); ok && id.name == "end" {
		return n, nil
	}
	v, err := s.evalOne(e)
	if err != nil {
		return 0, err
	}
	m, err := asMatrix(v, "index")
	if err != nil {
		return 0, err
	}
	if m.numel() != 1 || m.re[0] != float64(int(m.re[0])) {
		return 0, fmt.Errorf("index must be an integer scalar")
	}
	return int(m.re[0]), nil
}

// callFunction resolves name against functions registered for the current
// directory, then global functions, then builtins.
func (s *Session) callFunction(name string, args []any, nargout int) ([]any, error) {
	fn, ok := s.dirFuncs[s.pwd][name]
	if !ok {
		fn, ok = s.funcs[name]
	}
	if ok {
		exported := make([]any, len(args))
		for i, a := range args {
			exported[i] = exportValue(a)
		}
		out, err := fn(exported, nargout)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if limit := max(nargout, 1); len(out) > limit {
			out = out[:limit]
		}
		return importAll(out), nil
	}
	if b, ok := builtins[name]; ok {
		return b(s, args, nargout)
	}
	return nil, fmt.Errorf("undefined function or variable %q", name)
}

func wantArgs(name string, args []any, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: expected %d arguments, got %d", name, n, len(args))
	}
	return nil
}

func builtinCd(s *Session, args []any, nargout int) ([]any, error) {
	prev := s.pwd
	if len(args) == 0 {
		return []any{prev}, nil
	}
	if err := wantArgs("cd", args, 1); err != nil {
		return nil, err
	}
	dir, ok := args[0].(string)
	if !ok || dir == "" {
		return nil, fmt.Errorf("cd: expected a directory name, got %T", args[0])
	}
	s.pwd = dir
	if nargout > 0 {
		return []any{prev}, nil
	}
	return nil, nil
}

func builtinPwd(s *Session, args []any, _ int) ([]any, error) {
	if err := wantArgs("pwd", args, 0); err != nil {
		return nil, err
	}
	return []any{s.pwd}, nil
}

func builtinWho(s *Session, args []any, _ int) ([]any, error) {
	if err := wantArgs("who", args, 0); err != nil {
		return nil, err
	}
	return []any{slices.Sorted(maps.Keys(s.vars))}, nil
}

// builtinDeal copies its inputs to its outputs unchanged. A single input is
// copied to every output.
func builtinDeal(_ *Session, args []any, nargout int) ([]any, error) {
	n := max(nargout, 1)
	if len(args) == 1 {
		out := make([]any, n)
		for i := range out {
			out[i] = args[0]
		}
		return out, nil
	}
	if len(args) < n {
		return nil, fmt.Errorf("deal: %d inputs for %d outputs", len(args), n)
	}
	return args, nil
}

func builtinReshape(_ *Session, args []any, _ int) ([]any, error) {
	if err := wantArgs("reshape", args, 2); err != nil {
		return nil, err
	}
	m, err := asMatrix(args[0], "reshape")
	if err != nil {
		return nil, err
	}
	dims, err := dimsFrom(args[1])
	if err != nil {
		return nil, err
	}
	if len(dims) < 2 {
		return nil, fmt.Errorf("reshape: size vector must have at least 2 elements")
	}
	n := 1
	for _, d := range dims {
		n *= d
	}
	if n != m.numel() {
		return nil, fmt.Errorf("reshape: cannot reshape %d elements into %v", m.numel(), dims)
	}
	out := m.clone()
	out.dims = dims
	return []any{out}, nil
}

func builtinComplex(_ *Session, args []any, _ int) ([]any, error) {
	if err := wantArgs("complex", args, 2); err != nil {
		return nil, err
	}
	re, err := asMatrix(args[0], "complex")
	if err != nil {
		return nil, err
	}
	im, err := asMatrix(args[1], "complex")
	if err != nil {
		return nil, err
	}
	if !re.isReal() || !im.isReal() {
		return nil, fmt.Errorf("complex: inputs must be real")
	}
	if re.numel() != im.numel() {
		return nil, fmt.Errorf("complex: inputs have %d and %d elements", re.numel(), im.numel())
	}
	out := re.clone()
	out.im = slices.Clone(im.re)
	if out.im == nil {
		out.im = []float64{}
	}
	return []any{out}, nil
}

func builtinPart(name string, realPart bool) builtin {
	return func(_ *Session, args []any, _ int) ([]any, error) {
		if err := wantArgs(name, args, 1); err != nil {
			return nil, err
		}
		m, err := asMatrix(args[0], name)
		if err != nil {
			return nil, err
		}
		out := &matrix{dims: slices.Clone(m.dims)}
		switch {
		case realPart:
			out.re = slices.Clone(m.re)
		case m.isReal():
			out.re = make([]float64, m.numel())
		default:
			out.re = slices.Clone(m.im)
		}
		return []any{out}, nil
	}
}

func builtinIsReal(_ *Session, args []any, _ int) ([]any, error) {
	if err := wantArgs("isreal", args, 1); err != nil {
		return nil, err
	}
	m, ok := args[0].(*matrix)
	return []any{!ok || m.isReal()}, nil
}

func builtinNumel(_ *Session, args []any, _ int) ([]any, error) {
	if err := wantArgs("numel", args, 1); err != nil {
		return nil, err
	}
	n, err := count(args[0])
	if err != nil {
		return nil, err
	}
	return []any{scalar(float64(n))}, nil
}

func builtinSize(_ *Session, args []any, _ int) ([]any, error) {
	if err := wantArgs("size", args, 1); err != nil {
		return nil, err
	}
	var dims []int
	if m, ok := args[0].(*matrix); ok {
		dims = m.dims
	} else {
		n, err := count(args[0])
		if err != nil {
			return nil, err
		}
		dims = []int{1, n}
	}
	re := make([]float64, len(dims))
	for i, d := range dims {
		re[i] = float64(d)
	}
	return []any{rowVector(re)}, nil
}

func count(v any) (int, error) {
	switch t := v.(type) {
	case *matrix:
		return t.numel(), nil
	case string:
		return len([]rune(t)), nil
	case []string:
		return len(t), nil
	case []any:
		return len(t), nil
	case bool, int, int32, int64:
		return 1, nil
	default:
		return 0, fmt.Errorf("unsupported value %T", v)
	}
}
