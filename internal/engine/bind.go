package engine

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

const tagKey = "engine"

// Bind links a struct of function fields and assigns each field an
// implementation that calls the engine. Every exported field must be a
// func whose last result is error, tagged with its link metadata:
//
//	type Stats struct {
//		Mean  func(ctx context.Context, x []float64) (float64, error) `engine:"name=mean,nargout=1"`
//		Peaks func(x []float64) (engine.Results, error)                `engine:"relativePath=peaks.m,nargout=2"`
//	}
//
// A leading context.Context parameter is passed to the session and is not
// sent as an argument.
func Bind(target any, s Session, opts ...Option) (*Proxy, error) {
	rv := reflect.ValueOf(target)
	if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, &LinkingError{Interface: fmt.Sprintf("%T", target), Reason: "target is not a non-nil pointer to a struct of functions"}
	}
	sv := rv.Elem()
	st := sv.Type()
	decl := Declare(st.Name())

	type field struct {
		index  int
		method string
		hasCtx bool
	}
	var fields []field
	for i := range st.NumField() {
		f := st.Field(i)
		if !f.IsExported() {
			continue
		}
		m, hasCtx, err := methodFromField(st.Name(), f)
		if err != nil {
			return nil, err
		}
		decl.Add(m)
		fields = append(fields, field{index: i, method: m.Name, hasCtx: hasCtx})
	}

	p, err := Link(decl, s, opts...)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		fv := sv.Field(f.index)
		fv.Set(p.makeFunc(fv.Type(), f.method, f.hasCtx))
	}
	return p, nil
}

func methodFromField(iface string, f reflect.StructField) (Method, bool, error) {
	m := Method{Name: f.Name}
	ft := f.Type
	if ft.Kind() != reflect.Func {
		return m, false, &LinkingError{Interface: iface, Method: f.Name, Reason: "field is not a function"}
	}
	if raw, ok := f.Tag.Lookup(tagKey); ok {
		info, err := ParseTag(raw)
		if err != nil {
			return m, false, &LinkingError{Interface: iface, Method: f.Name, Reason: "invalid " + tagKey + " tag", Err: err}
		}
		m.Info = &info
	}

	start := 0
	hasCtx := ft.NumIn() > 0 && ft.In(0) == contextType
	if hasCtx {
		start = 1
	}
	for i := start; i < ft.NumIn(); i++ {
		m.Params = append(m.Params, ft.In(i))
	}
	m.Variadic = ft.IsVariadic()

	switch n := ft.NumOut(); {
	case n > 2:
		return m, false, &LinkingError{Interface: iface, Method: f.Name, Reason: "function may return at most one value and an error"}
	case n == 0:
	case ft.Out(n-1) == errorType:
		m.Raises = []error{ErrInvocation}
		if n == 2 {
			m.Return = ft.Out(0)
		}
	default:
		m.Return = ft.Out(0)
	}
	return m, hasCtx, nil
}

// ParseTag parses "name=fn,nargout=1" style link metadata.
func ParseTag(raw string) (FunctionInfo, error) {
	var info FunctionInfo
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return info, fmt.Errorf("expected key=value, got %q", part)
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "name":
			info.Name = value
		case "absolutePath":
			info.AbsolutePath = value
		case "relativePath":
			info.RelativePath = value
		case "nargout":
			n, err := strconv.Atoi(value)
			if err != nil {
				return info, fmt.Errorf("invalid nargout %q", value)
			}
			info.Nargout = n
		default:
			return info, fmt.Errorf("unknown key %q", key)
		}
	}
	return info, nil
}

func (p *Proxy) makeFunc(ft reflect.Type, method string, hasCtx bool) reflect.Value {
	return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		ctx := context.Background()
		if hasCtx {
			if c, ok := in[0].Interface().(context.Context); ok && c != nil {
				ctx = c
			}
			in = in[1:]
		}
		args := make([]any, 0, len(in))
		for i, v := range in {
			if ft.IsVariadic() && i == len(in)-1 {
				for j := range v.Len() {
					args = append(args, v.Index(j).Interface())
				}
				continue
			}
			args = append(args, v.Interface())
		}
		result, err := p.Invoke(ctx, method, args...)
		return outValues(ft, result, err)
	})
}

func outValues(ft reflect.Type, result any, err error) []reflect.Value {
	n := ft.NumOut()
	outs := make([]reflect.Value, n)
	if n == 2 {
		rv := reflect.New(ft.Out(0)).Elem()
		if err == nil && result != nil {
			rv.Set(reflect.ValueOf(result))
		}
		outs[0] = rv
	}
	ev := reflect.New(errorType).Elem()
	if err != nil {
		ev.Set(reflect.ValueOf(err))
	}
	outs[n-1] = ev
	return outs
}
