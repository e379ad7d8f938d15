package manifest

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"enginelink/go-backend/internal/engine"
)

// DecodeArgs decodes command line argument text into the declared
// parameter types of f. Each argument is a YAML scalar, sequence or
// mapping. Arguments past the last parameter of a variadic function are
// decoded as its element type.
func (f Function) DecodeArgs(texts []string) ([]any, error) {
	if !f.Variadic && len(texts) != len(f.Params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", f.Method, len(f.Params), len(texts))
	}
	if f.Variadic && len(texts) < len(f.Params)-1 {
		return nil, fmt.Errorf("%s takes at least %d arguments, got %d", f.Method, len(f.Params)-1, len(texts))
	}
	out := make([]any, 0, len(texts))
	for i, text := range texts {
		t, err := f.paramType(i)
		if err != nil {
			return nil, err
		}
		v, err := DecodeArg(t, text)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (f Function) paramType(i int) (reflect.Type, error) {
	last := len(f.Params) - 1
	if f.Variadic && i >= last {
		t, ok := LookupType(f.Params[last])
		if !ok {
			return nil, fmt.Errorf("unknown type %q", f.Params[last])
		}
		return t.Elem(), nil
	}
	t, ok := LookupType(f.Params[i])
	if !ok {
		return nil, fmt.Errorf("unknown type %q", f.Params[i])
	}
	return t, nil
}

// DecodeArg decodes one argument into a value of type t. A variable
// parameter takes the variable name.
func DecodeArg(t reflect.Type, text string) (any, error) {
	if t == reflect.TypeFor[engine.Variable]() {
		return engine.NewVariable(strings.TrimSpace(text))
	}
	switch {
	case t.Kind() == reflect.String:
		return text, nil
	case t.Kind() == reflect.Complex128:
		return parseComplex(text)
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Complex128:
		var parts []string
		if err := yaml.Unmarshal([]byte(text), &parts); err != nil {
			return nil, fmt.Errorf("decode %q as %s: %w", text, t, err)
		}
		out := make([]complex128, len(parts))
		for i, p := range parts {
			c, err := parseComplex(p)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	}
	ptr := reflect.New(t)
	if err := yaml.Unmarshal([]byte(text), ptr.Interface()); err != nil {
		return nil, fmt.Errorf("decode %q as %s: %w", text, t, err)
	}
	return ptr.Elem().Interface(), nil
}

// parseComplex accepts Go complex literals such as 1+2i.
func parseComplex(text string) (complex128, error) {
	c, err := strconv.ParseComplex(strings.TrimSpace(text), 128)
	if err != nil {
		return 0, fmt.Errorf("decode %q as complex: %w", text, err)
	}
	return c, nil
}
