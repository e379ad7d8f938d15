// Package manifest declares engine interfaces in YAML.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"enginelink/go-backend/internal/engine"
)

var ErrInvalid = errors.New("invalid interface manifest")

// Function declares one interface method.
type Function struct {
	Method   string              `yaml:"method"`
	Info     engine.FunctionInfo `yaml:",inline"`
	Params   []string            `yaml:"params,omitempty"`
	Variadic bool                `yaml:"variadic,omitempty"`
	// Returns is a type name; empty means the method returns nothing.
	Returns string `yaml:"returns,omitempty"`
}

type Manifest struct {
	Interface string `yaml:"interface"`
	// Dir resolves relative script paths. A relative Dir is taken relative
	// to the manifest file.
	Dir       string     `yaml:"dir,omitempty"`
	Functions []Function `yaml:"functions"`
}

// typeNames maps manifest type names to the Go types the engine marshals.
var typeNames = map[string]reflect.Type{
	"any":       engine.TypeOf[any](),
	"double":    engine.TypeOf[float64](),
	"double[]":  engine.TypeOf[[]float64](),
	"single":    engine.TypeOf[float32](),
	"single[]":  engine.TypeOf[[]float32](),
	"int":       engine.TypeOf[int](),
	"int32":     engine.TypeOf[int32](),
	"int32[]":   engine.TypeOf[[]int32](),
	"int64":     engine.TypeOf[int64](),
	"int64[]":   engine.TypeOf[[]int64](),
	"logical":   engine.TypeOf[bool](),
	"logical[]": engine.TypeOf[[]bool](),
	"char":      engine.TypeOf[string](),
	"string[]":  engine.TypeOf[[]string](),
	"complex":   engine.TypeOf[complex128](),
	"complex[]": engine.TypeOf[[]complex128](),
	"cell":      engine.TypeOf[[]any](),
	"numeric":   engine.TypeOf[engine.NumericArray](),
	"numeric*":  engine.TypeOf[*engine.NumericArray](),
	"variable":  engine.TypeOf[engine.Variable](),
	"results":   engine.TypeOf[engine.Results](),
}

// TypeNames lists the accepted type names.
func TypeNames() []string {
	return slices.Sorted(maps.Keys(typeNames))
}

// LookupType resolves a manifest type name.
func LookupType(name string) (reflect.Type, bool) {
	t, ok := typeNames[strings.TrimSpace(name)]
	return t, ok
}

// Parse decodes a manifest strictly: unknown fields are rejected.
func Parse(raw []byte) (Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return Manifest{}, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return Manifest{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := m.validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Load reads and parses the manifest at path. A relative Dir is made
// absolute against the manifest's directory.
func Load(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	m, err := Parse(raw)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", path, err)
	}
	if m.Dir != "" && !filepath.IsAbs(m.Dir) {
		base, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return Manifest{}, err
		}
		m.Dir = filepath.Join(base, m.Dir)
	}
	return m, nil
}

func (m Manifest) validate() error {
	var errs error
	if strings.TrimSpace(m.Interface) == "" {
		errs = multierr.Append(errs, errors.New("interface is required"))
	}
	if len(m.Functions) == 0 {
		errs = multierr.Append(errs, errors.New("at least one function is required"))
	}
	seen := make(map[string]bool, len(m.Functions))
	for i, f := range m.Functions {
		label := fmt.Sprintf("functions[%d]", i)
		if f.Method != "" {
			label = fmt.Sprintf("function %s", f.Method)
		}
		if strings.TrimSpace(f.Method) == "" {
			errs = multierr.Append(errs, fmt.Errorf("%s: method is required", label))
		} else if seen[f.Method] {
			errs = multierr.Append(errs, fmt.Errorf("%s: declared twice", label))
		}
		seen[f.Method] = true
		for j, p := range f.Params {
			if _, ok := LookupType(p); !ok {
				errs = multierr.Append(errs, fmt.Errorf("%s: params[%d]: unknown type %q", label, j, p))
			}
		}
		if f.Returns != "" {
			if _, ok := LookupType(f.Returns); !ok {
				errs = multierr.Append(errs, fmt.Errorf("%s: returns: unknown type %q", label, f.Returns))
			}
		}
		if f.Variadic && !variadicTail(f.Params) {
			errs = multierr.Append(errs, fmt.Errorf("%s: variadic needs a trailing array parameter", label))
		}
	}
	if errs != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, errs)
	}
	return nil
}

// Declaration builds the engine interface. Link still validates the
// methods against the engine's rules.
func (m Manifest) Declaration() *engine.Interface {
	decl := engine.Declare(m.Interface)
	if m.Dir != "" {
		decl.InDir(m.Dir)
	}
	for _, f := range m.Functions {
		info := f.Info
		method := engine.Method{
			Name:     f.Method,
			Info:     &info,
			Variadic: f.Variadic,
			Raises:   []error{engine.ErrInvocation},
		}
		for _, p := range f.Params {
			t, _ := LookupType(p)
			method.Params = append(method.Params, t)
		}
		if f.Returns != "" {
			method.Return, _ = LookupType(f.Returns)
		}
		decl.Add(method)
	}
	return decl
}

// Function returns the declaration of method.
func (m Manifest) Function(method string) (Function, bool) {
	for _, f := range m.Functions {
		if f.Method == method {
			return f, true
		}
	}
	return Function{}, false
}

func variadicTail(params []string) bool {
	if len(params) == 0 {
		return false
	}
	last := strings.TrimSpace(params[len(params)-1])
	return strings.HasSuffix(last, "[]") || last == "cell"
}
