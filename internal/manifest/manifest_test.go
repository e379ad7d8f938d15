package manifest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"enginelink/go-backend/internal/engine"
	"enginelink/go-backend/internal/simengine"
)

const statsManifest = `
interface: Stats
dir: scripts
functions:
  - method: Sum
    name: sum
    nargout: 1
    params: ["double[]"]
    returns: double
  - method: Max
    name: max
    nargout: 2
    params: ["double[]"]
    returns: results
  - method: Mean
    relativePath: mean.m
    nargout: 1
    params: ["double[]"]
    returns: double
  - method: Show
    name: disp
    nargout: 0
    params: [char]
`

func TestLoadResolvesDirAgainstManifest(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "stats.yaml")
	if err := os.WriteFile(path, []byte(statsManifest), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Dir != filepath.Join(root, "scripts") {
		t.Fatalf("unexpected dir %q", m.Dir)
	}
	decl := m.Declaration()
	if decl.Name != "Stats" || decl.Location.Dir != m.Dir || len(decl.Methods) != 4 {
		t.Fatalf("unexpected declaration %+v", decl)
	}
	mean := decl.Methods[2]
	if mean.Info.RelativePath != "mean.m" || mean.Info.Nargout != 1 {
		t.Fatalf("unexpected mean info %+v", mean.Info)
	}
	if mean.Return != reflect.TypeFor[float64]() || mean.Params[0] != reflect.TypeFor[[]float64]() {
		t.Fatalf("unexpected mean types %v %v", mean.Return, mean.Params)
	}
	if show := decl.Methods[3]; show.Return != nil {
		t.Fatalf("method without returns must be void, got %v", show.Return)
	}
}

func TestParseReportsEveryProblem(t *testing.T) {
	_, err := Parse([]byte(`
interface: ""
functions:
  - method: A
    name: a
    nargout: 1
    params: [matrix]
    returns: tensor
  - method: A
    name: b
    nargout: 0
    variadic: true
    params: [double]
`))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid manifest, got %v", err)
	}
	for _, want := range []string{
		"interface is required",
		`params[0]: unknown type "matrix"`,
		`returns: unknown type "tensor"`,
		"declared twice",
		"variadic needs a trailing array parameter",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("interface: X\nfunctions:\n  - method: A\n    name: a\n    nargin: 2\n"))
	if !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), "nargin") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
	if _, err := Parse(nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected error for empty manifest, got %v", err)
	}
}

func TestDecodeArgs(t *testing.T) {
	f := Function{Method: "Mix", Params: []string{"double[]", "int", "char", "logical", "complex[]", "numeric", "variable"}}
	out, err := f.DecodeArgs([]string{"[1, 2.5]", "7", "hello: world", "true", "[1+2i, 3]", "{real: [1, 2, 3, 4], dims: [2, 2]}", "data"})
	if err != nil {
		t.Fatalf("decode args: %v", err)
	}
	want := []any{
		[]float64{1, 2.5},
		7,
		"hello: world",
		true,
		[]complex128{complex(1, 2), complex(3, 0)},
		engine.NumericArray{Real: []float64{1, 2, 3, 4}, Dims: []int{2, 2}},
		engine.MustVariable("data"),
	}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("unexpected args %#v", out)
	}

	if _, err := f.DecodeArgs([]string{"1"}); err == nil {
		t.Fatal("expected arity error")
	}
	bad := Function{Method: "N", Params: []string{"int"}}
	if _, err := bad.DecodeArgs([]string{"seven"}); err == nil {
		t.Fatal("expected decode error")
	}
	badVar := Function{Method: "V", Params: []string{"variable"}}
	if _, err := badVar.DecodeArgs([]string{"1x"}); err == nil {
		t.Fatal("expected invalid variable name error")
	}
}

func TestDecodeVariadicArgs(t *testing.T) {
	f := Function{Method: "Clear", Params: []string{"char", "string[]"}, Variadic: true}
	out, err := f.DecodeArgs([]string{"all", "a", "b"})
	if err != nil {
		t.Fatalf("decode args: %v", err)
	}
	if !reflect.DeepEqual(out, []any{"all", "a", "b"}) {
		t.Fatalf("unexpected args %#v", out)
	}
}

func TestManifestLinksAndInvokes(t *testing.T) {
	m, err := Parse([]byte(statsManifest))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m.Functions = m.Functions[:2]
	m.Dir = ""
	s := simengine.New("/work")
	s.RegisterDemo()
	p, err := engine.Link(m.Declaration(), s, engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	defer p.Close()
	f, _ := m.Function("Sum")
	args, err := f.DecodeArgs([]string{"[2, 3, 4]"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, err := p.Invoke(context.Background(), "Sum", args...)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != 9.0 {
		t.Fatalf("unexpected sum %#v", out)
	}
	if got := TypeNames(); !strings.Contains(strings.Join(got, ","), "double[]") || got[0] != "any" {
		t.Fatalf("unexpected type names %v", got)
	}
}
