package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/mr-tron/base58/base58"
	"go.uber.org/multierr"
	"golang.org/x/crypto/blake2b"
)

var ErrClosed = errors.New("engine proxy is closed")

// Proxy dispatches calls of a linked interface to the engine session. The
// method table is built once by Link and is read-only afterwards.
type Proxy struct {
	id        string
	name      string
	funcs     map[string]Descriptor
	exec      *executor
	extracted *extractions
	release   func()
	closed    atomic.Bool
}

// Link validates and resolves every method of decl and returns a proxy
// bound to s. No partial proxy is returned: on error every script file
// extracted so far is removed.
func Link(decl *Interface, s Session, opts ...Option) (*Proxy, error) {
	if decl == nil {
		return nil, &LinkingError{Reason: "no interface declared"}
	}
	if s == nil {
		return nil, &LinkingError{Interface: decl.Name, Reason: "no session supplied"}
	}
	o := applyOptions(opts)
	loc := decl.Location
	if loc.Dir == "" && loc.FS == nil {
		loc = o.location
	}
	ext := &extractions{}
	r := resolver{iface: decl.Name, loc: loc, tempRoot: o.tempDir, extracted: ext}

	funcs := make(map[string]Descriptor, len(decl.Methods))
	for _, m := range decl.Methods {
		err := ValidateMethod(decl.Name, m)
		if err == nil {
			if _, dup := funcs[m.Name]; dup {
				err = &LinkingError{Interface: decl.Name, Method: m.Name, Reason: "method declared more than once"}
			}
		}
		var d Descriptor
		if err == nil {
			d, err = r.resolve(m)
		}
		if err != nil {
			return nil, multierr.Append(err, ext.close())
		}
		funcs[m.Name] = d
	}

	lock, release := acquireLock(s)
	p := &Proxy{
		name:  decl.Name,
		funcs: funcs,
		exec: &executor{
			session: s,
			lock:    lock,
			limiter: o.limiter,
			logger:  o.logger,
			metrics: o.metrics,
		},
		extracted: ext,
		release:   release,
	}
	p.id = linkID(decl.Name, funcs)
	o.logger.Info("engine interface linked", "interface", decl.Name, "link_id", p.id, "methods", len(funcs))
	return p, nil
}

// ID is a stable fingerprint of the linked interface and its descriptors.
func (p *Proxy) ID() string { return p.id }

func (p *Proxy) Name() string { return p.name }

// Methods returns the linked method names in sorted order.
func (p *Proxy) Methods() []string {
	out := make([]string, 0, len(p.funcs))
	for name := range p.funcs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Descriptor returns a copy of the descriptor linked for method.
func (p *Proxy) Descriptor(method string) (Descriptor, bool) {
	d, ok := p.funcs[method]
	if !ok {
		return Descriptor{}, false
	}
	return d.clone(), true
}

// Close removes script files extracted from archives and drops the proxy's
// hold on the session lock. Calls made after Close fail with ErrClosed.
func (p *Proxy) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.release()
	return p.extracted.close()
}

// Invoke calls method with args and returns the value coerced to the
// declared return type, nil for methods without one, or Results verbatim
// when that is the declared type.
func (p *Proxy) Invoke(ctx context.Context, method string, args ...any) (any, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	d, ok := p.funcs[method]
	if !ok {
		return nil, &ArgumentError{Method: method, Index: -1, Reason: "method is not linked"}
	}
	if err := checkArgs(&d, args); err != nil {
		return nil, err
	}
	prepared := make([]any, len(args))
	for i, arg := range args {
		if custom, ok := arg.(Type); ok {
			inst := custom.Installer()
			if inst == nil {
				return nil, &ArgumentError{Method: method, Index: i, Reason: fmt.Sprintf("%T returned no installer", arg)}
			}
			prepared[i] = inst
			continue
		}
		prepared[i] = arg
	}

	results, err := p.exec.call(ctx, &d, prepared)
	if err != nil {
		return nil, err
	}
	if d.CustomMarshalling {
		if err := resolvePending(&d, results); err != nil {
			return nil, err
		}
	}
	if d.Return == resultsType {
		return Results(results), nil
	}
	return CoerceReturn(results, d.Return)
}

// resolvePending replaces extractor placeholders with the values they
// built.
func resolvePending(d *Descriptor, results []any) error {
	for i, r := range results {
		ext, ok := r.(Extractor)
		if !ok {
			continue
		}
		v, err := ext.Value()
		if err != nil {
			return &IncompatibleReturnError{Declared: d.Return, Reason: fmt.Sprintf("return %d: %v", i, err)}
		}
		results[i] = addressIfNeeded(v, d.Return)
	}
	return nil
}

// addressIfNeeded returns &v when the declared type (or element type) is a
// pointer to v's type.
func addressIfNeeded(v any, ret reflect.Type) any {
	if v == nil || ret == nil {
		return v
	}
	want, _ := customElem(ret)
	if want == nil || want.Kind() != reflect.Pointer {
		return v
	}
	rv := reflect.ValueOf(v)
	if rv.Type() != want.Elem() {
		return v
	}
	ptr := reflect.New(rv.Type())
	ptr.Elem().Set(rv)
	return ptr.Interface()
}

func checkArgs(d *Descriptor, args []any) error {
	params := d.Params
	fixed := len(params)
	if d.Variadic {
		fixed--
		if len(args) < fixed {
			return &ArgumentError{Method: d.Method, Index: -1, Reason: fmt.Sprintf("expected at least %d arguments, got %d", fixed, len(args))}
		}
	} else if len(args) != fixed {
		return &ArgumentError{Method: d.Method, Index: -1, Reason: fmt.Sprintf("expected %d arguments, got %d", fixed, len(args))}
	}
	for i, arg := range args {
		var want reflect.Type
		if i < fixed {
			want = params[i]
		} else {
			want = params[len(params)-1].Elem()
		}
		if arg == nil {
			if !nillable(want) {
				return &ArgumentError{Method: d.Method, Index: i, Reason: fmt.Sprintf("nil is not a valid %s", want)}
			}
			continue
		}
		if got := reflect.TypeOf(arg); !got.AssignableTo(want) {
			return &ArgumentError{Method: d.Method, Index: i, Reason: fmt.Sprintf("%s is not assignable to %s", got, want)}
		}
	}
	return nil
}

func nillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return true
	default:
		return false
	}
}

func linkID(iface string, funcs map[string]Descriptor) string {
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString(iface)
	for _, name := range names {
		d := funcs[name]
		b.WriteString("\n")
		b.WriteString(strings.Join([]string{d.Method, d.Name, strconv.Itoa(d.Nargout), d.Dir, typeName(d.Return)}, "|"))
		for _, p := range d.Params {
			b.WriteString("|")
			b.WriteString(p.String())
		}
	}
	h := blake2b.Sum256([]byte(b.String()))
	return "lnk" + base58.Encode(h[:16])
}
