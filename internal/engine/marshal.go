package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// Type is implemented by values that control how they are stored in and
// read back from a session. Parameters of such types are installed through
// their Installer; return slots are read through a fresh Extractor obtained
// from the zero value of the declared type.
type Type interface {
	Installer() Installer
	Extractor() Extractor
}

// Installer stores a value in a session under a binding name.
type Installer interface {
	Install(ctx context.Context, s Session, name string) error
}

// Extractor reads a value from a session. Extract runs while the binding is
// still live; Value is called after the remote call completes to build the
// final local value.
type Extractor interface {
	Extract(ctx context.Context, s Session, name string) error
	Value() (any, error)
}

// InstallFunc adapts a function to Installer.
type InstallFunc func(ctx context.Context, s Session, name string) error

func (f InstallFunc) Install(ctx context.Context, s Session, name string) error {
	return f(ctx, s, name)
}

func newExtractor(t reflect.Type) (Extractor, error) {
	var v reflect.Value
	if t.Kind() == reflect.Pointer {
		v = reflect.New(t.Elem())
	} else {
		v = reflect.Zero(t)
	}
	custom, ok := v.Interface().(Type)
	if !ok {
		return nil, fmt.Errorf("%s does not implement custom marshalling", t)
	}
	ext := custom.Extractor()
	if ext == nil {
		return nil, fmt.Errorf("%s returned no extractor", t)
	}
	return ext, nil
}

// Variable refers to a variable that already exists in the session. Passing
// it as an argument aliases that variable instead of transmitting data.
type Variable struct {
	name string
}

var errVariableReturn = errors.New("a session variable reference cannot be returned")

// NewVariable validates name against the engine identifier grammar.
func NewVariable(name string) (Variable, error) {
	if !ValidIdentifier(name) {
		return Variable{}, fmt.Errorf("invalid engine variable name: %q", name)
	}
	return Variable{name: name}, nil
}

// MustVariable is NewVariable for names known to be valid.
func MustVariable(name string) Variable {
	v, err := NewVariable(name)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Variable) Name() string { return v.name }

func (v Variable) String() string { return v.name }

func (v Variable) Installer() Installer {
	return InstallFunc(func(ctx context.Context, s Session, name string) error {
		if v.name == "" {
			return fmt.Errorf("%w: empty variable reference", ErrArgument)
		}
		return s.Eval(ctx, name+" = "+v.name+";")
	})
}

func (v Variable) Extractor() Extractor { return variableExtractor{} }

type variableExtractor struct{}

func (variableExtractor) Extract(context.Context, Session, string) error { return errVariableReturn }

func (variableExtractor) Value() (any, error) { return nil, errVariableReturn }
