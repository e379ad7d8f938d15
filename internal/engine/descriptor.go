package engine

import (
	"reflect"
	"slices"
)

// Descriptor is the resolved, immutable form of one linked method.
type Descriptor struct {
	Method  string
	Name    string
	Nargout int
	// Dir is the directory containing the function's script file. It is
	// empty when the function is resolved by name on the engine's path.
	Dir               string
	Params            []reflect.Type
	Variadic          bool
	Return            reflect.Type
	CustomMarshalling bool
}

// ByPath reports whether the function was resolved from a script file.
func (d Descriptor) ByPath() bool { return d.Dir != "" }

func newDescriptor(m Method, name, dir string) Descriptor {
	d := Descriptor{
		Method:   m.Name,
		Name:     name,
		Nargout:  m.Info.Nargout,
		Dir:      dir,
		Params:   slices.Clone(m.Params),
		Variadic: m.Variadic,
		Return:   m.Return,
	}
	_, d.CustomMarshalling = customElem(m.Return)
	for _, p := range m.Params {
		if isCustom(p) {
			d.CustomMarshalling = true
		}
	}
	return d
}

func (d Descriptor) clone() Descriptor {
	d.Params = slices.Clone(d.Params)
	return d
}
