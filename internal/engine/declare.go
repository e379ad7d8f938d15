package engine

import (
	"context"
	"io/fs"
	"reflect"
)

// FunctionInfo is the link metadata of one method. Exactly one of Name,
// AbsolutePath and RelativePath must be set.
type FunctionInfo struct {
	// Name of a function on the engine's search path.
	Name string `yaml:"name,omitempty"`
	// AbsolutePath of a script file.
	AbsolutePath string `yaml:"absolutePath,omitempty"`
	// RelativePath of a script file, resolved against the interface location.
	RelativePath string `yaml:"relativePath,omitempty"`
	// Nargout is the number of values requested from the function.
	Nargout int `yaml:"nargout"`
}

// Method is the declared signature of one interface method.
type Method struct {
	Name     string
	Info     *FunctionInfo
	Params   []reflect.Type
	Variadic bool
	// Return is nil when the method returns no value.
	Return reflect.Type
	// Raises lists the failure kinds the method declares; it must include
	// ErrInvocation.
	Raises []error
}

// Location is where relative script paths of an interface are looked up.
// FS takes precedence over Dir and is treated as a packaged archive whose
// entries are extracted to disk before use.
type Location struct {
	Dir string
	FS  fs.FS
}

// Interface is a named set of methods to link against a session.
type Interface struct {
	Name     string
	Location Location
	Methods  []Method
}

// Declare starts an explicit interface declaration.
func Declare(name string) *Interface {
	return &Interface{Name: name}
}

// InDir sets the on-disk directory relative paths resolve against.
func (i *Interface) InDir(dir string) *Interface {
	i.Location.Dir = dir
	return i
}

// InFS sets a packaged archive relative paths resolve against.
func (i *Interface) InFS(fsys fs.FS) *Interface {
	i.Location.FS = fsys
	return i
}

// Add appends a method declaration.
func (i *Interface) Add(m Method) *Interface {
	i.Methods = append(i.Methods, m)
	return i
}

// Func is shorthand for Add with a method that raises ErrInvocation.
func (i *Interface) Func(name string, info FunctionInfo, ret reflect.Type, params ...reflect.Type) *Interface {
	return i.Add(Method{
		Name:   name,
		Info:   &info,
		Params: params,
		Return: ret,
		Raises: []error{ErrInvocation},
	})
}

// TypeOf returns the reflect.Type of T, including interface types.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// Results is the raw result sequence of a call. Declaring it as a return
// type skips return coercion.
type Results []any

var (
	resultsType  = reflect.TypeFor[Results]()
	errorType    = reflect.TypeFor[error]()
	contextType  = reflect.TypeFor[context.Context]()
	customType   = reflect.TypeFor[Type]()
	variableType = reflect.TypeFor[Variable]()
)

func isPrimitive(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return true
	default:
		return false
	}
}

func isArray(t reflect.Type) bool {
	return t.Kind() == reflect.Slice || t.Kind() == reflect.Array
}

func isCustom(t reflect.Type) bool {
	return t != nil && t.Implements(customType)
}

// customElem returns the custom marshalled type a return slot is extracted
// as: the return type itself, or its element type for arrays.
func customElem(ret reflect.Type) (reflect.Type, bool) {
	if ret == nil {
		return nil, false
	}
	if isCustom(ret) {
		return ret, true
	}
	if isArray(ret) && isCustom(ret.Elem()) {
		return ret.Elem(), true
	}
	return nil, false
}

func isVariable(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t == variableType
}
