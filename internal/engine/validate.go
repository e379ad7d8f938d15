package engine

import (
	"errors"
	"fmt"
	"reflect"
)

// ValidateMethod checks the declared metadata of one method for internal
// consistency. It performs no I/O.
func ValidateMethod(iface string, m Method) error {
	fail := func(format string, args ...any) error {
		return &LinkingError{Interface: iface, Method: m.Name, Reason: fmt.Sprintf(format, args...)}
	}
	if m.Name == "" {
		return fail("method has no name")
	}
	if m.Info == nil {
		return fail("method does not carry function metadata")
	}
	info := m.Info
	set := 0
	for _, v := range []string{info.Name, info.AbsolutePath, info.RelativePath} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fail("metadata must specify exactly one of a function name, an absolute path, or a relative path")
	}
	if info.Nargout < 0 {
		return fail("negative nargout %d; nargout must be 0 or greater", info.Nargout)
	}
	for i, p := range m.Params {
		if p == nil {
			return fail("parameter %d has no type", i)
		}
		if isArray(p) && isCustom(p.Elem()) {
			return fail("parameter %d: arrays of custom marshalled values are not supported", i)
		}
	}
	if m.Variadic && (len(m.Params) == 0 || m.Params[len(m.Params)-1].Kind() != reflect.Slice) {
		return fail("variadic method must declare a slice as its last parameter")
	}

	ret := m.Return
	if isVariable(ret) || (ret != nil && isArray(ret) && isVariable(ret.Elem())) {
		return fail("return type cannot be %s", variableType)
	}
	if ret != nil && info.Nargout == 0 {
		return fail("non-void return type %s requires nargout of at least 1", ret)
	}
	if ret == nil && info.Nargout != 0 {
		return fail("void return type requires nargout 0, got %d", info.Nargout)
	}
	if info.Nargout > 1 && (!isArray(ret) || isPrimitive(ret.Elem())) {
		return fail("nargout %d requires a return type that is an array of non-primitive elements, got %s", info.Nargout, ret)
	}
	if ret != nil && ret.Kind() == reflect.Array && ret != resultsType && info.Nargout > 1 && ret.Len() != info.Nargout {
		return fail("return array length %d does not match nargout %d", ret.Len(), info.Nargout)
	}
	if elem, ok := customElem(ret); ok && elem.Kind() == reflect.Interface {
		return fail("custom marshalled return type %s must be concrete", elem)
	}
	if !raisesInvocation(m.Raises) {
		return fail("method must declare %v as a failure", ErrInvocation)
	}
	return nil
}

func raisesInvocation(raises []error) bool {
	for _, err := range raises {
		if errors.Is(err, ErrInvocation) {
			return true
		}
	}
	return false
}
