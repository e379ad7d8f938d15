package engine

import (
	"fmt"
	"reflect"
)

// CoerceReturn converts raw call results to the declared return type. A nil
// ret means the method returns nothing.
func CoerceReturn(results []any, ret reflect.Type) (any, error) {
	if ret == nil {
		if len(results) != 0 {
			return nil, &IncompatibleReturnError{Reason: fmt.Sprintf("void method received %d values", len(results))}
		}
		return nil, nil
	}
	switch len(results) {
	case 0:
		return nil, &IncompatibleReturnError{Declared: ret, Reason: "no values returned"}
	case 1:
		return coerceSingle(results[0], ret)
	default:
		return coerceMultiple(results, ret)
	}
}

func coerceSingle(v any, ret reflect.Type) (any, error) {
	if v == nil {
		if isPrimitive(ret) {
			return nil, &IncompatibleReturnError{Declared: ret, Reason: "primitive return cannot be nil"}
		}
		return nil, nil
	}
	actual := reflect.TypeOf(v)
	if isPrimitive(ret) {
		switch actual {
		case ret:
			return v, nil
		case reflect.SliceOf(ret):
			rv := reflect.ValueOf(v)
			if rv.Len() != 1 {
				return nil, &IncompatibleReturnError{
					Declared: ret,
					Actual:   actual,
					Reason:   fmt.Sprintf("array of %s has %d values, not exactly 1", ret, rv.Len()),
				}
			}
			return rv.Index(0).Interface(), nil
		default:
			return nil, &IncompatibleReturnError{Declared: ret, Actual: actual}
		}
	}
	if !actual.AssignableTo(ret) {
		return nil, &IncompatibleReturnError{Declared: ret, Actual: actual}
	}
	if actual == ret || ret.Kind() == reflect.Interface {
		return v, nil
	}
	// A named type over the same underlying type, such as type Vec []float64.
	return reflect.ValueOf(v).Convert(ret).Interface(), nil
}

func coerceMultiple(values []any, ret reflect.Type) (any, error) {
	if !isArray(ret) {
		return nil, &IncompatibleReturnError{Declared: ret, Reason: fmt.Sprintf("%d values returned for a non-array type", len(values))}
	}
	elem := ret.Elem()
	for _, v := range values {
		if v == nil {
			continue
		}
		if actual := reflect.TypeOf(v); !actual.AssignableTo(elem) {
			return nil, &IncompatibleReturnError{
				Declared: ret,
				Actual:   actual,
				Reason:   fmt.Sprintf("each returned value must be assignable to %s", elem),
			}
		}
	}
	var out reflect.Value
	if ret.Kind() == reflect.Array {
		if ret.Len() != len(values) {
			return nil, &IncompatibleReturnError{Declared: ret, Reason: fmt.Sprintf("%d values returned for array of length %d", len(values), ret.Len())}
		}
		out = reflect.New(ret).Elem()
	} else {
		out = reflect.MakeSlice(ret, len(values), len(values))
	}
	for i, v := range values {
		if v != nil {
			out.Index(i).Set(reflect.ValueOf(v))
		}
	}
	return out.Interface(), nil
}
