package types

import (
	"errors"
	"reflect"
)

// ErrCyclicParams is returned when a parameter map contains a reference
// cycle. Cyclic parameters cannot be serialized for hashing, diffing, or
// inverse generation and are rejected before any mutation.
var ErrCyclicParams = errors.New("parameter map contains a reference cycle")

// AcyclicParams verifies that the parameter map contains no reference
// cycles. Sharing the same map or slice from two places is fine; only a true
// cycle (a container reachable from itself) fails.
func AcyclicParams(params map[string]interface{}) error {
	if params == nil {
		return nil
	}
	return walkParams(reflect.ValueOf(params), make(map[uintptr]struct{}))
}

// walkParams does a depth-first traversal tracking container pointers on the
// current path.
func walkParams(v reflect.Value, path map[uintptr]struct{}) error {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		if v.Kind() == reflect.Pointer {
			ptr := v.Pointer()
			if _, on := path[ptr]; on {
				return ErrCyclicParams
			}
			path[ptr] = struct{}{}
			defer delete(path, ptr)
		}
		return walkParams(v.Elem(), path)
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if _, on := path[ptr]; on {
			return ErrCyclicParams
		}
		path[ptr] = struct{}{}
		defer delete(path, ptr)
		iter := v.MapRange()
		for iter.Next() {
			if err := walkParams(iter.Value(), path); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if _, on := path[ptr]; on {
			return ErrCyclicParams
		}
		path[ptr] = struct{}{}
		defer delete(path, ptr)
		for i := 0; i < v.Len(); i++ {
			if err := walkParams(v.Index(i), path); err != nil {
				return err
			}
		}
		return nil
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := walkParams(v.Index(i), path); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			if err := walkParams(v.Field(i), path); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// CloneParams deep-copies a parameter map. The input must be acyclic; run
// AcyclicParams first on untrusted data.
func CloneParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = cloneParamValue(v)
	}
	return out
}

func cloneParamValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return CloneParams(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneParamValue(e)
		}
		return out
	}
	// Typed containers (map[string]string, []int, ...) would otherwise be
	// returned by reference and alias the caller's memory.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Pointer:
		return cloneReflect(rv).Interface()
	default:
		return v
	}
}

func cloneReflect(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		return cloneReflect(v.Elem())
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneReflect(iter.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneReflect(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneReflect(v.Index(i)))
		}
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(cloneReflect(v.Elem()))
		return out
	default:
		return v
	}
}
