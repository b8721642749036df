package rpc

import (
	"fmt"
	"reflect"
)

// mustBeSerializable walks v's type looking for shapes that cannot survive
// a JSON round trip: funcs, channels, and unsafe.Pointer. It is the Go
// analogue of the TypeScript compile-time "serializable" type filter from
// §4.4/§9 — since Go has no type-level predicates, the check runs once at
// registration time and panics (a programmer error caught immediately, not
// a per-call cost).
func mustBeSerializable(method string, v interface{}) {
	t := reflect.TypeOf(v)
	if t == nil {
		return // nil interface / untyped nil is fine, treated as JSON null
	}
	if bad, path := findUnserializable(t, map[reflect.Type]bool{}, ""); bad {
		panic(fmt.Sprintf("rpc: method %q has non-serializable type at %s (%s)", method, path, t))
	}
}

func findUnserializable(t reflect.Type, seen map[reflect.Type]bool, path string) (bool, string) {
	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return true, path
	case reflect.Ptr:
		return findUnserializable(t.Elem(), seen, path)
	case reflect.Slice, reflect.Array:
		return findUnserializable(t.Elem(), seen, path+"[]")
	case reflect.Map:
		if bad, p := findUnserializable(t.Key(), seen, path+".key"); bad {
			return true, p
		}
		return findUnserializable(t.Elem(), seen, path+".value")
	case reflect.Struct:
		if seen[t] {
			return false, ""
		}
		seen[t] = true
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			if bad, p := findUnserializable(f.Type, seen, path+"."+f.Name); bad {
				return true, p
			}
		}
		return false, ""
	case reflect.Interface:
		// `unknown`/`any` is the declared escape hatch (§4.4) — accepted
		// without recursing, since its concrete shape is only known at
		// call time and is validated by encoding/json at the wire boundary.
		return false, ""
	default:
		return false, ""
	}
}
