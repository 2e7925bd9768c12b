// Package witness derives stable identities from Go types. Governance
// packages prove authorship of an intent by presenting a value of a marker
// type they alone can name; the engine compares type identities instead of
// trusting caller-supplied strings.
//
// Keeping the marker type unexported is what makes the proof unforgeable:
// code outside the defining package cannot construct a value of a type it
// cannot name.
package witness

import (
	"reflect"
	"strings"
)

// TypeID is the fully qualified identity of a Go type, in the form
// "<import path>.<type name>".
type TypeID string

// Of returns the TypeID of v's dynamic type. Pointers are dereferenced so
// *T and T share one identity.
func Of(v any) TypeID {
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return fromType(t)
}

// For returns the TypeID of T without needing a value. Like Of, pointer
// types resolve to their element type.
func For[T any]() TypeID {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return fromType(t)
}

func fromType(t reflect.Type) TypeID {
	pkg := t.PkgPath()
	if pkg == "" {
		// Predeclared or unnamed types carry no package. Use the raw
		// type string; such IDs never match a marker type.
		return TypeID(t.String())
	}
	return TypeID(pkg + "." + t.Name())
}

// Module returns the import path portion of the identity, or "" when the
// identity has no package qualifier.
func (id TypeID) Module() string {
	i := strings.LastIndex(string(id), ".")
	if i < 0 {
		return ""
	}
	return string(id)[:i]
}

// Name returns the bare type name portion of the identity.
func (id TypeID) Name() string {
	i := strings.LastIndex(string(id), ".")
	if i < 0 {
		return string(id)
	}
	return string(id)[i+1:]
}

// Matches reports whether the dynamic type of v carries this identity.
func (id TypeID) Matches(v any) bool {
	return Of(v) == id
}
