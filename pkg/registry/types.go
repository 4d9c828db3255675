// Package registry holds the exposed classes and methods of an rpcmesh node.
package registry

import (
	"reflect"

	"github.com/morezero/rpcmesh/pkg/callchain"
	"github.com/morezero/rpcmesh/pkg/schema"
)

// Handler implements an exposed method. The returned value is serialized
// under "return".
type Handler func(call *callchain.Call, args Args) (any, error)

// Export marks a class or method as externally addressable. An empty Name
// falls back to the internal identifier.
type Export struct {
	Name string
	Desc string
}

// Class describes a handler class to register.
type Class struct {
	// Type is the internal qualified identifier, e.g. "demo.Calc".
	Type string
	// Export is required; a class without it cannot be registered.
	Export *Export
	// Auth is the default auth requirement of its methods; nil means required.
	Auth    *bool
	Methods []Method
}

// Method describes one method of a Class. Only methods carrying an Export
// are exposed.
type Method struct {
	Name    string
	Export  *Export
	Auth    *bool
	Params  []Param
	Result  Result
	Handler Handler
}

// Param declares a named parameter. Desc is mandatory.
type Param struct {
	Name     string
	Desc     string
	Type     reflect.Type
	Optional bool
}

// Result declares the return type. A nil Type is the unit shape.
type Result struct {
	Type reflect.Type
	Desc string
}

// ExposedMethod is the registered, immutable form of a Method.
type ExposedMethod struct {
	ClassName    string
	ClassType    string
	Name         string
	MethodRef    string
	Desc         string
	RequiresAuth bool
	Params       []ExposedParam
	Return       *schema.Shape
	ReturnDesc   string
	Handler      Handler
}

// ExposedParam is a validated parameter.
type ExposedParam struct {
	Param
	Shape *schema.Shape
}

// ClassInfo summarizes one exposed class name.
type ClassInfo struct {
	Name  string
	Desc  string
	Types []string
}

// Args holds bound parameter values by name. An explicit JSON null is
// present with a nil value; an omitted optional parameter is absent.
type Args map[string]any

// P declares a required parameter of type T.
func P[T any](name, desc string) Param {
	return Param{Name: name, Desc: desc, Type: typeOf[T]()}
}

// Opt declares an optional parameter of type T.
func Opt[T any](name, desc string) Param {
	return Param{Name: name, Desc: desc, Type: typeOf[T](), Optional: true}
}

// Returns declares a return type T.
func Returns[T any](desc string) Result {
	return Result{Type: typeOf[T](), Desc: desc}
}

// Need returns a pointer for Class.Auth and Method.Auth.
func Need(auth bool) *bool {
	return &auth
}

// Arg returns args[name] as T. ok is false when the parameter is absent,
// null or of another type.
func Arg[T any](args Args, name string) (T, bool) {
	var zero T
	v, present := args[name]
	if !present || v == nil {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// ArgOr returns args[name] as T, or def when absent or null.
func ArgOr[T any](args Args, name string, def T) T {
	if v, ok := Arg[T](args, name); ok {
		return v
	}
	return def
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
