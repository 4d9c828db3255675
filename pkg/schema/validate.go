package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/morezero/rpcmesh/pkg/protocol"
)

// Enum is implemented by types that travel as a named constant. Enums are
// always valid and are not descended into.
type Enum interface {
	EnumValues() []string
}

// setType is implemented by Set[T].
type setType interface {
	SetElem() reflect.Type
}

var (
	rawMessageType = reflect.TypeOf(json.RawMessage(nil))
	enumType       = reflect.TypeOf((*Enum)(nil)).Elem()
	setIfaceType   = reflect.TypeOf((*setType)(nil)).Elem()
)

// Validate checks that t can cross the wire and returns its Shape. path names
// the referencing site and prefixes any error, e.g. "Calc.add param 'a'".
// visited holds the record types already under validation; pass nil to start.
// A nil t is the unit shape.
func Validate(path string, t reflect.Type, visited map[reflect.Type]bool) (*Shape, error) {
	if visited == nil {
		visited = map[reflect.Type]bool{}
	}
	if t == nil {
		return &Shape{Kind: KindUnit}, nil
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t == rawMessageType {
		return &Shape{Kind: KindOpaque}, nil
	}
	if t.Implements(enumType) || reflect.PointerTo(t).Implements(enumType) {
		return enumShape(t), nil
	}
	if t.Implements(setIfaceType) {
		elemType := reflect.Zero(t).Interface().(setType).SetElem()
		elem, err := Validate(path, elemType, visited)
		if err != nil {
			return nil, err
		}
		return &Shape{Kind: KindSet, Elem: elem}, nil
	}

	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return &Shape{Kind: KindPrimitive, Name: t.Kind().String()}, nil

	case reflect.Slice, reflect.Array:
		elem, err := Validate(path, t.Elem(), visited)
		if err != nil {
			return nil, err
		}
		return &Shape{Kind: KindList, Elem: elem}, nil

	case reflect.Map:
		key, ok := mapKeyKind(t.Key())
		if !ok {
			return nil, invalid(path, t)
		}
		elem, err := Validate(path, t.Elem(), visited)
		if err != nil {
			return nil, err
		}
		return &Shape{Kind: KindMap, Key: key, Elem: elem}, nil

	case reflect.Struct:
		return validateRecord(path, t, visited)
	}
	return nil, invalid(path, t)
}

func validateRecord(path string, t reflect.Type, visited map[reflect.Type]bool) (*Shape, error) {
	name := t.String()
	if visited[t] {
		return &Shape{Kind: KindRecord, Name: name}, nil
	}
	visited[t] = true

	shape := &Shape{Kind: KindRecord, Name: name}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		fieldName, skip := jsonName(f)
		if skip {
			continue
		}
		fieldPath := fmt.Sprintf("%s -> %s.%s", path, name, f.Name)
		fs, err := Validate(fieldPath, f.Type, visited)
		if err != nil {
			return nil, err
		}
		shape.Fields = append(shape.Fields, Field{Name: fieldName, Shape: fs})
	}
	return shape, nil
}

func enumShape(t reflect.Type) *Shape {
	shape := &Shape{Kind: KindEnum, Name: t.String()}
	if e, ok := reflect.Zero(t).Interface().(Enum); ok {
		shape.Values = e.EnumValues()
	} else if e, ok := reflect.New(t).Interface().(Enum); ok {
		shape.Values = e.EnumValues()
	}
	return shape
}

func mapKeyKind(k reflect.Type) (string, bool) {
	switch k.Kind() {
	case reflect.Int, reflect.Int32:
		return KeyInt, true
	case reflect.Int64:
		return KeyLong, true
	case reflect.String:
		return KeyString, true
	}
	return "", false
}

func jsonName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name, false
	}
	return f.Name, false
}

func invalid(path string, t reflect.Type) error {
	return protocol.NewSchemaError(fmt.Sprintf("%s type '%s' is invalid", path, t.String()))
}
