// Package schema checks that Go types used by exposed methods can cross the
// JSON wire and describes them as Shapes.
package schema

import (
	"fmt"
	"strings"
)

// Kind tags the variant of a Shape.
type Kind int

const (
	KindUnit Kind = iota
	KindPrimitive
	KindList
	KindSet
	KindMap
	KindOpaque
	KindEnum
	KindRecord
)

var kindNames = map[Kind]string{
	KindUnit:      "unit",
	KindPrimitive: "primitive",
	KindList:      "list",
	KindSet:       "set",
	KindMap:       "map",
	KindOpaque:    "json",
	KindEnum:      "enum",
	KindRecord:    "record",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Map key kinds.
const (
	KeyInt    = "int"
	KeyLong   = "long"
	KeyString = "string"
)

// Shape is the wire description of a validated type.
type Shape struct {
	Kind Kind
	// Name is the primitive kind, the enum name or the record name.
	Name string
	// Elem is the element of a list or set, or the value of a map.
	Elem *Shape
	// Key is the map key kind.
	Key string
	// Fields lists record fields in declaration order. A record already
	// being validated higher up is referenced by name only and has no fields.
	Fields []Field
	// Values lists the enum constants, when the enum reports them.
	Values []string
}

// Field is a named record member.
type Field struct {
	Name  string
	Shape *Shape
}

// String renders a compact type expression, e.g. "map<string,list<int>>".
func (s *Shape) String() string {
	if s == nil {
		return "unit"
	}
	switch s.Kind {
	case KindUnit:
		return "unit"
	case KindPrimitive, KindEnum, KindRecord:
		return s.Name
	case KindList:
		return "list<" + s.Elem.String() + ">"
	case KindSet:
		return "set<" + s.Elem.String() + ">"
	case KindMap:
		return "map<" + s.Key + "," + s.Elem.String() + ">"
	case KindOpaque:
		return "json"
	}
	return s.Kind.String()
}

// Describe renders the shape including record fields and enum values.
func (s *Shape) Describe() string {
	var b strings.Builder
	s.describe(&b, map[string]bool{})
	return b.String()
}

func (s *Shape) describe(b *strings.Builder, seen map[string]bool) {
	if s == nil {
		b.WriteString("unit")
		return
	}
	switch s.Kind {
	case KindRecord:
		b.WriteString(s.Name)
		if len(s.Fields) == 0 || seen[s.Name] {
			return
		}
		seen[s.Name] = true
		b.WriteString("{")
		for i, f := range s.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteString(": ")
			f.Shape.describe(b, seen)
		}
		b.WriteString("}")
	case KindEnum:
		b.WriteString(s.Name)
		if len(s.Values) > 0 {
			b.WriteString("(" + strings.Join(s.Values, "|") + ")")
		}
	case KindList, KindSet:
		b.WriteString(s.Kind.String() + "<")
		s.Elem.describe(b, seen)
		b.WriteString(">")
	case KindMap:
		b.WriteString("map<" + s.Key + ",")
		s.Elem.describe(b, seen)
		b.WriteString(">")
	default:
		b.WriteString(s.String())
	}
}
