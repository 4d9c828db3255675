package schema

import "strings"

// JSONSchema renders the shape as a JSON Schema fragment for OpenAPI output.
// Records already expanded higher up are emitted as bare objects.
func (s *Shape) JSONSchema() map[string]any {
	return s.jsonSchema(map[string]bool{})
}

func (s *Shape) jsonSchema(seen map[string]bool) map[string]any {
	if s == nil {
		return map[string]any{"type": "null"}
	}
	switch s.Kind {
	case KindUnit:
		return map[string]any{"type": "null"}
	case KindPrimitive:
		return primitiveSchema(s.Name)
	case KindList:
		return map[string]any{"type": "array", "items": s.Elem.jsonSchema(seen)}
	case KindSet:
		return map[string]any{"type": "array", "items": s.Elem.jsonSchema(seen), "uniqueItems": true}
	case KindMap:
		out := map[string]any{"type": "object", "additionalProperties": s.Elem.jsonSchema(seen)}
		if s.Key != KeyString {
			out["propertyNames"] = map[string]any{"pattern": "^-?[0-9]+$"}
		}
		return out
	case KindEnum:
		out := map[string]any{"type": "string", "title": s.Name}
		if len(s.Values) > 0 {
			out["enum"] = append([]string(nil), s.Values...)
		}
		return out
	case KindRecord:
		out := map[string]any{"type": "object", "title": s.Name}
		if len(s.Fields) == 0 || seen[s.Name] {
			return out
		}
		seen[s.Name] = true
		props := make(map[string]any, len(s.Fields))
		for _, f := range s.Fields {
			props[f.Name] = f.Shape.jsonSchema(seen)
		}
		delete(seen, s.Name)
		out["properties"] = props
		return out
	}
	return map[string]any{}
}

func primitiveSchema(name string) map[string]any {
	switch {
	case name == "bool":
		return map[string]any{"type": "boolean"}
	case name == "string":
		return map[string]any{"type": "string"}
	case strings.HasPrefix(name, "float"):
		return map[string]any{"type": "number", "format": name}
	case name == "int64" || name == "uint64":
		return map[string]any{"type": "integer", "format": "int64"}
	case strings.HasPrefix(name, "int") || strings.HasPrefix(name, "uint"):
		return map[string]any{"type": "integer", "format": "int32"}
	}
	return map[string]any{}
}
