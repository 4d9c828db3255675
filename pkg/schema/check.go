package schema

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// CheckValue verifies that enum constants in raw, at any depth, belong to
// their enum. Other shape mismatches are left to json.Unmarshal. Null values
// are accepted.
func CheckValue(s *Shape, raw json.RawMessage) error {
	if !s.hasEnum(map[string]bool{}) {
		return nil
	}
	c := checker{records: map[string]*Shape{}}
	c.index(s)
	return c.check(s, raw, "")
}

func (s *Shape) hasEnum(seen map[string]bool) bool {
	if s == nil {
		return false
	}
	switch s.Kind {
	case KindEnum:
		return len(s.Values) > 0
	case KindList, KindSet, KindMap:
		return s.Elem.hasEnum(seen)
	case KindRecord:
		if seen[s.Name] {
			return false
		}
		seen[s.Name] = true
		for _, f := range s.Fields {
			if f.Shape.hasEnum(seen) {
				return true
			}
		}
	}
	return false
}

type checker struct {
	// records resolves recursive record references, which carry no fields.
	records map[string]*Shape
}

func (c checker) index(s *Shape) {
	if s == nil {
		return
	}
	switch s.Kind {
	case KindList, KindSet, KindMap:
		c.index(s.Elem)
	case KindRecord:
		if len(s.Fields) == 0 {
			return
		}
		if _, ok := c.records[s.Name]; ok {
			return
		}
		c.records[s.Name] = s
		for _, f := range s.Fields {
			c.index(f.Shape)
		}
	}
}

func (c checker) check(s *Shape, raw json.RawMessage, path string) error {
	if s == nil || isNull(raw) {
		return nil
	}
	switch s.Kind {
	case KindEnum:
		if len(s.Values) == 0 {
			return nil
		}
		var v string
		if err := json.Unmarshal(raw, &v); err != nil || !slices.Contains(s.Values, v) {
			return fmt.Errorf("%s%s is not one of %s", at(path), strings.TrimSpace(string(raw)), strings.Join(s.Values, "|"))
		}

	case KindList, KindSet:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
		for i, item := range items {
			if err := c.check(s.Elem, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}

	case KindMap:
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil
		}
		for k, v := range entries {
			if err := c.check(s.Elem, v, fmt.Sprintf("%s[%q]", path, k)); err != nil {
				return err
			}
		}

	case KindRecord:
		if def, ok := c.records[s.Name]; ok && len(s.Fields) == 0 {
			s = def
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil
		}
		for _, f := range s.Fields {
			v, ok := fields[f.Name]
			if !ok {
				continue
			}
			if err := c.check(f.Shape, v, join(path, f.Name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || strings.TrimSpace(string(raw)) == "null"
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func at(path string) string {
	if path == "" {
		return ""
	}
	return path + ": "
}
