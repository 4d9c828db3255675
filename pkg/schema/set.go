package schema

import (
	"encoding/json"
	"reflect"
)

// Set is an unordered collection of distinct values. It travels as a JSON array.
type Set[T comparable] map[T]struct{}

// NewSet builds a Set from items.
func NewSet[T comparable](items ...T) Set[T] {
	s := make(Set[T], len(items))
	for _, v := range items {
		s[v] = struct{}{}
	}
	return s
}

// Add inserts v.
func (s Set[T]) Add(v T) {
	s[v] = struct{}{}
}

// Has reports whether v is in the set.
func (s Set[T]) Has(v T) bool {
	_, ok := s[v]
	return ok
}

// Items returns the members in unspecified order.
func (s Set[T]) Items() []T {
	out := make([]T, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	return out
}

// SetElem returns the element type.
func (Set[T]) SetElem() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (s Set[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Items())
}

func (s *Set[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = NewSet(items...)
	return nil
}
