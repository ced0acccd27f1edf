// Package orderedset provides an insertion-ordered set.
package orderedset

// Set keeps the first occurrence of each value in insertion order.
// The zero value is not usable; call New.
type Set[T comparable] struct {
	items []T
	seen  map[T]struct{}
}

// New returns an empty set with room for capacity values.
func New[T comparable](capacity int) *Set[T] {
	return &Set[T]{
		items: make([]T, 0, capacity),
		seen:  make(map[T]struct{}, capacity),
	}
}

// Of builds a set from values, dropping later duplicates.
func Of[T comparable](values ...T) *Set[T] {
	s := New[T](len(values))
	for _, v := range values {
		s.Add(v)
	}
	return s
}

// Add appends v unless already present and reports whether it was added.
func (s *Set[T]) Add(v T) bool {
	if _, ok := s.seen[v]; ok {
		return false
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

// AddNonZero is Add that skips the zero value of T.
func (s *Set[T]) AddNonZero(v T) bool {
	var zero T
	if v == zero {
		return false
	}
	return s.Add(v)
}

func (s *Set[T]) Has(v T) bool {
	_, ok := s.seen[v]
	return ok
}

func (s *Set[T]) Len() int {
	return len(s.items)
}

// Items returns the values in insertion order. The result is never nil so it
// encodes as an empty JSON array.
func (s *Set[T]) Items() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}
