package domain

import (
	"cmp"
	"slices"
)

// Set — множество идентификаторов.
type Set[K comparable] map[K]struct{}

// NewSet создаёт множество из элементов.
func NewSet[K comparable](items ...K) Set[K] {
	s := make(Set[K], len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

// Add добавляет элемент.
func (s Set[K]) Add(item K) {
	s[item] = struct{}{}
}

// Has проверяет наличие элемента.
func (s Set[K]) Has(item K) bool {
	_, ok := s[item]
	return ok
}

// Len возвращает количество элементов.
func (s Set[K]) Len() int {
	return len(s)
}

// ContainsAll проверяет, что все items входят в множество.
func (s Set[K]) ContainsAll(items ...K) bool {
	for _, item := range items {
		if !s.Has(item) {
			return false
		}
	}
	return true
}

// Clone возвращает независимую копию.
func (s Set[K]) Clone() Set[K] {
	out := make(Set[K], len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Sorted возвращает элементы множества в отсортированном порядке.
func Sorted[K cmp.Ordered](s Set[K]) []K {
	out := make([]K, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
