package secrets

import (
	"sort"
	"strings"
)

// DecodeErrorMarker replaces text that has no ASCII content left to report.
const DecodeErrorMarker = "<STRING DECODE ERROR>"

// DecodeASCII returns b with every non-ASCII byte dropped. Non-empty input
// that has no ASCII bytes at all decodes to DecodeErrorMarker.
func DecodeASCII(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < 0x80 {
			sb.WriteByte(c)
		}
	}
	if sb.Len() == 0 && len(b) > 0 {
		return DecodeErrorMarker
	}
	return sb.String()
}

// Keyed is implemented by finding records. Two records with the same key
// are the same finding.
type Keyed interface {
	Key() string
}

// FindingSet is a set of findings deduplicated by structural key. It is
// not safe for concurrent use; workers fill their own sets and Merge them.
type FindingSet[T Keyed] struct {
	items map[string]T
}

// NewFindingSet returns an empty set.
func NewFindingSet[T Keyed]() *FindingSet[T] {
	return &FindingSet[T]{items: make(map[string]T)}
}

// Add inserts f and reports whether it was new.
func (s *FindingSet[T]) Add(f T) bool {
	k := f.Key()
	if _, ok := s.items[k]; ok {
		return false
	}
	s.items[k] = f
	return true
}

// Contains reports whether f is in the set.
func (s *FindingSet[T]) Contains(f T) bool {
	_, ok := s.items[f.Key()]
	return ok
}

// Merge adds every finding of other.
func (s *FindingSet[T]) Merge(other *FindingSet[T]) {
	for k, f := range other.items {
		s.items[k] = f
	}
}

// Len returns the number of findings.
func (s *FindingSet[T]) Len() int { return len(s.items) }

// Sorted returns the findings ordered by key.
func (s *FindingSet[T]) Sorted() []T {
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, len(keys))
	for i, k := range keys {
		out[i] = s.items[k]
	}
	return out
}
