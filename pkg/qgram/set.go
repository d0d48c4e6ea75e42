package qgram

import "sort"

// Set is a set of q-gram strings. The zero value is not usable; create
// sets with NewSet or make(Set).
type Set map[string]struct{}

// NewSet creates a Set containing the given q-grams.
func NewSet(grams ...string) Set {
	s := make(Set, len(grams))
	for _, g := range grams {
		s[g] = struct{}{}
	}
	return s
}

// Add inserts a q-gram into the set.
func (s Set) Add(gram string) {
	s[gram] = struct{}{}
}

// Remove deletes a q-gram from the set. Removing an absent q-gram is a no-op.
func (s Set) Remove(gram string) {
	delete(s, gram)
}

// Contains reports whether the set holds the given q-gram.
func (s Set) Contains(gram string) bool {
	_, ok := s[gram]
	return ok
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	c := make(Set, len(s))
	for g := range s {
		c[g] = struct{}{}
	}
	return c
}

// Union merges the other set into a new set containing both sets' q-grams.
func (s Set) Union(other Set) Set {
	u := make(Set, len(s)+len(other))
	for g := range s {
		u[g] = struct{}{}
	}
	for g := range other {
		u[g] = struct{}{}
	}
	return u
}

// Intersect returns the q-grams present in both sets.
func (s Set) Intersect(other Set) Set {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	i := make(Set)
	for g := range small {
		if _, ok := large[g]; ok {
			i[g] = struct{}{}
		}
	}
	return i
}

// CountCommon returns the number of q-grams present in both sets without
// allocating an intersection set.
func (s Set) CountCommon(other Set) int {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	n := 0
	for g := range small {
		if _, ok := large[g]; ok {
			n++
		}
	}
	return n
}

// Sorted returns the q-grams in lexicographic order. Iteration over a Go
// map is unordered, so every place that needs a reproducible walk over a
// set goes through Sorted.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for g := range s {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// DiceSim calculates the Dice similarity between two q-gram sets:
//
//	Dice(A, B) = 2 x |A ∩ B| / (|A| + |B|)
//
// The result is always in [0, 1]. Two empty sets have a similarity of 0.
func DiceSim(a, b Set) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	return (2.0 * float64(a.CountCommon(b))) / float64(len(a)+len(b))
}
