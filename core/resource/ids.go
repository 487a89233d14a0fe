package resource

import (
	"fmt"
	"slices"
	"strings"
)

// NonFungibleLocalID names one unit of a non-fungible resource inside its
// resource manager, e.g. "#1#" or "<ticket_7>".
type NonFungibleLocalID string

// IntegerLocalID formats the integer id form.
func IntegerLocalID(n uint64) NonFungibleLocalID {
	return NonFungibleLocalID(fmt.Sprintf("#%d#", n))
}

// StringLocalID formats the string id form.
func StringLocalID(s string) NonFungibleLocalID {
	return NonFungibleLocalID("<" + s + ">")
}

// Validate checks the id is one of the supported textual forms.
func (id NonFungibleLocalID) Validate() error {
	s := string(id)
	switch {
	case len(s) < 3 || len(s) > 66:
		return fmt.Errorf("non-fungible id: invalid length %d", len(s))
	case strings.HasPrefix(s, "#") && strings.HasSuffix(s, "#"),
		strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">"),
		strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"),
		strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"):
		return nil
	default:
		return fmt.Errorf("non-fungible id: unsupported form %q", s)
	}
}

// IDSet is a sorted, duplicate-free list of local ids.
type IDSet []NonFungibleLocalID

// NewIDSet sorts and de-duplicates ids.
func NewIDSet(ids ...NonFungibleLocalID) IDSet {
	out := append(IDSet(nil), ids...)
	slices.Sort(out)
	return IDSet(slices.Compact([]NonFungibleLocalID(out)))
}

func (s IDSet) Len() int { return len(s) }

// Contains reports membership.
func (s IDSet) Contains(id NonFungibleLocalID) bool {
	_, found := slices.BinarySearch(s, id)
	return found
}

// ContainsAll reports whether every id of other is present.
func (s IDSet) ContainsAll(other IDSet) bool {
	for _, id := range other {
		if !s.Contains(id) {
			return false
		}
	}
	return true
}

// Union returns s ∪ other.
func (s IDSet) Union(other IDSet) IDSet {
	return NewIDSet(append(append([]NonFungibleLocalID(nil), s...), other...)...)
}

// Difference returns s minus other.
func (s IDSet) Difference(other IDSet) IDSet {
	out := IDSet{}
	for _, id := range s {
		if !other.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}
