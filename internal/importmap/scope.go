package importmap

import "strings"

// ScopeKeys sorts scope prefixes from the most specific to the least specific.
type ScopeKeys []string

func (s ScopeKeys) Len() int {
	return len(s)
}

// Less orders by the number of slashes first, then by the length of the prefix.
func (s ScopeKeys) Less(i, j int) bool {
	a, b := s[i], s[j]
	na, nb := strings.Count(a, "/"), strings.Count(b, "/")
	if na == nb {
		if len(a) == len(b) {
			return a > b
		}
		return len(a) > len(b)
	}
	return na > nb
}

func (s ScopeKeys) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}
