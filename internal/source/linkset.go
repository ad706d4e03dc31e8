package source

import "sort"

// LinkSet is an unordered set of tile URLs.
type LinkSet map[string]struct{}

// NewLinkSet builds a set from links, dropping duplicates and empty strings.
func NewLinkSet(links ...string) LinkSet {
	s := make(LinkSet, len(links))
	for _, l := range links {
		s.Add(l)
	}
	return s
}

// Add inserts a link.
func (s LinkSet) Add(link string) {
	if link == "" {
		return
	}
	s[link] = struct{}{}
}

// Has reports whether link is in the set.
func (s LinkSet) Has(link string) bool {
	_, ok := s[link]
	return ok
}

// Len returns the number of links.
func (s LinkSet) Len() int { return len(s) }

// Sorted returns the links in lexical order, for display only.
func (s LinkSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
