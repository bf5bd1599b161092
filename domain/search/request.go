package search

import (
	"fmt"
	"strings"
)

// DefaultLimit is the page size used when a request sets none.
const DefaultLimit = 20

// Request is the input for Engine.Search. An empty Query matches every
// document. SortBy entries are field names, prefixed with "-" for descending
// order; "_score" and "_id" are accepted as well.
type Request struct {
	Query  string
	SortBy []string
	From   int
	Limit  int
}

// HasSort reports whether the caller supplied a sort criterion.
func (r Request) HasSort() bool { return len(r.SortBy) > 0 }

// PageSize returns Limit, or DefaultLimit when unset.
func (r Request) PageSize() int {
	if r.Limit <= 0 {
		return DefaultLimit
	}
	return r.Limit
}

// Validate checks pagination and sort fields.
func (r Request) Validate() error {
	if r.From < 0 {
		return fmt.Errorf("invalid from %d", r.From)
	}
	for _, s := range r.SortBy {
		if err := validateSortField(s); err != nil {
			return err
		}
	}
	return nil
}

func validateSortField(s string) error {
	name := strings.TrimPrefix(s, "-")
	if name == "" {
		return fmt.Errorf("empty sort field %q", s)
	}
	for _, c := range name {
		if c != '_' && c != '.' && (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return fmt.Errorf("invalid sort field %q", s)
		}
	}
	return nil
}

// SortField splits a sort entry into field name and direction.
func SortField(s string) (name string, descending bool) {
	if strings.HasPrefix(s, "-") {
		return s[1:], true
	}
	return s, false
}

// Hit is one matching document.
type Hit struct {
	ID    string
	Score float64
}

// ResultPage is an ordered page of hits.
type ResultPage struct {
	Total uint64
	Hits  []Hit
}

// IDs returns hit ids in engine order.
func (p ResultPage) IDs() []string {
	ids := make([]string, len(p.Hits))
	for i, h := range p.Hits {
		ids[i] = h.ID
	}
	return ids
}
