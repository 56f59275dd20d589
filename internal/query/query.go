// Package query implements the filter, sort, count and slice pipeline shared
// by every list endpoint, both over in-memory slices and as SQL fragments.
package query

import (
	"math"
	"sort"
	"strings"
)

const (
	DefaultPageSize = 5
	MaxPageSize     = 100
)

// Params are the raw list inputs of a request.
type Params struct {
	Search   string
	SortBy   string
	Page     int
	PageSize int
}

// Normalize clamps page and page size into a valid window.
func (p Params) Normalize() Params {
	p.Search = strings.TrimSpace(p.Search)
	p.SortBy = strings.TrimSpace(p.SortBy)
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	// Offset must not overflow; such a page is past the end of any set.
	if maxPage := math.MaxInt / p.PageSize; p.Page > maxPage {
		p.Page = maxPage
	}
	return p
}

// Offset is the number of items skipped before the page. Params must be
// normalized.
func (p Params) Offset() int { return (p.Page - 1) * p.PageSize }

// Page is one slice of a filtered, sorted set. Total counts the filtered set.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// Order is a resolved sort instruction.
type Order struct {
	Field string
	Desc  bool
}

// Schema declares the searchable text field and the sortable fields of a
// list, each mapped to its SQL column.
type Schema struct {
	TextField string
	Fields    map[string]string
	IDColumn  string
}

// Order resolves a sort key of the form <field>_asc or <field>_desc.
// Unknown fields and malformed keys fall back to ascending on TextField.
func (s Schema) Order(key string) Order {
	def := Order{Field: s.TextField}
	idx := strings.LastIndex(key, "_")
	if idx <= 0 {
		return def
	}
	field, dir := key[:idx], strings.ToLower(key[idx+1:])
	if _, ok := s.Fields[field]; !ok {
		return def
	}
	switch dir {
	case "asc":
		return Order{Field: field}
	case "desc":
		return Order{Field: field, Desc: true}
	}
	return def
}

// Accessor exposes the fields of T to the in-memory pipeline.
type Accessor[T any] struct {
	ID   func(T) string
	Text func(T) string
	// Compare orders a and b by field; it returns <0, 0 or >0.
	Compare func(a, b T, field string) int
}

// Run applies the pipeline to items. The input slice is not modified.
func Run[T any](s Schema, items []T, p Params, acc Accessor[T]) Page[T] {
	p = p.Normalize()

	filtered := make([]T, 0, len(items))
	needle := strings.ToLower(p.Search)
	for _, it := range items {
		if needle == "" || strings.Contains(strings.ToLower(acc.Text(it)), needle) {
			filtered = append(filtered, it)
		}
	}

	ord := s.Order(p.SortBy)
	sort.SliceStable(filtered, func(i, j int) bool {
		c := acc.Compare(filtered[i], filtered[j], ord.Field)
		if ord.Desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		return acc.ID(filtered[i]) < acc.ID(filtered[j])
	})

	total := len(filtered)
	start := p.Offset()
	if start > total {
		start = total
	}
	end := start + p.PageSize
	if end > total {
		end = total
	}
	return Page[T]{Items: filtered[start:end], Total: total}
}

// CompareText orders strings case-insensitively. Ties are left to the ID
// tiebreak, matching the lower(col), id ordering of Build.
func CompareText(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}
