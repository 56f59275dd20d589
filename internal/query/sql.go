package query

import (
	"fmt"
	"strings"
)

// SQLParts is the pipeline rendered for Postgres. Where and OrderBy are
// fragments without their keywords; Args bind the placeholders used in
// Where, numbered from the first index passed to Build.
type SQLParts struct {
	Where   string
	OrderBy string
	Limit   int
	Offset  int
	Args    []any
}

// Build renders p against the schema's columns. Placeholders start at
// firstArg so the caller can prepend its own conditions.
func (s Schema) Build(p Params, firstArg int) SQLParts {
	p = p.Normalize()
	parts := SQLParts{Limit: p.PageSize, Offset: p.Offset()}

	textCol := s.column(s.TextField)
	if p.Search != "" {
		parts.Where = fmt.Sprintf("strpos(lower(%s), lower($%d)) > 0", textCol, firstArg)
		parts.Args = append(parts.Args, p.Search)
	}

	ord := s.Order(p.SortBy)
	col := s.column(ord.Field)
	if ord.Field == s.TextField {
		col = "lower(" + col + ")"
	}
	dir := "asc"
	if ord.Desc {
		dir = "desc"
	}
	idCol := s.IDColumn
	if idCol == "" {
		idCol = "id"
	}
	parts.OrderBy = fmt.Sprintf("%s %s, %s asc", col, dir, idCol)
	return parts
}

func (s Schema) column(field string) string {
	if col, ok := s.Fields[field]; ok && col != "" {
		return col
	}
	return strings.ToLower(field)
}
