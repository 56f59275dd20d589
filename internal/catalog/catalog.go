// Package catalog serves the CRUD and list surface shared by every catalog
// entity. All kinds share one item shape and one query schema.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"pagehall.org/internal/auth"
	"pagehall.org/internal/query"
)

var (
	ErrNotFound     = errors.New("catalog: not found")
	ErrInvalidInput = errors.New("catalog: invalid input")
)

// Kind is a catalog entity type.
type Kind string

const (
	KindBook      Kind = "Book"
	KindCategory  Kind = "Category"
	KindAuthor    Kind = "Author"
	KindPublisher Kind = "Publisher"
	KindVoucher   Kind = "Voucher"
)

// Kinds lists every catalog kind.
var Kinds = []Kind{KindBook, KindCategory, KindAuthor, KindPublisher, KindVoucher}

var kindEntities = map[Kind]auth.Entity{
	KindBook:      auth.EntityBook,
	KindCategory:  auth.EntityCategory,
	KindAuthor:    auth.EntityAuthor,
	KindPublisher: auth.EntityPublisher,
	KindVoucher:   auth.EntityVoucher,
}

// Entity is the permission entity guarding k.
func (k Kind) Entity() auth.Entity { return kindEntities[k] }

// Valid reports whether k is a catalog kind.
func (k Kind) Valid() bool {
	_, ok := kindEntities[k]
	return ok
}

// ParseKind resolves a case-insensitive kind name.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if strings.EqualFold(string(k), strings.TrimSpace(s)) {
			return k, true
		}
	}
	return "", false
}

// Item is a catalog entry. A book's title is its Name.
type Item struct {
	ID          uuid.UUID         `json:"id"`
	Kind        Kind              `json:"kind"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	CreateDate  time.Time         `json:"createDate"`
	UpdateDate  time.Time         `json:"updateDate"`
}

// Store persists catalog items.
type Store interface {
	CreateItem(ctx context.Context, it *Item) error
	// UpdateItem reports false when no item of that kind and id exists.
	UpdateItem(ctx context.Context, it *Item) (bool, error)
	// DeleteItem reports false when nothing was deleted.
	DeleteItem(ctx context.Context, kind Kind, id uuid.UUID) (bool, error)
	GetItem(ctx context.Context, kind Kind, id uuid.UUID) (*Item, error)
	GetItemByName(ctx context.Context, kind Kind, name string) (*Item, error)
	ListItems(ctx context.Context, kind Kind, p query.Params) (query.Page[Item], error)
}

// Schema is the list schema of every kind: search on name, sort on name,
// updateDate or createDate.
var Schema = query.Schema{
	TextField: "name",
	Fields: map[string]string{
		"name":       "name",
		"updateDate": "update_date",
		"createDate": "create_date",
	},
	IDColumn: "id",
}

// Accessor exposes Item fields to query.Run.
var Accessor = query.Accessor[Item]{
	ID:   func(it Item) string { return it.ID.String() },
	Text: func(it Item) string { return it.Name },
	Compare: func(a, b Item, field string) int {
		switch field {
		case "updateDate":
			return a.UpdateDate.Compare(b.UpdateDate)
		case "createDate":
			return a.CreateDate.Compare(b.CreateDate)
		default:
			return query.CompareText(a.Name, b.Name)
		}
	},
}
