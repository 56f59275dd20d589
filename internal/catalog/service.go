package catalog

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"pagehall.org/internal/audit"
	"pagehall.org/internal/ids"
	"pagehall.org/internal/query"
)

const (
	maxNameLen    = 256
	maxAttributes = 32
)

// Input carries the writable fields of an item.
type Input struct {
	Name        string
	Description string
	Attributes  map[string]string
}

// Service validates input and delegates to the store.
type Service struct {
	store    Store
	now      func() time.Time
	sanitize *bluemonday.Policy
}

// NewService constructs Service. A nil clock means time.Now.
func NewService(store Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, now: now, sanitize: bluemonday.StrictPolicy()}
}

// plain strips markup and returns the text unescaped, so "Tom & Jerry" is
// stored and matched as typed.
func (s *Service) plain(v string) string {
	return html.UnescapeString(s.sanitize.Sanitize(v))
}

func (s *Service) clean(in Input) (Input, error) {
	out := Input{
		Name:        strings.TrimSpace(s.plain(in.Name)),
		Description: strings.TrimSpace(s.plain(in.Description)),
	}
	if out.Name == "" {
		return Input{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(out.Name) > maxNameLen {
		return Input{}, fmt.Errorf("%w: name exceeds %d bytes", ErrInvalidInput, maxNameLen)
	}
	if len(in.Attributes) > maxAttributes {
		return Input{}, fmt.Errorf("%w: at most %d attributes", ErrInvalidInput, maxAttributes)
	}
	if len(in.Attributes) > 0 {
		out.Attributes = make(map[string]string, len(in.Attributes))
		for k, v := range in.Attributes {
			k = strings.TrimSpace(k)
			if k == "" {
				return Input{}, fmt.Errorf("%w: empty attribute name", ErrInvalidInput)
			}
			out.Attributes[k] = s.plain(v)
		}
	}
	return out, nil
}

// Create stores a new item of kind.
func (s *Service) Create(ctx context.Context, kind Kind, in Input) (*Item, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, kind)
	}
	in, err := s.clean(in)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	it := &Item{
		ID:          ids.NewEntity(),
		Kind:        kind,
		Name:        in.Name,
		Description: in.Description,
		Attributes:  in.Attributes,
		CreateDate:  now,
		UpdateDate:  now,
	}
	if err := s.store.CreateItem(ctx, it); err != nil {
		return nil, fmt.Errorf("create %s: %w", strings.ToLower(string(kind)), err)
	}
	_ = audit.LogEvent(ctx, "catalog.created", map[string]any{"kind": string(kind), "id": it.ID.String()})
	return it, nil
}

// Update overwrites the writable fields of an item. Updating an id that
// does not exist succeeds without effect.
func (s *Service) Update(ctx context.Context, kind Kind, id uuid.UUID, in Input) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, kind)
	}
	in, err := s.clean(in)
	if err != nil {
		return err
	}
	it := &Item{
		ID:          id,
		Kind:        kind,
		Name:        in.Name,
		Description: in.Description,
		Attributes:  in.Attributes,
		UpdateDate:  s.now().UTC(),
	}
	updated, err := s.store.UpdateItem(ctx, it)
	if err != nil {
		return fmt.Errorf("update %s: %w", strings.ToLower(string(kind)), err)
	}
	if updated {
		_ = audit.LogEvent(ctx, "catalog.updated", map[string]any{"kind": string(kind), "id": id.String()})
	}
	return nil
}

// Delete removes an item. Deleting a missing id is a success.
func (s *Service) Delete(ctx context.Context, kind Kind, id uuid.UUID) error {
	deleted, err := s.store.DeleteItem(ctx, kind, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", strings.ToLower(string(kind)), err)
	}
	if deleted {
		_ = audit.LogEvent(ctx, "catalog.deleted", map[string]any{"kind": string(kind), "id": id.String()})
	}
	return nil
}

// Get returns one item by id.
func (s *Service) Get(ctx context.Context, kind Kind, id uuid.UUID) (*Item, error) {
	return s.store.GetItem(ctx, kind, id)
}

// GetByName returns the first item of kind whose name matches exactly,
// ignoring case.
func (s *Service) GetByName(ctx context.Context, kind Kind, name string) (*Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNotFound
	}
	return s.store.GetItemByName(ctx, kind, name)
}

// List runs the query pipeline over items of kind.
func (s *Service) List(ctx context.Context, kind Kind, p query.Params) (query.Page[Item], error) {
	return s.store.ListItems(ctx, kind, p.Normalize())
}
