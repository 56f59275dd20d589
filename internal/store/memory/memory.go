// Package memory is a process-local implementation of every store
// interface. It backs development mode and service-level tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pagehall.org/internal/auth"
	"pagehall.org/internal/catalog"
	"pagehall.org/internal/delivery"
	"pagehall.org/internal/query"
)

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	users       map[uuid.UUID]auth.User
	userNames   map[string]uuid.UUID
	refresh     map[string]auth.RefreshToken
	events      map[string]delivery.Event
	records     map[string]delivery.Record
	recordOrder []string
	items       map[uuid.UUID]catalog.Item
}

var (
	_ auth.UserStore         = (*Store)(nil)
	_ auth.RefreshTokenStore = (*Store)(nil)
	_ delivery.Store         = (*Store)(nil)
	_ catalog.Store          = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:     make(map[uuid.UUID]auth.User),
		userNames: make(map[string]uuid.UUID),
		refresh:   make(map[string]auth.RefreshToken),
		events:    make(map[string]delivery.Event),
		records:   make(map[string]delivery.Record),
		items:     make(map[uuid.UUID]catalog.Item),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func nameKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// CreateUser implements auth.UserStore.
func (s *Store) CreateUser(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nameKey(u.UserName)
	if _, exists := s.userNames[key]; exists {
		return auth.ErrUserExists
	}
	s.users[u.ID] = *u
	s.userNames[key] = u.ID
	return nil
}

// FindUser implements auth.UserStore.
func (s *Store) FindUser(_ context.Context, id uuid.UUID) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &u, nil
}

// FindUserByName implements auth.UserStore.
func (s *Store) FindUserByName(_ context.Context, name string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.userNames[nameKey(name)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

// CreateRefreshToken implements auth.RefreshTokenStore.
func (s *Store) CreateRefreshToken(_ context.Context, tok *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[tok.ID] = *tok
	return nil
}

// FindRefreshToken implements auth.RefreshTokenStore.
func (s *Store) FindRefreshToken(_ context.Context, id string) (*auth.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.refresh[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &tok, nil
}

// RotateRefreshToken implements auth.RefreshTokenStore. The used flag is
// checked and flipped under the store lock.
func (s *Store) RotateRefreshToken(_ context.Context, usedID string, usedAt time.Time, next *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.refresh[usedID]
	if !ok || cur.Used {
		return auth.ErrAlreadyUsed
	}
	at := usedAt.UTC()
	cur.Used = true
	cur.UsedAt = &at
	s.refresh[usedID] = cur
	s.refresh[next.ID] = *next
	return nil
}

// DeleteRefreshToken implements auth.RefreshTokenStore.
func (s *Store) DeleteRefreshToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refresh, id)
	return nil
}

// DeleteRefreshTokensByUser implements auth.RefreshTokenStore.
func (s *Store) DeleteRefreshTokensByUser(_ context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, tok := range s.refresh {
		if tok.UserID == userID {
			delete(s.refresh, id)
			n++
		}
	}
	return n, nil
}

type memTx struct {
	events  []delivery.Event
	records []delivery.Record
}

func (t *memTx) InsertEvent(_ context.Context, ev *delivery.Event) error {
	t.events = append(t.events, *ev)
	return nil
}

func (t *memTx) InsertRecords(_ context.Context, recs []delivery.Record) error {
	seen := make(map[string]struct{})
	for _, r := range t.records {
		seen[r.EventID+"/"+r.RecipientID.String()] = struct{}{}
	}
	for _, r := range recs {
		key := r.EventID + "/" + r.RecipientID.String()
		if _, dup := seen[key]; dup {
			return delivery.ErrInvalidRecipients
		}
		seen[key] = struct{}{}
	}
	t.records = append(t.records, recs...)
	return nil
}

// InTx implements delivery.Store. Writes are staged and applied only when
// fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx delivery.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, ev := range tx.events {
		s.events[ev.ID] = ev
	}
	for _, r := range tx.records {
		s.records[r.ID] = r
		s.recordOrder = append(s.recordOrder, r.ID)
	}
	return nil
}

// FindRecord implements delivery.Store.
func (s *Store) FindRecord(_ context.Context, id string) (*delivery.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return &r, nil
}

// ListPending implements delivery.Store.
func (s *Store) ListPending(_ context.Context, kind delivery.Kind, recipientID uuid.UUID) ([]delivery.Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []delivery.Pending
	for _, id := range s.recordOrder {
		r := s.records[id]
		if r.Delivered || r.Kind != kind || r.RecipientID != recipientID {
			continue
		}
		out = append(out, delivery.Pending{Record: r, Event: s.events[r.EventID]})
	}
	return out, nil
}

// MarkDelivered implements delivery.Marker.
func (s *Store) MarkDelivered(_ context.Context, recordID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[recordID]
	if !ok {
		return false, delivery.ErrNotFound
	}
	if r.Delivered {
		return false, nil
	}
	at = at.UTC()
	r.Delivered = true
	r.DeliveredAt = &at
	s.records[recordID] = r
	return true, nil
}

func cloneItem(it catalog.Item) catalog.Item {
	if it.Attributes != nil {
		attrs := make(map[string]string, len(it.Attributes))
		for k, v := range it.Attributes {
			attrs[k] = v
		}
		it.Attributes = attrs
	}
	return it
}

// CreateItem implements catalog.Store.
func (s *Store) CreateItem(_ context.Context, it *catalog.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.ID] = cloneItem(*it)
	return nil
}

// UpdateItem implements catalog.Store.
func (s *Store) UpdateItem(_ context.Context, it *catalog.Item) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[it.ID]
	if !ok || cur.Kind != it.Kind {
		return false, nil
	}
	next := cloneItem(*it)
	next.CreateDate = cur.CreateDate
	s.items[it.ID] = next
	return true, nil
}

// DeleteItem implements catalog.Store.
func (s *Store) DeleteItem(_ context.Context, kind catalog.Kind, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[id]
	if !ok || cur.Kind != kind {
		return false, nil
	}
	delete(s.items, id)
	return true, nil
}

// GetItem implements catalog.Store.
func (s *Store) GetItem(_ context.Context, kind catalog.Kind, id uuid.UUID) (*catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok || it.Kind != kind {
		return nil, catalog.ErrNotFound
	}
	it = cloneItem(it)
	return &it, nil
}

// GetItemByName implements catalog.Store. Among equal names the lowest id
// wins so the answer is stable.
func (s *Store) GetItemByName(_ context.Context, kind catalog.Kind, name string) (*catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []catalog.Item
	for _, it := range s.items {
		if it.Kind == kind && strings.EqualFold(it.Name, name) {
			matches = append(matches, it)
		}
	}
	if len(matches) == 0 {
		return nil, catalog.ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID.String() < matches[j].ID.String() })
	it := cloneItem(matches[0])
	return &it, nil
}

// ListItems implements catalog.Store.
func (s *Store) ListItems(_ context.Context, kind catalog.Kind, p query.Params) (query.Page[catalog.Item], error) {
	s.mu.Lock()
	items := make([]catalog.Item, 0, len(s.items))
	for _, it := range s.items {
		if it.Kind == kind {
			items = append(items, cloneItem(it))
		}
	}
	s.mu.Unlock()
	return query.Run(catalog.Schema, items, p, catalog.Accessor), nil
}
