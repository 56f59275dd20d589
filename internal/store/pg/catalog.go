package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"pagehall.org/internal/catalog"
	"pagehall.org/internal/query"
)

var _ catalog.Store = (*Store)(nil)

const itemColumns = `id, kind, name, description, attributes, create_date, update_date`

func encodeAttributes(attrs map[string]string) ([]byte, error) {
	if len(attrs) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	return b, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*catalog.Item, error) {
	var (
		it    catalog.Item
		kind  string
		attrs []byte
	)
	if err := row.Scan(&it.ID, &kind, &it.Name, &it.Description, &attrs, &it.CreateDate, &it.UpdateDate); err != nil {
		return nil, err
	}
	it.Kind = catalog.Kind(kind)
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &it.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
		if len(it.Attributes) == 0 {
			it.Attributes = nil
		}
	}
	return &it, nil
}

func (s *Store) CreateItem(ctx context.Context, it *catalog.Item) error {
	attrs, err := encodeAttributes(it.Attributes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into catalog_items (`+itemColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, it.ID, string(it.Kind), it.Name, it.Description, attrs, it.CreateDate, it.UpdateDate)
	return err
}

func (s *Store) UpdateItem(ctx context.Context, it *catalog.Item) (bool, error) {
	attrs, err := encodeAttributes(it.Attributes)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		update catalog_items
		set name = $3, description = $4, attributes = $5, update_date = $6
		where id = $1 and kind = $2
	`, it.ID, string(it.Kind), it.Name, it.Description, attrs, it.UpdateDate)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) DeleteItem(ctx context.Context, kind catalog.Kind, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from catalog_items where id = $1 and kind = $2`, id, string(kind))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetItem(ctx context.Context, kind catalog.Kind, id uuid.UUID) (*catalog.Item, error) {
	row := s.db.QueryRowContext(ctx, `select `+itemColumns+` from catalog_items where id = $1 and kind = $2`, id, string(kind))
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	return it, err
}

func (s *Store) GetItemByName(ctx context.Context, kind catalog.Kind, name string) (*catalog.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+itemColumns+`
		from catalog_items
		where kind = $1 and lower(name) = lower($2)
		order by id
		limit 1
	`, string(kind), name)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	return it, err
}

// ListItems renders the query pipeline as SQL: a count over the filtered
// set and a page of it.
func (s *Store) ListItems(ctx context.Context, kind catalog.Kind, p query.Params) (query.Page[catalog.Item], error) {
	parts := catalog.Schema.Build(p, 2)
	where := "kind = $1"
	if parts.Where != "" {
		where += " and " + parts.Where
	}
	args := append([]any{string(kind)}, parts.Args...)

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from catalog_items where `+where, args...).Scan(&total); err != nil {
		return query.Page[catalog.Item]{}, err
	}

	list := fmt.Sprintf(`select %s from catalog_items where %s order by %s limit $%d offset $%d`,
		itemColumns, where, parts.OrderBy, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, list, append(args, parts.Limit, parts.Offset)...)
	if err != nil {
		return query.Page[catalog.Item]{}, err
	}
	defer rows.Close()

	items := make([]catalog.Item, 0, parts.Limit)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return query.Page[catalog.Item]{}, err
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return query.Page[catalog.Item]{}, err
	}
	return query.Page[catalog.Item]{Items: items, Total: total}, nil
}
