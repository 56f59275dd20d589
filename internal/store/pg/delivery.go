package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pagehall.org/internal/delivery"
)

var _ delivery.Store = (*Store)(nil)

type deliveryTx struct {
	tx *sql.Tx
}

func (t deliveryTx) InsertEvent(ctx context.Context, ev *delivery.Event) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into events (id, kind, sender_id, title, body, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, ev.ID, string(ev.Kind), ev.SenderID, ev.Title, ev.Body, ev.CreatedAt)
	return err
}

func (t deliveryTx) InsertRecords(ctx context.Context, recs []delivery.Record) error {
	stmt, err := t.tx.PrepareContext(ctx, `
		insert into delivery_records (id, event_id, kind, recipient_id, delivered, created_at)
		values ($1, $2, $3, $4, false, $5)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, r.ID, r.EventID, string(r.Kind), r.RecipientID, r.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: duplicate recipient %s", delivery.ErrInvalidRecipients, r.RecipientID)
			}
			return err
		}
	}
	return nil
}

// InTx runs fn inside a single database transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx delivery.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(deliveryTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) FindRecord(ctx context.Context, id string) (*delivery.Record, error) {
	var (
		r           delivery.Record
		kind        string
		deliveredAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, event_id, kind, recipient_id, delivered, delivered_at, created_at
		from delivery_records
		where id = $1
	`, id).Scan(&r.ID, &r.EventID, &kind, &r.RecipientID, &r.Delivered, &deliveredAt, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, delivery.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Kind = delivery.Kind(kind)
	r.DeliveredAt = timePtr(deliveredAt)
	return &r, nil
}

func (s *Store) ListPending(ctx context.Context, kind delivery.Kind, recipientID uuid.UUID) ([]delivery.Pending, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.event_id, r.created_at, e.sender_id, e.title, e.body, e.created_at
		from delivery_records r
		join events e on e.id = r.event_id
		where r.recipient_id = $1 and r.kind = $2 and not r.delivered
		order by r.id
	`, recipientID, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []delivery.Pending
	for rows.Next() {
		var p delivery.Pending
		if err := rows.Scan(&p.Record.ID, &p.Record.EventID, &p.Record.CreatedAt,
			&p.Event.SenderID, &p.Event.Title, &p.Event.Body, &p.Event.CreatedAt); err != nil {
			return nil, err
		}
		p.Record.Kind = kind
		p.Record.RecipientID = recipientID
		p.Event.ID = p.Record.EventID
		p.Event.Kind = kind
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) MarkDelivered(ctx context.Context, recordID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update delivery_records
		set delivered = true, delivered_at = $2
		where id = $1 and not delivered
	`, recordID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from delivery_records where id = $1)`, recordID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, delivery.ErrNotFound
	}
	return false, nil
}
