// Package delivery turns messages and notifications into per-recipient
// delivery records inside the event's own transaction, then offers each
// record to the real-time gateway once.
package delivery

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"pagehall.org/internal/audit"
	"pagehall.org/internal/ids"
	"pagehall.org/internal/obs"
)

// Service creates events and serves the pull path.
type Service struct {
	store  Store
	pusher Pusher
	now    func() time.Time
	log    *zap.Logger

	titlePolicy *bluemonday.Policy
	bodyPolicy  *bluemonday.Policy
}

// Option configures Service.
type Option func(*Service)

// WithPusher sets the real-time pusher. Without one, records wait for pull.
func WithPusher(p Pusher) Option {
	return func(s *Service) { s.pusher = p }
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService constructs Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		now:         time.Now,
		log:         obs.Logger(),
		titlePolicy: bluemonday.StrictPolicy(),
		bodyPolicy:  bluemonday.UGCPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateMessage sends a direct message to exactly one recipient.
func (s *Service) CreateMessage(ctx context.Context, senderID, recipientID uuid.UUID, title, body string) (Event, []Record, error) {
	if recipientID == uuid.Nil {
		return Event{}, nil, fmt.Errorf("%w: a message needs exactly one recipient", ErrInvalidRecipients)
	}
	return s.create(ctx, KindMessage, senderID, []uuid.UUID{recipientID}, title, body)
}

// CreateNotification broadcasts to every distinct recipient.
func (s *Service) CreateNotification(ctx context.Context, senderID uuid.UUID, recipients []uuid.UUID, title, body string) (Event, []Record, error) {
	return s.create(ctx, KindNotification, senderID, recipients, title, body)
}

func (s *Service) create(ctx context.Context, kind Kind, senderID uuid.UUID, recipients []uuid.UUID, title, body string) (Event, []Record, error) {
	// Titles are plain text: tags go, entities are decoded back.
	title = strings.TrimSpace(html.UnescapeString(s.titlePolicy.Sanitize(title)))
	body = strings.TrimSpace(s.bodyPolicy.Sanitize(body))
	if title == "" || body == "" {
		return Event{}, nil, fmt.Errorf("%w: title and body are required", ErrInvalidInput)
	}

	now := s.now()
	ev := Event{
		ID:        ids.NewAt(now),
		Kind:      kind,
		SenderID:  senderID,
		Title:     title,
		Body:      body,
		CreatedAt: now.UTC(),
	}
	recs := FanOut(ev, recipients, now)
	if len(recs) == 0 {
		return Event{}, nil, fmt.Errorf("%w: at least one recipient is required", ErrInvalidRecipients)
	}
	ev.Recipients = make([]uuid.UUID, 0, len(recs))
	for _, r := range recs {
		ev.Recipients = append(ev.Recipients, r.RecipientID)
	}

	err := s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertEvent(ctx, &ev); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		if err := tx.InsertRecords(ctx, recs); err != nil {
			return fmt.Errorf("insert delivery records: %w", err)
		}
		return nil
	})
	if err != nil {
		return Event{}, nil, err
	}
	obs.DeliveryRecordsCreated(string(kind), len(recs))
	_ = audit.LogEvent(ctx, "delivery."+string(kind)+".created", map[string]any{
		"event_id":   ev.ID,
		"sender_id":  senderID.String(),
		"recipients": len(recs),
	})

	s.push(ctx, ev, recs)
	return ev, recs, nil
}

// push offers every record to the gateway exactly once. Records that reach
// a live connection are reflected as delivered in the returned slice.
func (s *Service) push(ctx context.Context, ev Event, recs []Record) {
	if s.pusher == nil {
		return
	}
	for i := range recs {
		ok, err := s.pusher.Push(ctx, ev, recs[i])
		if err != nil {
			s.log.Warn("push failed",
				zap.String("record_id", recs[i].ID),
				zap.String("recipient_id", recs[i].RecipientID.String()),
				zap.Error(err))
			continue
		}
		if ok {
			at := s.now().UTC()
			recs[i].Delivered = true
			recs[i].DeliveredAt = &at
		}
	}
}

// ListPending returns the recipient's undelivered records of one kind,
// oldest first.
func (s *Service) ListPending(ctx context.Context, kind Kind, recipientID uuid.UUID) ([]Pending, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, kind)
	}
	return s.store.ListPending(ctx, kind, recipientID)
}

// Acknowledge marks a record delivered on behalf of its recipient. Records
// owned by someone else are reported as not found.
func (s *Service) Acknowledge(ctx context.Context, recipientID uuid.UUID, recordID string) (*Record, error) {
	rec, err := s.store.FindRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.RecipientID != recipientID {
		return nil, ErrNotFound
	}
	if rec.Delivered {
		return rec, nil
	}
	at := s.now().UTC()
	if _, err := s.store.MarkDelivered(ctx, rec.ID, at); err != nil {
		return nil, fmt.Errorf("mark delivered: %w", err)
	}
	rec.Delivered = true
	rec.DeliveredAt = &at
	return rec, nil
}
