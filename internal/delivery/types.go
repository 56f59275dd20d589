package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("delivery: not found")
	ErrInvalidInput      = errors.New("delivery: invalid input")
	ErrInvalidRecipients = errors.New("delivery: invalid recipients")
)

// Kind separates the two event channels.
type Kind string

const (
	KindMessage      Kind = "message"
	KindNotification Kind = "notification"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindMessage || k == KindNotification }

// Event is an immutable message or notification.
type Event struct {
	ID         string      `json:"id"`
	Kind       Kind        `json:"kind"`
	SenderID   uuid.UUID   `json:"senderId"`
	Title      string      `json:"title"`
	Body       string      `json:"body"`
	CreatedAt  time.Time   `json:"createdAt"`
	Recipients []uuid.UUID `json:"recipients,omitempty"`
}

// Record tracks delivery of one event to one recipient.
type Record struct {
	ID          string     `json:"id"`
	EventID     string     `json:"eventId"`
	Kind        Kind       `json:"kind"`
	RecipientID uuid.UUID  `json:"recipientId"`
	Delivered   bool       `json:"delivered"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Pending pairs an undelivered record with its event for the pull path.
type Pending struct {
	Record Record `json:"record"`
	Event  Event  `json:"event"`
}

// Tx is the transactional slice of Store used by fan-out.
type Tx interface {
	InsertEvent(ctx context.Context, ev *Event) error
	InsertRecords(ctx context.Context, recs []Record) error
}

// Store persists events and delivery records.
type Store interface {
	// InTx runs fn in one transaction; any error from fn rolls back every
	// write made through tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	FindRecord(ctx context.Context, id string) (*Record, error)
	ListPending(ctx context.Context, kind Kind, recipientID uuid.UUID) ([]Pending, error)
	Marker
}

// Marker flips a record to delivered. It reports false when the record was
// already delivered.
type Marker interface {
	MarkDelivered(ctx context.Context, recordID string, at time.Time) (bool, error)
}

// Pusher attempts a real-time push of a freshly created record. It reports
// whether at least one live connection accepted the frame.
type Pusher interface {
	Push(ctx context.Context, ev Event, rec Record) (bool, error)
}
