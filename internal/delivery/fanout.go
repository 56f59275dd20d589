package delivery

import (
	"time"

	"github.com/google/uuid"

	"pagehall.org/internal/ids"
)

// FanOut materialises one undelivered record per distinct recipient of ev,
// preserving first-seen order. Nil recipients are skipped.
func FanOut(ev Event, recipients []uuid.UUID, now time.Time) []Record {
	seen := make(map[uuid.UUID]struct{}, len(recipients))
	out := make([]Record, 0, len(recipients))
	for _, r := range recipients {
		if r == uuid.Nil {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, Record{
			ID:          ids.NewAt(now),
			EventID:     ev.ID,
			Kind:        ev.Kind,
			RecipientID: r,
			CreatedAt:   now.UTC(),
		})
	}
	return out
}
