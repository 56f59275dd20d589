package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier. Events, delivery
// records and refresh tokens use it so that insertion order survives a sort
// by primary key.
func New() string {
	return NewAt(time.Now())
}

// NewAt is New with an explicit timestamp component.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewEntity returns a random identifier for users and catalog items.
func NewEntity() uuid.UUID {
	return uuid.New()
}

// ParseEntity parses an identifier produced by NewEntity.
func ParseEntity(s string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
