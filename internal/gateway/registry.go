package gateway

import "sync"

// Conn is one live connection handle. sockjs.Session satisfies it.
type Conn interface {
	ID() string
	Send(frame string) error
}

type entry struct {
	mu    sync.Mutex
	conns map[string]Conn
	// dead is set once the entry has been removed from the registry; a
	// connect that loaded it must retry with a fresh entry.
	dead bool
}

// Registry maps user ids to their open connections. Each user has its own
// lock, so traffic for one user never waits on another.
type Registry struct {
	users sync.Map // string -> *entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Register adds c to the user's connection set.
func (r *Registry) Register(userID string, c Conn) {
	for {
		v, _ := r.users.LoadOrStore(userID, &entry{conns: make(map[string]Conn)})
		e := v.(*entry)
		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		e.conns[c.ID()] = c
		e.mu.Unlock()
		return
	}
}

// Unregister removes c. The user's entry is retired once it is empty.
func (r *Registry) Unregister(userID string, c Conn) {
	v, ok := r.users.Load(userID)
	if !ok {
		return
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.conns[c.ID()]; !ok {
		return
	}
	delete(e.conns, c.ID())
	if len(e.conns) == 0 && !e.dead {
		e.dead = true
		r.users.CompareAndDelete(userID, e)
	}
}

// Count returns the number of open connections of the user.
func (r *Registry) Count(userID string) int {
	v, ok := r.users.Load(userID)
	if !ok {
		return 0
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return 0
	}
	return len(e.conns)
}

// Online reports whether the user holds at least one connection.
func (r *Registry) Online(userID string) bool { return r.Count(userID) > 0 }

// Send writes frame to every connection of the user and reports how many
// sends succeeded and which connections failed. Sends happen outside the
// entry lock.
func (r *Registry) Send(userID, frame string) (sent int, failed []error) {
	v, ok := r.users.Load(userID)
	if !ok {
		return 0, nil
	}
	e := v.(*entry)
	e.mu.Lock()
	conns := make([]Conn, 0, len(e.conns))
	if !e.dead {
		for _, c := range e.conns {
			conns = append(conns, c)
		}
	}
	e.mu.Unlock()

	for _, c := range conns {
		if err := c.Send(frame); err != nil {
			failed = append(failed, err)
			continue
		}
		sent++
	}
	return sent, failed
}
