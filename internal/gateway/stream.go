package gateway

import (
	"errors"
	"net/http"

	"pagehall.org/internal/delivery"
	"pagehall.org/internal/ids"
)

var errSlowConsumer = errors.New("gateway: stream buffer full")

// streamConn is a server-sent events connection. Frames that do not fit the
// buffer fail the send instead of blocking the pusher.
type streamConn struct {
	id string
	ch chan string
}

func (c *streamConn) ID() string { return c.id }

func (c *streamConn) Send(frame string) error {
	select {
	case c.ch <- frame:
		return nil
	default:
		return errSlowConsumer
	}
}

// EventStream serves the kind's channel as server-sent events for clients
// without sockjs.
func (g *Gateway) EventStream(kind delivery.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := g.authenticate(r)
		if err != nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		conn := &streamConn{id: ids.New(), ch: make(chan string, 16)}
		detach, err := g.Attach(kind, claims.Subject, conn)
		if err != nil {
			http.Error(w, "unknown channel", http.StatusNotFound)
			return
		}
		defer detach()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		_, _ = w.Write([]byte(": stream started\n\n"))
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case frame := <-conn.ch:
				_, _ = w.Write([]byte("data: "))
				_, _ = w.Write([]byte(frame))
				_, _ = w.Write([]byte("\n\n"))
				flusher.Flush()
			}
		}
	}
}
