// Package gateway pushes delivery records to connected users over sockjs,
// with a server-sent events fallback, and marks a record delivered once a
// live connection accepted it.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/igm/sockjs-go/sockjs"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pagehall.org/internal/auth"
	"pagehall.org/internal/delivery"
	"pagehall.org/internal/obs"
)

// Validator resolves an access token to its claims.
type Validator interface {
	Validate(token string) (*auth.Claims, error)
}

// Frame is the JSON payload written to connections.
type Frame struct {
	Type   delivery.Kind   `json:"type"`
	Record delivery.Record `json:"record"`
	Event  delivery.Event  `json:"event"`
}

// Gateway owns one registry per event kind.
type Gateway struct {
	channels  map[delivery.Kind]*Registry
	validator Validator
	marker    delivery.Marker
	now       func() time.Time
	log       *zap.Logger
	sendFails rate.Sometimes
}

// Option configures Gateway.
type Option func(*Gateway)

// WithClock overrides the time source used for delivered_at.
func WithClock(fn func() time.Time) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.now = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// New constructs a Gateway.
func New(v Validator, m delivery.Marker, opts ...Option) *Gateway {
	g := &Gateway{
		channels: map[delivery.Kind]*Registry{
			delivery.KindMessage:      NewRegistry(),
			delivery.KindNotification: NewRegistry(),
		},
		validator: v,
		marker:    m,
		now:       time.Now,
		log:       obs.Logger(),
		sendFails: rate.Sometimes{First: 5, Interval: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Registry returns the registry of kind, or nil for unknown kinds.
func (g *Gateway) Registry(kind delivery.Kind) *Registry { return g.channels[kind] }

// Attach registers c for the user on the kind's channel and returns the
// function that detaches it.
func (g *Gateway) Attach(kind delivery.Kind, userID string, c Conn) (func(), error) {
	reg := g.channels[kind]
	if reg == nil {
		return nil, fmt.Errorf("gateway: unknown channel %q", kind)
	}
	reg.Register(userID, c)
	obs.GatewayConnectionOpened(string(kind))
	return func() {
		reg.Unregister(userID, c)
		obs.GatewayConnectionClosed(string(kind))
	}, nil
}

// Push delivers rec to every live connection of its recipient. It reports
// true and marks the record delivered when at least one send succeeded; an
// offline recipient is not an error.
func (g *Gateway) Push(ctx context.Context, ev delivery.Event, rec delivery.Record) (bool, error) {
	kind := string(rec.Kind)
	reg := g.channels[rec.Kind]
	if reg == nil {
		return false, fmt.Errorf("gateway: unknown channel %q", rec.Kind)
	}
	payload, err := json.Marshal(Frame{Type: rec.Kind, Record: rec, Event: ev})
	if err != nil {
		return false, fmt.Errorf("encode frame: %w", err)
	}

	recipient := rec.RecipientID.String()
	sent, failed := reg.Send(recipient, string(payload))
	if len(failed) > 0 {
		g.sendFails.Do(func() {
			g.log.Warn("gateway send failed",
				zap.String("kind", kind),
				zap.String("recipient_id", recipient),
				zap.Int("failed", len(failed)),
				zap.Error(errors.Join(failed...)))
		})
	}
	if sent == 0 {
		if len(failed) > 0 {
			obs.GatewayPush(kind, "failed")
		} else {
			obs.GatewayPush(kind, "offline")
		}
		return false, nil
	}

	if _, err := g.marker.MarkDelivered(ctx, rec.ID, g.now()); err != nil {
		obs.GatewayPush(kind, "mark_failed")
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	obs.GatewayPush(kind, "delivered")
	return true, nil
}

// Handler mounts the sockjs endpoint of kind under prefix.
func (g *Gateway) Handler(kind delivery.Kind, prefix string) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, g.Session(kind))
}

// Session returns the sockjs session handler of kind. Identity comes from
// the token presented when the connection opens; the session stays
// registered until Recv fails.
func (g *Gateway) Session(kind delivery.Kind) func(sockjs.Session) {
	return func(sess sockjs.Session) {
		claims, err := g.authenticate(sess.Request())
		if err != nil {
			_ = sess.Close(4001, "unauthenticated")
			return
		}
		detach, err := g.Attach(kind, claims.Subject, sess)
		if err != nil {
			_ = sess.Close(4004, "unknown channel")
			return
		}
		defer detach()
		for {
			if _, err := sess.Recv(); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) authenticate(r *http.Request) (*auth.Claims, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, auth.ErrInvalidToken
	}
	return g.validator.Validate(token)
}

// TokenFromRequest reads a bearer token from the Authorization header or,
// for transports that cannot set headers, the access_token query parameter.
func TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
