package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pagehall.org/internal/auth"
	"pagehall.org/internal/delivery"
	"pagehall.org/internal/ids"
	"pagehall.org/internal/policy"
)

type messageRequest struct {
	RecipientID string `json:"recipientId"`
	Title       string `json:"title"`
	Body        string `json:"body"`
}

type notificationRequest struct {
	Recipients []string `json:"recipients"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
}

type deliveryResponse struct {
	Event   delivery.Event    `json:"event"`
	Records []delivery.Record `json:"records"`
}

func (a *API) deliveryRoutes(r chi.Router) {
	r.With(a.requirePolicy(policy.For(auth.ActionCreate, auth.EntityMessage))).Post("/CreateMessage", a.handleCreateMessage)
	r.With(a.requirePolicy(policy.For(auth.ActionCreate, auth.EntityNotification))).Post("/CreateNotification", a.handleCreateNotification)

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth)
		r.Get("/messages/pending", a.listPending(delivery.KindMessage))
		r.Get("/notifications/pending", a.listPending(delivery.KindNotification))
		r.Post("/deliveries/{id}/ack", a.handleAck)
	})

	if a.gateway != nil {
		r.Mount("/user/message", a.gateway.Handler(delivery.KindMessage, "/api/user/message"))
		r.Mount("/user/notify", a.gateway.Handler(delivery.KindNotification, "/api/user/notify"))
		r.Get("/user/stream/message", a.gateway.EventStream(delivery.KindMessage))
		r.Get("/user/stream/notify", a.gateway.EventStream(delivery.KindNotification))
	}
}

func (a *API) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	sender, ok := callerID(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	recipient, ok := ids.ParseEntity(req.RecipientID)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "malformed recipientId")
		return
	}
	ev, recs, err := a.delivery.CreateMessage(r.Context(), sender, recipient, req.Title, req.Body)
	if err != nil {
		a.deliveryError(w, r, err)
		return
	}
	writeEnvelope(w, codeCreated, deliveryResponse{Event: ev, Records: recs})
}

func (a *API) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	sender, ok := callerID(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}
	var req notificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	recipients := make([]uuid.UUID, 0, len(req.Recipients))
	for _, raw := range req.Recipients {
		id, ok := ids.ParseEntity(raw)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "malformed recipient id")
			return
		}
		recipients = append(recipients, id)
	}
	ev, recs, err := a.delivery.CreateNotification(r.Context(), sender, recipients, req.Title, req.Body)
	if err != nil {
		a.deliveryError(w, r, err)
		return
	}
	writeEnvelope(w, codeCreated, deliveryResponse{Event: ev, Records: recs})
}

func (a *API) listPending(kind delivery.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, ok := callerID(r)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "unauthenticated")
			return
		}
		pending, err := a.delivery.ListPending(r.Context(), kind, me)
		if err != nil {
			a.deliveryError(w, r, err)
			return
		}
		if pending == nil {
			pending = []delivery.Pending{}
		}
		writePage(w, pending, len(pending))
	}
}

func (a *API) handleAck(w http.ResponseWriter, r *http.Request) {
	me, ok := callerID(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}
	rec, err := a.delivery.Acknowledge(r.Context(), me, chi.URLParam(r, "id"))
	if err != nil {
		a.deliveryError(w, r, err)
		return
	}
	writeEnvelope(w, "", rec)
}

func (a *API) deliveryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, delivery.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, delivery.ErrInvalidRecipients):
		writeError(w, r, http.StatusBadRequest, "invalid recipients")
	case errors.Is(err, delivery.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		a.internalError(w, r, err)
	}
}
