package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pagehall.org/internal/auth"
	"pagehall.org/internal/catalog"
	"pagehall.org/internal/ids"
	"pagehall.org/internal/policy"
	"pagehall.org/internal/query"
)

type itemRequest struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

func (req itemRequest) input() catalog.Input {
	return catalog.Input{Name: req.Name, Description: req.Description, Attributes: req.Attributes}
}

// catalogRoutes mounts the CRUD and list endpoints of every catalog kind.
// Mutations are guarded by the kind's policy; reads are public.
func (a *API) catalogRoutes(r chi.Router) {
	for _, kind := range catalog.Kinds {
		e := kind.Entity()
		name := string(kind)
		r.With(a.requirePolicy(policy.For(auth.ActionCreate, e))).Post("/Create"+name, a.createItem(kind))
		r.With(a.requirePolicy(policy.For(auth.ActionUpdate, e))).Put("/Update"+name+"/{id}", a.updateItem(kind))
		r.With(a.requirePolicy(policy.For(auth.ActionDelete, e))).Delete("/Delete"+name+"/{id}", a.deleteItem(kind))
		r.Get("/GetAll"+name, a.listItems(kind))
		r.Get("/Get"+name+"ById/{id}", a.getItem(kind))
		r.Get("/Get"+name+"ByName/{name}", a.getItemByName(kind))
	}
}

func (a *API) createItem(kind catalog.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req itemRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		it, err := a.catalog.Create(r.Context(), kind, req.input())
		if err != nil {
			a.catalogError(w, r, err)
			return
		}
		writeEnvelope(w, codeCreated, it)
	}
}

func (a *API) updateItem(kind catalog.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := ids.ParseEntity(chi.URLParam(r, "id"))
		if !ok {
			writeError(w, r, http.StatusBadRequest, "malformed id")
			return
		}
		var req itemRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.ID != "" {
			bodyID, ok := ids.ParseEntity(req.ID)
			if !ok || bodyID != id {
				writeError(w, r, http.StatusBadRequest, "id mismatch")
				return
			}
		}
		if err := a.catalog.Update(r.Context(), kind, id, req.input()); err != nil {
			a.catalogError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// deleteItem answers the same envelope whether or not the id existed, so a
// malformed id is treated as one that is simply absent.
func (a *API) deleteItem(kind catalog.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := ids.ParseEntity(chi.URLParam(r, "id"))
		if ok {
			if err := a.catalog.Delete(r.Context(), kind, id); err != nil {
				a.catalogError(w, r, err)
				return
			}
		}
		writeEnvelope(w, codeDeleted, nil)
	}
}

func (a *API) listItems(kind catalog.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := a.catalog.List(r.Context(), kind, listParams(r))
		if err != nil {
			a.catalogError(w, r, err)
			return
		}
		items := page.Items
		if items == nil {
			items = []catalog.Item{}
		}
		writePage(w, items, page.Total)
	}
}

func (a *API) getItem(kind catalog.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := ids.ParseEntity(chi.URLParam(r, "id"))
		if !ok {
			writeError(w, r, http.StatusNotFound, "not found")
			return
		}
		it, err := a.catalog.Get(r.Context(), kind, id)
		if err != nil {
			a.catalogError(w, r, err)
			return
		}
		writeEnvelope(w, "", it)
	}
}

func (a *API) getItemByName(kind catalog.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		it, err := a.catalog.GetByName(r.Context(), kind, chi.URLParam(r, "name"))
		if err != nil {
			a.catalogError(w, r, err)
			return
		}
		writeEnvelope(w, "", it)
	}
}

func (a *API) catalogError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, catalog.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		a.internalError(w, r, err)
	}
}

// listParams reads search, sortBy, page and pageSize. Unparseable numbers
// fall back to the defaults applied by query.Params.Normalize.
func listParams(r *http.Request) query.Params {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("pageSize"))
	return query.Params{
		Search:   q.Get("search"),
		SortBy:   q.Get("sortBy"),
		Page:     page,
		PageSize: size,
	}
}

// callerID returns the authenticated user's id. Routes using it sit behind
// requireAuth, so a missing or malformed subject is an invalid token.
func callerID(r *http.Request) (uuid.UUID, bool) {
	sub, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, false
	}
	return ids.ParseEntity(sub)
}
