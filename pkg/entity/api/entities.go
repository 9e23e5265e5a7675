package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/simple-entity/pkg/entity"
	"github.com/tendant/simple-entity/pkg/entity/filterql"
)

// EntityHandler serves the entities of type T over HTTP.
type EntityHandler[T any] struct {
	mapper *entity.Mapper
	logger *slog.Logger
}

// NewEntityHandler creates a handler; a nil logger means slog.Default().
func NewEntityHandler[T any](m *entity.Mapper, logger *slog.Logger) *EntityHandler[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityHandler[T]{mapper: m, logger: logger}
}

// Mount registers the handler for T under pattern.
func Mount[T any](r chi.Router, pattern string, m *entity.Mapper, logger *slog.Logger) {
	r.Mount(pattern, NewEntityHandler[T](m, logger).Routes())
}

// Routes returns the router for entity endpoints
func (h *EntityHandler[T]) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	return r
}

// ListResponse is the body of a list request.
type ListResponse[T any] struct {
	Items []*T `json:"items"`
	Count int  `json:"count"`
}

// List returns the entities matching the filterql expression in ?q=,
// at most ?limit= of them when given.
func (h *EntityHandler[T]) List(w http.ResponseWriter, r *http.Request) {
	limit := -1
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, r, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	sel, err := filterql.Select[T](h.mapper, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	items := make([]*T, 0)
	it := sel.Iterator(r.Context())
	defer it.Close()
	for limit < 0 || len(items) < limit {
		item, err := it.Next()
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		if item == nil {
			break
		}
		items = append(items, item)
	}

	render.JSON(w, r, ListResponse[T]{Items: items, Count: len(items)})
}

func (h *EntityHandler[T]) id(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, r, "invalid id")
		return 0, false
	}
	return id, true
}

// Get returns one entity by primary key
func (h *EntityHandler[T]) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	item, err := entity.Get[T](r.Context(), h.mapper, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, item)
}

// Create stores a new entity from the JSON body
func (h *EntityHandler[T]) Create(w http.ResponseWriter, r *http.Request) {
	item := new(T)
	if err := json.NewDecoder(r.Body).Decode(item); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	pk, err := entity.PrimaryKeyOf(item)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if pk != 0 {
		badRequest(w, r, "id is assigned by the server")
		return
	}

	if _, err := entity.Save(r.Context(), h.mapper, item); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, item)
}

// Update overlays the JSON body on the stored entity and saves the
// fields that changed.
func (h *EntityHandler[T]) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	item, err := entity.Get[T](r.Context(), h.mapper, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(item); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if err := entity.SetPrimaryKey(item, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if _, err := entity.Save(r.Context(), h.mapper, item); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, item)
}
