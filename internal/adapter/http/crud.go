package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Generic handler factories for the read/write shapes that repeat across
// every resource: fetch by id, list, create from a JSON body, delete by id.
// Handlers with richer semantics (claim, respond, publish) live in
// handlers.go and do not go through these.

// handleGet serves a single resource looked up by the {id} URL parameter.
func handleGet[T any](fetch func(ctx context.Context, id string) (*T, error), notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := fetch(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// handleList serves a collection, normalizing a nil slice to [] so clients
// never see null.
func handleList[T any](list func(ctx context.Context) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := list(r.Context())
		if err != nil {
			writeInternalError(w, err)
			return
		}
		if res == nil {
			res = make([]T, 0)
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// handleCreate decodes a JSON request body and responds 201 with whatever
// the service built from it.
func handleCreate[Req any, Res any](create func(ctx context.Context, req Req) (*Res, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := readJSON[Req](w, r)
		if !ok {
			return
		}
		res, err := create(r.Context(), req)
		if err != nil {
			writeDomainError(w, err, "creation failed")
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

// handleDelete removes the resource named by {id} and responds 204.
func handleDelete(remove func(ctx context.Context, id string) error, notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := remove(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
