package http

import (
	"io"
	"net/http"
	"strings"

	"github.com/stephnangue/stash/logger"
	"github.com/stephnangue/stash/plugin"
	"github.com/stephnangue/stash/storage"
)

// kvResponse wraps a single key/value pair. Values are opaque bytes
// and serialize as base64.
type kvResponse struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

type keysResponse struct {
	Keys []string `json:"keys"`
}

// handleKV returns an HTTP handler for item operations under
// /v1/kv/<key>. A "prefix" query parameter routes the operation
// through a prefix view; "list=true" on GET lists keys instead of
// reading one.
func handleKV(log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store, ok := plugin.RequestStorage(r.Context())
		if !ok {
			respondError(w, http.StatusServiceUnavailable, "storage is not attached")
			return
		}

		// Route through a prefix view when requested
		if prefix := r.URL.Query().Get("prefix"); prefix != "" {
			prefixFn, ok := plugin.RequestPrefix(r.Context())
			if !ok {
				respondError(w, http.StatusServiceUnavailable, "storage is not attached")
				return
			}
			store = prefixFn(prefix)
		}

		key := strings.TrimPrefix(r.URL.Path, "/v1/kv/")

		switch r.Method {
		case http.MethodGet:
			if r.URL.Query().Get("list") == "true" {
				handleKeys(w, r, store, key)
				return
			}
			handleRead(w, r, store, key)
		case http.MethodPut, http.MethodPost:
			handleWrite(w, r, store, key)
		case http.MethodDelete:
			handleDelete(w, r, store, key)
		default:
			respondError(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed")
		}
	})
}

func handleRead(w http.ResponseWriter, r *http.Request, store storage.Store, key string) {
	exists, err := store.Has(r.Context(), key)
	if err != nil {
		respondError(w, errorToStatusCode(err), err.Error())
		return
	}
	if !exists {
		respondError(w, http.StatusNotFound, "key not found")
		return
	}

	value, err := store.Get(r.Context(), key)
	if err != nil {
		respondError(w, errorToStatusCode(err), err.Error())
		return
	}
	respondOk(w, &kvResponse{Key: key, Value: value})
}

func handleWrite(w http.ResponseWriter, r *http.Request, store storage.Store, key string) {
	value, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if err := store.Set(r.Context(), key, value); err != nil {
		respondError(w, errorToStatusCode(err), err.Error())
		return
	}
	respondOk(w, &kvResponse{Key: key, Value: value})
}

func handleDelete(w http.ResponseWriter, r *http.Request, store storage.Store, key string) {
	if err := store.Delete(r.Context(), key); err != nil {
		respondError(w, errorToStatusCode(err), err.Error())
		return
	}
	respondOk(w, nil)
}

func handleKeys(w http.ResponseWriter, r *http.Request, store storage.Store, base string) {
	keys, err := store.Keys(r.Context(), base)
	if err != nil {
		respondError(w, errorToStatusCode(err), err.Error())
		return
	}
	respondOk(w, &keysResponse{Keys: keys})
}
