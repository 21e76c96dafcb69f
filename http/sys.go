package http

import (
	"io"
	"net/http"

	"github.com/stephnangue/stash/logger"
	"github.com/stephnangue/stash/plugin"
	"github.com/stephnangue/stash/storage"
)

// handleSnapshot captures every key under the "base" query parameter
// and returns the encoded snapshot.
func handleSnapshot(log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed")
			return
		}

		snapshotter, ok := plugin.RequestSnapshotter(r.Context())
		if !ok {
			respondError(w, http.StatusServiceUnavailable, "storage is not attached")
			return
		}

		snap, err := snapshotter.Take(r.Context(), r.URL.Query().Get("base"))
		if err != nil {
			respondError(w, errorToStatusCode(err), err.Error())
			return
		}

		log.Debug("snapshot taken",
			logger.String("id", snap.ID),
			logger.String("base", snap.Base),
			logger.Int("entries", len(snap.Data)),
		)
		respondOk(w, snap)
	})
}

// handleRestore reads an encoded snapshot from the request body and
// writes it back, optionally under the "base" query parameter.
func handleRestore(log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed")
			return
		}

		snapshotter, ok := plugin.RequestSnapshotter(r.Context())
		if !ok {
			respondError(w, http.StatusServiceUnavailable, "storage is not attached")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		snap, err := storage.DecodeSnapshot(body)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid snapshot: "+err.Error())
			return
		}

		if err := snapshotter.Restore(r.Context(), snap, r.URL.Query().Get("base")); err != nil {
			respondError(w, errorToStatusCode(err), err.Error())
			return
		}

		log.Debug("snapshot restored", logger.String("id", snap.ID))
		respondOk(w, nil)
	})
}

type mountsResponse struct {
	Mounts []storage.MountInfo `json:"mounts"`
}

// handleMounts reports the storage instance's mount table
func handleMounts(log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed")
			return
		}

		store, ok := plugin.RequestStorage(r.Context())
		if !ok {
			respondError(w, http.StatusServiceUnavailable, "storage is not attached")
			return
		}
		instance, ok := store.(*storage.Storage)
		if !ok {
			respondError(w, http.StatusInternalServerError, "storage handle does not expose mounts")
			return
		}

		respondOk(w, &mountsResponse{Mounts: instance.Mounts()})
	})
}
