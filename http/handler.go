package http

import (
	"net/http"
	"strings"

	"github.com/stephnangue/stash/core"
	"github.com/stephnangue/stash/logger"
)

// HandlerProperties contains configuration for the HTTP handler
type HandlerProperties struct {
	Core   *core.Core
	Logger logger.Logger
}

// Handler creates and returns the main HTTP handler for stash.
func Handler(props *HandlerProperties) http.Handler {
	mux := http.NewServeMux()
	log := props.Logger

	// Key/value item operations
	mux.Handle("/v1/kv/", handleKV(log))

	// Snapshot capture and restore
	mux.Handle("/v1/sys/snapshot", handleSnapshot(log))
	mux.Handle("/v1/sys/restore", handleRestore(log))

	// Mount table
	mux.Handle("/v1/sys/mounts", handleMounts(log))

	handler := wrapGenericHandler(mux)

	// Attach the core's decorations to every request. Handlers read
	// the storage capabilities from the request context, never from
	// package state.
	return props.Core.DecorateRequests(handler)
}

// wrapGenericHandler validates the request path before dispatch
func wrapGenericHandler(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") {
			respondError(w, http.StatusNotFound, "path must begin with /v1/")
			return
		}
		handler.ServeHTTP(w, r)
	})
}
