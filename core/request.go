package core

import (
	"context"
	"net/http"
)

type decorationsKey struct{}

// DecorateRequests returns middleware that attaches the core's
// decorations to each request's context. Request handlers see the
// same values the server object holds, not copies.
func (c *Core) DecorateRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), decorationsKey{}, c)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestDecoration returns the named capability from a request
// context decorated by DecorateRequests.
func RequestDecoration(ctx context.Context, name string) (interface{}, bool) {
	c, ok := ctx.Value(decorationsKey{}).(*Core)
	if !ok {
		return nil, false
	}
	return c.Decoration(name)
}
