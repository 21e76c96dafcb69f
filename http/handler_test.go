package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/stash/core"
	"github.com/stephnangue/stash/logger"
	"github.com/stephnangue/stash/plugin"
	"github.com/stephnangue/stash/storage"
)

func testServer(t *testing.T) (*httptest.Server, *plugin.StoragePlugin) {
	t.Helper()

	c := core.NewCore(nil)
	p := plugin.New(&plugin.Config{Driver: "inmem"})
	require.NoError(t, c.RegisterPlugin(context.Background(), p))

	handler := Handler(&HandlerProperties{
		Core:   c,
		Logger: logger.NewZerologLogger(logger.DefaultConfig()),
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, p
}

func doRequest(t *testing.T, method, url string, body []byte) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// TestHandler_KV tests the item operation endpoints
func TestHandler_KV(t *testing.T) {
	server, _ := testServer(t)

	t.Run("write then read", func(t *testing.T) {
		resp := doRequest(t, http.MethodPut, server.URL+"/v1/kv/app/config", []byte("hello"))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = doRequest(t, http.MethodGet, server.URL+"/v1/kv/app/config", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body kvResponse
		decodeBody(t, resp, &body)
		assert.Equal(t, "app/config", body.Key)
		assert.Equal(t, []byte("hello"), body.Value)
	})

	t.Run("read absent key", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, server.URL+"/v1/kv/nope", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)

		var body errorResponse
		decodeBody(t, resp, &body)
		assert.Equal(t, []string{"key not found"}, body.Errors)
	})

	t.Run("delete", func(t *testing.T) {
		doRequest(t, http.MethodPut, server.URL+"/v1/kv/doomed", []byte("v"))

		resp := doRequest(t, http.MethodDelete, server.URL+"/v1/kv/doomed", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = doRequest(t, http.MethodGet, server.URL+"/v1/kv/doomed", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)

		// Deleting again still succeeds
		resp = doRequest(t, http.MethodDelete, server.URL+"/v1/kv/doomed", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("list keys", func(t *testing.T) {
		doRequest(t, http.MethodPut, server.URL+"/v1/kv/fruits/apple", []byte("1"))
		doRequest(t, http.MethodPut, server.URL+"/v1/kv/fruits/banana", []byte("2"))

		resp := doRequest(t, http.MethodGet, server.URL+"/v1/kv/fruits?list=true", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body keysResponse
		decodeBody(t, resp, &body)
		assert.Equal(t, []string{"fruits/apple", "fruits/banana"}, body.Keys)
	})

	t.Run("prefix view", func(t *testing.T) {
		resp := doRequest(t, http.MethodPut, server.URL+"/v1/kv/config?prefix=tenant1/", []byte("scoped"))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		// The raw key carries the concatenated prefix
		resp = doRequest(t, http.MethodGet, server.URL+"/v1/kv/tenant1/config", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		// Reading through the view finds it too
		resp = doRequest(t, http.MethodGet, server.URL+"/v1/kv/config?prefix=tenant1/", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body kvResponse
		decodeBody(t, resp, &body)
		assert.Equal(t, []byte("scoped"), body.Value)
	})

	t.Run("invalid key", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, server.URL+"/v1/kv/", nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("method not allowed", func(t *testing.T) {
		resp := doRequest(t, http.MethodPatch, server.URL+"/v1/kv/key", nil)
		require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

// TestHandler_Snapshot tests the snapshot and restore endpoints
func TestHandler_Snapshot(t *testing.T) {
	server, _ := testServer(t)

	doRequest(t, http.MethodPut, server.URL+"/v1/kv/foo", []byte("original"))

	// Take a snapshot of everything
	resp := doRequest(t, http.MethodPost, server.URL+"/v1/sys/snapshot", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap storage.Snapshot
	decodeBody(t, resp, &snap)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, []byte("original"), snap.Data["foo"])

	// Mutate, then restore the capture
	doRequest(t, http.MethodPut, server.URL+"/v1/kv/foo", []byte("changed"))

	encoded, err := storage.EncodeSnapshot(&snap)
	require.NoError(t, err)
	resp = doRequest(t, http.MethodPost, server.URL+"/v1/sys/restore", encoded)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, server.URL+"/v1/kv/foo", nil)
	var body kvResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, []byte("original"), body.Value)
}

// TestHandler_Snapshot_Scoped tests base-scoped capture and rebase
func TestHandler_Snapshot_Scoped(t *testing.T) {
	server, _ := testServer(t)

	doRequest(t, http.MethodPut, server.URL+"/v1/kv/src/a", []byte("1"))
	doRequest(t, http.MethodPut, server.URL+"/v1/kv/other/b", []byte("2"))

	resp := doRequest(t, http.MethodPost, server.URL+"/v1/sys/snapshot?base=src", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap storage.Snapshot
	decodeBody(t, resp, &snap)
	assert.Equal(t, "src/", snap.Base)
	require.Len(t, snap.Data, 1)

	// Restore under a different base
	encoded, err := storage.EncodeSnapshot(&snap)
	require.NoError(t, err)
	resp = doRequest(t, http.MethodPost, server.URL+"/v1/sys/restore?base=dst", encoded)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, server.URL+"/v1/kv/dst/a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestHandler_Restore_InvalidBody tests restore input validation
func TestHandler_Restore_InvalidBody(t *testing.T) {
	server, _ := testServer(t)

	resp := doRequest(t, http.MethodPost, server.URL+"/v1/sys/restore", []byte("not json"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestHandler_Mounts tests the mount table endpoint
func TestHandler_Mounts(t *testing.T) {
	server, _ := testServer(t)

	resp := doRequest(t, http.MethodGet, server.URL+"/v1/sys/mounts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body mountsResponse
	decodeBody(t, resp, &body)
	require.Len(t, body.Mounts, 1)
	assert.Equal(t, "", body.Mounts[0].Base)

	resp = doRequest(t, http.MethodPost, server.URL+"/v1/sys/mounts", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// TestHandler_PathValidation tests the generic wrapper
func TestHandler_PathValidation(t *testing.T) {
	server, _ := testServer(t)

	resp := doRequest(t, http.MethodGet, server.URL+"/v2/kv/key", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body errorResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, []string{"path must begin with /v1/"}, body.Errors)
}

// TestHandler_UnattachedStorage tests handlers without the plugin
func TestHandler_UnattachedStorage(t *testing.T) {
	c := core.NewCore(nil)
	handler := Handler(&HandlerProperties{
		Core:   c,
		Logger: logger.NewZerologLogger(logger.DefaultConfig()),
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	resp := doRequest(t, http.MethodGet, server.URL+"/v1/kv/key", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, server.URL+"/v1/sys/snapshot", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
