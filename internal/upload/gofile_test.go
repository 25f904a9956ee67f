package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) (*GoFileClient, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c := NewGoFileClient("tok-123", zap.NewNop())
	c.apiBase = ts.URL
	c.uploadPattern = ts.URL + "/upload/%s"
	return c, ts
}

func serversJSON(names ...string) string {
	type server struct {
		Name string `json:"name"`
	}
	var list []server
	for _, n := range names {
		list = append(list, server{Name: n})
	}
	body, _ := json.Marshal(map[string]any{
		"status": "ok",
		"data":   map[string]any{"servers": list},
	})
	return string(body)
}

func TestBestServer(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/servers", r.URL.Path)
		fmt.Fprint(w, serversJSON("store4", "store9"))
	}))

	name, err := c.BestServer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "store4", name)
}

func TestBestServerEmptyList(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","data":{"servers":[]}}`)
	}))

	_, err := c.BestServer(context.Background())
	assert.Error(t, err)
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.zip")
	require.NoError(t, os.WriteFile(path, make([]byte, 64*1024), 0o644))

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/servers":
			fmt.Fprint(w, serversJSON("store4"))
		case "/upload/store4":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "tok-123", r.FormValue("token"))

			f, hdr, err := r.FormFile("file")
			require.NoError(t, err)
			defer f.Close()
			assert.Equal(t, "bundle.zip", hdr.Filename)
			body, err := io.ReadAll(f)
			require.NoError(t, err)
			assert.Len(t, body, 64*1024)

			fmt.Fprint(w, `{"status":"ok","data":{"downloadPage":"https://gofile.io/d/abc123"}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	var lastPct int
	var statuses []string
	link, err := c.Upload(context.Background(), path, func(pct int, status string) {
		lastPct = pct
		if len(statuses) == 0 || statuses[len(statuses)-1] != status {
			statuses = append(statuses, status)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "https://gofile.io/d/abc123", link)
	assert.Equal(t, 100, lastPct)
	require.Len(t, statuses, 2)
	assert.Equal(t, "Finding best upload server...", statuses[0])
	assert.Equal(t, "Uploading to store4...", statuses[1])
}

func TestUploadRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.zip")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/servers" {
			fmt.Fprint(w, serversJSON("store4"))
			return
		}
		fmt.Fprint(w, `{"status":"error","data":{}}`)
	}))

	_, err := c.Upload(context.Background(), path, nil)
	assert.ErrorContains(t, err, "rejected")
}
