package cache

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"application/json"}, "Date": []string{"Mon, 02 Jan 2006 15:04:05 GMT"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func newRequest(t *testing.T, target string) *http.Request {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	require.NoError(t, err)
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

// storages returns one fresh instance of every backend
func storages(t *testing.T) map[string]Storage {
	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	disk := NewDisk(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, disk.Init())

	return map[string]Storage{
		BackendMemory: NewMemory(),
		BackendDisk:   disk,
		BackendSQLite: sqlite,
	}
}

func TestGenerationPutAndMatch(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			gen, err := storage.Open(ctx, "v1")
			require.NoError(t, err)
			assert.Equal(t, "v1", gen.Name())

			req := newRequest(t, "https://example.com/api/users?page=1")

			resp, err := gen.Match(ctx, req)
			require.NoError(t, err)
			assert.Nil(t, resp, "nothing stored yet")

			stored := newResponse(http.StatusOK, `{"users": []}`)
			stored.Status = "200 Everything Fine"
			require.NoError(t, gen.Put(ctx, req, stored))

			resp, err = gen.Match(ctx, req)
			require.NoError(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "200 Everything Fine", resp.Status)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 GMT", resp.Header.Get("Date"))
			assert.Equal(t, `{"users": []}`, readBody(t, resp))
			assert.Same(t, req, resp.Request)

			// Every match returns its own body
			again, err := gen.Match(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, `{"users": []}`, readBody(t, again))

			other, err := gen.Match(ctx, newRequest(t, "https://example.com/api/users?page=2"))
			require.NoError(t, err)
			assert.Nil(t, other)
		})
	}
}

func TestGenerationPutOverwrites(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			gen, err := storage.Open(ctx, "v1")
			require.NoError(t, err)

			req := newRequest(t, "http://localhost:3000/index.html")
			require.NoError(t, gen.Put(ctx, req, newResponse(http.StatusOK, "first")))
			require.NoError(t, gen.Put(ctx, req, newResponse(http.StatusOK, "second")))

			resp, err := gen.Match(ctx, req)
			require.NoError(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, "second", readBody(t, resp))

			keys, err := gen.Keys(ctx)
			require.NoError(t, err)
			assert.Len(t, keys, 1)
		})
	}
}

func TestGenerationDeleteAndKeys(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			gen, err := storage.Open(ctx, "v1")
			require.NoError(t, err)

			urls := []string{
				"http://localhost:3000/",
				"http://localhost:3000/app.js",
				"https://jsonplaceholder.typicode.com/todos/1",
			}
			for _, u := range urls {
				require.NoError(t, gen.Put(ctx, newRequest(t, u), newResponse(http.StatusOK, u)))
			}

			keys, err := gen.Keys(ctx)
			require.NoError(t, err)
			got := make([]string, 0, len(keys))
			for _, k := range keys {
				assert.Equal(t, http.MethodGet, k.Method)
				got = append(got, k.URL.String())
			}
			assert.ElementsMatch(t, urls, got)

			// A request rebuilt from Keys must find its entry
			resp, err := gen.Match(ctx, keys[0])
			require.NoError(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, keys[0].URL.String(), readBody(t, resp))

			deleted, err := gen.Delete(ctx, newRequest(t, urls[1]))
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = gen.Delete(ctx, newRequest(t, urls[1]))
			require.NoError(t, err)
			assert.False(t, deleted, "second delete finds nothing")

			keys, err = gen.Keys(ctx)
			require.NoError(t, err)
			assert.Len(t, keys, 2)
		})
	}
}

func TestStorageGenerations(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			names, err := storage.Names(ctx)
			require.NoError(t, err)
			assert.Empty(t, names)

			old, err := storage.Open(ctx, "v0")
			require.NoError(t, err)
			require.NoError(t, old.Put(ctx, newRequest(t, "http://localhost/a"), newResponse(http.StatusOK, "old")))
			current, err := storage.Open(ctx, "v1")
			require.NoError(t, err)
			require.NoError(t, current.Put(ctx, newRequest(t, "http://localhost/a"), newResponse(http.StatusOK, "new")))

			names, err = storage.Names(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"v0", "v1"}, names)

			deleted, err := storage.Delete(ctx, "v0")
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = storage.Delete(ctx, "v0")
			require.NoError(t, err)
			assert.False(t, deleted)

			names, err = storage.Names(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"v1"}, names)

			// Reopening a deleted generation starts empty
			reopened, err := storage.Open(ctx, "v0")
			require.NoError(t, err)
			keys, err := reopened.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, keys)

			resp, err := current.Match(ctx, newRequest(t, "http://localhost/a"))
			require.NoError(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, "new", readBody(t, resp))
		})
	}
}

func TestNewStorage(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		backend  string
		location string
		wantErr  bool
	}{
		{backend: BackendDisk, location: filepath.Join(tempDir, "disk")},
		{backend: BackendSQLite, location: filepath.Join(tempDir, "cache.db")},
		{backend: BackendMemory},
		{backend: "redis", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			storage, err := NewStorage(tt.backend, tt.location)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, storage.Close())
		})
	}
}
