package cache

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPath(t *testing.T) {
	gen := &diskGeneration{name: "v1", dir: "/tmp/cache/v1"}

	tests := []struct {
		name      string
		targetURL string
		want      string
	}{
		{
			name:      "simple URL",
			targetURL: "https://example.com/api/users",
			want:      "/tmp/cache/v1/example.com/702ebd5381e8ab3142f7bf481589989f8d19fb06cc1515a26b4e62a35928a34a.bin",
		},
		{
			name:      "URL with query params",
			targetURL: "https://api.github.com/users?page=1",
			want:      "/tmp/cache/v1/api.github.com/7d89910fc1b4069ffc9bea2f96dcb07d427a92dd86fa1695b475c53c5581683d.bin",
		},
		{
			name:      "root path with port",
			targetURL: "http://localhost:3000/",
			want:      "/tmp/cache/v1/localhost:3000/f960fc983a2bc719627550cc2cb3977e78dabb01d739a8430f1b5263a2c5e440.bin",
		},
		{
			name:      "default port is trimmed",
			targetURL: "http://example.com:80/a",
			want:      "/tmp/cache/v1/example.com/be6905d6dc36e7ee893d98e498684c91ad39822add6e4c51214b27f6ce3f3a90.bin",
		},
		{
			name:      "path traversal stays inside the generation",
			targetURL: "http://example.com/../../etc/passwd",
			want:      "/tmp/cache/v1/example.com/baee9e5959aa49eff3d246b0cd65ba4fddfce8516b7fc2dd779e8e71dbcbd83f.bin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gen.getPath(newRequest(t, tt.targetURL))
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.want), got)
		})
	}
}

func TestDiskGenerationFolders(t *testing.T) {
	tempDir := t.TempDir()
	storage := NewDisk(tempDir)
	ctx := context.Background()

	gen, err := storage.Open(ctx, "offline/v1")
	require.NoError(t, err)
	require.NoError(t, gen.Put(ctx, newRequest(t, "http://localhost:3000/app.js"), newResponse(http.StatusOK, "app")))

	expected := filepath.Join(tempDir, "offline%2Fv1", "localhost:3000", "b36b1924062825f4a417da17577b5cc21895637956ccc6e925b0283e373dd77e.bin")
	_, err = os.Stat(expected)
	assert.NoError(t, err, "cache file should exist at %s", expected)

	names, err := storage.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"offline/v1"}, names)

	_, err = storage.Open(ctx, "..")
	assert.Error(t, err)
}

func TestDiskKeysSkipsForeignFiles(t *testing.T) {
	tempDir := t.TempDir()
	storage := NewDisk(tempDir)
	ctx := context.Background()

	gen, err := storage.Open(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, gen.Put(ctx, newRequest(t, "http://localhost/a"), newResponse(http.StatusOK, "a")))

	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "v1", "garbage.bin"), []byte("not an entry"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "v1", ".cache-123"), []byte("partial"), 0644))

	keys, err := gen.Keys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "http://localhost/a", keys[0].URL.String())
}

func TestDiskNamesMissingFolder(t *testing.T) {
	storage := NewDisk(filepath.Join(t.TempDir(), "missing"))

	names, err := storage.Names(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDiskDistinctPaths(t *testing.T) {
	storage := NewDisk(t.TempDir())
	ctx := context.Background()

	gen, err := storage.Open(ctx, "v1")
	require.NoError(t, err)

	// Cleaned paths of these URLs overlap
	targets := []string{
		"http://localhost:3000/a",
		"http://localhost:3000/a/",
		"http://localhost:3000/a/http.bin",
		"http://localhost:3000/a//",
	}
	for _, target := range targets {
		require.NoError(t, gen.Put(ctx, newRequest(t, target), newResponse(http.StatusOK, target)))
	}

	for _, target := range targets {
		resp, err := gen.Match(ctx, newRequest(t, target))
		require.NoError(t, err)
		require.NotNil(t, resp, target)
		assert.Equal(t, target, readBody(t, resp))
	}

	keys, err := gen.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, len(targets))
}
