package cache

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// DiskStorage keeps every generation in its own folder below cacheDir.
// Entries are laid out as <generation>/<host>/<sha256 of the key>.bin
type DiskStorage struct {
	cacheDir string
}

// NewDisk creates a disk storage rooted at cacheDir
func NewDisk(cacheDir string) *DiskStorage {
	return &DiskStorage{
		cacheDir: cacheDir,
	}
}

// Init ensures the cache directory exists
func (d *DiskStorage) Init() error {
	return os.MkdirAll(d.cacheDir, 0755)
}

func (d *DiskStorage) generationDir(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("invalid generation name %q", name)
	}
	return filepath.Join(d.cacheDir, url.PathEscape(name)), nil
}

func (d *DiskStorage) Open(ctx context.Context, name string) (Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := d.generationDir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create generation folder: %w", err)
	}

	return &diskGeneration{name: name, dir: dir}, nil
}

func (d *DiskStorage) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(d.cacheDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name, err := url.PathUnescape(entry.Name())
		if err != nil {
			logrus.Warnf("Ignoring unexpected folder %s in cache directory", entry.Name())
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (d *DiskStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	dir, err := d.generationDir(name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("failed to delete generation %s: %w", name, err)
	}

	logrus.Debugf("Deleted cache generation folder %s", dir)
	return true, nil
}

func (d *DiskStorage) Close() error {
	return nil
}

type diskGeneration struct {
	name string
	dir  string
}

func (g *diskGeneration) Name() string {
	return g.name
}

// getPath returns the file storing the entry of a request.
// Files are named after a hash of the whole key, so distinct URLs never share a file.
func (g *diskGeneration) getPath(req *http.Request) (string, error) {
	key := Key(req)
	parsedURL, err := url.Parse(key)
	if err != nil {
		return "", fmt.Errorf("failed to parse cache key: %w", err)
	}

	host := strings.TrimSuffix(strings.TrimSuffix(parsedURL.Host, ":80"), ":443")
	if host == "" || host == "." || host == ".." || strings.ContainsAny(host, `/\`) {
		return "", fmt.Errorf("invalid host %q", parsedURL.Host)
	}

	hash := sha256.Sum256([]byte(key))
	return filepath.Join(g.dir, host, hex.EncodeToString(hash[:])+".bin"), nil
}

func (g *diskGeneration) Match(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cachePath, err := g.getPath(req)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(cachePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	key, resp, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	if key != Key(req) {
		return nil, nil
	}
	resp.Request = req
	return resp, nil
}

func (g *diskGeneration) Put(ctx context.Context, req *http.Request, resp *http.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cachePath, err := g.getPath(req)
	if err != nil {
		return err
	}

	data, err := Serialize(Key(req), resp)
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(cachePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Write to a temporary file first so readers never see partial entries
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, cachePath); err != nil {
		_ = os.Remove(tempName)
		return err
	}

	logrus.Debugf("Cached response: %s", cachePath)
	return nil
}

func (g *diskGeneration) Delete(ctx context.Context, req *http.Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	cachePath, err := g.getPath(req)
	if err != nil {
		return false, err
	}

	if err := os.Remove(cachePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (g *diskGeneration) Keys(ctx context.Context) ([]*http.Request, error) {
	var keys []string
	err := filepath.WalkDir(g.dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".bin") || strings.HasPrefix(entry.Name(), ".") {
			return nil
		}

		key, err := readKey(p)
		if err != nil {
			logrus.Warnf("Ignoring unreadable cache file %s: %v", p, err)
			return nil
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list cache files: %w", err)
	}

	return requestsForKeys(ctx, keys)
}

// readKey reads the request key of a cache file without loading the stored body
func readKey(cachePath string) (string, error) {
	f, err := os.Open(cachePath)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	reader := bufio.NewReader(f)
	head := make([]byte, 0, len(PREFIX)+256)
	for i := 0; i < 2; i++ {
		line, err := reader.ReadBytes('\n')
		head = append(head, line...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
	}
	return DeserializeKey(head)
}
