package interceptor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
)

const testVersion = "test-v1"

var errOffline = errors.New("dial tcp: network is unreachable")

// fakeNetwork answers requests with handler and counts them
type fakeNetwork struct {
	mutex   sync.Mutex
	calls   int
	handler func(req *http.Request) (*http.Response, error)
}

func (f *fakeNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mutex.Lock()
	f.calls++
	f.mutex.Unlock()
	return f.handler(req)
}

func (f *fakeNetwork) Calls() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls
}

func fixture_network(status int, body string) *fakeNetwork {
	return &fakeNetwork{handler: func(req *http.Request) (*http.Response, error) {
		return fixture_response(status, body, nil), nil
	}}
}

func fixture_offline() *fakeNetwork {
	return &fakeNetwork{handler: func(req *http.Request) (*http.Response, error) {
		return nil, errOffline
	}}
}

func fixture_response(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

type fakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

// fixture_worker returns an activated worker for origin http://localhost:3000,
// backed by a memory storage, never sweeping opportunistically unless modified
func fixture_worker(t *testing.T, network http.RoundTripper, modify ...func(*Options)) (*Worker, cache.Storage, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)}
	scope, err := NewScope("http://localhost:3000", []string{DefaultAllowedHost})
	require.NoError(t, err)

	opts := Options{
		Version:          testVersion,
		Storage:          cache.NewMemory(),
		Fetcher:          network,
		Scope:            scope,
		FreshnessWindow:  48 * time.Hour,
		SweepProbability: 0,
		Now:              clock.Now,
	}
	for _, m := range modify {
		m(&opts)
	}

	worker, err := New(opts)
	require.NoError(t, err)
	worker.Install()
	require.NoError(t, worker.Activate(context.Background()))
	t.Cleanup(worker.Close)

	return worker, opts.Storage, clock
}

func fixture_request(t *testing.T, method, target string) *http.Request {
	req, err := http.NewRequest(method, target, nil)
	require.NoError(t, err)
	return req
}

// seed stores an entry of the given age in a generation
func seed(t *testing.T, storage cache.Storage, generation, target, body string, age time.Duration, now time.Time) {
	ctx := context.Background()
	gen, err := storage.Open(ctx, generation)
	require.NoError(t, err)

	header := http.Header{TimestampHeader: []string{now.Add(-age).UTC().Format(http.TimeFormat)}}
	require.NoError(t, gen.Put(ctx, fixture_request(t, http.MethodGet, target), fixture_response(http.StatusOK, body, header)))
}

func stored(t *testing.T, storage cache.Storage, generation, target string) *http.Response {
	ctx := context.Background()
	gen, err := storage.Open(ctx, generation)
	require.NoError(t, err)
	resp, err := gen.Match(ctx, fixture_request(t, http.MethodGet, target))
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

// failingStorage wraps a storage whose generations refuse writes
type failingStorage struct {
	cache.Storage
}

func (s failingStorage) Open(ctx context.Context, name string) (cache.Generation, error) {
	gen, err := s.Storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return failingGeneration{gen}, nil
}

type failingGeneration struct {
	cache.Generation
}

func (g failingGeneration) Put(context.Context, *http.Request, *http.Response) error {
	return errors.New("quota exceeded")
}

// brokenBody fails after returning part of the body
type brokenBody struct {
	read bool
}

func (b *brokenBody) Read(p []byte) (int, error) {
	if b.read {
		return 0, io.ErrUnexpectedEOF
	}
	b.read = true
	return copy(p, "partial"), nil
}

func (b *brokenBody) Close() error {
	return nil
}
