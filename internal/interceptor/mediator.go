package interceptor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/iTrooz/offline-cache-proxy/internal/logging"
)

// Outcome tells how a request was handled
type Outcome int

const (
	// Ignored requests were declined and must be sent to the network by the caller
	Ignored Outcome = iota
	// ServedFromCache is a fresh stored entry, the network was not used
	ServedFromCache
	// Stored is a successful network response, now stored
	Stored
	// Fetched is a network response that was not stored
	Fetched
	// ServedStale is a stored entry served because the network failed
	ServedStale
	// Failed requests had a network failure and nothing stored
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case ServedFromCache:
		return "cache"
	case Stored:
		return "stored"
	case Fetched:
		return "fetched"
	case ServedStale:
		return "stale"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Handle mediates one request. When the outcome is Ignored, the response is nil
// and the caller performs the request itself. The error is only set with Failed,
// and then wraps ErrNetwork.
func (w *Worker) Handle(req *http.Request) (Outcome, *http.Response, error) {
	if req.Method != http.MethodGet || !w.scope.Allows(req) {
		return Ignored, nil, nil
	}
	if w.State() != StateActivated {
		return Ignored, nil, nil
	}

	ctx := req.Context()
	log := logrus.WithFields(logging.RequestFields(req.Method, cache.Key(req)))

	gen, cached := w.lookup(ctx, log, req)
	if cached != nil && IsFresh(cached, w.now(), w.freshnessWindow) {
		log.Debugf("Serving fresh entry from cache generation %s", w.version)
		return ServedFromCache, cached, nil
	}

	resp, body, err := w.fetch(req)
	if err != nil {
		log.Warnf("Fetch failed: %v", err)
		if cached != nil {
			log.Infof("Serving stale entry after network failure")
			return ServedStale, cached, nil
		}
		return Failed, nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	if cached != nil {
		_ = cached.Body.Close()
	}

	outcome := Fetched
	if body != nil && gen != nil && w.store(ctx, log, gen, req, resp, body) {
		outcome = Stored
	}

	if gen != nil && w.random() < w.sweepProbability {
		w.background.Go(ctx, "sweep "+gen.Name(), func(ctx context.Context) error {
			_, err := w.Sweep(ctx, gen)
			return err
		})
	}

	return outcome, resp, nil
}

// lookup opens the current generation and finds the entry of req.
// Storage failures are logged and handled as a miss.
func (w *Worker) lookup(ctx context.Context, log *logrus.Entry, req *http.Request) (cache.Generation, *http.Response) {
	gen, err := w.storage.Open(ctx, w.version)
	if err != nil {
		log.Errorf("Failed to open cache generation %s: %v", w.version, err)
		return nil, nil
	}

	cached, err := gen.Match(ctx, req)
	if err != nil {
		log.Errorf("Failed to get cached data: %v", err)
		return gen, nil
	}
	if cached == nil {
		log.Debugf("No cached data found")
	}
	return gen, cached
}

// fetch performs the network request. The body of a successful response is
// read once and returned, the response itself gets an identical body.
func (w *Worker) fetch(req *http.Request) (*http.Response, []byte, error) {
	resp, err := w.fetcher.RoundTrip(req)
	if err != nil {
		return nil, nil, err
	}
	if !isOK(resp) {
		return resp, nil, nil
	}

	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, body, nil
}

// store writes a copy of resp, with a timestamp header, into gen.
// Failures are logged and never affect the response returned to the caller.
func (w *Worker) store(ctx context.Context, log *logrus.Entry, gen cache.Generation, req *http.Request, resp *http.Response, body []byte) bool {
	header := resp.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if header.Get(TimestampHeader) == "" {
		header.Set(TimestampHeader, w.now().UTC().Format(http.TimeFormat))
	}

	entry := &http.Response{
		Status:        resp.Status,
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}

	// Concurrent misses on one key may both store here; the last write wins.
	if err := gen.Put(context.WithoutCancel(ctx), req, entry); err != nil {
		log.Errorf("Failed to cache response: %v", err)
		return false
	}
	log.Debugf("Stored response in cache generation %s", gen.Name())
	return true
}

func isOK(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
