// Intercepts outgoing GET requests and answers them from a cache generation.
//
// A Worker goes through install and activate before it mediates anything.
// Requests arriving earlier, and requests out of scope, are declined: the
// caller sends them to the network itself.
package interceptor

import (
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/iTrooz/offline-cache-proxy/internal/task"
)

// DefaultSweepProbability is the per-request chance of an opportunistic sweep
const DefaultSweepProbability = 0.01

// ErrNetwork wraps network failures with no cached entry to fall back on
var ErrNetwork = errors.New("network request failed")

// State is the lifecycle state of a Worker
type State int32

const (
	StateNew State = iota
	StateInstalled
	StateActivating
	StateActivated
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Options configure a Worker. Version, Storage and Fetcher are required.
type Options struct {
	// Version names the current cache generation
	Version string
	Storage cache.Storage
	// Fetcher performs real network requests
	Fetcher          http.RoundTripper
	Scope            Scope
	FreshnessWindow  time.Duration
	SweepProbability float64
	// Now defaults to time.Now
	Now func() time.Time
	// Random returns a number in [0,1) used to sample sweeps. Defaults to math/rand
	Random func() float64
}

// Worker is the cache interceptor. It is safe for concurrent use.
type Worker struct {
	version          string
	storage          cache.Storage
	fetcher          http.RoundTripper
	scope            Scope
	freshnessWindow  time.Duration
	sweepProbability float64
	now              func() time.Time
	random           func() float64

	state      atomic.Int32
	background task.Group
}

// New creates a worker in StateNew
func New(opts Options) (*Worker, error) {
	if opts.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if opts.Version == "" {
		return nil, fmt.Errorf("cache version is required")
	}
	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = DefaultFreshnessWindow
	}
	if opts.SweepProbability < 0 || opts.SweepProbability > 1 {
		return nil, fmt.Errorf("sweep probability must be between 0 and 1, got %v", opts.SweepProbability)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Random == nil {
		opts.Random = rand.Float64
	}

	return &Worker{
		version:          opts.Version,
		storage:          opts.Storage,
		fetcher:          opts.Fetcher,
		scope:            opts.Scope,
		freshnessWindow:  opts.FreshnessWindow,
		sweepProbability: opts.SweepProbability,
		now:              opts.Now,
		random:           opts.Random,
	}, nil
}

// Version returns the name of the current cache generation
func (w *Worker) Version() string {
	return w.version
}

// State returns the current lifecycle state
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Close waits for background tasks to finish
func (w *Worker) Close() {
	w.background.Wait()
}
