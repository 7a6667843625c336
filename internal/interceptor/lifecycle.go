package interceptor

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
)

// sweepConcurrency bounds the entries evaluated at once by a sweep
const sweepConcurrency = 8

// Install marks the worker installed. Activation may follow right away,
// there is no waiting for previous workers to release their clients.
func (w *Worker) Install() {
	w.state.CompareAndSwap(int32(StateNew), int32(StateInstalled))
	logrus.Debugf("Worker for cache generation %s installed", w.version)
}

// Activate deletes every generation but the current one, opens the current one
// and sweeps its expired entries. Requests are mediated only once it returned
// without error. Calling it again is harmless.
func (w *Worker) Activate(ctx context.Context) error {
	previous := w.State()
	w.state.Store(int32(StateActivating))

	if err := w.activate(ctx); err != nil {
		w.state.Store(int32(previous))
		return err
	}

	w.state.Store(int32(StateActivated))
	logrus.Infof("Worker activated with cache generation %s", w.version)
	return nil
}

func (w *Worker) activate(ctx context.Context) error {
	names, err := w.storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cache generations: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		if name == w.version {
			continue
		}
		name := name
		g.Go(func() error {
			if _, err := w.storage.Delete(gctx, name); err != nil {
				return fmt.Errorf("failed to delete cache generation %s: %w", name, err)
			}
			logrus.Infof("Deleted obsolete cache generation %s", name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	gen, err := w.storage.Open(ctx, w.version)
	if err != nil {
		return fmt.Errorf("failed to open cache generation %s: %w", w.version, err)
	}

	if _, err := w.Sweep(ctx, gen); err != nil {
		return fmt.Errorf("failed to sweep cache generation %s: %w", w.version, err)
	}
	return nil
}

// Sweep deletes every entry of gen that is not fresh anymore, and returns how
// many were deleted. Entries are evaluated concurrently in no particular order;
// Sweep returns once all of them are done.
func (w *Worker) Sweep(ctx context.Context, gen cache.Generation) (int, error) {
	keys, err := gen.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache keys: %w", err)
	}

	var deleted atomic.Int32
	now := w.now()

	// Not errgroup.WithContext: one failing entry must not cancel the others
	var g errgroup.Group
	g.SetLimit(sweepConcurrency)
	for _, req := range keys {
		req := req
		g.Go(func() error {
			expired, err := w.sweepEntry(ctx, gen, req, now)
			if err != nil {
				return err
			}
			if expired {
				deleted.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	logrus.Debugf("Swept cache generation %s: %d of %d entries expired", gen.Name(), deleted.Load(), len(keys))
	return int(deleted.Load()), err
}

func (w *Worker) sweepEntry(ctx context.Context, gen cache.Generation, req *http.Request, now time.Time) (bool, error) {
	resp, err := gen.Match(ctx, req)
	if err != nil {
		// An unreadable entry has no timestamp, so it is not fresh
		logrus.Warnf("Deleting unreadable cache entry %s: %v", req.URL, err)
	} else if resp != nil {
		_ = resp.Body.Close()
	}
	if err == nil && IsFresh(resp, now, w.freshnessWindow) {
		return false, nil
	}

	deleted, err := gen.Delete(ctx, req)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", req.URL, err)
	}
	return deleted, nil
}

// SweepCurrent sweeps the current cache generation
func (w *Worker) SweepCurrent(ctx context.Context) (int, error) {
	gen, err := w.storage.Open(ctx, w.version)
	if err != nil {
		return 0, fmt.Errorf("failed to open cache generation %s: %w", w.version, err)
	}
	return w.Sweep(ctx, gen)
}

// Status describes the worker and its storage
type Status struct {
	Version     string   `yaml:"version"`
	State       string   `yaml:"state"`
	Generations []string `yaml:"generations"`
	Entries     int      `yaml:"entries"`
}

// Status reports the lifecycle state and the number of entries in the current generation.
// Before activation, the current generation is not created if absent.
func (w *Worker) Status(ctx context.Context) (Status, error) {
	status := Status{
		Version: w.version,
		State:   w.State().String(),
	}

	names, err := w.storage.Names(ctx)
	if err != nil {
		return status, fmt.Errorf("failed to list cache generations: %w", err)
	}
	status.Generations = names

	current := false
	for _, name := range names {
		current = current || name == w.version
	}
	if !current {
		return status, nil
	}

	gen, err := w.storage.Open(ctx, w.version)
	if err != nil {
		return status, fmt.Errorf("failed to open cache generation %s: %w", w.version, err)
	}
	keys, err := gen.Keys(ctx)
	if err != nil {
		return status, fmt.Errorf("failed to list cache keys: %w", err)
	}
	status.Entries = len(keys)
	return status, nil
}
