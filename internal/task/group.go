// Runs fire-and-forget background work that must never fail its caller
package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Group spawns background tasks. Errors and panics of a task are logged and
// never reach the code that spawned it. The zero value is ready to use.
type Group struct {
	wg sync.WaitGroup
}

// Go runs fn in a new goroutine with a context that is not canceled with ctx
func (g *Group) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := run(ctx, fn); err != nil {
			logrus.Errorf("Background task %s failed: %v", name, err)
			return
		}
		logrus.Debugf("Background task %s done", name)
	}()
}

// Wait blocks until every spawned task returned
func (g *Group) Wait() {
	g.wg.Wait()
}

func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
