// Package cleanup releases request-scoped resources exactly once, whatever
// path the request took.
package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/scizoninc/scizonai/pkg/logger"
)

const defaultTimeout = 30 * time.Second

type ReleaseFunc func(ctx context.Context) error

type entry struct {
	name    string
	release ReleaseFunc
}

// Coordinator collects release callbacks and runs them once, newest first.
type Coordinator struct {
	mu      sync.Mutex
	entries []entry
	done    bool
	timeout time.Duration
	logger  logger.Logger
}

func New(log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Coordinator{timeout: defaultTimeout, logger: log}
}

// Add registers release under name. It is safe to call from concurrent
// goroutines. Adding after Run has started releases immediately.
func (c *Coordinator) Add(name string, release ReleaseFunc) {
	c.mu.Lock()
	if !c.done {
		c.entries = append(c.entries, entry{name: name, release: release})
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	c.run(ctx, entry{name: name, release: release})
}

// Run executes every registered release in LIFO order. Errors are logged and
// swallowed. The callbacks run on a context detached from ctx's cancellation
// so an aborted request still cleans up. Calls after the first are no-ops.
func (c *Coordinator) Run(ctx context.Context) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	entries := c.entries
	c.entries = nil
	c.mu.Unlock()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	for i := len(entries) - 1; i >= 0; i-- {
		c.run(runCtx, entries[i])
	}
}

func (c *Coordinator) run(ctx context.Context, e entry) {
	if err := e.release(ctx); err != nil {
		logger.FromContext(ctx, c.logger).Warn("cleanup failed",
			logger.String("resource", e.name),
			logger.Error(err))
	}
}
