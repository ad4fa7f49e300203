package snaplet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/uffizio/snap/errors"
)

// walkState is the mutable engine state threaded through one
// initialization attempt. The walk is single-threaded: exactly one
// component bootstrap runs at a time, so nothing here is locked except
// the structures shared with live request traffic.
type walkState[B any] struct {
	ctx context.Context

	// isTopLevel is true only while the root component installs. It
	// guards filePath derivation and config narrowing, which apply to
	// nested components only.
	isTopLevel bool

	// cur is the config under construction for the component currently
	// initializing. Nest brackets it around each child.
	cur Config

	routes   []routeEntry[B]
	filter   func(Handler[B]) Handler[B]
	hooks    []func(*Snaplet[B]) error
	log      *logBuffer
	cleanup  *cleanupList
	logger   *slog.Logger
	installs int

	// wires store each nested child into its parent once the whole tree
	// exists. They run in reverse registration order, which is top-down:
	// a parent's wire is always appended after its children's.
	wires []func(*Snaplet[B])
}

func (w *walkState[B]) context() context.Context {
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

// logBuffer accumulates the human-readable initialization log for one
// attempt. Each attempt gets a fresh buffer; reload returns its contents.
// Lines are mirrored to the attempt's structured logger at debug level.
type logBuffer struct {
	mu     sync.Mutex
	b      strings.Builder
	logger *slog.Logger
}

func newLogBuffer(logger *slog.Logger) *logBuffer {
	return &logBuffer{logger: logger}
}

func (l *logBuffer) printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	l.b.WriteString(msg)
	l.b.WriteByte('\n')
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.Debug(msg)
	}
}

func (l *logBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

// cleanupList collects component teardown actions. One list lives for the
// lifetime of a run handle and is shared by every attempt: actions from
// live attempts accumulate until shutdown, actions from a failed attempt
// are unwound immediately and removed again.
type cleanupList struct {
	mu  sync.Mutex
	fns []func() error
}

func newCleanupList() *cleanupList {
	return &cleanupList{}
}

func (c *cleanupList) append(f func() error) {
	if f == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, f)
}

// mark returns the current length, so a failed attempt can unwind just
// the actions it added.
func (c *cleanupList) mark() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fns)
}

// unwindFrom runs, in registration order, every action added at or after
// mark, then truncates the list back to mark.
func (c *cleanupList) unwindFrom(mark int) error {
	c.mu.Lock()
	tail := c.fns[mark:]
	c.fns = c.fns[:mark]
	c.mu.Unlock()

	var errs []error
	for _, f := range tail {
		if err := f(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// runAll executes every registered action in registration order and
// empties the list.
func (c *cleanupList) runAll() error {
	return c.unwindFrom(0)
}
