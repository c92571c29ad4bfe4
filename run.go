package crashtrace

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"runtime/debug"
)

type runConfig struct {
	name      string
	finally   []func()
	policy    Policy
	hasPolicy bool
}

// RunOption configures a single Go/Run call.
type RunOption func(*runConfig)

// WithName sets a human-friendly name for the goroutine, shown in the trace
// header.
func WithName(name string) RunOption {
	return func(c *runConfig) { c.name = name }
}

// WithFinally registers a function to be called when execution finishes.
//
// Finalizers are executed in LIFO order (like defer), before the policy is
// applied: they also run when the process is about to exit. A panicking
// finalizer is reported, not rethrown.
func WithFinally(fn func()) RunOption {
	return func(c *runConfig) {
		if fn == nil {
			return
		}
		c.finally = append(c.finally, fn)
	}
}

// WithRunPolicy overrides the installed handler's policy for this call.
func WithRunPolicy(p Policy) RunOption {
	return func(c *runConfig) {
		c.policy = p
		c.hasPolicy = true
	}
}

// Go starts fn in a new goroutine, reporting a panic through the active handler.
func Go(ctx context.Context, fn func(context.Context), opts ...RunOption) {
	go Run(ctx, fn, opts...)
}

// Run executes fn synchronously, reporting a panic through the active handler.
//
// With no handler installed a panic propagates unchanged (after finalizers).
// If ctx is nil, it is treated as context.Background().
func Run(ctx context.Context, fn func(context.Context), opts ...RunOption) {
	if ctx == nil {
		ctx = context.Background()
	}

	var c runConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}

	defer func() {
		v := recover()
		h := active.Load()
		if v != nil && h != nil {
			h.report(v, c.name)
		}
		runFinalizers(h, c)
		if v == nil {
			return
		}
		if h == nil {
			panic(v)
		}
		policy := h.cfg.policy
		if c.hasPolicy {
			policy = c.policy
		}
		h.apply(v, policy)
	}()

	fn(ctx)
}

func runFinalizers(h *handler, c runConfig) {
	// LIFO, like defer.
	for i := len(c.finally) - 1; i >= 0; i-- {
		fn := c.finally[i]
		func() {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				v := fmt.Sprintf("crashtrace: finalizer panicked: %v", p)
				if h != nil {
					h.report(v, c.name)
					return
				}
				var buf bytes.Buffer
				buf.WriteString(v)
				buf.WriteByte('\n')
				buf.Write(debug.Stack())
				writeLocked(os.Stderr, buf.Bytes())
			}()
			fn()
		}()
	}
}
