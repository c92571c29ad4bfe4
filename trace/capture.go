package trace

import (
	"runtime"

	"github.com/pkg/errors"
)

const (
	initialDepth = 64
	maxDepth     = 4096
)

// Capture returns the backtrace of the calling goroutine.
//
// skip is the number of frames to skip above the caller of Capture: Capture(0)
// starts at the function that called Capture.
//
// Capture does not trim panic machinery; that is the filter's job.
func Capture(skip int) Backtrace {
	if skip < 0 {
		skip = 0
	}
	pcs := make([]uintptr, initialDepth)
	for {
		// +2: runtime.Callers and Capture itself.
		n := runtime.Callers(skip+2, pcs)
		if n < len(pcs) || len(pcs) >= maxDepth {
			return FromPCs(pcs[:n])
		}
		pcs = make([]uintptr, 2*len(pcs))
	}
}

// FromPCs symbolizes return program counters as produced by runtime.Callers.
//
// Inlined calls expand into several frames. An empty input yields a nil Backtrace.
func FromPCs(pcs []uintptr) Backtrace {
	if len(pcs) == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs)
	out := make(Backtrace, 0, len(pcs))
	for {
		fr, more := frames.Next()
		if fr.PC != 0 || fr.Function != "" || fr.File != "" {
			out = append(out, fromRuntimeFrame(fr))
		}
		if !more {
			break
		}
	}
	return out
}

func fromRuntimeFrame(fr runtime.Frame) Frame {
	return NewFrame(fr.PC, fr.Function, fr.File, fr.Line)
}

// FromErrorStack converts a stack recorded by github.com/pkg/errors.
func FromErrorStack(st errors.StackTrace) Backtrace {
	if len(st) == 0 {
		return nil
	}
	pcs := make([]uintptr, len(st))
	for i, f := range st {
		pcs[i] = uintptr(f)
	}
	return FromPCs(pcs)
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// ErrorStack returns the stack recorded where a panic value was created, if the
// value is an error built with github.com/pkg/errors.
//
// When the error chain carries several stacks, the innermost one (closest to
// the original cause) is returned.
func ErrorStack(v any) (Backtrace, bool) {
	err, ok := v.(error)
	if !ok || err == nil {
		return nil, false
	}
	var found stackTracer
	for e := err; e != nil; e = errors.Unwrap(e) {
		if st, ok := e.(stackTracer); ok {
			found = st
		}
	}
	if found == nil {
		return nil, false
	}
	bt := FromErrorStack(found.StackTrace())
	return bt, len(bt) > 0
}
