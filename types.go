package crashtrace

import (
	"time"

	"github.com/evan-idocoding/crashtrace/trace"
)

// Policy controls what happens after a failure has been reported.
type Policy int

const (
	// ExitProcess reports the failure, waits briefly for failures being reported
	// on other goroutines, then exits with status 2 like the Go runtime does.
	ExitProcess Policy = iota
	// RecoverAndReport reports the failure and lets the recovering function return.
	RecoverAndReport
	// RepanicAfterReport reports the failure, then panics again with the same value.
	RepanicAfterReport
)

func (p Policy) String() string {
	switch p {
	case ExitProcess:
		return "exit"
	case RecoverAndReport:
		return "recover"
	case RepanicAfterReport:
		return "repanic"
	default:
		return "unknown"
	}
}

// Report describes one handled failure. It is passed to report hooks after the
// trace has been written.
type Report struct {
	// ID is unique per failure and is printed in Full verbosity, so that log
	// entries can be matched with the rendered trace.
	ID   string
	Time time.Time
	Kind string
	// Message is the panic value formatted with %v.
	Message   string
	Goroutine string
	Value     any

	// Frames is the classified backtrace, without panic machinery, before any
	// verbosity trimming.
	Frames trace.Backtrace
	// Top is the innermost application frame, or the first frame when there is
	// none. Nil when the backtrace is empty.
	Top *trace.Frame
	// Origins counts Frames by origin.
	Origins map[trace.Origin]int
	// Trace is the text that was written, escape sequences included.
	Trace string

	// Fallback is set when rendering failed and the raw failure was printed
	// instead. Err holds the rendering failure.
	Fallback bool
	Err      error
}

// ReportHook observes handled failures. Hooks run on the failing goroutine,
// after the trace has been written. A panicking hook is contained.
type ReportHook func(Report)

// Failure is the input of a Pipeline: a failure already captured by a recover
// site or parsed from a crash log.
type Failure struct {
	// Kind is "panic" or "fatal error". Empty means "panic".
	Kind      string
	Message   string
	Goroutine string
	// Value is the recovered panic value. Nil for parsed crash logs.
	Value any
	// Stack is the raw backtrace, innermost first, machinery included.
	Stack trace.Backtrace
	// ErrorStack is where Value was created, when it carries a stack.
	ErrorStack trace.Backtrace
}
