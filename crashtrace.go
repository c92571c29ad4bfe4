package crashtrace

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/evan-idocoding/crashtrace/classify"
	"github.com/evan-idocoding/crashtrace/source"
	"github.com/evan-idocoding/crashtrace/trace"
)

var (
	active atomic.Pointer[handler]

	// outputMu serializes trace output of every handler in the process.
	outputMu sync.Mutex

	// inflight counts failures being reported right now.
	inflight atomic.Int64

	exitFunc    = os.Exit
	exitTimeout = time.Second
	capture     = trace.Capture
)

type handler struct {
	cfg      config
	pipeline *Pipeline
	previous *handler
}

// Install makes a new handler the active one. The handler that was active
// before (if any) is kept and restored by Uninstall.
//
// The configuration starts from ConfigFromEnv; opts override it. Install never
// fails: an unreadable rules file or an invalid environment variable leaves
// the affected setting at its default and prints a one-line note.
func Install(opts ...Option) {
	env, envErr := ConfigFromEnv()
	c := defaultConfig(env)
	c.envErr = envErr
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	h, notes := newHandler(c)
	if c.envErr != nil {
		notes = append(notes, c.envErr.Error())
	}
	for {
		prev := active.Load()
		h.previous = prev
		if active.CompareAndSwap(prev, h) {
			break
		}
	}
	for _, n := range notes {
		h.write([]byte("crashtrace: " + n + "\n"))
	}
}

// Uninstall restores the handler that was active before the latest Install.
// It is a no-op when nothing is installed.
func Uninstall() {
	for {
		cur := active.Load()
		if cur == nil {
			return
		}
		if active.CompareAndSwap(cur, cur.previous) {
			return
		}
	}
}

// Installed reports whether a handler is active.
func Installed() bool { return active.Load() != nil }

func newHandler(c config) (*handler, []string) {
	var notes []string

	rules := classify.DefaultRules().Merge(c.rules)
	if c.env.RulesFile != "" {
		extra, err := classify.LoadRules(c.env.RulesFile)
		if err != nil {
			notes = append(notes, err.Error())
		} else {
			rules = rules.Merge(extra)
		}
	}

	var srcOpts []source.Option
	if c.opener != nil {
		srcOpts = append(srcOpts, source.WithOpener(c.opener))
	}

	if c.crashFile != "" {
		if err := setCrashOutput(c.crashFile); err != nil {
			notes = append(notes, err.Error())
		}
	}

	return &handler{
		cfg:      c,
		pipeline: NewPipeline(c.renderConfig(), rules, srcOpts...),
	}, notes
}

func setCrashOutput(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "crash file")
	}
	// SetCrashOutput duplicates the descriptor.
	defer f.Close()
	return errors.Wrap(debug.SetCrashOutput(f, debug.CrashOptions{}), "crash file")
}

// Recover is the recover site for the top of main and of goroutines:
//
//	func main() {
//		crashtrace.Install()
//		defer crashtrace.Recover()
//		...
//	}
//
// It must be called directly by defer. When no handler is installed the value
// is re-panicked, leaving the Go runtime's default behavior in place.
func Recover() {
	v := recover()
	if v == nil {
		return
	}
	h := active.Load()
	if h == nil {
		panic(v)
	}
	h.handle(v, h.cfg.policy, "")
}

// Handle reports a value the caller has already recovered, then applies the
// active handler's policy. With no handler installed, v is re-panicked.
func Handle(v any) {
	h := active.Load()
	if h == nil {
		panic(v)
	}
	h.handle(v, h.cfg.policy, "")
}

// Notify reports a recovered value without applying any policy: the caller
// keeps running. It renders with the active handler, or with a handler built
// from the environment when none is installed. Recover middlewares use it.
//
// Only WithName is meaningful among opts.
func Notify(v any, opts ...RunOption) Report {
	var c runConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	h := active.Load()
	if h == nil {
		h = fallbackHandler()
	}
	return h.report(v, c.name)
}

var fallbackHandler = sync.OnceValue(func() *handler {
	env, _ := ConfigFromEnv()
	c := defaultConfig(env)
	c.policy = RecoverAndReport
	h, _ := newHandler(c)
	return h
})

func (h *handler) handle(v any, policy Policy, name string) {
	h.report(v, name)
	h.apply(v, policy)
}

func (h *handler) apply(v any, policy Policy) {
	switch policy {
	case RecoverAndReport:
	case RepanicAfterReport:
		panic(v)
	default:
		waitInflight(exitTimeout)
		exitFunc(2)
	}
}

// report renders and writes one failure and runs the hooks. Nothing it does
// may panic out of a recover site: a fault anywhere in it prints the raw
// failure instead, unless the trace was already written.
func (h *handler) report(v any, name string) (rep Report) {
	inflight.Add(1)
	defer inflight.Add(-1)

	f := Failure{Value: v}
	written := false
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		err := errors.Errorf("report panicked: %v", p)
		if rep.Kind == "" {
			rep = Report{Kind: "panic", Message: f.Message, Goroutine: f.Goroutine, Value: v, Time: time.Now()}
		}
		rep.Err = err
		if written {
			return
		}
		var buf bytes.Buffer
		writeFallback(&buf, f, err)
		h.write(buf.Bytes())
		rep.Fallback = true
		rep.Trace = buf.String()
		for _, hook := range h.cfg.hooks {
			callHookNoPanic(hook, rep)
		}
	}()

	f.Message = describe(v)
	f.Goroutine = goroutineLabel(name)
	f.Stack = capture(0)
	return h.emit(f, &written)
}

// emit renders f, writes it and runs the hooks. written is set once the
// trace is out.
func (h *handler) emit(f Failure, written *bool) Report {
	var buf bytes.Buffer
	rep, err := h.pipeline.render(&buf, f)
	if err != nil {
		buf.Reset()
		writeFallback(&buf, f, err)
		rep.Fallback = true
		rep.Err = err
		rep.Trace = buf.String()
	}
	h.write(buf.Bytes())
	*written = true

	for _, hook := range h.cfg.hooks {
		callHookNoPanic(hook, rep)
	}
	if h.cfg.chain && h.previous != nil {
		h.previous.emit(f, written)
	}
	return rep
}

// write sends b to the handler's output. When that writer panics, b goes to
// stderr instead, after a note.
func (h *handler) write(b []byte) {
	p := writeLocked(h.cfg.out, b)
	if p == nil || h.cfg.out == io.Writer(os.Stderr) {
		return
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "crashtrace: output writer panicked: %v\n", p)
	buf.Write(b)
	writeLocked(os.Stderr, buf.Bytes())
}

// writeLocked writes b under the process-wide output lock. A panic raised by w
// is recovered and returned.
func writeLocked(w io.Writer, b []byte) (panicked any) {
	outputMu.Lock()
	defer outputMu.Unlock()
	defer func() { panicked = recover() }()
	_, _ = w.Write(b)
	return nil
}

func callHookNoPanic(h ReportHook, rep Report) {
	defer func() {
		if p := recover(); p != nil {
			// A broken hook must not take the handler down with it.
			var buf bytes.Buffer
			fmt.Fprintf(&buf, "crashtrace: report hook panicked: %v\n", p)
			buf.Write(debug.Stack())
			writeLocked(os.Stderr, buf.Bytes())
		}
	}()
	h(rep)
}

func waitInflight(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for inflight.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

// goroutineLabel names the current goroutine: "goroutine 7", or
// "worker (goroutine 7)" when a name is given.
func goroutineLabel(name string) string {
	var b [64]byte
	s := string(b[:runtime.Stack(b[:], false)])
	s = strings.TrimPrefix(s, "goroutine ")
	id, _, ok := strings.Cut(s, " ")
	if !ok || id == "" {
		return name
	}
	if name == "" {
		return "goroutine " + id
	}
	return name + " (goroutine " + id + ")"
}
