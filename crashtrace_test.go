package crashtrace

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/evan-idocoding/crashtrace/classify"
	"github.com/evan-idocoding/crashtrace/trace"
)

const selfModule = "github.com/evan-idocoding/crashtrace"

// chunkWriter records every Write call separately.
type chunkWriter struct {
	mu     sync.Mutex
	chunks []string
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunks = append(w.chunks, string(p))
	return len(p), nil
}

func (w *chunkWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.chunks, "")
}

func (w *chunkWriter) Chunks() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.chunks...)
}

func resetActive(t *testing.T) {
	t.Helper()
	active.Store(nil)
	t.Cleanup(func() { active.Store(nil) })
}

func testOptions(w io.Writer, extra ...Option) []Option {
	return append([]Option{
		WithConfig(DefaultConfig()),
		WithOutput(w),
		WithColors(false),
		WithPolicy(RecoverAndReport),
		WithRules(classify.Rules{Application: []string{selfModule}}),
	}, extra...)
}

func panicWith(v any) {
	defer Recover()
	panic(v)
}

func TestRecover_RendersAndRecovers(t *testing.T) {
	resetActive(t)

	var out chunkWriter
	Install(testOptions(&out, WithVerbosity(trace.Full))...)

	panicWith("boom")

	s := out.String()
	require.Contains(t, s, "Panic!\n")
	require.Contains(t, s, "Message:  boom\n")
	require.Contains(t, s, " 0: "+selfModule+".panicWith\n")
	require.Contains(t, s, "crashtrace_test.go:")
	require.Contains(t, s, "Goroutine: goroutine ")
	require.NotContains(t, s, "runtime.gopanic\n    ")
	require.Len(t, out.Chunks(), 1)
}

func TestRecover_NoHandlerRepanics(t *testing.T) {
	resetActive(t)

	require.PanicsWithValue(t, "boom", func() { panicWith("boom") })
}

func TestInstall_SecondWinsAndUninstallRestores(t *testing.T) {
	resetActive(t)

	var first, second chunkWriter
	Install(testOptions(&first)...)
	Install(testOptions(&second)...)

	panicWith("one")
	require.Empty(t, first.Chunks())
	require.Equal(t, 1, strings.Count(second.String(), "Panic!"))

	Uninstall()
	panicWith("two")
	require.Equal(t, 1, strings.Count(first.String(), "Panic!"))
	require.Contains(t, first.String(), "Message:  two")
	require.Equal(t, 1, strings.Count(second.String(), "Panic!"))

	Uninstall()
	require.False(t, Installed())
	Uninstall()
	require.False(t, Installed())
}

func TestInstall_ChainPrevious(t *testing.T) {
	resetActive(t)

	var first, second chunkWriter
	Install(testOptions(&first)...)
	Install(testOptions(&second, WithChainPrevious(true))...)

	panicWith("both")
	require.Contains(t, first.String(), "Message:  both")
	require.Contains(t, second.String(), "Message:  both")
}

func TestPolicy_ExitProcess(t *testing.T) {
	resetActive(t)

	var code int
	prevExit, prevTimeout := exitFunc, exitTimeout
	exitFunc = func(c int) { code = c }
	exitTimeout = 10 * time.Millisecond
	t.Cleanup(func() { exitFunc, exitTimeout = prevExit, prevTimeout })

	var out chunkWriter
	Install(testOptions(&out, WithPolicy(ExitProcess))...)

	panicWith("fatal")
	require.Equal(t, 2, code)
	require.Contains(t, out.String(), "Message:  fatal")
}

func TestPolicy_RepanicAfterReport(t *testing.T) {
	resetActive(t)

	var out chunkWriter
	Install(testOptions(&out, WithPolicy(RepanicAfterReport))...)

	require.PanicsWithValue(t, "again", func() { panicWith("again") })
	require.Contains(t, out.String(), "Message:  again")
}

func TestConcurrentPanicsDoNotInterleave(t *testing.T) {
	resetActive(t)

	var out chunkWriter
	Install(testOptions(&out, WithVerbosity(trace.Full))...)

	const n = 8
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			Run(context.Background(), func(context.Context) {
				panic(fmt.Sprintf("boom-%d", i))
			}, WithName(fmt.Sprintf("worker-%d", i)))
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	chunks := out.Chunks()
	require.Len(t, chunks, n)
	seen := make(map[string]bool)
	for _, c := range chunks {
		require.Equal(t, 1, strings.Count(c, "Panic!"), c)
		require.Equal(t, 1, strings.Count(c, "Message:  boom-"), c)
		i := strings.Index(c, "Message:  boom-")
		msg := c[i : i+len("Message:  boom-0")]
		seen[msg] = true
		require.Contains(t, c, "Goroutine: worker-"+msg[len(msg)-1:]+" (goroutine ")
	}
	require.Len(t, seen, n)
}

func TestInternalFailureFallsBack(t *testing.T) {
	resetActive(t)

	var out chunkWriter
	var reports []Report
	Install(testOptions(&out,
		WithContextLines(2),
		WithSourceOpener(func(string) (io.ReadCloser, error) { panic("opener broke") }),
		WithReportHook(func(r Report) { reports = append(reports, r) }),
	)...)

	panicWith("boom")

	s := out.String()
	require.True(t, strings.HasPrefix(s, "panic: boom\n"), s)
	require.Contains(t, s, "[crashtrace: could not render trace: render panicked: opener broke]")
	require.Contains(t, s, "goroutine ")
	require.Len(t, reports, 1)
	require.True(t, reports[0].Fallback)
	require.Error(t, reports[0].Err)
}

type panicWriter struct{}

func (panicWriter) Write([]byte) (int, error) { panic("writer broke") }

func TestPanickingOutputIsContained(t *testing.T) {
	resetActive(t)

	var reports []Report
	Install(testOptions(panicWriter{}, WithReportHook(func(r Report) { reports = append(reports, r) }))...)

	require.NotPanics(t, func() { panicWith("first") })
	require.Len(t, reports, 1)
	require.Equal(t, "first", reports[0].Message)

	// The output lock must have been released.
	var out chunkWriter
	Install(testOptions(&out)...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		panicWith("second")
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("second failure blocked on the output lock")
	}
	require.Contains(t, out.String(), "Message:  second")
}

func TestFaultOutsideRenderFallsBack(t *testing.T) {
	resetActive(t)
	orig := capture
	capture = func(int) trace.Backtrace { panic("unwinder broke") }
	t.Cleanup(func() { capture = orig })

	var out chunkWriter
	var reports []Report
	Install(testOptions(&out, WithReportHook(func(r Report) { reports = append(reports, r) }))...)

	require.NotPanics(t, func() { panicWith("boom") })

	s := out.String()
	require.True(t, strings.HasPrefix(s, "panic: boom\n"), s)
	require.Contains(t, s, "[crashtrace: could not render trace: report panicked: unwinder broke]")
	require.Len(t, out.Chunks(), 1)
	require.Len(t, reports, 1)
	require.True(t, reports[0].Fallback)
	require.Equal(t, "boom", reports[0].Message)
	require.Error(t, reports[0].Err)
}

func TestReportHook_Fields(t *testing.T) {
	resetActive(t)

	var out chunkWriter
	var got Report
	Install(testOptions(&out, WithReportHook(func(r Report) { got = r }))...)

	panicWith(errors.New("bad input"))

	require.NotEmpty(t, got.ID)
	require.Equal(t, "panic", got.Kind)
	require.Equal(t, "bad input", got.Message)
	require.False(t, got.Fallback)
	require.False(t, got.Time.IsZero())
	require.Equal(t, out.String(), got.Trace)
	require.NotNil(t, got.Top)
	name, _ := got.Top.Symbol()
	require.Equal(t, selfModule+".panicWith", name)
	require.Positive(t, got.Origins[trace.ApplicationCode])
	total := 0
	for _, n := range got.Origins {
		total += n
	}
	require.Equal(t, len(got.Frames), total)
}

func TestReportHook_PanicIsContained(t *testing.T) {
	resetActive(t)

	var out chunkWriter
	called := false
	Install(testOptions(&out,
		WithReportHook(func(Report) { panic("hook broke") }),
		WithReportHook(func(Report) { called = true }),
	)...)

	require.NotPanics(t, func() { panicWith("boom") })
	require.True(t, called)
}

func TestErrorOriginSection(t *testing.T) {
	resetActive(t)

	var out chunkWriter
	Install(testOptions(&out, WithVerbosity(trace.Full))...)

	panicWith(errors.New("made here"))
	require.Contains(t, out.String(), "[ ERROR ORIGIN ]")

	var short chunkWriter
	Install(testOptions(&short, WithVerbosity(trace.Short))...)
	panicWith(errors.New("made here"))
	require.NotContains(t, short.String(), "[ ERROR ORIGIN ]")
}

func TestRun_FinalizersAndPolicyOverride(t *testing.T) {
	resetActive(t)

	prevExit := exitFunc
	exitFunc = func(int) { t.Errorf("unexpected exit") }
	t.Cleanup(func() { exitFunc = prevExit })

	var out chunkWriter
	Install(testOptions(&out, WithPolicy(ExitProcess))...)

	var order []int
	Run(context.Background(), func(context.Context) {
		panic("boom")
	}, WithFinally(func() { order = append(order, 1) }),
		WithFinally(func() { order = append(order, 2) }),
		WithRunPolicy(RecoverAndReport),
	)
	require.Equal(t, []int{2, 1}, order)
	require.Contains(t, out.String(), "Message:  boom")
}

func TestRun_FinalizerPanicReported(t *testing.T) {
	resetActive(t)

	var out chunkWriter
	Install(testOptions(&out)...)

	require.NotPanics(t, func() {
		Run(context.Background(), func(context.Context) {}, WithFinally(func() { panic("late") }))
	})
	require.Contains(t, out.String(), "finalizer panicked: late")
}

func TestRun_NoHandlerPropagates(t *testing.T) {
	resetActive(t)

	done := false
	require.PanicsWithValue(t, "boom", func() {
		Run(context.Background(), func(context.Context) { panic("boom") }, WithFinally(func() { done = true }))
	})
	require.True(t, done)
}

func TestGo_ReportsOnOwnGoroutine(t *testing.T) {
	resetActive(t)

	var out chunkWriter
	Install(testOptions(&out)...)

	var wg sync.WaitGroup
	wg.Add(1)
	Go(context.Background(), func(context.Context) {
		panic("async")
	}, WithName("bg"), WithFinally(wg.Done))
	wg.Wait()

	require.Contains(t, out.String(), "Message:  async")
	require.Contains(t, out.String(), "Goroutine: bg (goroutine ")
}

func TestNotify_NeverExits(t *testing.T) {
	resetActive(t)

	prevExit := exitFunc
	exitFunc = func(int) { t.Errorf("unexpected exit") }
	t.Cleanup(func() { exitFunc = prevExit })

	var out chunkWriter
	Install(testOptions(&out, WithPolicy(ExitProcess))...)

	func() {
		defer func() {
			if v := recover(); v != nil {
				Notify(v)
			}
		}()
		panic("handled elsewhere")
	}()
	require.Contains(t, out.String(), "Message:  handled elsewhere")
}

func TestInstall_BadRulesFileLeavesDefaults(t *testing.T) {
	resetActive(t)

	var out chunkWriter
	cfg := DefaultConfig()
	cfg.RulesFile = "/nonexistent/rules.yaml"
	Install(WithConfig(cfg), WithOutput(&out), WithColors(false), WithPolicy(RecoverAndReport))

	require.Contains(t, out.String(), "crashtrace: classify: read rules")
	panicWith("still works")
	require.Contains(t, out.String(), "Message:  still works")
}
