package render

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evan-idocoding/crashtrace/filter"
	"github.com/evan-idocoding/crashtrace/source"
	"github.com/evan-idocoding/crashtrace/trace"
)

func classified(symbol, file string, line int, o trace.Origin) trace.Frame {
	fr := trace.NewFrame(0x4010, symbol, file, line)
	fr.Origin = o
	return fr
}

func sampleDoc() Document {
	bt := trace.Backtrace{
		classified("example.com/app.appFn", "/app/app.go", 3, trace.ApplicationCode),
		classified("github.com/dep/lib.depFn", "/dep/lib.go", 5, trace.DependencyCode),
		classified("other.Unknown", "/x/other.go", 2, trace.Unknown),
	}
	return Document{
		ID:      "f-1",
		Message: "boom",
		Trace: Section{
			View: filter.View{Frames: bt, Omitted: 1},
			Snippets: map[int][]source.Line{
				0: {{Number: 2, Text: "func appFn() {"}, {Number: 3, Text: "\tpanic(\"boom\")"}, {Number: 4, Text: "}"}},
				2: {{Number: 1, Text: "package other"}, {Number: 2, Text: "var x = 1"}},
			},
		},
	}
}

func TestRender_NoEscapesWhenColorsOff(t *testing.T) {
	t.Parallel()

	for _, v := range []trace.Verbosity{trace.Minimal, trace.Short, trace.Full} {
		doc := sampleDoc()
		doc.Message = "bad \x1b[31mvalue\nsecond \x1b[2J line"
		doc.Goroutine = "worker \x1b]0;title\x07(goroutine 7)"
		doc.Trace.View.Frames[0] = classified("main.\x1b[31mevil", "/src/\x1b]0;pwn\x07x.go", 3, trace.ApplicationCode)
		doc.Trace.View.Frames[1] = classified("github.com/dep/lib.depFn", "/dep/\x1b[1mlib.go", 5, trace.DependencyCode)
		doc.Trace.Snippets[0] = []source.Line{{Number: 3, Text: "\x1b[2Kpanic(x)"}}
		doc.Others = []Section{{Title: "goroutine 9 \x1b[7m[running]", View: filter.View{Frames: doc.Trace.View.Frames[:1]}}}

		out := String(doc, trace.RenderConfig{Verbosity: v, Colors: false})
		require.NotContains(t, out, "\x1b", "verbosity=%s\n%s", v, out)
		require.NotContains(t, out, "\x07", "verbosity=%s\n%s", v, out)
	}
}

func TestRender_SanitizedFieldsKeepText(t *testing.T) {
	t.Parallel()

	doc := sampleDoc()
	doc.Message = "bad \x1b[31mvalue"
	doc.Trace.View.Frames[0] = classified("main.\x1b[31mevil", "/src/x.go", 3, trace.ApplicationCode)

	out := String(doc, trace.RenderConfig{Verbosity: trace.Short})
	require.Contains(t, out, "Message:  bad value\n")
	require.Contains(t, out, " 0: main.evil\n")
}

func TestRender_ColorsByOrigin(t *testing.T) {
	t.Parallel()

	out := String(sampleDoc(), trace.RenderConfig{Verbosity: trace.Full, Colors: true})
	require.Contains(t, out, "\x1b[91mexample.com/app.appFn\x1b[0m")
	require.Contains(t, out, "\x1b[32mgithub.com/dep/lib.depFn\x1b[0m")

	// Unknown frames carry no style, and neither do their snippet lines.
	require.Contains(t, out, " 2: other.Unknown\n")
	for _, l := range strings.Split(out, "\n") {
		if strings.Contains(l, "var x = 1") {
			require.NotContains(t, l, "\x1b")
			require.Contains(t, l, ">>")
		}
	}
}

func TestRender_UnknownTopFrameLocationUnstyled(t *testing.T) {
	t.Parallel()

	doc := Document{
		Message: "boom",
		Trace: Section{View: filter.View{Frames: trace.Backtrace{
			classified("weird.F", "/src/x.go", 3, trace.Unknown),
		}}},
	}
	for _, v := range []trace.Verbosity{trace.Minimal, trace.Short, trace.Full} {
		out := String(doc, trace.RenderConfig{Verbosity: v, Colors: true})
		require.Contains(t, out, "Location: /src/x.go:3\n", "verbosity=%s", v)
		require.Contains(t, out, " 0: weird.F\n", "verbosity=%s", v)
	}

	doc.Trace.View.Frames[0].Origin = trace.ApplicationCode
	out := String(doc, trace.RenderConfig{Verbosity: trace.Short, Colors: true})
	require.Contains(t, out, "Location: \x1b[35m/src/x.go\x1b[0m")
}

func TestRender_Layout(t *testing.T) {
	t.Parallel()

	out := String(sampleDoc(), trace.RenderConfig{Verbosity: trace.Short})
	require.Contains(t, out, "Panic!\n")
	require.Contains(t, out, "Message:  boom\n")
	require.Contains(t, out, "Location: /app/app.go:3\n")
	require.Contains(t, out, banner("[ BACKTRACE ]"))
	require.Len(t, banner("[ BACKTRACE ]"), bannerWidth)
	require.Contains(t, out, " 0: example.com/app.appFn\n    /app/app.go:3\n")
	require.Contains(t, out, "    >> 3 │ \tpanic(\"boom\")\n")
	require.Contains(t, out, "       2 │ func appFn() {\n")
	require.Contains(t, out, "    ... 1 more frame omitted\n")
	require.NotContains(t, out, "Failure:")
	require.NotContains(t, out, "[ ERROR ORIGIN ]")
}

func TestRender_FullAddsIDAndErrorOrigin(t *testing.T) {
	t.Parallel()

	doc := sampleDoc()
	doc.Goroutine = "worker-3"
	doc.ErrorOrigin = &Section{View: filter.View{Frames: trace.Backtrace{
		classified("example.com/app.load", "/app/load.go", 9, trace.ApplicationCode),
	}}}
	out := String(doc, trace.RenderConfig{Verbosity: trace.Full})
	require.Contains(t, out, "Failure:  f-1\n")
	require.Contains(t, out, "Goroutine: worker-3\n")
	require.Contains(t, out, "[ ERROR ORIGIN ]")
	require.Contains(t, out, "example.com/app.load")
	require.Contains(t, out, "    ... 1 more frame omitted\n")
}

func TestRender_MissingSnippetStillRendersFrame(t *testing.T) {
	t.Parallel()

	doc := sampleDoc()
	doc.Trace.Snippets = nil
	out := String(doc, trace.RenderConfig{Verbosity: trace.Full})
	require.Contains(t, out, " 1: github.com/dep/lib.depFn\n    /dep/lib.go:5\n")
	require.NotContains(t, out, "│")
}

func TestRender_UnresolvedFrames(t *testing.T) {
	t.Parallel()

	doc := Document{Message: "x", Trace: Section{View: filter.View{Frames: trace.Backtrace{
		{Address: 0xdead},
		trace.NewFrame(0, "main.f", "", 0),
		trace.NewFrame(0, "main.g", "/app/g.go", 0),
	}}}}
	out := String(doc, trace.RenderConfig{Verbosity: trace.Full})
	require.Contains(t, out, " 0: 0xdead\n    <unknown source file>\n")
	require.Contains(t, out, " 1: main.f\n    <unknown source file>\n")
	require.Contains(t, out, " 2: main.g\n    /app/g.go:<unknown line>\n")
	require.Contains(t, out, "Location: <unknown>\n")
}

func TestRender_EmptyBacktrace(t *testing.T) {
	t.Parallel()

	out := String(Document{Message: "gone"}, trace.RenderConfig{Verbosity: trace.Short})
	require.Contains(t, out, "no trace available\n")
	require.Contains(t, out, "Message:  gone\n")

	out = String(Document{Message: "gone"}, trace.RenderConfig{Verbosity: trace.Minimal})
	require.Contains(t, out, "no trace available\n")
}

func TestRender_Minimal(t *testing.T) {
	t.Parallel()

	doc := sampleDoc()
	doc.Trace.View.Frames = append(trace.Backtrace{
		classified("runtime.goexit", "", 0, trace.RuntimeInternal),
	}, doc.Trace.View.Frames...)
	out := String(doc, trace.RenderConfig{Verbosity: trace.Minimal})
	require.Contains(t, out, " 1: example.com/app.appFn\n")
	require.NotContains(t, out, "depFn")
	require.NotContains(t, out, "BACKTRACE")
	require.NotContains(t, out, "│")
}

func TestRender_MultilineMessageAndFatalError(t *testing.T) {
	t.Parallel()

	doc := sampleDoc()
	doc.Kind = "fatal error"
	doc.Message = "line one\nline two"
	out := String(doc, trace.RenderConfig{Verbosity: trace.Short})
	require.Contains(t, out, "Fatal error!\n")
	require.Contains(t, out, "Message:  line one\n          line two\n")
}

func TestRender_StripSymbolHash(t *testing.T) {
	t.Parallel()

	doc := Document{Trace: Section{View: filter.View{Frames: trace.Backtrace{
		trace.NewFrame(1, "example.com/app.Map[...].func1.gowrap2", "", 0),
	}}}}
	require.Contains(t, String(doc, trace.RenderConfig{Verbosity: trace.Full, StripSymbolHash: true}),
		" 0: example.com/app.Map.func1\n")
	require.Contains(t, String(doc, trace.RenderConfig{Verbosity: trace.Full}),
		" 0: example.com/app.Map[...].func1.gowrap2\n")
}

func TestStripSymbolHash(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"main.main":                            "main.main",
		"main.(*T).Run-fm":                     "main.(*T).Run",
		"main.F[go.shape.map[string]int]":      "main.F",
		"main.G.deferwrap1":                    "main.G",
		"main.H.gowrap12":                      "main.H",
		"gopkg.in/yaml%2ev3.Unmarshal":         "gopkg.in/yaml.v3.Unmarshal",
		"main.broken[":                         "main.broken[",
		"main.gowrapper":                       "main.gowrapper",
		"example.com/x.(*S[...]).M.func2.1-fm": "example.com/x.(*S).M.func2.1",
	}
	for in, want := range cases {
		require.Equal(t, want, StripSymbolHash(in), in)
	}
}

func TestResolveSnippets_PerVerbosity(t *testing.T) {
	t.Parallel()

	files := map[string]string{"/app/app.go": "a\nb\nc\nd\n", "/dep/lib.go": "1\n2\n3\n4\n5\n6\n"}
	open := func(path string) (io.ReadCloser, error) {
		s, ok := files[path]
		if !ok {
			return nil, os.ErrNotExist
		}
		return io.NopCloser(strings.NewReader(s)), nil
	}
	view := filter.View{Frames: trace.Backtrace{
		classified("example.com/app.appFn", "/app/app.go", 3, trace.ApplicationCode),
		classified("github.com/dep/lib.depFn", "/dep/lib.go", 5, trace.DependencyCode),
		classified("x.NoFile", "/missing.go", 5, trace.Unknown),
	}}

	short := ResolveSnippets(view, trace.RenderConfig{Verbosity: trace.Short, ContextLines: 1}, source.NewResolver(source.WithOpener(open)))
	require.Len(t, short, 1)
	require.Equal(t, []source.Line{{Number: 2, Text: "b"}, {Number: 3, Text: "c"}, {Number: 4, Text: "d"}}, short[0])

	full := ResolveSnippets(view, trace.RenderConfig{Verbosity: trace.Full, ContextLines: 1}, source.NewResolver(source.WithOpener(open)))
	require.Len(t, full, 2)
	require.Contains(t, full, 1)

	require.Empty(t, ResolveSnippets(view, trace.RenderConfig{Verbosity: trace.Full}, source.NewResolver(source.WithOpener(open))))
	require.Empty(t, ResolveSnippets(view, trace.RenderConfig{Verbosity: trace.Minimal, ContextLines: 2}, source.NewResolver(source.WithOpener(open))))
}
