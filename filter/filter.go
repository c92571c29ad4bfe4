// Package filter shortens backtraces for display.
//
// Two independent steps compose:
//   - TrimMachinery drops the leading frames that belong to the panic machinery
//     itself (runtime.gopanic, recover sites, stack capture). It runs before
//     classification and looks at symbol names only.
//   - Apply trims a classified backtrace according to verbosity and depth limit.
//
// Neither step reorders frames or adds any.
package filter

import (
	"strings"

	"github.com/evan-idocoding/crashtrace/trace"
)

// MachineryPatterns lists the symbols of failure-signaling machinery. A pattern
// ending in "*" is a prefix; any other pattern matches the symbol exactly or as
// the parent of a closure or wrapper ("Run" matches "Run.func1").
var MachineryPatterns = []string{
	"runtime.Callers",
	"runtime.callers",
	"runtime/debug.Stack",
	"runtime.gopanic",
	"runtime.panic*",
	"runtime.goPanic*",
	"runtime.sigpanic",
	"panic",
	"github.com/evan-idocoding/crashtrace.Recover",
	"github.com/evan-idocoding/crashtrace.Run",
	"github.com/evan-idocoding/crashtrace.Go",
	"github.com/evan-idocoding/crashtrace.Handle",
	"github.com/evan-idocoding/crashtrace.Notify",
	"github.com/evan-idocoding/crashtrace.(*handler).*",
	"github.com/evan-idocoding/crashtrace/trace.*",
	"github.com/evan-idocoding/crashtrace/httpx.Recover",
	"github.com/evan-idocoding/crashtrace/httpx.callOnPanicNoPanic",
	"github.com/pkg/errors.*",
}

func isMachinery(symbol string) bool {
	for _, p := range MachineryPatterns {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(symbol, prefix) {
				return true
			}
			continue
		}
		if symbol == p || strings.HasPrefix(symbol, p+".") {
			return true
		}
	}
	return false
}

// TrimMachinery removes the leading run of machinery frames. It stops at the
// first frame that does not match, including frames without a symbol. When no
// leading frame matches, bt is returned unchanged.
//
// TrimMachinery is idempotent.
func TrimMachinery(bt trace.Backtrace) trace.Backtrace {
	n := 0
	for _, fr := range bt {
		name, ok := fr.Symbol()
		if !ok || !isMachinery(name) {
			break
		}
		n++
	}
	return bt[n:]
}

// View is a backtrace prepared for display.
type View struct {
	Frames trace.Backtrace
	// Omitted is the number of trailing frames that were collapsed.
	Omitted int
}

// Apply trims a classified backtrace for display.
//
// In Short verbosity, the trailing run of dependency/runtime frames after the
// outermost application frame is collapsed. When the run directly follows the
// application frame its first frame is kept: it is the code that called into the
// application. If the backtrace has no
// application frame at all, nothing is collapsed. Full and Minimal keep every
// frame (Minimal rendering picks its single frame itself).
//
// MaxFrames, when positive, truncates the result and adds to Omitted.
func Apply(bt trace.Backtrace, cfg trace.RenderConfig) View {
	v := View{Frames: bt}

	if cfg.Verbosity == trace.Short {
		if last := lastApplication(bt); last >= 0 {
			start := last + 1
			end := len(bt)
			for end > start && isNoise(bt[end-1].Origin) {
				end--
			}
			keep := end
			if end == start {
				// Keep the caller of the application code as context.
				keep++
			}
			if keep < len(bt) {
				v.Frames = bt[:keep]
				v.Omitted = len(bt) - keep
			}
		}
	}

	if cfg.MaxFrames > 0 && len(v.Frames) > cfg.MaxFrames {
		v.Omitted += len(v.Frames) - cfg.MaxFrames
		v.Frames = v.Frames[:cfg.MaxFrames]
	}
	return v
}

func lastApplication(bt trace.Backtrace) int {
	for i := len(bt) - 1; i >= 0; i-- {
		if bt[i].Origin == trace.ApplicationCode {
			return i
		}
	}
	return -1
}

func isNoise(o trace.Origin) bool {
	return o == trace.DependencyCode || o == trace.RuntimeInternal
}

// TopApplication returns the innermost application frame, or the first frame
// when there is none.
func TopApplication(bt trace.Backtrace) (trace.Frame, bool) {
	for _, fr := range bt {
		if fr.Origin == trace.ApplicationCode {
			return fr, true
		}
	}
	if len(bt) > 0 {
		return bt[0], true
	}
	return trace.Frame{}, false
}
