package trace

import (
	"strings"

	"github.com/pkg/errors"
)

// Verbosity selects how much of a backtrace is rendered.
type Verbosity int

const (
	// Minimal renders the failure message and the top application frame only.
	Minimal Verbosity = iota
	// Short collapses the dependency/runtime tail after the last application frame.
	Short
	// Full renders every frame.
	Full
)

func (v Verbosity) String() string {
	switch v {
	case Minimal:
		return "minimal"
	case Full:
		return "full"
	default:
		return "short"
	}
}

// ParseVerbosity parses "minimal", "short" or "full" (case-insensitive).
// "medium" is accepted as an alias of "short".
func ParseVerbosity(s string) (Verbosity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min":
		return Minimal, nil
	case "short", "medium":
		return Short, nil
	case "full":
		return Full, nil
	default:
		return Short, errors.Errorf("trace: unknown verbosity %q", s)
	}
}

// RenderConfig is read by the filter and the renderer. It is immutable for the
// duration of one render.
type RenderConfig struct {
	// Colors enables ANSI styling. It is resolved by the caller; renderers never probe.
	Colors bool
	// Verbosity selects minimal, short or full output.
	Verbosity Verbosity
	// StripSymbolHash removes compiler-generated disambiguation suffixes from symbols.
	StripSymbolHash bool
	// ContextLines is the number of source lines shown on each side of the fault
	// line. Zero disables snippets.
	ContextLines int
	// MaxFrames limits the number of rendered frames. Zero means unlimited.
	MaxFrames int
}

// DefaultRenderConfig returns the configuration used when nothing is set:
// short verbosity, two context lines, stripped symbols, no colors.
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		Verbosity:       Short,
		StripSymbolHash: true,
		ContextLines:    2,
	}
}
