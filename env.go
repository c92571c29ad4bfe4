package crashtrace

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"

	"github.com/evan-idocoding/crashtrace/trace"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvVerbosity = "CRASHTRACE_VERBOSITY"
	EnvColor     = "CRASHTRACE_COLOR"
	EnvContext   = "CRASHTRACE_CONTEXT"
	EnvStripHash = "CRASHTRACE_STRIP_HASH"
	EnvMaxFrames = "CRASHTRACE_MAX_FRAMES"
	EnvRules     = "CRASHTRACE_RULES"
)

// ColorMode selects when the rendered trace is colorized.
type ColorMode int

const (
	// ColorAuto colorizes when the output is a terminal.
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

func (m ColorMode) String() string {
	switch m {
	case ColorAlways:
		return "always"
	case ColorNever:
		return "never"
	default:
		return "auto"
	}
}

// ParseColorMode parses "auto", "always" or "never".
func ParseColorMode(s string) (ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ColorAuto, nil
	case "always", "on", "true":
		return ColorAlways, nil
	case "never", "off", "false":
		return ColorNever, nil
	default:
		return ColorAuto, errors.Errorf("unknown color mode %q", s)
	}
}

// Enabled reports whether output written to w should be colorized. In auto
// mode only *os.File terminals qualify.
func (m ColorMode) Enabled(w io.Writer) bool {
	switch m {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Config is the environment-derived configuration of a handler. Options passed
// to Install override it.
type Config struct {
	Verbosity       trace.Verbosity
	Color           ColorMode
	StripSymbolHash bool
	ContextLines    int
	MaxFrames       int
	// RulesFile is an extra YAML or TOML rules file merged onto the defaults.
	RulesFile string
}

// DefaultConfig returns the configuration used when no variable is set.
func DefaultConfig() Config {
	rc := trace.DefaultRenderConfig()
	return Config{
		Verbosity:       rc.Verbosity,
		Color:           ColorAuto,
		StripSymbolHash: rc.StripSymbolHash,
		ContextLines:    rc.ContextLines,
		MaxFrames:       rc.MaxFrames,
	}
}

// ConfigFromEnv reads the configuration from the process environment.
//
// Verbosity comes from CRASHTRACE_VERBOSITY, or else from GOTRACEBACK: "none"
// maps to minimal, "all", "system" and "crash" to full, anything else to short.
// CRASHTRACE_COLOR takes precedence over NO_COLOR and FORCE_COLOR.
//
// Invalid values keep their defaults; the returned error lists them. The Config
// is always usable.
func ConfigFromEnv() (Config, error) {
	return configFromLookup(os.LookupEnv)
}

func configFromLookup(lookup func(string) (string, bool)) (Config, error) {
	c := DefaultConfig()
	var bad []string
	fail := func(name string, err error) {
		bad = append(bad, name+": "+err.Error())
	}

	if s, ok := lookup(EnvVerbosity); ok && s != "" {
		v, err := trace.ParseVerbosity(s)
		if err != nil {
			fail(EnvVerbosity, err)
		} else {
			c.Verbosity = v
		}
	} else if s, ok := lookup("GOTRACEBACK"); ok {
		c.Verbosity = verbosityFromGotraceback(s)
	}

	if s, ok := lookup(EnvColor); ok && s != "" {
		m, err := ParseColorMode(s)
		if err != nil {
			fail(EnvColor, err)
		} else {
			c.Color = m
		}
	} else if s, ok := lookup("NO_COLOR"); ok && s != "" {
		c.Color = ColorNever
	} else if s, ok := lookup("FORCE_COLOR"); ok && s != "" && s != "0" {
		c.Color = ColorAlways
	}

	if s, ok := lookup(EnvContext); ok && s != "" {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		switch {
		case err != nil:
			fail(EnvContext, err)
		case n < 0:
			fail(EnvContext, errors.Errorf("negative value %d", n))
		default:
			c.ContextLines = n
		}
	}

	if s, ok := lookup(EnvStripHash); ok && s != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			fail(EnvStripHash, err)
		} else {
			c.StripSymbolHash = b
		}
	}

	if s, ok := lookup(EnvMaxFrames); ok && s != "" {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		switch {
		case err != nil:
			fail(EnvMaxFrames, err)
		case n < 0:
			fail(EnvMaxFrames, errors.Errorf("negative value %d", n))
		default:
			c.MaxFrames = n
		}
	}

	if s, ok := lookup(EnvRules); ok {
		c.RulesFile = strings.TrimSpace(s)
	}

	if len(bad) > 0 {
		return c, errors.Errorf("invalid environment: %s", strings.Join(bad, "; "))
	}
	return c, nil
}

func verbosityFromGotraceback(s string) trace.Verbosity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "0":
		return trace.Minimal
	case "all", "system", "crash", "2":
		return trace.Full
	default:
		return trace.Short
	}
}
