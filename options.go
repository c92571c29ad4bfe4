package crashtrace

import (
	"io"
	"os"

	"github.com/evan-idocoding/crashtrace/classify"
	"github.com/evan-idocoding/crashtrace/source"
	"github.com/evan-idocoding/crashtrace/trace"
)

type config struct {
	env    Config
	envErr error

	colors    *bool
	rules     classify.Rules
	out       io.Writer
	policy    Policy
	hooks     []ReportHook
	chain     bool
	crashFile string
	opener    source.Opener
}

// Option configures Install.
type Option func(*config)

func defaultConfig(env Config) config {
	return config{
		env:    env,
		out:    os.Stderr,
		policy: ExitProcess,
	}
}

// WithConfig replaces the environment-derived configuration.
func WithConfig(c Config) Option {
	return func(cfg *config) {
		cfg.env = c
		cfg.envErr = nil
	}
}

// WithVerbosity sets the verbosity.
func WithVerbosity(v trace.Verbosity) Option {
	return func(c *config) { c.env.Verbosity = v }
}

// WithColors forces colors on or off, bypassing the terminal probe.
func WithColors(on bool) Option {
	return func(c *config) { c.colors = &on }
}

// WithStripSymbolHash controls removal of compiler-generated symbol suffixes.
func WithStripSymbolHash(strip bool) Option {
	return func(c *config) { c.env.StripSymbolHash = strip }
}

// WithContextLines sets the number of source lines shown around the fault line.
// Zero disables snippets.
func WithContextLines(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.env.ContextLines = n
		}
	}
}

// WithMaxFrames limits the number of rendered frames. Zero means unlimited.
func WithMaxFrames(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.env.MaxFrames = n
		}
	}
}

// WithRules adds classification rules on top of the defaults derived from
// build information.
func WithRules(r classify.Rules) Option {
	return func(c *config) { c.rules = c.rules.Merge(r) }
}

// WithOutput sets where traces are written. Default is os.Stderr.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.out = w
		}
	}
}

// WithPolicy sets what happens after a failure is reported. Default is
// ExitProcess.
func WithPolicy(p Policy) Option {
	return func(c *config) { c.policy = p }
}

// WithReportHook appends a hook called after each failure is written.
func WithReportHook(h ReportHook) Option {
	return func(c *config) {
		if h != nil {
			c.hooks = append(c.hooks, h)
		}
	}
}

// WithChainPrevious makes the handler also run the handler that was active
// before Install, after its own report.
func WithChainPrevious(chain bool) Option {
	return func(c *config) { c.chain = chain }
}

// WithCrashFile asks the Go runtime to append its own crash output (fatal
// errors, panics no recover site caught) to path. crashfmt renders that file.
func WithCrashFile(path string) Option {
	return func(c *config) { c.crashFile = path }
}

// WithSourceOpener replaces os.Open for reading source snippets, e.g. to read
// from an embedded file system.
func WithSourceOpener(open source.Opener) Option {
	return func(c *config) { c.opener = open }
}

func (c config) renderConfig() trace.RenderConfig {
	colors := c.env.Color.Enabled(c.out)
	if c.colors != nil {
		colors = *c.colors
	}
	return trace.RenderConfig{
		Colors:          colors,
		Verbosity:       c.env.Verbosity,
		StripSymbolHash: c.env.StripSymbolHash,
		ContextLines:    c.env.ContextLines,
		MaxFrames:       c.env.MaxFrames,
	}
}
