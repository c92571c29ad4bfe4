// Package source loads the source lines shown under backtrace frames.
//
// A Resolver belongs to a single render: it caches every file it reads (and every
// failure) for its own lifetime, is not safe for concurrent use, and is meant to
// be dropped afterwards. Unreadable files are reported as ErrNotFound and are
// never retried.
package source

import (
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a snippet cannot be produced: the file is missing
// or unreadable, too large, or shorter than the requested line.
var ErrNotFound = errors.New("source: not found")

const (
	defaultMaxFailures = 4
	defaultMaxFileSize = 8 << 20
)

// Line is one numbered source line. Numbers are 1-based.
type Line struct {
	Number int
	Text   string
}

// Opener opens a source file by the path recorded in debug information.
type Opener func(path string) (io.ReadCloser, error)

type config struct {
	maxFailures int
	maxFileSize int64
	open        Opener
}

// Option configures a Resolver.
type Option func(*config)

// WithMaxFailures sets how many failed reads are tolerated before further
// reads are skipped. Default is 4. n <= 0 disables reading entirely.
func WithMaxFailures(n int) Option {
	return func(c *config) { c.maxFailures = n }
}

// WithMaxFileSize sets the largest file the resolver will read. Default is 8 MiB.
func WithMaxFileSize(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxFileSize = n
		}
	}
}

// WithOpener replaces os.Open.
func WithOpener(open Opener) Option {
	return func(c *config) {
		if open != nil {
			c.open = open
		}
	}
}

// Resolver resolves snippets and caches file contents by path.
type Resolver struct {
	cfg      config
	cache    map[string]entry
	failures int
}

type entry struct {
	lines []string
	err   error
}

// NewResolver creates a resolver with an empty cache.
func NewResolver(opts ...Option) *Resolver {
	cfg := config{
		maxFailures: defaultMaxFailures,
		maxFileSize: defaultMaxFileSize,
		open:        func(path string) (io.ReadCloser, error) { return os.Open(path) },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Resolver{cfg: cfg, cache: make(map[string]entry)}
}

// Resolve returns the lines [line-context, line+context] of path, clamped to the
// file. line is 1-based. Any failure is, or wraps, ErrNotFound.
func (r *Resolver) Resolve(path string, line, context int) ([]Line, error) {
	if path == "" || line < 1 {
		return nil, ErrNotFound
	}
	lines, err := r.load(path)
	if err != nil {
		return nil, err
	}
	if line > len(lines) {
		return nil, errors.Wrapf(ErrNotFound, "%s has %d lines, want line %d", path, len(lines), line)
	}
	if context < 0 {
		context = 0
	}
	start := max(1, line-context)
	end := min(len(lines), line+context)
	out := make([]Line, 0, end-start+1)
	for n := start; n <= end; n++ {
		out = append(out, Line{Number: n, Text: lines[n-1]})
	}
	return out, nil
}

// Failures returns the number of failed reads so far.
func (r *Resolver) Failures() int { return r.failures }

func (r *Resolver) load(path string) ([]string, error) {
	if e, ok := r.cache[path]; ok {
		return e.lines, e.err
	}
	if r.failures >= r.cfg.maxFailures {
		// Not cached: the file was never tried.
		return nil, errors.Wrap(ErrNotFound, "read budget exhausted")
	}
	lines, err := r.read(path)
	if err != nil {
		r.failures++
		err = errors.Wrapf(ErrNotFound, "%s: %v", path, err)
	}
	r.cache[path] = entry{lines: lines, err: err}
	return lines, err
}

func (r *Resolver) read(path string) ([]string, error) {
	f, err := r.cfg.open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, r.cfg.maxFileSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > r.cfg.maxFileSize {
		return nil, errors.Errorf("larger than %d bytes", r.cfg.maxFileSize)
	}
	return splitLines(string(b)), nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = Sanitize(strings.TrimSuffix(l, "\r"))
	}
	return lines
}

// Sanitize makes a source line safe to print to a terminal: escape sequences are
// removed, invalid UTF-8 and control characters other than tab become U+FFFD.
// Nothing else (tabs, spacing) is changed.
func Sanitize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	if strings.ContainsAny(s, "\x1b\u009b") {
		s = ansi.Strip(s)
	}
	return strings.Map(func(r rune) rune {
		if r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return '�'
	}, s)
}
