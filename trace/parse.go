package trace

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoTrace is returned when a crash log contains no goroutine stack.
var ErrNoTrace = errors.New("trace: no goroutine trace found")

// Dump is a crash log printed by the Go runtime, parsed into frames.
type Dump struct {
	// Kind is "panic" or "fatal error", or empty if no header line was found.
	Kind string
	// Message is the failure message, including continuation lines such as
	// nested "[recovered]" panics or signal descriptions.
	Message string
	// Goroutines in the order they appear. The failing goroutine comes first.
	Goroutines []Goroutine
}

// Goroutine is one "goroutine N [state]:" block of a crash log.
type Goroutine struct {
	ID    int
	State string
	// Frames ends with the "created by" frame when the log has one.
	Frames Backtrace
	// CreatedBy is the function that started the goroutine, if reported.
	CreatedBy string
}

var goroutineHeader = regexp.MustCompile(`^goroutine (\d+)(?: [^\[]*)?\[([^\]]*)\]:\s*$`)

const maxLineSize = 1 << 20

// Parse reads Go runtime crash output.
//
// It understands the "panic:" / "fatal error:" header, "goroutine N [state]:"
// blocks, function lines (arguments are dropped), tab-indented "file:line +0xNN"
// lines (with optional "pc=0x..." from GOTRACEBACK=system) and "created by" lines.
// Lines it does not recognize are ignored.
func Parse(r io.Reader) (*Dump, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	d := &Dump{}
	var (
		header  []string
		cur     *Goroutine
		pending *Frame
	)
	flush := func() {
		if pending != nil && cur != nil {
			cur.Frames = append(cur.Frames, *pending)
		}
		pending = nil
	}
	finish := func() {
		flush()
		if cur != nil {
			d.Goroutines = append(d.Goroutines, *cur)
		}
		cur = nil
	}

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")

		if m := goroutineHeader.FindStringSubmatch(line); m != nil {
			finish()
			id, _ := strconv.Atoi(m[1])
			cur = &Goroutine{ID: id, State: m[2]}
			continue
		}

		if cur == nil {
			if len(d.Goroutines) == 0 {
				header = append(header, line)
			}
			continue
		}

		switch {
		case strings.TrimSpace(line) == "":
			finish()
		case strings.HasPrefix(line, "\t"):
			if pending != nil {
				applyLocation(pending, strings.TrimSpace(line))
			}
			flush()
		case strings.HasPrefix(line, "created by "):
			flush()
			fn := strings.TrimPrefix(line, "created by ")
			if i := strings.Index(fn, " in goroutine "); i >= 0 {
				fn = fn[:i]
			}
			cur.CreatedBy = fn
			fr := NewFrame(0, fn, "", 0)
			pending = &fr
		case strings.HasPrefix(line, "..."):
			flush()
		case !strings.HasSuffix(strings.TrimSpace(line), ")"):
			// Function lines always carry an argument list; anything else ends the block.
			finish()
		default:
			flush()
			fr := NewFrame(0, stripArgs(line), "", 0)
			pending = &fr
		}
	}
	finish()
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "trace: read crash log")
	}

	d.Kind, d.Message = parseHeader(header)
	if len(d.Goroutines) == 0 {
		return d, ErrNoTrace
	}
	return d, nil
}

func parseHeader(lines []string) (kind, message string) {
	start := -1
	for i, l := range lines {
		if strings.HasPrefix(l, "panic: ") || strings.HasPrefix(l, "fatal error: ") {
			start = i
			break
		}
	}
	if start < 0 {
		return "", ""
	}
	first := lines[start]
	if strings.HasPrefix(first, "panic: ") {
		kind, first = "panic", strings.TrimPrefix(first, "panic: ")
	} else {
		kind, first = "fatal error", strings.TrimPrefix(first, "fatal error: ")
	}
	msg := []string{first}
	for _, l := range lines[start+1:] {
		if strings.TrimSpace(l) == "" {
			continue
		}
		msg = append(msg, l)
	}
	return kind, strings.Join(msg, "\n")
}

// stripArgs turns "main.(*T).M(0xc000010000, ...)" into "main.(*T).M".
func stripArgs(line string) string {
	line = strings.TrimSpace(line)
	if !strings.HasSuffix(line, ")") {
		return line
	}
	depth := 0
	for i := len(line) - 1; i >= 0; i-- {
		switch line[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				return line[:i]
			}
		}
	}
	return line
}

// applyLocation parses "path/to/file.go:42 +0x1d fp=0x... sp=0x... pc=0x...".
func applyLocation(fr *Frame, loc string) {
	fileLine, rest := loc, ""
	for _, sep := range []string{" +0x", " fp=", " sp=", " pc="} {
		if i := strings.Index(fileLine, sep); i >= 0 {
			fileLine, rest = fileLine[:i], loc[i:]
		}
	}
	if fileLine == "" {
		return
	}
	for _, f := range strings.Fields(rest) {
		if v, ok := strings.CutPrefix(f, "pc=0x"); ok {
			if pc, err := strconv.ParseUint(v, 16, 64); err == nil {
				fr.Address = uintptr(pc)
			}
		}
	}
	i := strings.LastIndexByte(fileLine, ':')
	if i <= 0 {
		file := fileLine
		fr.File = &file
		return
	}
	file := fileLine[:i]
	fr.File = &file
	if n, err := strconv.Atoi(fileLine[i+1:]); err == nil && n > 0 {
		fr.Line = &n
	}
}
