// Package render turns a filtered, classified backtrace into colorized text.
//
// The renderer never probes the terminal: RenderConfig.Colors is resolved by
// the caller. With colors disabled the output contains no escape sequences.
// Render builds the whole text in memory and hands it to the writer in a single
// Write call.
package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/muesli/termenv"

	"github.com/evan-idocoding/crashtrace/filter"
	"github.com/evan-idocoding/crashtrace/source"
	"github.com/evan-idocoding/crashtrace/trace"
)

const bannerWidth = 80

// Section is one rendered list of frames with the snippets resolved for it.
// Snippets are keyed by index into View.Frames.
type Section struct {
	// Title is shown in the banner above the frames. Optional.
	Title    string
	View     filter.View
	Snippets map[int][]source.Line
}

// Document is everything the renderer prints for one failure.
type Document struct {
	// ID identifies the failure across outputs (stderr, log sinks). Optional.
	ID string
	// Kind is "panic" or "fatal error". Empty means "panic".
	Kind    string
	Message string
	// Goroutine describes the failing goroutine, e.g. a worker name. Optional.
	Goroutine string
	Trace     Section
	// ErrorOrigin is where the panic value was created, when it carries a stack.
	ErrorOrigin *Section
	// Others are further goroutines, rendered after the failing one.
	Others []Section
}

const (
	colorTitle    = "1"  // red
	colorMessage  = "6"  // cyan
	colorLocation = "5"  // magenta
	colorApp      = "9"  // bright red
	colorOther    = "2"  // green
	colorFault    = "15" // bright white
)

type painter struct {
	on bool
}

func (p painter) paint(s, color string) string {
	if !p.on || color == "" || s == "" {
		return s
	}
	return termenv.ANSI.String(s).Foreground(termenv.ANSI.Color(color)).String()
}

func originColor(o trace.Origin) string {
	switch o {
	case trace.ApplicationCode:
		return colorApp
	case trace.DependencyCode, trace.RuntimeInternal:
		return colorOther
	default:
		return ""
	}
}

// Render writes doc to w in one Write call.
func Render(w io.Writer, doc Document, cfg trace.RenderConfig) error {
	var b strings.Builder
	b.Grow(4096)
	r := renderer{b: &b, cfg: cfg, p: painter{on: cfg.Colors}}
	r.document(doc)
	_, err := io.WriteString(w, b.String())
	return err
}

// String renders doc to a string.
func String(doc Document, cfg trace.RenderConfig) string {
	var b strings.Builder
	_ = Render(&b, doc, cfg)
	return b.String()
}

type renderer struct {
	b   *strings.Builder
	cfg trace.RenderConfig
	p   painter
}

func (r *renderer) document(doc Document) {
	r.header(doc)

	if r.cfg.Verbosity == trace.Minimal {
		r.b.WriteByte('\n')
		fr, ok := filter.TopApplication(doc.Trace.View.Frames)
		if !ok {
			r.b.WriteString("no trace available\n")
			return
		}
		r.frame(indexOf(doc.Trace.View.Frames, fr), fr, nil)
		return
	}

	r.section("BACKTRACE", doc.Trace)
	if doc.ErrorOrigin != nil && r.cfg.Verbosity == trace.Full {
		r.section("ERROR ORIGIN", *doc.ErrorOrigin)
	}
	for _, s := range doc.Others {
		r.section("GOROUTINE", s)
	}
}

func (r *renderer) header(doc Document) {
	title := "Panic!"
	if doc.Kind == "fatal error" {
		title = "Fatal error!"
	}
	r.b.WriteByte('\n')
	r.b.WriteString(r.p.paint(title, colorTitle))
	r.b.WriteString("\n\n")

	r.b.WriteString("Message:  ")
	msg := doc.Message
	if msg == "" {
		msg = "<no message>"
	}
	lines := strings.Split(msg, "\n")
	for i, l := range lines {
		if i > 0 {
			r.b.WriteString("\n          ")
		}
		r.b.WriteString(r.p.paint(source.Sanitize(l), colorMessage))
	}
	r.b.WriteByte('\n')

	r.b.WriteString("Location: ")
	if fr, ok := filter.TopApplication(doc.Trace.View.Frames); ok {
		if file, line, ok := fr.Location(); ok {
			color := colorLocation
			if fr.Origin == trace.Unknown {
				color = ""
			}
			r.b.WriteString(r.p.paint(source.Sanitize(file), color))
			r.b.WriteByte(':')
			r.b.WriteString(r.p.paint(strconv.Itoa(line), color))
			r.b.WriteByte('\n')
		} else {
			r.b.WriteString("<unknown>\n")
		}
	} else {
		r.b.WriteString("<unknown>\n")
	}

	if doc.Goroutine != "" {
		r.b.WriteString("Goroutine: ")
		r.b.WriteString(source.Sanitize(doc.Goroutine))
		r.b.WriteByte('\n')
	}
	if doc.ID != "" && r.cfg.Verbosity == trace.Full {
		r.b.WriteString("Failure:  ")
		r.b.WriteString(source.Sanitize(doc.ID))
		r.b.WriteByte('\n')
	}
}

func (r *renderer) section(title string, s Section) {
	if s.Title != "" {
		title = s.Title
	}
	r.b.WriteByte('\n')
	r.b.WriteString(banner("[ " + source.Sanitize(title) + " ]"))
	r.b.WriteString("\n\n")

	if len(s.View.Frames) == 0 {
		r.b.WriteString("no trace available\n")
		return
	}
	for i, fr := range s.View.Frames {
		r.frame(i, fr, s.Snippets[i])
	}
	if s.View.Omitted > 0 {
		noun := "frames"
		if s.View.Omitted == 1 {
			noun = "frame"
		}
		fmt.Fprintf(r.b, "    ... %d more %s omitted\n", s.View.Omitted, noun)
	}
}

func (r *renderer) frame(i int, fr trace.Frame, snippet []source.Line) {
	color := originColor(fr.Origin)

	fmt.Fprintf(r.b, "%2d: ", i)
	name, ok := fr.Symbol()
	if ok {
		name = source.Sanitize(name)
		if r.cfg.StripSymbolHash {
			name = StripSymbolHash(name)
		}
	} else {
		name = fmt.Sprintf("0x%x", fr.Address)
	}
	r.b.WriteString(r.p.paint(name, color))
	r.b.WriteByte('\n')

	r.b.WriteString("    ")
	switch {
	case fr.File == nil || *fr.File == "":
		r.b.WriteString("<unknown source file>")
	case fr.Line == nil:
		r.b.WriteString(source.Sanitize(*fr.File))
		r.b.WriteString(":<unknown line>")
	default:
		r.b.WriteString(source.Sanitize(*fr.File))
		r.b.WriteByte(':')
		r.b.WriteString(strconv.Itoa(*fr.Line))
		if fr.Column != nil {
			r.b.WriteByte(':')
			r.b.WriteString(strconv.Itoa(*fr.Column))
		}
	}
	r.b.WriteByte('\n')

	if len(snippet) > 0 && fr.Line != nil {
		r.snippet(snippet, *fr.Line, fr.Origin)
	}
}

func (r *renderer) snippet(lines []source.Line, fault int, origin trace.Origin) {
	width := len(strconv.Itoa(lines[len(lines)-1].Number))
	faultColor := colorFault
	if origin == trace.Unknown {
		faultColor = ""
	}
	for _, l := range lines {
		marker := "   "
		if l.Number == fault {
			marker = ">> "
		}
		text := fmt.Sprintf("    %s%*d │ %s", marker, width, l.Number, source.Sanitize(l.Text))
		if l.Number == fault {
			text = r.p.paint(text, faultColor)
		}
		r.b.WriteString(text)
		r.b.WriteByte('\n')
	}
}

func banner(title string) string {
	title = " " + title + " "
	pad := bannerWidth - len(title)
	if pad < 0 {
		return title
	}
	left := pad / 2
	return strings.Repeat("-", left) + title + strings.Repeat("-", pad-left)
}

func indexOf(bt trace.Backtrace, fr trace.Frame) int {
	for i := range bt {
		if bt[i].Address == fr.Address && bt[i].Function == fr.Function {
			return i
		}
	}
	return 0
}
