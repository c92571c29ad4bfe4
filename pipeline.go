package crashtrace

import (
	"bytes"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/evan-idocoding/crashtrace/classify"
	"github.com/evan-idocoding/crashtrace/filter"
	"github.com/evan-idocoding/crashtrace/render"
	"github.com/evan-idocoding/crashtrace/source"
	"github.com/evan-idocoding/crashtrace/trace"
)

// Pipeline turns a Failure into rendered text: machinery trimming,
// classification, verbosity trimming, snippet resolution and rendering.
//
// A Pipeline is immutable and safe for concurrent use; every render gets its
// own source cache.
type Pipeline struct {
	cfg        trace.RenderConfig
	classifier *classify.Classifier
	sourceOpts []source.Option
}

// NewPipeline creates a pipeline rendering with cfg and classifying with rules.
func NewPipeline(cfg trace.RenderConfig, rules classify.Rules, opts ...source.Option) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		classifier: classify.New(rules),
		sourceOpts: opts,
	}
}

// Config returns the render configuration.
func (p *Pipeline) Config() trace.RenderConfig { return p.cfg }

// Render writes the rendered failure to w in one Write call and returns its
// report.
//
// A panic inside the pipeline is recovered and returned as an error; nothing
// is written in that case.
func (p *Pipeline) Render(w io.Writer, f Failure) (rep Report, err error) {
	var buf bytes.Buffer
	rep, err = p.render(&buf, f)
	if err != nil {
		return rep, err
	}
	_, err = w.Write(buf.Bytes())
	return rep, errors.Wrap(err, "write trace")
}

// RenderDump renders a parsed crash log. The first goroutine of the dump is the
// failing one; with all set, the other goroutines follow it.
func (p *Pipeline) RenderDump(w io.Writer, d *trace.Dump, all bool) (Report, error) {
	if d == nil {
		return Report{}, errors.New("nil dump")
	}
	f := Failure{Kind: d.Kind, Message: d.Message}
	if len(d.Goroutines) > 0 {
		g := d.Goroutines[0]
		f.Goroutine = goroutineTitle(g)
		f.Stack = g.Frames
	}
	var others []trace.Goroutine
	if all && len(d.Goroutines) > 1 {
		others = d.Goroutines[1:]
	}

	var buf bytes.Buffer
	rep, err := p.renderWith(&buf, f, others)
	if err != nil {
		return rep, err
	}
	_, err = w.Write(buf.Bytes())
	return rep, errors.Wrap(err, "write trace")
}

func goroutineTitle(g trace.Goroutine) string {
	if g.State == "" {
		return fmt.Sprintf("goroutine %d", g.ID)
	}
	return fmt.Sprintf("goroutine %d [%s]", g.ID, g.State)
}

func (p *Pipeline) render(buf *bytes.Buffer, f Failure) (Report, error) {
	return p.renderWith(buf, f, nil)
}

func (p *Pipeline) renderWith(buf *bytes.Buffer, f Failure, others []trace.Goroutine) (rep Report, err error) {
	rep = newReport(f)
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("render panicked: %v", r)
		}
	}()

	if f.ErrorStack == nil && f.Value != nil {
		f.ErrorStack, _ = trace.ErrorStack(f.Value)
	}

	bt := p.classifier.Classify(filter.TrimMachinery(f.Stack))
	rep.Frames = bt
	rep.Origins = countOrigins(bt)
	if top, ok := filter.TopApplication(bt); ok {
		rep.Top = &top
	}

	res := source.NewResolver(p.sourceOpts...)
	view := filter.Apply(bt, p.cfg)
	doc := render.Document{
		ID:        rep.ID,
		Kind:      rep.Kind,
		Message:   f.Message,
		Goroutine: f.Goroutine,
		Trace: render.Section{
			View:     view,
			Snippets: render.ResolveSnippets(view, p.cfg, res),
		},
	}
	if len(f.ErrorStack) > 0 && p.cfg.Verbosity == trace.Full {
		ev := filter.Apply(p.classifier.Classify(filter.TrimMachinery(f.ErrorStack)), p.cfg)
		doc.ErrorOrigin = &render.Section{
			View:     ev,
			Snippets: render.ResolveSnippets(ev, p.cfg, res),
		}
	}

	for _, g := range others {
		ov := filter.Apply(p.classifier.Classify(filter.TrimMachinery(g.Frames)), p.cfg)
		doc.Others = append(doc.Others, render.Section{
			Title:    goroutineTitle(g),
			View:     ov,
			Snippets: render.ResolveSnippets(ov, p.cfg, res),
		})
	}

	if err := render.Render(buf, doc, p.cfg); err != nil {
		return rep, errors.Wrap(err, "render")
	}
	rep.Trace = buf.String()
	return rep, nil
}

func newReport(f Failure) Report {
	kind := f.Kind
	if kind == "" {
		kind = "panic"
	}
	var id string
	if u, err := uuid.NewRandom(); err == nil {
		id = u.String()
	}
	return Report{
		ID:        id,
		Time:      time.Now(),
		Kind:      kind,
		Message:   f.Message,
		Goroutine: f.Goroutine,
		Value:     f.Value,
	}
}

func countOrigins(bt trace.Backtrace) map[trace.Origin]int {
	out := make(map[trace.Origin]int, 4)
	for _, fr := range bt {
		out[fr.Origin]++
	}
	return out
}

// writeFallback prints a failure the pipeline could not render: the raw message,
// a note about the rendering failure and the raw runtime stack of the caller.
// It uses nothing but fmt and runtime/debug.
func writeFallback(buf *bytes.Buffer, f Failure, cause error) {
	kind := f.Kind
	if kind == "" {
		kind = "panic"
	}
	fmt.Fprintf(buf, "%s: %s\n", kind, f.Message)
	if f.Goroutine != "" {
		fmt.Fprintf(buf, "goroutine: %s\n", f.Goroutine)
	}
	fmt.Fprintf(buf, "[crashtrace: could not render trace: %v]\n", cause)
	stack := debug.Stack()
	buf.Write(stack)
	if len(stack) > 0 && stack[len(stack)-1] != '\n' {
		buf.WriteByte('\n')
	}
}

// describe formats a panic value the way the runtime prints it, minus type
// decorations. fmt recovers panics raised by String and Error methods.
func describe(v any) string {
	return fmt.Sprint(v)
}
