package ops

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/evan-idocoding/crashtrace"
)

// DefaultCapacity is the journal size used when NewJournal gets a non-positive
// capacity.
const DefaultCapacity = 32

// Entry is one journaled failure. It keeps the rendered trace as plain text and
// drops the panic value and frames, so that old failures hold no references
// into the program.
type Entry struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Goroutine string    `json:"goroutine,omitempty"`
	Location  string    `json:"location,omitempty"`
	Frames    int       `json:"frames"`
	Fallback  bool      `json:"fallback,omitempty"`
	Trace     string    `json:"trace,omitempty"`
}

// Journal is a fixed-size ring of the most recent failures. It is safe for
// concurrent use.
type Journal struct {
	mu    sync.Mutex
	ring  []Entry
	next  int
	size  int
	total uint64
}

// NewJournal returns a journal keeping the last capacity failures.
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Journal{ring: make([]Entry, capacity)}
}

// Record adds a report, evicting the oldest entry when full.
func (j *Journal) Record(r crashtrace.Report) {
	e := Entry{
		ID:        r.ID,
		Time:      r.Time,
		Kind:      r.Kind,
		Message:   r.Message,
		Goroutine: r.Goroutine,
		Frames:    len(r.Frames),
		Fallback:  r.Fallback,
		Trace:     ansi.Strip(r.Trace),
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.Kind == "" {
		e.Kind = "panic"
	}
	if r.Top != nil {
		if file, line, ok := r.Top.Location(); ok {
			e.Location = file + ":" + strconv.Itoa(line)
		}
	}

	j.mu.Lock()
	j.ring[j.next] = e
	j.next = (j.next + 1) % len(j.ring)
	if j.size < len(j.ring) {
		j.size++
	}
	j.total++
	j.mu.Unlock()
}

// Hook returns a report hook calling Record.
func (j *Journal) Hook() crashtrace.ReportHook {
	return j.Record
}

// Entries returns the journaled failures, newest first.
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Entry, 0, j.size)
	for i := 1; i <= j.size; i++ {
		idx := (j.next - i + len(j.ring)) % len(j.ring)
		out = append(out, j.ring[idx])
	}
	return out
}

// Lookup returns the journaled failure with the given ID.
func (j *Journal) Lookup(id string) (Entry, bool) {
	for _, e := range j.Entries() {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Total is the number of failures recorded since creation, evicted ones
// included.
func (j *Journal) Total() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.total
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
