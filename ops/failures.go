package ops

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type failuresConfig struct {
	format Format
}

// FailuresOption configures FailuresHandler.
type FailuresOption func(*failuresConfig)

// WithFailuresDefaultFormat sets the default response format.
//
// This default can be overridden per request by URL query:
//   - ?format=json
//   - ?format=text
//
// Default is FormatText.
func WithFailuresDefaultFormat(f Format) FailuresOption {
	return func(c *failuresConfig) { c.format = f }
}

func applyFailuresOptions(opts []FailuresOption) failuresConfig {
	cfg := failuresConfig{
		format: FormatText,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.format != FormatText && cfg.format != FormatJSON {
		cfg.format = FormatText
	}
	return cfg
}

// FailuresHandler returns a read-only handler listing the journaled failures.
//
// Behavior:
//   - GET/HEAD only; other methods return 405.
//   - ?limit=N returns at most the N newest failures; a non-positive or
//     malformed limit returns 400.
//   - ?id=ID returns one failure with its rendered trace; 404 if it is not
//     (or no longer) in the journal.
//   - Text lists one failure per line: time, ID, kind and message, location.
//     JSON carries every Entry field.
func FailuresHandler(j *Journal, opts ...FailuresOption) http.Handler {
	if j == nil {
		panic("ops: nil journal")
	}
	cfg := applyFailuresOptions(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r == nil {
			panic("ops: nil request")
		}
		format := formatFromRequest(r, cfg.format)
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			writeFailures(w, r, format, http.StatusMethodNotAllowed, failuresResponse{Error: "method not allowed"})
			return
		}

		q := r.URL.Query()
		if id := q.Get("id"); id != "" {
			e, ok := j.Lookup(id)
			if !ok {
				writeFailures(w, r, format, http.StatusNotFound, failuresResponse{Error: "failure not found"})
				return
			}
			writeFailures(w, r, format, http.StatusOK, failuresResponse{OK: true, Total: j.Total(), Failures: []Entry{e}, single: true})
			return
		}

		entries := j.Entries()
		if s := q.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeFailures(w, r, format, http.StatusBadRequest, failuresResponse{Error: "invalid limit"})
				return
			}
			if n < len(entries) {
				entries = entries[:n]
			}
		}
		writeFailures(w, r, format, http.StatusOK, failuresResponse{OK: true, Total: j.Total(), Failures: entries})
	})
}

type failuresResponse struct {
	OK       bool    `json:"ok"`
	Error    string  `json:"error,omitempty"`
	Total    uint64  `json:"total"`
	Failures []Entry `json:"failures,omitempty"`

	single bool
}

func writeFailures(w http.ResponseWriter, r *http.Request, f Format, code int, resp failuresResponse) {
	w.Header().Set("Cache-Control", "no-store")
	switch f {
	case FormatJSON:
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(code)
		if r.Method == http.MethodHead {
			return
		}
		_ = json.NewEncoder(w).Encode(resp)
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(code)
		if r.Method == http.MethodHead {
			return
		}
		if !resp.OK {
			if resp.Error != "" {
				_, _ = w.Write([]byte(resp.Error + "\n"))
			} else {
				_, _ = w.Write([]byte("error\n"))
			}
			return
		}
		_, _ = w.Write([]byte(renderFailuresText(resp)))
	}
}

func renderFailuresText(resp failuresResponse) string {
	var b strings.Builder
	if resp.single && len(resp.Failures) == 1 {
		e := resp.Failures[0]
		b.WriteString(entryLine(e))
		b.WriteString(strings.TrimLeft(e.Trace, "\n"))
		return b.String()
	}
	b.WriteString("total\t" + strconv.FormatUint(resp.Total, 10) + "\n")
	for _, e := range resp.Failures {
		b.WriteString(entryLine(e))
	}
	return b.String()
}

func entryLine(e Entry) string {
	loc := e.Location
	if loc == "" {
		loc = "<unknown>"
	}
	return e.Time.UTC().Format(time.RFC3339) + "\t" + e.ID + "\t" + e.Kind + ": " + firstLine(e.Message) + "\t" + loc + "\n"
}
