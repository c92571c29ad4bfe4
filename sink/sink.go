// Package sink mirrors handled failures into structured loggers.
//
// Each constructor returns a crashtrace.ReportHook:
//
//	crashtrace.Install(crashtrace.WithReportHook(sink.Logrus(logrus.StandardLogger())))
//
// The log entry carries the failure ID printed in the Full trace header, so the
// rendered trace and the log line can be matched.
package sink

import (
	"context"
	"log/slog"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/evan-idocoding/crashtrace"
	"github.com/evan-idocoding/crashtrace/trace"
)

// Field keys shared by every sink.
const (
	KeyFailureID   = "failure_id"
	KeyKind        = "kind"
	KeyGoroutine   = "goroutine"
	KeyLocation    = "location"
	KeyFrames      = "frames"
	KeyApplication = "application_frames"
	KeyDependency  = "dependency_frames"
	KeyRuntime     = "runtime_frames"
	KeyFallback    = "fallback"
)

type summary struct {
	id        string
	kind      string
	goroutine string
	location  string
	frames    int
	app       int
	dep       int
	rt        int
	fallback  bool
}

func summarize(r crashtrace.Report) summary {
	s := summary{
		id:        r.ID,
		kind:      r.Kind,
		goroutine: r.Goroutine,
		frames:    len(r.Frames),
		app:       r.Origins[trace.ApplicationCode],
		dep:       r.Origins[trace.DependencyCode],
		rt:        r.Origins[trace.RuntimeInternal],
		fallback:  r.Fallback,
	}
	if r.Top != nil {
		s.location = r.Top.String()
	}
	return s
}

func message(r crashtrace.Report) string {
	kind := r.Kind
	if kind == "" {
		kind = "panic"
	}
	return kind + ": " + r.Message
}

// Logrus logs each failure at error level.
func Logrus(l *logrus.Logger) crashtrace.ReportHook {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return func(r crashtrace.Report) {
		s := summarize(r)
		fields := logrus.Fields{
			KeyFailureID:   s.id,
			KeyKind:        s.kind,
			KeyFrames:      s.frames,
			KeyApplication: s.app,
			KeyDependency:  s.dep,
			KeyRuntime:     s.rt,
		}
		if s.goroutine != "" {
			fields[KeyGoroutine] = s.goroutine
		}
		if s.location != "" {
			fields[KeyLocation] = s.location
		}
		if s.fallback {
			fields[KeyFallback] = true
		}
		entry := l.WithFields(fields)
		if r.Err != nil {
			entry = entry.WithError(r.Err)
		}
		entry.Error(message(r))
	}
}

// Zap logs each failure at error level.
func Zap(l *zap.Logger) crashtrace.ReportHook {
	if l == nil {
		l = zap.L()
	}
	return func(r crashtrace.Report) {
		s := summarize(r)
		fields := []zap.Field{
			zap.String(KeyFailureID, s.id),
			zap.String(KeyKind, s.kind),
			zap.Int(KeyFrames, s.frames),
			zap.Int(KeyApplication, s.app),
			zap.Int(KeyDependency, s.dep),
			zap.Int(KeyRuntime, s.rt),
		}
		if s.goroutine != "" {
			fields = append(fields, zap.String(KeyGoroutine, s.goroutine))
		}
		if s.location != "" {
			fields = append(fields, zap.String(KeyLocation, s.location))
		}
		if s.fallback {
			fields = append(fields, zap.Bool(KeyFallback, true))
		}
		if r.Err != nil {
			fields = append(fields, zap.Error(r.Err))
		}
		l.Error(message(r), fields...)
	}
}

// Slog logs each failure at error level.
func Slog(l *slog.Logger) crashtrace.ReportHook {
	if l == nil {
		l = slog.Default()
	}
	return func(r crashtrace.Report) {
		s := summarize(r)
		attrs := []slog.Attr{
			slog.String(KeyFailureID, s.id),
			slog.String(KeyKind, s.kind),
			slog.Int(KeyFrames, s.frames),
			slog.Int(KeyApplication, s.app),
			slog.Int(KeyDependency, s.dep),
			slog.Int(KeyRuntime, s.rt),
		}
		if s.goroutine != "" {
			attrs = append(attrs, slog.String(KeyGoroutine, s.goroutine))
		}
		if s.location != "" {
			attrs = append(attrs, slog.String(KeyLocation, s.location))
		}
		if s.fallback {
			attrs = append(attrs, slog.Bool(KeyFallback, true))
		}
		if r.Err != nil {
			attrs = append(attrs, slog.String("error", r.Err.Error()))
		}
		l.LogAttrs(context.Background(), slog.LevelError, message(r), attrs...)
	}
}
