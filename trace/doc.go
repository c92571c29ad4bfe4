// Package trace holds the frame model shared by the crashtrace pipeline and the
// adapters that produce it.
//
// A Backtrace is an ordered list of Frames, innermost (fault site) first. The
// order is fixed when the backtrace is produced; downstream packages only trim
// or annotate it.
//
// Frames come from three sources:
//   - Capture / FromPCs: the live goroutine, via runtime.Callers and runtime.CallersFrames.
//   - FromErrorStack / ErrorStack: the stack recorded by github.com/pkg/errors when an
//     error value was created.
//   - Parse: the text the Go runtime prints when a program crashes (a crash log).
//
// Every optional field of a Frame is a pointer. A nil Function means the symbol could
// not be resolved; a nil File or Line means the location is unknown. Such frames are
// kept, never dropped.
package trace
