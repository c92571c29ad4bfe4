package trace

import (
	"fmt"
	"strings"
)

// Origin tags where the code of a frame comes from.
type Origin int

const (
	// Unknown is the origin of frames no classification rule matched.
	Unknown Origin = iota
	// ApplicationCode is code of the program being debugged.
	ApplicationCode
	// DependencyCode is third-party or standard library code.
	DependencyCode
	// RuntimeInternal is Go runtime machinery (scheduling, allocation, panics).
	RuntimeInternal
)

func (o Origin) String() string {
	switch o {
	case ApplicationCode:
		return "application"
	case DependencyCode:
		return "dependency"
	case RuntimeInternal:
		return "runtime"
	default:
		return "unknown"
	}
}

// Frame is one activation record of a captured stack.
type Frame struct {
	// Address is the program counter. It is only used for display when the
	// symbol is missing, and is zero when the producer did not supply one.
	Address uintptr

	Function *string
	File     *string
	Line     *int
	Column   *int

	// Origin is assigned by the classifier on a copy of the frame.
	Origin Origin
}

// Backtrace is an ordered sequence of frames, innermost first.
type Backtrace []Frame

// Symbol returns the function name, if resolved.
func (f Frame) Symbol() (string, bool) {
	if f.Function == nil || *f.Function == "" {
		return "", false
	}
	return *f.Function, true
}

// Location returns the file and line, if both are known.
func (f Frame) Location() (file string, line int, ok bool) {
	if f.File == nil || f.Line == nil || *f.File == "" {
		return "", 0, false
	}
	return *f.File, *f.Line, true
}

// Package returns the import path of the package the frame's function belongs to.
//
// Go symbols look like "github.com/a/b.(*T).M" or "main.main". The linker escapes
// dots in the last path element ("gopkg.in/yaml%2ev3"); the result is unescaped.
func (f Frame) Package() (string, bool) {
	name, ok := f.Symbol()
	if !ok {
		return "", false
	}
	return packageOf(name)
}

func packageOf(name string) (string, bool) {
	lastSlash := strings.LastIndexByte(name, '/')
	rest := name[lastSlash+1:]
	dot := strings.IndexByte(rest, '.')
	if dot <= 0 {
		return "", false
	}
	pkg := name[:lastSlash+1+dot]
	return strings.ReplaceAll(pkg, "%2e", "."), true
}

// String formats the frame on one line, in the "func file:line" shape.
func (f Frame) String() string {
	name, ok := f.Symbol()
	if !ok {
		name = fmt.Sprintf("0x%x", f.Address)
	}
	if file, line, ok := f.Location(); ok {
		return fmt.Sprintf("%s %s:%d", name, file, line)
	}
	return name
}

// Clone returns a copy of bt that shares no backing array with it.
func (bt Backtrace) Clone() Backtrace {
	if bt == nil {
		return nil
	}
	out := make(Backtrace, len(bt))
	copy(out, bt)
	return out
}

// NewFrame builds a frame from plain values, treating zero values as absent.
// It is mostly useful to adapters and tests.
func NewFrame(addr uintptr, function, file string, line int) Frame {
	fr := Frame{Address: addr}
	if function != "" {
		fr.Function = &function
	}
	if file != "" {
		fr.File = &file
	}
	if line > 0 {
		fr.Line = &line
	}
	return fr
}
