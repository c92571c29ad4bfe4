// Package classify tags frames with their origin: application code, dependency
// code, Go runtime internals, or unknown.
//
// Classification is a pure function of the frame's symbol and file path and of a
// Rules value. Rules are plain data so they can be loaded from YAML or TOML and
// tested without rendering anything.
//
// Matching:
//   - Runtime patterns are tried first, against the symbol.
//   - Application and dependency roots are tried next. A root beginning with "/"
//     (or a Windows drive) is a file path prefix; any other root is an import path
//     matched on a path-segment boundary. The dependency root "std" matches Go
//     standard library packages.
//   - The longest matching root wins. On a tie, application roots win.
//   - A frame matching nothing is Unknown.
package classify
