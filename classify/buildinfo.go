package classify

import (
	"runtime/debug"
	"sync"
)

// moduleGraph is the part of debug.BuildInfo that classification needs.
type moduleGraph struct {
	main string
	deps []string
}

var (
	moduleGraphOnce   sync.Once
	cachedModuleGraph moduleGraph
	cachedModuleOK    bool
)

// readModuleGraph reads build info once; it is immutable for the life of the process.
func readModuleGraph() (moduleGraph, bool) {
	moduleGraphOnce.Do(func() {
		bi, ok := debug.ReadBuildInfo()
		if !ok || bi == nil {
			return
		}
		cachedModuleGraph = moduleGraphFrom(bi)
		cachedModuleOK = true
	})
	return cachedModuleGraph, cachedModuleOK
}

func moduleGraphFrom(bi *debug.BuildInfo) moduleGraph {
	g := moduleGraph{}
	if bi.Main.Path != "" && bi.Main.Path != "command-line-arguments" {
		g.main = bi.Main.Path
	}
	g.deps = make([]string, 0, 2*len(bi.Deps))
	for _, m := range bi.Deps {
		if m == nil {
			continue
		}
		g.deps = append(g.deps, m.Path)
		// A replaced module keeps its original import path in symbols, but its
		// files live under the replacement.
		if m.Replace != nil && m.Replace.Path != m.Path {
			g.deps = append(g.deps, m.Replace.Path)
		}
	}
	return g
}
