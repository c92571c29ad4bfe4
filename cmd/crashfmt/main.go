// Command crashfmt renders a saved Go crash log (panic output, a
// debug.SetCrashOutput file, a goroutine dump) the way crashtrace renders
// live panics.
//
//	crashfmt --gomod ./go.mod crash.log
//	go run ./cmd/server 2>&1 | crashfmt
package main

import (
	"io"
	"os"
	"strconv"

	"github.com/alecthomas/kong"
	konghcl "github.com/alecthomas/kong-hcl/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/evan-idocoding/crashtrace"
	"github.com/evan-idocoding/crashtrace/classify"
	"github.com/evan-idocoding/crashtrace/trace"
)

type logConfig struct {
	Format string `help:"Format to write log lines in" enum:"text,json" default:"text"`
	Level  string `help:"Lowest log level that will be emitted" enum:"trace,debug,info,warn,error" default:"warn"`
}

func (cfg *logConfig) configure(w io.Writer) error {
	log.SetOutput(w)
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return errors.WithStack(err)
	}
	log.SetLevel(level)
	switch cfg.Format {
	case "text":
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return errors.Errorf("log format must be either text or json, got %q", cfg.Format)
	}
	return nil
}

type arguments struct {
	Config kong.ConfigFlag `help:"Path to an HCL file with flag defaults" type:"existingfile"`
	Log    logConfig       `help:"Configuration for the logger" embed:"" prefix:"log-"`

	Verbosity string `help:"How much of the trace to show" enum:"minimal,short,full" default:"${verbosity}"`
	Color     string `help:"When to colorize the output" enum:"auto,always,never" default:"${color}"`
	Context   int    `help:"Source lines shown around each fault line; 0 disables snippets" default:"${context}"`
	StripHash bool   `help:"Remove compiler-generated suffixes from symbols" default:"${strip_hash}"`
	MaxFrames int    `help:"Maximum number of frames per goroutine; 0 means unlimited" default:"${max_frames}"`
	Rules     string `help:"YAML or TOML classification rules file" default:"${rules}"`
	Gomod     string `name:"gomod" help:"go.mod of the crashed program, to tell its code from dependencies" type:"existingfile"`
	All       bool   `help:"Render every goroutine, not only the failing one"`

	File string `arg:"" optional:"" help:"Crash log to render; stdin when omitted or '-'"`
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	env, envErr := crashtrace.ConfigFromEnv()

	cfg := arguments{}
	parser, err := kong.New(&cfg,
		kong.Name("crashfmt"),
		kong.Description("Render a Go crash log with source snippets and classified frames."),
		kong.Configuration(konghcl.Loader),
		kong.Writers(stdout, stderr),
		kong.Vars{
			"verbosity":  env.Verbosity.String(),
			"color":      env.Color.String(),
			"context":    strconv.Itoa(env.ContextLines),
			"strip_hash": strconv.FormatBool(env.StripSymbolHash),
			"max_frames": strconv.Itoa(env.MaxFrames),
			"rules":      env.RulesFile,
		},
	)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := parser.Parse(args); err != nil {
		return errors.WithStack(err)
	}
	if err := cfg.Log.configure(stderr); err != nil {
		return err
	}
	if envErr != nil {
		log.Warn(envErr)
	}

	verbosity, err := trace.ParseVerbosity(cfg.Verbosity)
	if err != nil {
		return err
	}
	colorMode, err := crashtrace.ParseColorMode(cfg.Color)
	if err != nil {
		return err
	}

	rules, err := offlineRules(cfg.Gomod, cfg.Rules)
	if err != nil {
		return err
	}

	in := stdin
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.Open(cfg.File)
		if err != nil {
			return errors.WithStack(err)
		}
		defer f.Close()
		in = f
	}

	dump, err := trace.Parse(in)
	if errors.Is(err, trace.ErrNoTrace) {
		log.WithField("file", cfg.File).Warn("no goroutine trace found in input")
	} else if err != nil {
		return err
	}

	p := crashtrace.NewPipeline(trace.RenderConfig{
		Colors:          colorMode.Enabled(stdout),
		Verbosity:       verbosity,
		StripSymbolHash: cfg.StripHash,
		ContextLines:    cfg.Context,
		MaxFrames:       cfg.MaxFrames,
	}, rules)
	rep, err := p.RenderDump(stdout, dump, cfg.All)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"failure_id": rep.ID,
		"frames":     len(rep.Frames),
		"goroutines": len(dump.Goroutines),
	}).Debug("rendered crash log")
	return nil
}

// offlineRules builds classification rules for a program that is not the
// running one: from its go.mod when given, plus an optional rules file.
func offlineRules(gomod, rulesFile string) (classify.Rules, error) {
	rules := classify.Rules{
		Application: []string{"main"},
		Dependency:  []string{classify.StdRoot},
		Runtime:     append([]string(nil), classify.RuntimePatterns...),
	}
	if gomod != "" {
		r, err := classify.ModuleRules(gomod)
		if err != nil {
			return rules, err
		}
		rules = r
	}
	if rulesFile != "" {
		extra, err := classify.LoadRules(rulesFile)
		if err != nil {
			return rules, err
		}
		rules = rules.Merge(extra)
	}
	return rules, nil
}
