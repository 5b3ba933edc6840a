// Command codegen translates a PowerPC guest image into Go source that
// reproduces its semantics against the internal/guest runtime ABI.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/tinyrange/ppcrecomp/internal/buildmanifest"
	"github.com/tinyrange/ppcrecomp/internal/config"
	"github.com/tinyrange/ppcrecomp/internal/emit"
	"github.com/tinyrange/ppcrecomp/internal/ppc"
)

// exitError carries a specific process exit code out of run, distinguishing
// validation failures (1) from I/O errors (2) per the CLI's documented
// surface.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func ioErrorf(format string, args ...any) error {
	return &exitError{code: 2, err: fmt.Errorf(format, args...)}
}

func run(logger *slog.Logger) error {
	configPath := flag.String("config", "", "path to the TOML/JSON analyzer hints and image sidecar (required)")
	outDir := flag.String("out", "generated", "output directory for generated Go sources")
	pkg := flag.String("package", "generated", "package name for generated Go sources")
	force := flag.Bool("force", false, "emit code even when the analyzer reports diagnostics")
	enableExceptionHandlers := flag.Bool("enable-exception-handlers", false, "wrap hinted functions with structured-exception prologues")
	flag.Parse()

	if *configPath == "" {
		flag.Usage()
		return &exitError{code: 2, err: errors.New("codegen: -config is required")}
	}

	hints, err := config.Load(*configPath)
	if err != nil {
		return ioErrorf("codegen: loading config: %w", err)
	}

	img, err := loadImage(hints.Image)
	if err != nil {
		return ioErrorf("codegen: loading image: %w", err)
	}

	graph, err := ppc.Load(img, hints, ppc.Options{
		Force:                  *force,
		DataRegionThreshold:    hints.DataRegionThreshold,
		LargeFunctionThreshold: hints.LargeFunctionThreshold,
		MaxJumpExtension:       hints.MaxJumpExtension,
	})
	var analysisErr *ppc.AnalysisError
	if errors.As(err, &analysisErr) {
		for _, d := range analysisErr.Diagnostics {
			logger.Warn("analyzer diagnostic", "addr", fmt.Sprintf("%#08x", d.Addr), "kind", d.Kind, "error", d.Err)
		}
		if graph == nil {
			return &exitError{code: 1, err: analysisErr}
		}
		logger.Warn("emitting despite diagnostics", "count", len(analysisErr.Diagnostics))
	} else if err != nil {
		return ioErrorf("codegen: analysis: %w", err)
	}

	logger.Info("analysis complete", "functions", len(graph.Functions), "data_regions", len(graph.DataRegions))

	prog := emit.BuildProgram(graph, emit.LowerOptions{EnableExceptionHandlers: *enableExceptionHandlers})

	prior, err := buildmanifest.Load(*outDir)
	if err != nil {
		return ioErrorf("codegen: loading prior manifest: %w", err)
	}

	bar := newProgressBar(len(prog.Methods), "emitting functions")
	defer bar.Close()

	current, err := emit.WriteFiles(*outDir, *pkg, prog)
	if err != nil {
		return ioErrorf("codegen: writing generated sources: %w", err)
	}
	bar.Add(len(prog.Methods))

	if stale := buildmanifest.Stale(prior, current); len(stale) > 0 {
		logger.Info("removing stale generated files", "count", len(stale))
	}
	if err := buildmanifest.RemoveStale(prior, current); err != nil {
		return ioErrorf("codegen: removing stale output: %w", err)
	}
	if err := current.Save(*outDir); err != nil {
		return ioErrorf("codegen: saving manifest: %w", err)
	}

	logger.Info("codegen complete", "methods", len(prog.Methods), "out", *outDir)
	return nil
}

// loadImage assembles a ppc.Image from the sidecar's segment dumps,
// standing in for the XEX/ELF loader that is out of scope for this module.
func loadImage(cfg config.ResolvedImageConfig) (*ppc.Image, error) {
	img := &ppc.Image{
		EntryPoint:        cfg.EntryPoint,
		ExportedFunctions: cfg.ExportedFunctions,
	}
	for _, seg := range cfg.Segments {
		data, err := os.ReadFile(seg.Path)
		if err != nil {
			return nil, fmt.Errorf("reading segment %q: %w", seg.Path, err)
		}
		var flags ppc.SegmentFlags
		if seg.Read {
			flags |= ppc.SegRead
		}
		if seg.Write {
			flags |= ppc.SegWrite
		}
		if seg.Execute {
			flags |= ppc.SegExecute
		}
		img.Segments = append(img.Segments, ppc.Segment{
			GuestBase: seg.GuestBase,
			Data:      data,
			Flags:     flags,
		})
	}
	return img, nil
}

func newProgressBar(total int, description string) progressBar {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return noopProgressBar{}
	}
	return newTermProgressBar(total, description)
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(logger); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			logger.Error(ee.Error())
			os.Exit(ee.code)
		}
		logger.Error(err.Error())
		os.Exit(1)
	}
}
