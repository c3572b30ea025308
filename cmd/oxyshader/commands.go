package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/Carmen-Shannon/oxy-shader/common"
	"github.com/Carmen-Shannon/oxy-shader/engine"
	"github.com/Carmen-Shannon/oxy-shader/engine/config"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/layout"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-shader/engine/server"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const usageText = `usage: oxyshader <command> [flags] [documents]

commands:
  compile   build documents and print their layouts as JSON
  watch     rebuild watched documents when they change
  serve     watch documents and serve diagnostics over HTTP

run "oxyshader <command> -h" for the flags of a command
`

// compileResult is the JSON printed by compile for one document.
type compileResult struct {
	Path   string                 `json:"path"`
	Key    string                 `json:"key,omitempty"`
	Stages []compiledStage        `json:"stages,omitempty"`
	Layout *layout.PipelineLayout `json:"layout,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

type compiledStage struct {
	Kind       shader.StageKind `json:"kind"`
	EntryPoint string           `json:"entry_point"`
	Size       int              `json:"size"`
	Warnings   []string         `json:"warnings,omitempty"`
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return 2
	}
	name, args := args[0], args[1:]

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to the YAML configuration")
	var cacheDir, addr *string
	switch name {
	case "compile":
		cacheDir = fs.String("cache-dir", "", "persist artifacts in this directory, overrides cache.dir")
	case "watch":
	case "serve":
		addr = fs.String("addr", "", "listen address, overrides server.addr")
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usageText)
		return 0
	default:
		fmt.Fprintf(stderr, "oxyshader: unknown command %q\n%s", name, usageText)
		return 2
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(stderr, "oxyshader: %v\n", err)
			return 1
		}
	}
	if cacheDir != nil && *cacheDir != "" {
		cfg.Cache.Dir = *cacheDir
	}
	if addr != nil && *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(stderr, "oxyshader: %v\n", err)
		return 1
	}
	defer logger.Sync()
	common.SetLogger(logger)

	opts, err := cfg.EngineOptions(logger.Named("engine"))
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return 1
	}
	e, err := engine.NewEngine(opts...)
	if err != nil {
		logger.Error("failed to create engine", zap.Error(err))
		return 1
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Warn("engine close", zap.Error(err))
		}
	}()

	switch name {
	case "compile":
		return compile(ctx, e, fs.Args(), stdout, logger)
	case "watch":
		return watch(ctx, e, fs.Args(), logger)
	default:
		return serve(ctx, e, cfg, fs.Args(), logger)
	}
}

// compile builds every document, prints one JSON result per document and fails if any
// document failed.
func compile(ctx context.Context, e engine.Engine, paths []string, stdout io.Writer, logger *zap.Logger) int {
	if len(paths) == 0 {
		paths = e.Loader().Watched()
	}
	if len(paths) == 0 {
		logger.Error("no documents to compile")
		return 2
	}

	code := 0
	results := make([]compileResult, 0, len(paths))
	for _, path := range paths {
		res := compileResult{Path: path}
		entry, err := e.Load(ctx, path)
		if err != nil {
			logger.Error("compile failed", zap.String("path", path), zap.Error(err))
			res.Error = err.Error()
			results = append(results, res)
			code = 1
			continue
		}
		res.Key = entry.Key().String()
		res.Layout = entry.Layout()
		for _, st := range entry.Stages() {
			cs := compiledStage{Kind: st.Kind, EntryPoint: st.EntryPoint, Size: len(st.Bytecode)}
			for _, w := range st.Warnings {
				cs.Warnings = append(cs.Warnings, w.String())
			}
			res.Stages = append(res.Stages, cs)
		}
		entry.Release()
		results = append(results, res)
	}

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		logger.Error("failed to encode results", zap.Error(err))
		return 1
	}
	fmt.Fprintln(stdout, string(out))
	return code
}

// watch runs the reload poller until ctx is done.
func watch(ctx context.Context, e engine.Engine, paths []string, logger *zap.Logger) int {
	e.Loader().Watch(paths...)
	if len(e.Loader().Watched()) == 0 {
		logger.Error("no documents to watch")
		return 2
	}
	e.Run(ctx)
	return 0
}

// serve runs the poller and the diagnostics server until ctx is done or the server fails.
func serve(ctx context.Context, e engine.Engine, cfg *config.Config, paths []string, logger *zap.Logger) int {
	e.Loader().Watch(paths...)
	srv := server.NewServer(e, server.WithAddr(cfg.Server.Addr), server.WithLogger(logger.Named("server")))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server failed", zap.Error(err))
		return 1
	}
	return 0
}
