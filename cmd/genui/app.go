package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"genui/internal/config"
	"genui/internal/engine"
	"genui/internal/fallback"
	"genui/internal/logging"
	"genui/internal/metrics"
	"genui/internal/pipeline"
	"genui/internal/sandbox"
	"genui/internal/search"
	"genui/internal/store"
)

// app holds everything a command needs to run requests.
type app struct {
	pipeline  *pipeline.Pipeline
	evaluator *sandbox.Evaluator
	traces    *store.TraceStore
	server    *http.Server
}

// newApp wires the pipeline from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	eng, err := newEngine(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{}

	a.evaluator, err = newEvaluator(cfg)
	if err != nil {
		return nil, err
	}

	opts := pipeline.Options{
		Engine:            eng,
		Evaluator:         a.evaluator,
		Fallback:          fallback.New(fallback.Options{MaxDepth: cfg.Fallback.MaxDepth, MaxItems: cfg.Fallback.MaxItems}),
		Metrics:           metrics.Default(),
		Anchor:            cfg.Pipeline.Anchor,
		Model:             cfg.Engine.Model,
		MaxAttempts:       cfg.Pipeline.MaxAttempts,
		MaxScopeRetries:   cfg.Pipeline.MaxScopeRetries,
		RelevanceFloor:    cfg.Pipeline.RelevanceFloor,
		RelevanceMarginal: cfg.Pipeline.RelevanceMarginal,
		EngineTimeout:     cfg.GetEngineTimeout(),
		Critique:          cfg.Pipeline.Critique,
	}
	if cfg.Engine.Provider == "gemini" {
		opts.Model = geminiModel(cfg.Engine.Model)
	}

	if cfg.Search.Enabled {
		opts.Searcher = search.New(cfg.Search.MaxResults, cfg.GetSearchTimeout(), cfg.Search.UserAgent)
	}

	if cfg.Gates.ExtensionDir != "" {
		gates, err := loadExtensionGates(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load extension gates: %w", err)
		}
		opts.Extensions = gates
		logging.Get(logging.CategoryBoot).Info("loaded %d extension gate(s) from %s", len(gates), cfg.Gates.ExtensionDir)
	}

	if cfg.Store.Enabled {
		ts, err := store.Open(cfg.Store.Path)
		if err != nil {
			logging.Get(logging.CategoryBoot).Warn("trace store unavailable: %v", err)
		} else {
			a.traces = ts
			opts.Traces = ts
		}
	}

	a.pipeline, err = pipeline.New(opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Metrics.Addr != "" {
		a.serveMetrics(cfg.Metrics.Addr)
	}
	return a, nil
}

func newEvaluator(cfg *config.Config) (*sandbox.Evaluator, error) {
	return sandbox.New(sandbox.Options{
		Anchor:        cfg.Pipeline.Anchor,
		RenderTimeout: cfg.GetRenderTimeout(),
		MaxCallStack:  cfg.Sandbox.MaxCallStack,
		CacheSize:     cfg.Sandbox.CompileCacheSize,
	})
}

func newEngine(ctx context.Context, cfg *config.Config) (engine.Engine, error) {
	switch cfg.Engine.Provider {
	case "gemini":
		return engine.NewGeminiEngine(ctx, cfg.Engine.APIKey, geminiModel(cfg.Engine.Model))
	case "scripted":
		if scriptPath == "" {
			return nil, errors.New("the scripted engine needs --script")
		}
		return loadScript(scriptPath)
	default:
		cli := engine.NewCLIEngine(cfg.Engine.Command, cfg.Engine.Model, cfg.Engine.Args)
		if err := cli.LookPath(); err != nil {
			return nil, err
		}
		return cli, nil
	}
}

func geminiModel(model string) string {
	if strings.HasPrefix(model, "gemini") {
		return model
	}
	return ""
}

// scriptFile is the YAML form of a scripted engine.
type scriptFile struct {
	Steps []struct {
		Match  string        `yaml:"match"`
		Text   string        `yaml:"text"`
		Fail   string        `yaml:"fail"`
		Delay  time.Duration `yaml:"delay"`
		Repeat bool          `yaml:"repeat"`
	} `yaml:"steps"`
}

// loadScript reads canned engine replies for offline runs and demos.
func loadScript(path string) (*engine.ScriptedEngine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	var sf scriptFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if len(sf.Steps) == 0 {
		return nil, fmt.Errorf("script %s has no steps", path)
	}
	eng := engine.NewScriptedEngine()
	for _, s := range sf.Steps {
		eng.Add(engine.Step{Match: s.Match, Text: s.Text, Fail: s.Fail, Delay: s.Delay, Repeat: s.Repeat})
	}
	return eng, nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Get(logging.CategoryCLI).Warn("metrics server stopped: %v", err)
		}
	}()
	logging.Get(logging.CategoryCLI).Info("serving metrics on %s/metrics", addr)
}

// Close releases the trace store and stops the metrics server.
func (a *app) Close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.server.Shutdown(ctx)
		cancel()
	}
	if a.traces != nil {
		if err := a.traces.Close(); err != nil {
			logging.Get(logging.CategoryStore).Warn("failed to close trace store: %v", err)
		}
	}
}
