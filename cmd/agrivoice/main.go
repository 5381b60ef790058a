// Agrivoice answers farmers' spoken and typed questions in their own
// language, grounded in a library of agricultural documents.
//
// Usage:
//
//	agrivoice [flags]
//	agrivoice --config /path/to/agrivoice.yaml
//
// @title       agrivoice API
// @version     1.0
// @description Multilingual voice and text question answering for farmers, grounded in agricultural documents.
// @BasePath    /
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nadzzz/agrivoice/internal/config"
	"github.com/nadzzz/agrivoice/internal/health"
	"github.com/nadzzz/agrivoice/internal/ingest"
	"github.com/nadzzz/agrivoice/internal/intent"
	"github.com/nadzzz/agrivoice/internal/metrics"
	"github.com/nadzzz/agrivoice/internal/pipeline"
	"github.com/nadzzz/agrivoice/internal/transport"
	grpctransport "github.com/nadzzz/agrivoice/internal/transport/grpc"
	httptransport "github.com/nadzzz/agrivoice/internal/transport/http"
	mqtttransport "github.com/nadzzz/agrivoice/internal/transport/mqtt"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file (e.g. configs/agrivoice.local.yaml)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("agrivoice %s\n", version)
		os.Exit(0)
	}

	// A .env file is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not read .env file", "error", err)
	}

	// Load configuration.
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging.
	config.SetupLogging(cfg.Logging)
	slog.Info("agrivoice starting", "version", version)

	// Create root context with signal handling for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metrics registry shared by the pipeline and the health server.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize providers.
	b, err := buildBackends(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize backends", "error", err)
		os.Exit(1)
	}
	defer b.close()

	flush := func(ctx context.Context) error { return b.cache.Flush(ctx) }

	// Load the document library and keep it fresh.
	loader := ingest.NewLoader(b.retriever.Index(), b.retriever.Embedder(), ingest.Options{
		ChunkSize:    cfg.Retrieval.ChunkSize,
		ChunkOverlap: cfg.Retrieval.ChunkOverlap,
		Notify: func(ctx context.Context, ev ingest.Event) {
			if err := flush(ctx); err != nil {
				slog.Error("cache flush after ingestion failed", "error", err)
				return
			}
			slog.Info("response cache flushed", "trigger", "ingest", "files", len(ev.Paths), "chunks", ev.Chunks)
		},
	})
	chunks, err := loader.LoadDir(ctx, cfg.Retrieval.DocumentsDir)
	if err != nil {
		slog.Error("loading documents failed", "dir", cfg.Retrieval.DocumentsDir, "error", err)
	}
	slog.Info("document index loaded",
		"dir", cfg.Retrieval.DocumentsDir,
		"chunks", chunks,
		"embedder", b.retriever.Embedder().Name())
	if cfg.Retrieval.Watch {
		if w, err := ingest.NewWatcher(loader, cfg.Retrieval.DocumentsDir); err != nil {
			slog.Warn("document watcher disabled", "error", err)
		} else {
			go w.Run(ctx)
		}
	}
	b.startJanitors(ctx, cfg)

	// Create the pipeline.
	orchestrator := pipeline.New(pipeline.Deps{
		Bridge:     b.bridge,
		Retriever:  b.retriever,
		Composer:   b.composer,
		Classifier: intent.FromConfig(cfg.Intent),
		Sessions:   b.sessions,
		Cache:      b.cache,
		Voice:      b.voice,
		History:    b.recorder(),
		Metrics:    metrics.NewPipelineMetrics(registry),
	}, pipeline.Options{
		TopK:         cfg.Pipeline.TopK,
		MaxSources:   cfg.Pipeline.MaxSources,
		SnippetChars: cfg.Pipeline.SnippetChars,
		CacheTTL:     cfg.Cache.TTL,
		CacheTimeout: cfg.Pipeline.Timeouts.Cache,
	})

	// Initialize enabled transports.
	var transports []transport.Transport
	var grpcT *grpctransport.Transport

	if cfg.Transports.GRPC.Enabled {
		grpcT = grpctransport.New(cfg.Transports.GRPC.Port)
		transports = append(transports, grpcT)
	}
	if cfg.Transports.HTTP.Enabled {
		transports = append(transports, httptransport.New(httptransport.Options{
			Port:           cfg.Transports.HTTP.Port,
			MaxUploadBytes: cfg.Transports.HTTP.MaxUploadBytes,
			Sessions:       b.sessions,
			Flush:          flush,
			Languages:      b.bridge.SupportedLanguages(),
			TTSLanguages:   b.voice.TTSLanguages(),
			AudioDir:       b.audioDir,
		}))
	}
	if cfg.Transports.MQTT.Enabled {
		transports = append(transports, mqtttransport.New(cfg.Transports.MQTT, flush))
	}

	if len(transports) == 0 {
		slog.Error("no transports enabled; enable at least one in config")
		os.Exit(1)
	}

	// Start health check server.
	healthServer := health.New(cfg.Server.HealthPort, registry, b.providers(cfg)...)
	if grpcT != nil {
		healthServer.AttachGRPC(grpcT.Health())
	}
	go healthServer.Run(ctx, cfg.Server.CheckInterval)
	go func() {
		if err := healthServer.ListenAndServe(ctx); err != nil {
			slog.Error("health server failed", "error", err)
		}
	}()

	// Start all transports.
	var wg sync.WaitGroup
	for _, t := range transports {
		wg.Add(1)
		go func(t transport.Transport) {
			defer wg.Done()
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(ctx, orchestrator.Handle); err != nil {
				slog.Error("transport failed", "name", t.Name(), "error", err)
			}
		}(t)
	}

	// Mark as ready once all transports are started.
	healthServer.SetReady(true)
	slog.Info("agrivoice ready",
		"transports", len(transports),
		"pivot_language", b.bridge.Pivot(),
		"health_port", cfg.Server.HealthPort)

	// Block until shutdown signal.
	<-ctx.Done()
	slog.Info("shutdown signal received, draining...")
	healthServer.SetReady(false)

	// Close all transports gracefully.
	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}

	wg.Wait()
	slog.Info("agrivoice stopped")
}
