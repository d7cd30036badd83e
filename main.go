package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"houseprice/config"
	"houseprice/db"
	phttp "houseprice/http"
	"houseprice/logger"
	"houseprice/ml"
	"houseprice/monitoring"
	"houseprice/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Mode:       cfg.Log.Mode,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 2. Build the pipeline; predictions answer not_ready until artifacts load
	layout, err := ml.NewLayout(cfg.Validation.Locations, cfg.Validation.Conditions)
	if err != nil {
		log.Fatal("invalid feature layout", "error", err)
	}
	validator, err := pipeline.NewValidator(cfg.Validation.Rules(time.Now))
	if err != nil {
		log.Fatal("invalid validation rules", "error", err)
	}
	orchestrator, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		MaxBatchSize: cfg.Batch.MaxSize,
		Workers:      cfg.Batch.Workers,
	}, validator, ml.NewEngineer(layout, time.Now), log)
	if err != nil {
		log.Fatal("invalid batch config", "error", err)
	}
	service := pipeline.NewService(orchestrator, log)

	// 3. Optional prediction journal
	var journal phttp.Journal
	if cfg.Database.Path != "" {
		j, err := db.Open(cfg.Database.Path)
		if err != nil {
			log.Fatal("failed to open prediction journal", "path", cfg.Database.Path, "error", err)
		}
		defer j.Close()
		journal = j
		log.Info("prediction journal opened", "path", cfg.Database.Path)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := monitoring.NewHub(cfg.HTTP.AllowedOrigins, log)
	go hub.Run(ctx)

	// 4. Start HTTP server
	server, err := phttp.NewServer(phttp.ServerConfig{
		Port:            cfg.HTTP.Port,
		Timeout:         cfg.HTTP.Timeout,
		MaxRequestBytes: cfg.HTTP.MaxRequestBytes,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
	}, phttp.Dependencies{
		Service:       service,
		Metrics:       monitoring.NewMetrics(),
		Hub:           hub,
		Journal:       journal,
		Logger:        log,
		RecentResults: cfg.Cache.RecentResults,
	})
	if err != nil {
		log.Fatal("failed to build server", "error", err)
	}
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("HTTP server failed", "error", err)
		}
	}()

	// 5. Load artifacts; a failure here is fatal
	start := time.Now()
	predictor, err := ml.LoadPredictor(cfg.Artifacts.PreprocessorPath, cfg.Artifacts.ModelPath, layout)
	if err != nil {
		log.Fatal("failed to load artifacts", "error", err)
	}
	service.Ready(predictor)
	log.Info("artifacts loaded",
		"preprocessor", cfg.Artifacts.PreprocessorPath,
		"model", cfg.Artifacts.ModelPath,
		"duration", time.Since(start),
		"columns", message.NewPrinter(language.AmericanEnglish).Sprintf("%d", layout.Width()),
	)

	if cfg.Artifacts.Watch {
		go watchArtifacts(ctx, cfg, hub, log)
	}

	// 6. Handle graceful shutdown
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	log.Info("exiting")
}

// watchArtifacts 产物在磁盘上变化时告警，已加载的模型保持不变
func watchArtifacts(ctx context.Context, cfg *config.Config, hub *monitoring.Hub, log *logger.Logger) {
	paths := []string{cfg.Artifacts.PreprocessorPath, cfg.Artifacts.ModelPath}
	err := ml.WatchArtifacts(ctx, paths, func(path, op string) {
		log.Warn("artifact changed on disk; restart to serve it", "path", path, "op", op)
		if err := hub.Publish(monitoring.ArtifactEvent, monitoring.ArtifactMessage{Path: path, Op: op}); err != nil {
			log.Warn("publish artifact event failed", "error", err)
		}
	})
	if err != nil {
		log.Error("artifact watcher stopped", "error", err)
	}
}
