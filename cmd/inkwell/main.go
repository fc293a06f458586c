package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/inkwell-ai/inkwell/internal/api"
	"github.com/inkwell-ai/inkwell/internal/bucket"
	"github.com/inkwell-ai/inkwell/internal/common"
	"github.com/inkwell-ai/inkwell/internal/llm"
	"github.com/inkwell-ai/inkwell/internal/pipeline"
	"github.com/inkwell-ai/inkwell/internal/project"
	"github.com/inkwell-ai/inkwell/internal/rag"
)

func main() {
	logger := common.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(); err != nil {
		logger.Warn("inkwell: .env file not loaded", "error", err)
	} else {
		logger.Info("inkwell: environment loaded from .env")
	}

	addr := flag.String("addr", ":8080", "listen address")
	projectsRoot := flag.String("projects-root", defaultProjectsRoot(), "directory holding per-project databases and buckets")
	flag.Parse()

	logger.Info("inkwell: startup initiated", "addr", *addr, "projects_root", *projectsRoot)

	storeCfg, err := project.LoadConfig()
	if err != nil {
		logger.Error("inkwell: sqlite config load failed", "error", err)
		fmt.Println("sqlite config error:", err)
		os.Exit(1)
	}
	registry, err := project.NewRegistry(*projectsRoot, storeCfg)
	if err != nil {
		logger.Error("inkwell: registry initialization failed", "error", err)
		fmt.Println("registry error:", err)
		os.Exit(1)
	}
	defer registry.Close()

	engine, err := rag.NewFromEnv()
	if err != nil {
		logger.Error("inkwell: retrieval engine config load failed", "error", err)
		fmt.Println("retrieval engine error:", err)
		os.Exit(1)
	}
	defer engine.Close()
	if engine.Available(ctx) {
		logger.Info("inkwell: retrieval engine available")
	} else {
		logger.Warn("inkwell: retrieval engine unreachable; buckets will degrade until it returns")
	}
	buckets := bucket.NewStore(engine)

	provider := llm.NewProvider()
	logger.Info("inkwell: llm provider ready", "provider", provider.Name())

	var opts []pipeline.Option
	if raw := strings.TrimSpace(os.Getenv("INKWELL_GENERATION_TIMEOUT")); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			logger.Error("inkwell: invalid INKWELL_GENERATION_TIMEOUT", "value", raw, "error", err)
			fmt.Println("generation timeout error:", err)
			os.Exit(1)
		}
		opts = append(opts, pipeline.WithTimeout(timeout))
	}
	generator := pipeline.NewGenerator(registry, buckets, provider, opts...)

	server, err := api.NewServer(registry, buckets, generator, provider)
	if err != nil {
		logger.Error("inkwell: server construction failed", "error", err)
		fmt.Println("server error:", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sig:
			logger.Info("inkwell: shutdown signal received")
		case <-ctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("inkwell: shutdown failed", "error", err)
		}
	}()

	logger.Info("inkwell: server listening", "addr", *addr, "health", "/healthz")
	fmt.Printf("Serving on %s\n", *addr)
	reachable := *addr
	if strings.HasPrefix(reachable, ":") {
		reachable = "localhost" + reachable
	}
	logger.Info("inkwell: verify reachability", "suggestion", fmt.Sprintf("curl http://%s/healthz", reachable))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("inkwell: server stopped", "error", err)
		fmt.Println("server stopped:", err)
		os.Exit(1)
	}
	logger.Info("inkwell: server stopped cleanly")
}

func defaultProjectsRoot() string {
	if env := strings.TrimSpace(os.Getenv("INKWELL_PROJECTS_ROOT")); env != "" {
		return env
	}
	return filepath.Join("data", "projects")
}
