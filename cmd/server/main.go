package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"autopilot-mcp-server/internal/analytics"
	"autopilot-mcp-server/internal/config"
	"autopilot-mcp-server/internal/dedup"
	"autopilot-mcp-server/internal/engine"
	"autopilot-mcp-server/internal/facts"
	"autopilot-mcp-server/internal/locator"
	mcpserver "autopilot-mcp-server/internal/mcp"
	"autopilot-mcp-server/internal/recorder"
	"autopilot-mcp-server/internal/roi"

	"github.com/google/uuid"
)

func main() {
	configPath := flag.String("config", "", "Path to an explicit config file (overrides workspace config)")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	workspaceDir := flag.String("workspace-dir", "", "Use this directory as workspace root instead of walking up")
	noWorkspace := flag.Bool("no-workspace", false, "Skip .autopilot workspace discovery")
	initWorkspace := flag.Bool("init", false, "Create a .autopilot workspace in the current directory and exit")
	flag.Parse()

	if *initWorkspace {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to resolve working directory: %v", err)
		}
		if err := config.InitWorkspace(cwd); err != nil {
			log.Fatalf("failed to initialize workspace: %v", err)
		}
		log.Printf("initialized workspace at %s", filepath.Join(cwd, config.WorkspaceDirName))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, wsDir, err := config.LoadWithWorkspace(*configPath, config.WorkspaceOptions{
		Disable:     *noWorkspace,
		ExplicitDir: *workspaceDir,
	})
	if err != nil {
		// Before we can redirect logs, write to stderr as last resort
		log.Fatalf("failed to load config: %v", err)
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}

	// Redirect logging to file for stdio mode (stderr interferes with MCP protocol)
	if cfg.MCP.SSEPort == 0 && cfg.Server.LogFile != "" {
		logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
			defer logFile.Close()
		} else {
			// If we can't open log file, disable logging to avoid stderr pollution
			log.SetOutput(io.Discard)
		}
	}
	if wsDir != "" {
		log.Printf("using workspace config at %s", filepath.Join(wsDir, config.WorkspaceDirName))
	}

	if dir := filepath.Dir(cfg.Analytics.StorePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("failed to create analytics directory %s: %v", dir, err)
		}
	}
	persister, err := analytics.NewSQLiteStore(cfg.Analytics.StorePath)
	if err != nil {
		log.Fatalf("failed to open analytics store %s: %v", cfg.Analytics.StorePath, err)
	}
	defer persister.Close()

	store := analytics.NewStore(persister)
	store.SetOperationWindow(cfg.Engine.OperationWindowDuration())

	guard := dedup.NewGuard()
	guard.SetCooldown(cfg.Engine.TriggerCooldownDuration())

	factEngine, err := facts.NewEngine(facts.Config{
		Enable:      cfg.Facts.Enable,
		SchemaPath:  cfg.Facts.SchemaPath,
		BufferLimit: cfg.Facts.BufferLimit,
	})
	if err != nil {
		log.Fatalf("failed to initialize fact engine: %v", err)
	}

	sessionID := uuid.NewString()

	var rec *recorder.Recorder
	if cfg.Analytics.TraceDir != "" {
		rec, err = recorder.NewRecorder(cfg.Analytics.TraceDir)
		if err != nil {
			log.Printf("decision tracing disabled: %v", err)
			rec = nil
		} else if err := rec.Start(sessionID); err != nil {
			log.Printf("decision tracing disabled: %v", err)
			rec = nil
		} else {
			defer rec.Close()
		}
	}

	loc := locator.New(cfg.Browser)
	defer loc.Shutdown()

	controller := engine.NewController(engine.Options{
		Source:    loc,
		Guard:     guard,
		Estimator: roi.NewEstimator(),
		Store:     store,
		Facts:     factEngine,
		Recorder:  rec,
		SessionID: sessionID,
	})
	controller.Observer().SetDebounce(cfg.Engine.DebounceDuration())
	controller.Observer().SetCooldown(cfg.Engine.ScanCooldownDuration())
	if len(cfg.Engine.EnabledTypes) > 0 {
		controller.Configure(0, 0, 0, 0, cfg.Engine.EnabledTypes)
	}
	defer controller.Stop()

	if cfg.Browser.AutoStart {
		if err := loc.Connect(ctx); err != nil {
			log.Fatalf("failed to attach to host UI: %v", err)
		}
		if err := loc.StartMutationStream(ctx, controller.EnqueueMutations); err != nil {
			log.Fatalf("failed to start mutation stream: %v", err)
		}
		if err := controller.Start(ctx); err != nil {
			log.Fatalf("failed to start engine: %v", err)
		}
	} else {
		log.Printf("browser auto-start disabled; use start-autopilot to attach later")
	}

	server, err := mcpserver.NewServer(cfg, controller, loc, factEngine)
	if err != nil {
		log.Fatalf("failed to initialize MCP server: %v", err)
	}

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		log.Printf("starting autopilot MCP SSE server on port %d", cfg.MCP.SSEPort)
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		log.Printf("starting autopilot MCP stdio server")
		startErr = server.Start(ctx)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		log.Fatalf("server exited with error: %v", startErr)
	}
}
