package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rahul/setu/internal/governance"
	"github.com/rahul/setu/internal/observability"
	"github.com/rahul/setu/internal/store"
	"github.com/rahul/setu/internal/surface"
	"github.com/rahul/setu/internal/tools"
	"github.com/rahul/setu/internal/workflow"
	"github.com/rahul/setu/pkg/config"
)

// surfaceFailure reports whether a surface run loop died for a real reason.
// A graceful shutdown surfaces as context.Canceled and is not a failure.
func surfaceFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

func main() {
	observability.PrintBanner()
	observability.InitializeTerminal()

	// Route all log output through the terminal mutex so it never
	// interrupts the dashboard's cursor save/restore sequence.
	log.SetOutput(observability.NewTermWriter())

	cfg := config.LoadConfig("config.json")

	logger := observability.NewLogger(cfg.Tools.LogPath)

	states, err := store.Open(cfg.Store.StatePath)
	if err != nil {
		log.Fatal(err)
	}

	history, err := store.NewHistoryStore(cfg.Store.HistoryPath)
	if err != nil {
		log.Fatal(err)
	}
	defer history.Close()

	definitions := workflow.NewRegistry()
	loaded, err := workflow.LoadDirectory(cfg.Workflows.Dir, definitions)
	if err != nil {
		log.Fatal(err)
	}
	if loaded == 0 {
		log.Fatal("no workflow definitions found in " + cfg.Workflows.Dir)
	}
	log.Printf("Loaded %d workflow definition(s) from %s", loaded, cfg.Workflows.Dir)

	gov := governance.NewDefaultPolicyEngine()
	// Default safety rules: Block dangerous destructive commands
	_ = gov.DenyArguments(`rm\s+-rf`)
	_ = gov.DenyArguments(`mkfs`)
	_ = gov.DenyArguments(`shutdown`)
	_ = gov.DenyArguments(`reboot`)

	registry := tools.NewRegistry(gov)

	searchTool, err := tools.NewSearchTool()
	if err != nil {
		log.Printf("Warning: Failed to initialize search tool: %v", err)
	} else {
		registry.Register(searchTool)
	}

	fsTool := tools.NewFilesystemTool(cfg.App.Workspace)
	registry.Register(fsTool)

	scraperTool := tools.NewScraperTool()
	registry.Register(scraperTool)

	browserTool := tools.NewBrowserTool()
	registry.Register(browserTool)

	engine := workflow.NewEngine(definitions, states, registry, history, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var adapters []surface.Adapter

	if tgCfg, ok := cfg.GetTelegramConfig(); ok {
		tg, err := surface.NewTelegramSurface(tgCfg.Token, engine)
		if err != nil {
			log.Fatal(err)
		}
		adapters = append(adapters, tg)
	}

	if dcCfg, ok := cfg.GetDiscordConfig(); ok {
		dc, err := surface.NewDiscordSurface(dcCfg.Token, engine)
		if err != nil {
			log.Fatal(err)
		}
		adapters = append(adapters, dc)
	}

	if len(adapters) == 0 {
		log.Fatal("No surface is enabled in config")
	}
	for _, a := range adapters {
		engine.AddAdapter(a)
	}

	router := workflow.NewRouter(states, adapters...)

	// Wire the surfaces back into the engine and router. Start launches a
	// workflow on behalf of a surface command; Observe tracks where each
	// user was last seen so proactive messages land on the right surface.
	for _, a := range adapters {
		name := a.Name()
		switch s := a.(type) {
		case *surface.TelegramSurface:
			s.Start = func(ctx context.Context, workflowID, userID string) error {
				_, err := engine.StartWorkflow(ctx, workflowID, userID, name, nil)
				return err
			}
			s.Observe = func(userID string) { router.Observe(userID, name) }
		case *surface.DiscordSurface:
			s.Start = func(ctx context.Context, workflowID, userID string) error {
				_, err := engine.StartWorkflow(ctx, workflowID, userID, name, nil)
				return err
			}
			s.Observe = func(userID string) { router.Observe(userID, name) }
		}
	}

	// Expired sessions are swept out periodically; each user gets a note on
	// the surface they last used.
	go states.StartSweeper(ctx, cfg.SweepEvery(), func(st *store.State) {
		logger.LogExpiry(st.UserID, st.WorkflowID, st.CurrentStep)
		if err := history.RecordRun(st, "expired"); err != nil {
			log.Printf("Failed to record expired run: %v", err)
		}
		if err := router.NotifyState(ctx, st, "Your workflow session expired. Send the start command to begin again."); err != nil {
			log.Printf("Failed to deliver expiry notice to %s: %v", st.UserID, err)
		}
	})

	// Start surfaces in goroutines so we can wait for context in the main loop
	for _, a := range adapters {
		switch s := a.(type) {
		case *surface.TelegramSurface:
			go func() {
				if err := s.Run(ctx); surfaceFailure(err) {
					log.Printf("\033[91m[ FAIL ] TELEGRAM CRITICAL ERROR: %v\033[0m", err)
					stop()
				}
			}()
		case *surface.DiscordSurface:
			go func() {
				if err := s.Run(ctx); surfaceFailure(err) {
					log.Printf("\033[91m[ FAIL ] DISCORD CRITICAL ERROR: %v\033[0m", err)
					stop()
				}
			}()
		}
	}

	// Start Live Resource Dashboard (1-second updates)
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.SetCounts(states.Len(), definitions.Len())
				observability.PrintLiveStatus()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.Heartbeat()
			}
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	// Reset terminal aesthetics
	observability.CleanupTerminal()

	// Give a short time for final logs/syncs
	time.Sleep(500 * time.Millisecond)
	log.Println("\033[95m[ EXIT ] CORE DE-INITIALIZED. GOODBYE.\033[0m")
}
