package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okvist/waypost/internal/agent"
	"github.com/okvist/waypost/internal/approval"
	"github.com/okvist/waypost/internal/cells"
	"github.com/okvist/waypost/internal/cellstate"
	"github.com/okvist/waypost/internal/config"
	"github.com/okvist/waypost/internal/db"
	"github.com/okvist/waypost/internal/hitl"
	"github.com/okvist/waypost/internal/httpapi"
	"github.com/okvist/waypost/internal/observability"
	"github.com/okvist/waypost/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	taskStore, stateStore, closeStores := openStores(ctx, &cfg)
	defer closeStores()

	adapter, err := agent.NewAdapter(agent.Config{
		Mode:    cfg.AgentMode,
		HTTPURL: cfg.AgentHTTPURL,
	})
	if err != nil {
		log.Fatalf("agent adapter init failed: %v", err)
	}

	transport, hub := openTransport(cfg)
	cfg.TransportMode = transport.Name()
	log.Printf("approval transport: %s", transport.Name())

	queue := tasks.NewQueue(taskStore, cfg.CellID)
	manager := hitl.NewManager(queue, transport, stateStore, adapter, metrics, hitl.Config{
		CellID:         cfg.CellID,
		MaxTurns:       cfg.CellMaxTurns,
		DefaultTimeout: cfg.ApprovalTimeout,
	})

	if armed, err := manager.ResumePending(ctx); err != nil {
		log.Printf("resume pending tasks failed: %v", err)
	} else if armed > 0 {
		log.Printf("re-armed %d task(s) left awaiting a human decision", armed)
	}

	cellMgr := cells.NewManager(cfg.CellInactivityTimeout)
	cellMgr.SetExpireHook(func(c *cells.Cell) {
		metrics.ActiveCells.Set(float64(cellMgr.ActiveCount()))
		// Idle cells get their memory compacted off the hot path.
		compactCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := manager.Sleep(compactCtx); err != nil {
			log.Printf("compact idle cell %s: %v", c.ID, err)
		}
	})

	api := httpapi.New(cfg, manager, hub, cellMgr, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	cellMgr.StartJanitor(runCtx, 30*time.Second)

	go func() {
		if err := manager.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("approval channel stopped: %v", err)
		}
	}()

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

// openStores picks the most durable backend available: Postgres when
// DATABASE_URL is set, the embedded SQLite database when a data dir is
// configured, and process memory otherwise.
func openStores(ctx context.Context, cfg *config.Config) (tasks.Store, cellstate.Store, func()) {
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres connect failed: %v", err)
		}
		taskStore, err := tasks.NewPostgresStore(ctx, pool)
		if err != nil {
			log.Fatalf("postgres task store init failed: %v", err)
		}
		stateStore, err := cellstate.NewPostgresStore(ctx, pool)
		if err != nil {
			log.Fatalf("postgres cell-state store init failed: %v", err)
		}
		cfg.StoreMode = "postgres"
		log.Printf("store: postgres")
		return taskStore, stateStore, pool.Close
	}

	if strings.TrimSpace(cfg.DataDir) != "" {
		database, err := db.NewSQLiteDB(cfg.DataDir)
		if err != nil {
			log.Fatalf("sqlite init failed: %v", err)
		}
		cfg.StoreMode = "sqlite"
		log.Printf("store: sqlite (%s)", cfg.DataDir)
		return tasks.NewSQLiteStore(database), cellstate.NewSQLiteStore(database), func() {
			_ = database.Close()
		}
	}

	cfg.StoreMode = "memory"
	log.Printf("store: in-memory (set DATABASE_URL or WAYPOST_DATA_DIR for durability)")
	return tasks.NewMemoryStore(), cellstate.NewMemoryStore(), func() {}
}

// openTransport returns the approval transport plus the operator hub when
// it is the active transport (the websocket handler needs it).
func openTransport(cfg config.Config) (approval.Transport, *approval.OperatorHub) {
	mode := strings.ToLower(strings.TrimSpace(cfg.TransportMode))
	telegramConfigured := cfg.TelegramBotToken != "" && cfg.TelegramChatID != ""

	switch mode {
	case "telegram":
		if !telegramConfigured {
			log.Fatalf("APPROVAL_TRANSPORT=telegram but TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID are not set")
		}
	case "operator":
		hub := approval.NewOperatorHub()
		return hub, hub
	case "mock", "auto":
		// auto resolves below; mock keeps the operator hub so tests and
		// local runs have an inspectable channel.
		if mode == "mock" || !telegramConfigured {
			hub := approval.NewOperatorHub()
			return hub, hub
		}
	}

	return approval.NewTelegram(approval.TelegramConfig{
		BotToken:     cfg.TelegramBotToken,
		ChatID:       cfg.TelegramChatID,
		APIRoot:      cfg.TelegramAPIRoot,
		PollInterval: cfg.TelegramPollInterval,
	}), nil
}
