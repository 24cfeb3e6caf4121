package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridshare/energy-bpp/backend"
	"github.com/gridshare/energy-bpp/backend/handlers"
	"github.com/gridshare/energy-bpp/bpp"
	"github.com/gridshare/energy-bpp/bpp/database"
	"github.com/gridshare/energy-bpp/bpp/database/repositories"
	"github.com/gridshare/energy-bpp/bpp/ledger"
	"github.com/gridshare/energy-bpp/bpp/logger"
	"github.com/gridshare/energy-bpp/bpp/protocol"
	"github.com/gridshare/energy-bpp/bpp/services"
	"github.com/gridshare/energy-bpp/internal/domain/settlement"
)

var (
	version = "dev"
	commit  = "unknown"
)

const (
	callbackTimeout = 15 * time.Second
	taskTimeout     = 2 * time.Minute
	shutdownTimeout = 30 * time.Second
)

func main() {
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	slog.SetDefault(slog.New(logger.NewHandler("BPP", slog.LevelInfo)))

	cfg, err := bpp.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}
	setupLogger(cfg.Log)

	slog.Info("Starting energy BPP",
		slog.String("version", version),
		slog.String("commit", commit),
		slog.String("bpp_id", cfg.Protocol.BppID))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbStartTime := time.Now()
	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		slog.Error("Database connection failed",
			slog.Any("error", err),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	defer db.Close()

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize schema", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Database connected successfully",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	bunDB := db.BunDB()
	inventoryRepo := repositories.NewInventoryRepository(bunDB)
	orderRepo := repositories.NewOrderRepository(bunDB)
	settlementRepo := repositories.NewSettlementRepository(bunDB)

	source, err := newLedgerSource(cfg.Ledger)
	if err != nil {
		slog.Error("Failed to configure ledger client", slog.Any("error", err))
		os.Exit(-1)
	}
	settlementService := settlement.NewService(settlementRepo, source)

	poster := ledger.NewPoster(callbackTimeout)
	deps := protocol.Deps{
		Inventory:   inventoryRepo,
		Orders:      orderRepo,
		Settlements: settlementService,
		Tx:          repositories.NewTxManager(bunDB),
		Poster:      poster,
	}

	if cfg.Catalog.Bucket != "" {
		publisher, err := services.NewCatalogPublisher(ctx, cfg.Catalog)
		if err != nil {
			slog.Error("Failed to configure catalog publisher", slog.Any("error", err))
			os.Exit(-1)
		}
		deps.Catalogs = publisher
	}

	var templates *services.TemplateStore
	if cfg.Templates.MongoURI != "" {
		templates, err = services.NewTemplateStore(ctx, cfg.Templates)
		if err != nil {
			slog.Error("Failed to connect template store", slog.Any("error", err))
			os.Exit(-1)
		}
		deps.Templates = templates
	}

	if cfg.Notify.WebhookURL != "" {
		deps.Notifier = services.NewNotifier(poster, cfg.Notify.WebhookURL)
	}

	dispatcher := protocol.NewDispatcher(cfg.Protocol.WorkerLimit, taskTimeout)
	deps.Scheduler = dispatcher
	engine := protocol.NewEngine(cfg.Protocol, deps)

	ledgerKey, err := cfg.Ledger.PushKey()
	if err != nil {
		slog.Error("Failed to decode ledger public key", slog.Any("error", err))
		os.Exit(-1)
	}
	if ledgerKey == nil {
		slog.Warn("No ledger public key, ledger pushes will be refused", slog.String("type", "ledger"))
	}

	app, limiter := backend.NewApp(cfg.Web, &handlers.WebApp{
		Engine:        engine,
		Settlements:   settlementService,
		Orders:        orderRepo,
		Inventory:     inventoryRepo,
		Catalogs:      deps.Catalogs,
		LedgerKey:     ledgerKey,
		DB:            db,
		PersonaHeader: cfg.Protocol.PersonaHeader,
		Version:       version,
		Commit:        commit,
	})

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	// an interval of 0 leaves reconciliation to pushes and manual calls
	if source != nil && cfg.Ledger.ReconcileIntervalMinutes > 0 {
		go runReconciler(runCtx, settlementService, time.Duration(cfg.Ledger.ReconcileIntervalMinutes)*time.Minute)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	go func() {
		slog.Info("HTTP server listening", slog.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			slog.Error("HTTP server stopped", slog.Any("error", err))
		}
	}()

	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s

	slog.Info("Shutting down")
	stopRun()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", slog.Any("error", err))
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Pending protocol tasks abandoned", slog.Any("error", err))
	}
	if limiter != nil {
		limiter.Close()
	}
	if templates != nil {
		if err := templates.Close(shutdownCtx); err != nil {
			slog.Warn("Failed to close template store", slog.Any("error", err))
		}
	}
	slog.Info("Shutdown complete")
}

func setupLogger(cfg bpp.LogConfig) {
	if cfg.Format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     cfg.Level,
			AddSource: cfg.AddSource,
		})))
		return
	}
	slog.SetDefault(slog.New(logger.NewHandler("BPP", cfg.Level)))
}

// newLedgerSource returns nil when no ledger is configured, so the
// settlement service sees a nil interface rather than a nil *Client.
func newLedgerSource(cfg bpp.LedgerConfig) (settlement.LedgerSource, error) {
	if cfg.BaseURL == "" {
		slog.Warn("Ledger not configured, settlements will only change through pushes",
			slog.String("type", "ledger"))
		return nil, nil
	}

	var signer *ledger.Signer
	rawKey, err := cfg.PrivateKey()
	if err != nil {
		return nil, err
	}
	if rawKey != nil {
		signer, err = ledger.NewSigner(cfg.SubscriberID, cfg.UniqueKeyID, rawKey)
		if err != nil {
			return nil, err
		}
	} else {
		slog.Warn("Ledger requests will be unsigned", slog.String("type", "ledger"))
	}

	return ledger.NewClient(cfg, signer), nil
}

func runReconciler(ctx context.Context, svc settlement.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.ReconcilePending(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.LogError("Settlement reconciliation failed", err)
				continue
			}
			if n > 0 {
				logger.LogSystem("Settlements reconciled", slog.Int("count", n))
			}
		}
	}
}
