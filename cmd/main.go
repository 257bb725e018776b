package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Martin-Hayot/auction-ledger/configs"
	"github.com/Martin-Hayot/auction-ledger/internal/auth"
	"github.com/Martin-Hayot/auction-ledger/internal/database"
	"github.com/Martin-Hayot/auction-ledger/internal/funds"
	"github.com/Martin-Hayot/auction-ledger/internal/handlers/api"
	"github.com/Martin-Hayot/auction-ledger/internal/handlers/websocket"
	"github.com/Martin-Hayot/auction-ledger/internal/ledger"
	"github.com/Martin-Hayot/auction-ledger/internal/metrics"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

func main() {
	// Load configurations
	cfg, err := configs.LoadConfig()
	if err != nil {
		log.Fatal("Error loading config", "error", err)
	}

	port := cfg.Server.Port
	if port == "" {
		port = "8080" // Default port if not specified
	}

	// Setup logger
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "debug" // Default log level if not specified
	}
	logLevel, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		log.Error("Invalid log level", "error", err)
	} else {
		log.SetLevel(logLevel)
	}
	if cfg.Server.Env == "dev" {
		log.SetReportCaller(true)
	}

	// Redirect logs to buffer while the dashboard owns the terminal
	var logs *logBuffer
	if cfg.Features.EnableDashboard {
		logs = new(logBuffer)
		log.SetOutput(logs)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opening, err := decimal.NewFromString(cfg.Funds.OpeningBalance)
	if err != nil {
		log.Fatal("Invalid opening balance", "value", cfg.Funds.OpeningBalance, "error", err)
	}
	bank := funds.NewAccounts(opening)

	authenticator, err := auth.New(cfg.Auth.SecretKey)
	if err != nil {
		log.Fatal("Error initializing auth", "error", err)
	}

	pingInterval, err := time.ParseDuration(cfg.WebSocket.PingInterval)
	if err != nil {
		log.Fatal("Invalid websocket ping interval", "value", cfg.WebSocket.PingInterval, "error", err)
	}

	// Initialize WebSocket handler, the ledger's notifier
	auctionHandler := websocket.NewAuctionWebSocketHandler(authenticator.Identify,
		websocket.WithPingInterval(pingInterval),
		websocket.WithMaxMessageSize(int64(cfg.WebSocket.MaxMessageSize)),
	)

	opts := []ledger.Option{
		ledger.WithNotifier(ledger.Notifiers{auctionHandler, metrics.NewRecorder(prometheus.DefaultRegisterer)}),
		ledger.WithCloseBuffer(cfg.Ledger.CloseBuffer),
		ledger.WithMaxPageSize(cfg.Ledger.MaxPageSize),
	}

	var health api.HealthFunc
	if cfg.UsesDatabase() {
		// Initialize database service
		db, err := database.New(ctx, cfg)
		if err != nil {
			log.Fatal("Error initializing database", "error", err)
		}
		defer db.Close()
		opts = append(opts, ledger.WithStore(db))
		health = db.Health
	} else {
		log.Warn("Using in-memory storage, state is lost on restart")
	}

	l, err := ledger.New(ctx, bank, opts...)
	if err != nil {
		log.Fatal("Error restoring ledger", "error", err)
	}
	auctionHandler.Attach(l)

	// Setup routes
	router := mux.NewRouter()
	api.New(l, authenticator.Identify, health).Mount(router, "/auctions")
	router.Path("/ws/auction").HandlerFunc(auctionHandler.HandleAuctions)
	router.Path("/metrics").Handler(promhttp.Handler())

	var handler http.Handler = router
	if cfg.Features.EnableLogging {
		handler = handlers.LoggingHandler(log.StandardLog().Writer(), handler)
	}
	if cfg.Features.AllowCrossOrigin {
		handler = handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"content-type", "authorization"}))(handler)
	}

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	log.Infof("Server started on port %s", port)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	if cfg.Features.EnableDashboard {
		// Start Bubble Tea program
		p := tea.NewProgram(newDashboard(l, logs), tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			log.Error("Error running Bubble Tea program", "error", err)
		}
	} else {
		<-ctx.Done()
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	auctionHandler.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down server", "error", err)
	}
}
