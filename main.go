package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"serramenti/internal/audit"
	"serramenti/internal/auth"
	catalogfile "serramenti/internal/catalog/infrastructure/yamlfile"
	"serramenti/internal/config"
	"serramenti/internal/eventing"
	"serramenti/internal/eventing/eventbus"
	"serramenti/internal/eventing/infrastructure/sqlstore"
	"serramenti/internal/notify"
	"serramenti/internal/observability/logging"
	"serramenti/internal/observability/metrics"
	pricingapp "serramenti/internal/pricing/application"
	pricingmemory "serramenti/internal/pricing/infrastructure/memory"
	pricingpostgres "serramenti/internal/pricing/infrastructure/postgres"
	ratefile "serramenti/internal/pricing/infrastructure/yamlfile"
	quoteapp "serramenti/internal/quote/application"
	quote "serramenti/internal/quote/domain"
	quotedynamo "serramenti/internal/quote/infrastructure/dynamo"
	quotememory "serramenti/internal/quote/infrastructure/memory"
	quotepostgres "serramenti/internal/quote/infrastructure/postgres"
	quotesqlite "serramenti/internal/quote/infrastructure/sqlite"
	quoteinterfaces "serramenti/internal/quote/interfaces"
	quotehttp "serramenti/internal/quote/interfaces/http"
	"serramenti/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("serramenti stopped")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	frames, err := catalogfile.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	logger.Info().Int("frames", frames.Len()).Str("path", cfg.Catalog.Path).Msg("catalog loaded")

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics.Init(store.db, logger)

	rateStore := pricingmemory.NewRateTableStore(nil)
	loader, err := rateTableLoader(cfg, store.db)
	if err != nil {
		return err
	}
	rates, err := pricingapp.NewRateTableService(loader, rateStore, logger)
	if err != nil {
		return err
	}
	if _, err := rates.Reload(ctx); err != nil {
		return fmt.Errorf("rate tables: %w", err)
	}

	calc, err := pricingapp.NewCalculator(frames, rateStore)
	if err != nil {
		return err
	}

	bus := eventbus.NewInMemoryBus()
	var (
		publisher quoteapp.Publisher = bus
		processed eventing.ProcessedStore
	)
	if store.db != nil {
		events := sqlstore.New(store.db, store.dialect)
		registry := eventing.NewRegistry()
		registry.Register(quote.QuoteSaved{}, quote.QuoteFinalized{})
		dispatcher := eventing.NewDispatcher(bus, events, registry, events,
			eventing.WithDispatcherLogger(logger.With().Str("component", "outbox").Logger()))
		go dispatcher.Run(ctx, 30*time.Second)
		publisher = eventing.NewPublisher(events, dispatcher)
		processed = events
	}

	auditLog := store.auditLogger(logger)
	quoteinterfaces.NewAuditRecorder(auditLog).Register(bus, processed)
	if cfg.Notify.WebhookURL != "" {
		notifier, err := buildNotifier(cfg.Notify)
		if err != nil {
			return err
		}
		notifier.Register(bus, processed)
		logger.Info().Bool("finalized_only", cfg.Notify.FinalizedOnly).Msg("quote webhook notifications enabled")
	}

	quotes, err := quoteapp.NewQuoteService(store.quotes,
		quoteapp.WithPublisher(publisher),
		quoteapp.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	handler, err := quotehttp.NewHandler(quotehttp.Deps{
		Frames:     frames,
		Calculator: calc,
		Quotes:     quotes,
		Rates:      rates,
		Audit:      auditLog,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.Auth.JWTSecret), policy)
	if !cfg.Auth.Enabled {
		logger.Warn().Str("header", auth.DevOwnerHeader).Msg("auth disabled, trusting owner header")
		authMiddleware = auth.NewDevMiddleware(policy)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(correlate)
	r.Use(authMiddleware.Wrap)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if store.db != nil {
			if err := store.db.PingContext(r.Context()); err != nil {
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	handler.Routes(r)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Str("storage", cfg.Storage.Driver).Msg("http listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type storage struct {
	quotes      quote.Repository
	db          *sql.DB
	placeholder string
	dialect     string
}

func (s storage) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s storage) auditLogger(logger zerolog.Logger) audit.Logger {
	if s.db == nil {
		return audit.NewLogWriter(logger)
	}
	return audit.NewRepository(s.db, s.placeholder)
}

func openStorage(ctx context.Context, cfg config.Config, logger zerolog.Logger) (storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		db, err := sql.Open("pgx", cfg.Storage.PostgresDSN)
		if err != nil {
			return storage{}, fmt.Errorf("postgres open: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return storage{}, fmt.Errorf("postgres ping: %w", err)
		}
		if cfg.Storage.Migrate {
			if err := migrations.Up(db, migrations.DialectPostgres); err != nil {
				_ = db.Close()
				return storage{}, err
			}
		}
		return storage{quotes: quotepostgres.NewQuoteRepository(db), db: db, placeholder: audit.PlaceholderDollar, dialect: sqlstore.DialectPostgres}, nil
	case config.DriverSQLite:
		db, err := quotesqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return storage{}, err
		}
		if cfg.Storage.Migrate {
			if err := migrations.Up(db, migrations.DialectSQLite); err != nil {
				_ = db.Close()
				return storage{}, err
			}
		}
		return storage{quotes: quotesqlite.NewQuoteRepository(db), db: db, placeholder: audit.PlaceholderQuestion, dialect: sqlstore.DialectSQLite}, nil
	case config.DriverDynamoDB:
		dyn := cfg.Storage.DynamoDB
		client, err := quotedynamo.NewClient(ctx, quotedynamo.ClientConfig{Region: dyn.Region, Endpoint: dyn.Endpoint})
		if err != nil {
			return storage{}, err
		}
		repo := quotedynamo.NewQuoteRepository(client, quotedynamo.WithTables(dyn.QuotesTable, dyn.CountersTable, dyn.OwnerIndex))
		return storage{quotes: repo}, nil
	default:
		logger.Warn().Msg("memory storage: quotes are lost on restart")
		return storage{quotes: quotememory.NewQuoteRepository()}, nil
	}
}

// correlate tags events published while serving a request with its id.
func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(eventing.WithCorrelationID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func rateTableLoader(cfg config.Config, db *sql.DB) (pricingapp.RateTableLoader, error) {
	if cfg.RateTables.Source != config.RatesFromPostgres {
		return ratefile.NewLoader(cfg.RateTables.Path)
	}
	if db == nil || cfg.Storage.Driver != config.DriverPostgres {
		return nil, errors.New("rate tables from postgres need the postgres storage driver")
	}
	return pricingpostgres.NewRateTableProvider(db), nil
}

func buildNotifier(cfg config.NotifyConfig) (*notify.Notifier, error) {
	channel, err := notify.NewWebhookChannel(cfg.WebhookURL, notify.WithSigningSecret(cfg.WebhookSecret))
	if err != nil {
		return nil, err
	}
	tpl, err := notify.NewTemplate(cfg.Template)
	if err != nil {
		return nil, err
	}
	opts := []notify.Option{notify.WithDedupeWindow(cfg.DedupeWindow)}
	if cfg.FinalizedOnly {
		opts = append(opts, notify.WithFinalizedOnly())
	}
	return notify.NewNotifier(channel, tpl, opts...)
}
