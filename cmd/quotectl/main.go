// quotectl prices configurations, runs batch reports and manages storage from
// the command line.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	catalog "serramenti/internal/catalog/domain"
	catalogfile "serramenti/internal/catalog/infrastructure/yamlfile"
	"serramenti/internal/config"
	"serramenti/internal/observability/logging"
	pricingapp "serramenti/internal/pricing/application"
	pricingmemory "serramenti/internal/pricing/infrastructure/memory"
	pricingpostgres "serramenti/internal/pricing/infrastructure/postgres"
	ratefile "serramenti/internal/pricing/infrastructure/yamlfile"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "quotectl",
		Usage:   "window and door pricing from the command line",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the yaml configuration",
				Value:   config.DefaultPath,
				EnvVars: []string{"CONFIG_PATH"},
			},
			&cli.StringFlag{
				Name:    "catalog",
				Usage:   "frame catalog yaml, overrides the configuration",
				EnvVars: []string{"CATALOG_PATH"},
			},
			&cli.StringFlag{
				Name:    "rates",
				Usage:   "rate table yaml, overrides the configuration",
				EnvVars: []string{"RATE_TABLES_PATH"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			framesCommand(),
			calculateCommand(),
			batchCommand(),
			sessionCommand(),
			migrateCommand(),
			tokenCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// engine is the catalog and calculator shared by the pricing commands.
type engine struct {
	cfg    config.Config
	frames *catalog.Catalog
	calc   *pricingapp.Calculator
	logger zerolog.Logger
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.LoadFile(c.String("config"), c.IsSet("config"))
	if err != nil {
		return cfg, err
	}
	if path := c.String("catalog"); path != "" {
		cfg.Catalog.Path = path
	}
	if path := c.String("rates"); path != "" {
		cfg.RateTables.Source = config.RatesFromFile
		cfg.RateTables.Path = path
	}
	return cfg, nil
}

func loadEngine(c *cli.Context) (*engine, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger := logging.New(c.String("log-level"), "console", os.Stderr)

	frames, err := catalogfile.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	loader, closeLoader, err := rateLoader(cfg)
	if err != nil {
		return nil, err
	}
	defer closeLoader()

	store := pricingmemory.NewRateTableStore(nil)
	rates, err := pricingapp.NewRateTableService(loader, store, logger)
	if err != nil {
		return nil, err
	}
	if _, err := rates.Reload(c.Context); err != nil {
		return nil, fmt.Errorf("rate tables: %w", err)
	}
	calc, err := pricingapp.NewCalculator(frames, store)
	if err != nil {
		return nil, err
	}
	return &engine{cfg: cfg, frames: frames, calc: calc, logger: logger}, nil
}

func rateLoader(cfg config.Config) (pricingapp.RateTableLoader, func(), error) {
	noop := func() {}
	if cfg.RateTables.Source != config.RatesFromPostgres {
		loader, err := ratefile.NewLoader(cfg.RateTables.Path)
		return loader, noop, err
	}
	if cfg.Storage.PostgresDSN == "" {
		return nil, noop, errors.New("rate tables from postgres need storage.postgres_dsn")
	}
	db, err := sql.Open("pgx", cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, noop, err
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, noop, err
	}
	return pricingpostgres.NewRateTableProvider(db), func() { _ = db.Close() }, nil
}
