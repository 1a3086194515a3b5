package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"serramenti/internal/auth"
	"serramenti/internal/config"
	quoteapp "serramenti/internal/quote/application"
	quote "serramenti/internal/quote/domain"
	quotememory "serramenti/internal/quote/infrastructure/memory"
	quotesqlite "serramenti/internal/quote/infrastructure/sqlite"
	"serramenti/internal/session"
	"serramenti/migrations"
)

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "configure a frame interactively, autosaving a draft quote",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "owner", Required: true, EnvVars: []string{"QUOTECTL_OWNER"}},
			&cli.StringFlag{Name: "sqlite", Usage: "store drafts in this sqlite file instead of memory"},
			&cli.DurationFlag{Name: "debounce", Usage: "quiet time before an automatic save"},
		},
		Action: func(c *cli.Context) error {
			eng, err := loadEngine(c)
			if err != nil {
				return err
			}
			repo, closeRepo, err := sessionRepository(c.String("sqlite"))
			if err != nil {
				return err
			}
			defer closeRepo()

			quotes, err := quoteapp.NewQuoteService(repo, quoteapp.WithLogger(eng.logger))
			if err != nil {
				return err
			}
			saver, err := session.NewQuoteSaver(eng.calc, quotes, c.String("owner"))
			if err != nil {
				return err
			}
			s, err := session.New(eng.frames)
			if err != nil {
				return err
			}
			debounce := eng.cfg.Session.Debounce
			if c.IsSet("debounce") {
				debounce = c.Duration("debounce")
			}
			autosaver, err := session.NewAutosaver(s, saver,
				session.WithDebounce(debounce),
				session.WithAutosaveLogger(eng.logger),
			)
			if err != nil {
				return err
			}
			defer autosaver.Stop()

			console, err := session.NewConsole(s, autosaver, eng.calc)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, `type "help" for commands`)
			return console.Run(c.Context, os.Stdin, os.Stdout)
		},
	}
}

func sessionRepository(path string) (quote.Repository, func(), error) {
	if path == "" {
		return quotememory.NewQuoteRepository(), func() {}, nil
	}
	db, err := quotesqlite.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if err := migrations.Up(db, migrations.DialectSQLite); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return quotesqlite.NewQuoteRepository(db), func() { _ = db.Close() }, nil
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply the embedded migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "driver", Usage: "postgres or sqlite, defaults to storage.driver"},
			&cli.StringFlag{Name: "dsn", Usage: "postgres DSN or sqlite path, defaults to the configuration"},
			&cli.BoolFlag{Name: "status", Usage: "print migration status instead of migrating"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			driver := c.String("driver")
			if driver == "" {
				driver = cfg.Storage.Driver
			}
			var (
				db      *sql.DB
				dialect string
			)
			switch driver {
			case config.DriverPostgres:
				dsn := firstNonEmpty(c.String("dsn"), cfg.Storage.PostgresDSN)
				if dsn == "" {
					return errors.New("postgres DSN required")
				}
				db, err = sql.Open("pgx", dsn)
				dialect = migrations.DialectPostgres
			case config.DriverSQLite:
				db, err = quotesqlite.Open(firstNonEmpty(c.String("dsn"), cfg.Storage.SQLitePath))
				dialect = migrations.DialectSQLite
			default:
				return fmt.Errorf("driver %q has no migrations", driver)
			}
			if err != nil {
				return err
			}
			defer db.Close()
			if c.Bool("status") {
				return migrations.Status(db, dialect)
			}
			if err := migrations.Up(db, dialect); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s migrations applied\n", driver)
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "issue a signed bearer token for the API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "owner", Required: true},
			&cli.StringFlag{Name: "email"},
			&cli.StringFlag{Name: "role", Value: string(auth.RoleEstimator), Usage: "viewer, estimator or admin"},
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
			&cli.StringFlag{Name: "secret", EnvVars: []string{"AUTH_JWT_SECRET"}, Usage: "defaults to auth.jwt_secret"},
		},
		Action: func(c *cli.Context) error {
			role, ok := auth.NormalizeRole(strings.ToLower(c.String("role")))
			if !ok {
				return fmt.Errorf("unknown role %q", c.String("role"))
			}
			secret := c.String("secret")
			if secret == "" {
				cfg, err := loadConfig(c)
				if err != nil {
					return err
				}
				secret = cfg.Auth.JWTSecret
			}
			if secret == "" {
				return errors.New("no signing secret, set --secret or auth.jwt_secret")
			}
			token, err := auth.IssueJWT(auth.Identity{
				OwnerID: c.String("owner"),
				Email:   c.String("email"),
				Role:    role,
			}, []byte(secret), c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
