// Command aqhictl runs the AQHI ingestion steps by hand: registering
// cities and stations, importing stored pages, backfilling AQHI, loading
// coordinates and querying windowed AQHI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/aqhi-etl/internal/adapter/mapbox"
	"github.com/couchcryptid/aqhi-etl/internal/adapter/sqlstore"
	"github.com/couchcryptid/aqhi-etl/internal/config"
	"github.com/couchcryptid/aqhi-etl/internal/domain"
	"github.com/couchcryptid/aqhi-etl/internal/observability"
	"github.com/couchcryptid/aqhi-etl/internal/rules"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the settings shared by every subcommand.
type app struct {
	out    io.Writer
	errOut io.Writer

	db        config.Database
	rulesFile string
	logLevel  string

	geocode bool
}

func rootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}
	env := config.DatabaseFromEnv()

	cmd := &cobra.Command{
		Use:   "aqhictl",
		Short: "Operate the AQHI record store",
		Long: `Operate the AQHI record store.

Database settings default to DATABASE_DRIVER and DATABASE_URL.

Examples:
  aqhictl register pages/ --city beijing --geocode
  aqhictl collect pages/
  aqhictl update-aqhi --override
  aqhictl coords city cities.txt
  aqhictl window beijing --hours 3
  aqhictl extract pages/beijing.html
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.db.Driver, "db-driver", env.Driver, "database driver (postgres or sqlite3)")
	flags.StringVar(&a.db.URL, "db-url", env.URL, "database connection string")
	flags.StringVar(&a.rulesFile, "rules", os.Getenv("RULES_FILE"), "rule table file overriding the built-in rules")
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		extractCmd(a),
		registerCmd(a),
		collectCmd(a),
		updateAQHICmd(a),
		coordsCmd(a),
		windowCmd(a),
	)
	return cmd
}

func (a *app) logger() *slog.Logger {
	return observability.NewLoggerTo(a.errOut, "text", a.logLevel)
}

func (a *app) openStore(ctx context.Context) (*sqlstore.Store, error) {
	if err := a.db.Validate(); err != nil {
		return nil, err
	}
	return sqlstore.Open(ctx, a.db.Driver, a.db.URL, nil)
}

func (a *app) rules() (*rules.Rules, error) {
	if a.rulesFile == "" {
		return rules.Default()
	}
	return rules.Load(a.rulesFile)
}

// geocoder returns nil unless --geocode was given. Timeout and cache size
// come from the MAPBOX_* variables the service reads.
func (a *app) geocoder(logger *slog.Logger) (domain.Geocoder, error) {
	if !a.geocode {
		return nil, nil
	}
	cfg, err := config.MapboxFromEnv()
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, errors.New("--geocode needs MAPBOX_TOKEN")
	}
	metrics := observability.NewUnregisteredMetrics()
	client := mapbox.NewClient(cfg.Token, cfg.Timeout, metrics, logger)
	return mapbox.NewCachedGeocoder(client, cfg.CacheSize, metrics), nil
}

func (a *app) geocodeFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&a.geocode, "geocode", false, "look up coordinates of new cities and stations (needs MAPBOX_TOKEN)")
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
