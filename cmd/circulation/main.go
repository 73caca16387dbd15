// cmd/circulation/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"libranexus-lending/internal/audit"
	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/circulation"
	"libranexus-lending/internal/clients"
	"libranexus-lending/internal/config"
	"libranexus-lending/internal/server"
	"libranexus-lending/internal/storage/memory"
	"libranexus-lending/internal/storage/sqlstore"
	"libranexus-lending/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "circulation: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadCirculation()
	if err != nil {
		return err
	}
	logger := server.NewLogger(cfg.Level())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "circulation", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	store, journal, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	notifier := catalog.NewNotifier(logger)
	notifier.WatchAll(catalog.LogObserver{Name: "front-desk", Logger: logger})

	directory := clients.NewMembershipClient(cfg.MembershipURL, &http.Client{Timeout: 5 * time.Second})
	svc := circulation.NewService(store, directory,
		circulation.WithJournal(journal),
		circulation.WithNotifier(notifier),
		circulation.WithLogger(logger),
		circulation.WithRates(cfg.Rates()),
		circulation.WithHistoryBound(cfg.HistoryBound),
	)

	r := server.NewRouter(logger, rate.NewLimiter(rate.Limit(200), 400))
	circulation.NewHandler(svc).Routes(r)

	logger.Info("🚀 starting circulation service", "port", cfg.Port, "store", cfg.Store)
	return server.Serve(ctx, ":"+cfg.Port, r, logger)
}

// openStore picks the asset store and the audit journal. Postgres deployments
// keep the audit trail next to the catalog; the others audit in memory.
func openStore(ctx context.Context, cfg config.Circulation) (catalog.Store, audit.Journal, func(), error) {
	var journal audit.Journal = audit.Nop{}
	if cfg.Audit {
		journal = audit.NewMemoryJournal()
	}

	switch cfg.Store {
	case config.StoreMemory:
		return memory.New(), journal, func() {}, nil
	case config.StorePostgres, config.StoreSQLite:
		driver := sqlstore.DriverPostgres
		if cfg.Store == config.StoreSQLite {
			driver = sqlstore.DriverSQLite
		}
		store, err := sqlstore.Open(ctx, driver, cfg.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.Audit && driver == sqlstore.DriverPostgres {
			es := audit.NewEventStore(store.DB().DB)
			if err := es.Migrate(ctx); err != nil {
				store.Close()
				return nil, nil, nil, err
			}
			journal = es
		}
		return store, journal, func() { store.Close() }, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}
