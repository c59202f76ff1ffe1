package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/andresuchdata/fulfillops/backend-go/internal/cache"
	"github.com/andresuchdata/fulfillops/backend-go/internal/config"
	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/andresuchdata/fulfillops/backend-go/internal/events"
	"github.com/andresuchdata/fulfillops/backend-go/internal/gateway"
	"github.com/andresuchdata/fulfillops/backend-go/internal/metrics"
	"github.com/andresuchdata/fulfillops/backend-go/internal/repository/postgres"
	"github.com/andresuchdata/fulfillops/backend-go/internal/service"
	"github.com/andresuchdata/fulfillops/backend-go/internal/storage"
	"github.com/andresuchdata/fulfillops/backend-go/pkg/logger"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v2"
)

type dbKey struct{}

func newDBURLFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "db-url",
		Usage:   "Database connection string (defaults to the DB_* settings)",
		EnvVars: []string{"DATABASE_URL"},
	}
}

func initDB(c *cli.Context) error {
	cfg := config.Load()
	dsn := c.String("db-url")
	if dsn == "" {
		d := cfg.Database
		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
	}

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := sqlDB.PingContext(c.Context); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	db := postgres.Wrap(sqlx.NewDb(sqlDB, "pgx"), cfg.Database.MaxConcurrentTx)
	c.Context = context.WithValue(c.Context, dbKey{}, db)
	return nil
}

func closeDB(c *cli.Context) error {
	if db, ok := c.Context.Value(dbKey{}).(*postgres.DB); ok && db != nil {
		return db.Close()
	}
	return nil
}

func dbFrom(c *cli.Context) *postgres.DB {
	return c.Context.Value(dbKey{}).(*postgres.DB)
}

func main() {
	cfg := config.Load()
	logger.Configure(cfg.Log.Level, cfg.Log.Format)

	app := &cli.App{
		Name:  "opsctl",
		Usage: "Operate the fulfillment engine from the command line",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Apply the embedded schema migrations",
				Flags:  []cli.Flag{newDBURLFlag()},
				Before: initDB,
				After:  closeDB,
				Action: runMigrate,
			},
			{
				Name:  "seed-orders",
				Usage: "Load orders from a CSV file (one row per line item)",
				Flags: []cli.Flag{
					newDBURLFlag(),
					&cli.StringFlag{
						Name:     "file",
						Usage:    "Path to the orders CSV",
						Required: true,
						EnvVars:  []string{"SEED_ORDERS_FILE"},
					},
				},
				Before: initDB,
				After:  closeDB,
				Action: runSeedOrders,
			},
			{
				Name:  "balance",
				Usage: "Print the stock balance of a SKU",
				Flags: []cli.Flag{
					newDBURLFlag(),
					&cli.StringFlag{Name: "sku", Required: true},
					&cli.StringFlag{Name: "warehouse", Usage: "Limit to one warehouse"},
				},
				Before: initDB,
				After:  closeDB,
				Action: runBalance,
			},
			{
				Name:  "bulk-status",
				Usage: "Move every order of a selection to a target status",
				Flags: append(selectionFlags(),
					&cli.StringFlag{Name: "target", Required: true, Usage: "Target status, e.g. ready_to_ship"},
					&cli.BoolFlag{Name: "arrange-shipment", Usage: "Arrange shipment with the platform gateway first"},
				),
				Before: initDB,
				After:  closeDB,
				Action: runBulkStatus,
			},
			{
				Name:  "plan",
				Usage: "Cut a selection into print chunks and store the plan",
				Flags: append(selectionFlags(),
					&cli.IntFlag{Name: "max-per-chunk", Usage: "Orders per chunk (0 uses ENGINE_DEFAULT_CHUNK_SIZE)"},
					&cli.BoolFlag{Name: "export", Usage: "Export every chunk manifest to object storage"},
				),
				Before: initDB,
				After:  closeDB,
				Action: runPlan,
			},
			{
				Name:  "manifests",
				Usage: "List exported chunk manifests",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "handle", Usage: "Only list manifests of this batch"},
				},
				Action: runManifests,
			},
			{
				Name:  "purge-plans",
				Usage: "Discard stored batch plans, one handle or all of them",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "handle", Usage: "Only discard this plan"},
				},
				Action: runPurgePlans,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("opsctl failed")
	}
}

func selectionFlags() []cli.Flag {
	return []cli.Flag{
		newDBURLFlag(),
		&cli.StringSliceFlag{Name: "ids", Usage: "Explicit order ids"},
		&cli.StringFlag{Name: "status-group", Usage: "Status group filter, e.g. to_pack"},
		&cli.StringFlag{Name: "channel", Usage: "Channel filter"},
		&cli.StringFlag{Name: "search", Usage: "Search by order id, external id or sku"},
	}
}

func selectionFrom(c *cli.Context) domain.SelectionDescriptor {
	if ids := c.StringSlice("ids"); len(ids) > 0 {
		return domain.SelectionDescriptor{OrderIDs: ids}
	}
	filter := &domain.OrderFilter{
		StatusGroup: c.String("status-group"),
		Search:      c.String("search"),
	}
	if ch := c.String("channel"); ch != "" {
		filter.Channel = domain.Channel(strings.ToUpper(ch))
	}
	return domain.SelectionDescriptor{Filter: filter}
}

// buildEngine assembles the engine on the postgres store with the configured
// cache, storage and gateway so plans are visible to the API server.
func buildEngine(c *cli.Context) (*service.Engine, error) {
	cfg := config.Load()
	plans, err := cache.NewBatchPlanStore(cfg.Cache)
	if err != nil {
		return nil, err
	}
	objects, err := storage.New(c.Context, cfg.Storage)
	if err != nil {
		return nil, err
	}
	return service.NewEngine(service.Dependencies{
		Store:     postgres.NewStore(dbFrom(c)),
		Plans:     plans,
		Objects:   objects,
		Gateway:   gateway.New(cfg.Gateway),
		Publisher: events.NewLogPublisher(logger.Component("opsctl")),
		Metrics:   metrics.New(),
	}, cfg), nil
}

func runMigrate(c *cli.Context) error {
	if err := postgres.Migrate(c.Context, dbFrom(c)); err != nil {
		return err
	}
	logger.Log.Info().Msg("migrations complete")
	return nil
}

func runSeedOrders(c *cli.Context) error {
	path := c.String("file")
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	orders, err := readOrdersCSV(file)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	store := postgres.NewStore(dbFrom(c))
	var created, skipped int
	for _, order := range orders {
		err := store.Orders().CreateOrder(c.Context, order)
		switch {
		case err == nil:
			created++
		case domain.KindOf(err) == domain.KindConflict:
			skipped++
			logger.Log.Warn().Str("order_id", order.ID).Msg("order already exists, skipping")
		default:
			return fmt.Errorf("failed to create order %s: %w", order.ID, err)
		}
	}

	logger.Log.Info().
		Str("file", path).
		Int("created", created).
		Int("skipped", skipped).
		Msg("orders seeded")
	return nil
}

func runBalance(c *cli.Context) error {
	balance, err := postgres.NewStore(dbFrom(c)).Ledger().GetStockBalance(c.Context, c.String("sku"), c.String("warehouse"))
	if err != nil {
		return err
	}
	return printJSON(balance)
}

func runBulkStatus(c *cli.Context) error {
	engine, err := buildEngine(c)
	if err != nil {
		return err
	}
	target, _ := domain.ParseStatus(c.String("target"))
	result, err := engine.Bulk.Execute(c.Context, service.BulkStatusRequest{
		Selection:       selectionFrom(c),
		TargetStatus:    target,
		ArrangeShipment: c.Bool("arrange-shipment"),
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runPlan(c *cli.Context) error {
	engine, err := buildEngine(c)
	if err != nil {
		return err
	}
	plan, err := engine.Batches.Plan(c.Context, service.PlanRequest{
		Selection:   selectionFrom(c),
		MaxPerChunk: c.Int("max-per-chunk"),
	})
	if err != nil {
		return err
	}

	if c.Bool("export") {
		for _, chunk := range plan.Chunks {
			res, err := engine.Batches.ExportChunk(c.Context, plan.Handle, chunk.Index)
			if err != nil {
				return fmt.Errorf("export chunk %d: %w", chunk.Index, err)
			}
			logger.Log.Info().Str("key", res.Key).Int64("size", res.Size).Msg("chunk exported")
		}
	}
	return printJSON(plan)
}

func runManifests(c *cli.Context) error {
	cfg := config.Load()
	objects, err := storage.New(c.Context, cfg.Storage)
	if err != nil {
		return err
	}

	prefix := cfg.Storage.Prefix
	if handle := c.String("handle"); handle != "" {
		prefix = strings.TrimSuffix(prefix, "/") + "/" + handle + "/"
	}
	list, err := objects.ListObjects(c.Context, prefix)
	if err != nil {
		return err
	}
	return printJSON(list)
}

func runPurgePlans(c *cli.Context) error {
	cfg := config.Load()
	plans, err := cache.NewBatchPlanStore(cfg.Cache)
	if err != nil {
		return err
	}
	// discarding plans needs neither the order store nor object storage
	planner := service.NewBatchPlanner(nil, nil, plans, nil,
		events.NewLogPublisher(logger.Component("opsctl")), nil, cfg.Engine, cfg.Storage)

	if handle := c.String("handle"); handle != "" {
		if err := planner.DiscardPlan(c.Context, handle); err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"discarded": []string{handle}})
	}

	n, err := planner.PurgePlans(c.Context)
	if err != nil {
		return err
	}
	return printJSON(map[string]int{"purged": n})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
