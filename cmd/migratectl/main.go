// Command migratectl is the operator tool for the migration queue: it applies
// the schema, shows a customer's queue items, and drives lease reclaim and
// retries by hand.
package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nftbridge/starknet-migrator/internal/config"
	"github.com/nftbridge/starknet-migrator/internal/db"
	"github.com/nftbridge/starknet-migrator/internal/domain"
	"github.com/nftbridge/starknet-migrator/internal/repository"
	"github.com/nftbridge/starknet-migrator/internal/service"
)

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync() //nolint:errcheck

	app := &cli.App{
		Name:  "migratectl",
		Usage: "operate the keplr to starknet migration queue",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				EnvVars:  []string{"DATABASE_URL"},
				Required: true,
			},
			&cli.DurationFlag{
				Name:    "connect-timeout",
				EnvVars: []string{"DB_CONNECT_TIMEOUT"},
				Value:   30 * time.Second,
			},
		},
		Commands: []*cli.Command{
			migrateCmd(),
			statusCmd(logger),
			reclaimCmd(logger),
			retryCmd(logger),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply pending schema migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "source",
				EnvVars: []string{"MIGRATIONS_SOURCE"},
				Value:   "file://migrations",
			},
		},
		Action: func(cctx *cli.Context) error {
			if err := db.Migrate(cctx.String("source"), cctx.String("database-url")); err != nil {
				return err
			}
			fmt.Fprintln(cctx.App.Writer, "migrations applied")
			return nil
		},
	}
}

func statusCmd(logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "list every queue item of a wallet and project",
		ArgsUsage: "<wallet_pubkey> <project_id>",
		Action: func(cctx *cli.Context) error {
			if cctx.NArg() != 2 {
				return cli.Exit("status needs <wallet_pubkey> <project_id>", 2)
			}
			pool, err := connect(cctx, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			items, err := repository.NewPgQueueRepository(pool).ListByCustomer(cctx.Context, cctx.Args().Get(0), cctx.Args().Get(1))
			if err != nil {
				return err
			}
			return printItems(cctx, items)
		},
	}
}

func reclaimCmd(logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "reclaim",
		Usage: "return items claimed longer than the lease timeout to pending",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "lease-timeout",
				EnvVars: []string{"LEASE_TIMEOUT"},
				Value:   5 * time.Minute,
			},
		},
		Action: func(cctx *cli.Context) error {
			pool, err := connect(cctx, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc, err := newService(pool, logger, 1)
			if err != nil {
				return err
			}
			n, err := svc.ReclaimStale(cctx.Context, cctx.Duration("lease-timeout"))
			if err != nil {
				return err
			}
			fmt.Fprintf(cctx.App.Writer, "reclaimed %d item(s)\n", n)
			return nil
		},
	}
}

func retryCmd(logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "retry",
		Usage:     "re-drive error items by id, or every due retryable item with --due",
		ArgsUsage: "[item_id...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "due", Usage: "re-drive retryable items whose backoff elapsed"},
			&cli.IntFlag{Name: "max-attempts", EnvVars: []string{"MAX_ATTEMPTS"}, Value: 5},
			&cli.IntFlag{Name: "limit", Value: 100},
			&cli.IntFlag{Name: "concurrency", Value: 4},
		},
		Action: func(cctx *cli.Context) error {
			if !cctx.Bool("due") && cctx.NArg() == 0 {
				return cli.Exit("retry needs item ids or --due", 2)
			}
			ids := make([]int64, 0, cctx.NArg())
			for _, arg := range cctx.Args().Slice() {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return cli.Exit(fmt.Sprintf("invalid item id %q", arg), 2)
				}
				ids = append(ids, id)
			}

			pool, err := connect(cctx, logger)
			if err != nil {
				return err
			}
			defer pool.Close()
			svc, err := newService(pool, logger, cctx.Int("limit"))
			if err != nil {
				return err
			}

			if cctx.Bool("due") {
				n, err := svc.RetryDue(cctx.Context, cctx.Int("max-attempts"), cctx.Int("limit"))
				if err != nil {
					return err
				}
				fmt.Fprintf(cctx.App.Writer, "re-drove %d due item(s)\n", n)
			}

			retried := make([]*domain.QueueItem, len(ids))
			g, ctx := errgroup.WithContext(cctx.Context)
			g.SetLimit(cctx.Int("concurrency"))
			for i, id := range ids {
				i, id := i, id
				g.Go(func() error {
					it, err := svc.Retry(ctx, id)
					if err != nil {
						return fmt.Errorf("retry item %d: %w", id, err)
					}
					retried[i] = it
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			if len(retried) == 0 {
				return nil
			}
			return printItems(cctx, retried)
		},
	}
}

func connect(cctx *cli.Context, logger *zap.Logger) (*pgxpool.Pool, error) {
	cfg := &config.Config{
		DatabaseURL:      cctx.String("database-url"),
		DBMaxConns:       4,
		DBConnectTimeout: cctx.Duration("connect-timeout"),
	}
	return db.Connect(cctx.Context, cfg, logger)
}

// newService builds a service for the recovery commands. They never verify
// proofs, so no validator is wired.
func newService(pool *pgxpool.Pool, logger *zap.Logger, batchSize int) (*service.MigrationService, error) {
	svc, err := service.NewMigrationService(
		repository.NewPgQueueRepository(pool),
		repository.NewPgCustomerKeysRepository(pool),
		repository.NewPgTransactionRepository(pool),
		nil,
		service.Options{BatchSize: batchSize},
		service.Hooks{},
		logger,
	)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("build service: %v", err), 1)
	}
	return svc, nil
}

func printItems(cctx *cli.Context, items []*domain.QueueItem) error {
	tw := tabwriter.NewWriter(cctx.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTOKEN\tSTATUS\tATTEMPT\tTX HASH\tLAST ERROR\tUPDATED")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			it.ID, it.TokenID, it.Status, it.Attempt,
			orDash(it.TransactionHash), orDash(it.LastError),
			it.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
