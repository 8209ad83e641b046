// Command chirpd runs the posting daemon and its one-off maintenance
// commands: manual posting, queue refill and preview, a single engagement
// cycle, and posting stats.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	cli "github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"chirpd/internal/budget"
	"chirpd/internal/config"
	"chirpd/internal/content"
	"chirpd/internal/domain"
	"chirpd/internal/engage"
	"chirpd/internal/ledger"
	"chirpd/internal/news"
	"chirpd/internal/observability"
	"chirpd/internal/postlog"
	"chirpd/internal/queue"
	"chirpd/internal/scheduler"
	"chirpd/internal/server"
	"chirpd/internal/social"
)

const version = "0.4.0"

func main() {
	// A missing .env is fine; the environment may be set by the service
	// manager instead.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "chirpd",
		Usage:   "autonomous posting and engagement daemon",
		Version: version,
		Commands: []*cli.Command{
			daemonCmd,
			postCmd,
			fillCmd,
			previewCmd,
			engageCmd,
			statsCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the process logger.
func setup() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, zerolog.Nop(), err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var log zerolog.Logger
	if cfg.LogPretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
	} else {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return cfg, log, nil
}

// system holds the assembled daemon components. One-off commands build the
// same graph and use the slice they need.
type system struct {
	cfg    config.Config
	log    zerolog.Logger
	db     *gorm.DB
	window *budget.Window
	queues *queue.Store
	ledger *ledger.Store
	feeds  *news.Fetcher
	gen    *content.Generator
	engine *engage.Engine
	sched  *scheduler.Scheduler
}

func build(cfg config.Config, log zerolog.Logger) (*system, error) {
	db, err := postlog.OpenSQLite(cfg.PostLogDB)
	if err != nil {
		return nil, fmt.Errorf("open post log: %w", err)
	}
	if err := postlog.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate post log: %w", err)
	}

	window := budget.NewWindow(cfg.BudgetCapacity, cfg.BudgetWindow)
	queues := queue.NewStore(cfg.QueuePath, log)
	ledgerStore := ledger.NewStore(cfg.LedgerPath, log)

	api := social.New(cfg.X.BearerToken, log, social.WithBaseURL(cfg.X.BaseURL))
	gen := content.New(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.FallbackModel, log,
		content.WithBaseURL(cfg.LLM.BaseURL))
	feeds := news.NewFetcher(cfg.NewsFeeds, cfg.NewsCacheTTL, log)
	engine := engage.New(api, gen, window, ledgerStore, cfg.Engage, log)
	pub := scheduler.NewPublisher(api, window, db, log)
	sched := scheduler.New(cfg, queues, gen, feeds, pub, engine, window, log)

	return &system{
		cfg:    cfg,
		log:    log,
		db:     db,
		window: window,
		queues: queues,
		ledger: ledgerStore,
		feeds:  feeds,
		gen:    gen,
		engine: engine,
		sched:  sched,
	}, nil
}

// requireCredentials refuses to run write-path commands without API access.
func requireCredentials(cfg config.Config) error {
	if !cfg.X.Configured() {
		return errors.New("missing X API credentials (set X_BEARER_TOKEN)")
	}
	if cfg.LLM.APIKey == "" {
		return errors.New("missing LLM_API_KEY")
	}
	return nil
}

var daemonCmd = &cli.Command{
	Name:  "daemon",
	Usage: "run the scheduler loop and the ops server",
	Action: func(cctx *cli.Context) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		if err := requireCredentials(cfg); err != nil {
			return err
		}
		gin.SetMode(cfg.Ops.GinMode)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTracing, err := observability.Setup(ctx, cfg.OTEL, version)
		if err != nil {
			return fmt.Errorf("otel setup: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				log.Error().Err(err).Msg("trace flush failed")
			}
		}()

		sys, err := build(cfg, log)
		if err != nil {
			return err
		}

		if cfg.Ops.Enabled {
			srv := server.New(cfg.Ops, cfg.OTEL.ServiceName, sys.sched, sys.db, cfg.Location, log)
			go func() {
				if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("ops server exited")
				}
			}()
		}

		log.Info().Str("version", version).Msg("chirpd starting")
		if err := sys.sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var postCmd = &cli.Command{
	Name:      "post",
	Usage:     "post one item now; argument selects the category",
	ArgsUsage: "[category]",
	Action: func(cctx *cli.Context) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		if err := requireCredentials(cfg); err != nil {
			return err
		}
		sys, err := build(cfg, log)
		if err != nil {
			return err
		}
		return sys.sched.RunPostingCycle(cctx.Context, cctx.Args().First())
	},
}

var fillCmd = &cli.Command{
	Name:  "fill",
	Usage: "top the content queue up to its per-category target",
	Action: func(cctx *cli.Context) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		if cfg.LLM.APIKey == "" {
			return errors.New("missing LLM_API_KEY")
		}
		sys, err := build(cfg, log)
		if err != nil {
			return err
		}

		q := sys.queues.Load()
		needed := q.NeedsRefill(domain.Categories(cfg.Schedule), 2, cfg.RefillCeiling)
		if len(needed) == 0 {
			fmt.Println("queue already full")
			return nil
		}

		headlines := sys.feeds.Headlines(cctx.Context)
		generated := 0
		for _, category := range needed {
			item, err := sys.gen.Generate(cctx.Context, category, headlines)
			if err != nil {
				if errors.Is(err, content.ErrDailyQuota) {
					fmt.Println("generation quota exhausted, stopping")
					break
				}
				log.Error().Err(err).Str("category", category).Msg("generation failed")
				continue
			}
			item.ID = uuid.NewString()
			q.Append(item)
			generated++
		}
		if generated > 0 {
			if err := sys.queues.Save(q); err != nil {
				return err
			}
		}
		fmt.Printf("generated %d items, %d unposted in queue\n", generated, q.Unposted())
		return nil
	},
}

var previewCmd = &cli.Command{
	Name:  "preview",
	Usage: "show the queued content items",
	Action: func(cctx *cli.Context) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		items := queue.NewStore(cfg.QueuePath, log).Load().Items()
		if len(items) == 0 {
			fmt.Println("queue is empty")
			return nil
		}
		for i, it := range items {
			mark := " "
			if it.Posted {
				mark = "x"
			}
			fmt.Printf("%2d [%s] %-16s %-11s %s\n", i+1, mark, it.Category, it.Kind, it.Preview(70))
		}
		return nil
	},
}

var engageCmd = &cli.Command{
	Name:  "engage",
	Usage: "run one engagement cycle across all enabled surfaces",
	Action: func(cctx *cli.Context) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		if err := requireCredentials(cfg); err != nil {
			return err
		}
		sys, err := build(cfg, log)
		if err != nil {
			return err
		}
		sys.sched.RunEngagementCycle(cctx.Context)
		return nil
	},
}

var statsCmd = &cli.Command{
	Name:  "stats",
	Usage: "print posting and engagement counters",
	Action: func(cctx *cli.Context) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		sys, err := build(cfg, log)
		if err != nil {
			return err
		}

		today, err := postlog.CountToday(cctx.Context, sys.db, cfg.Location, time.Now())
		if err != nil {
			return err
		}
		byCat, err := postlog.CountByCategory(cctx.Context, sys.db)
		if err != nil {
			return err
		}
		replies, proactive, followed := sys.engine.LedgerSizes()

		fmt.Printf("posts today:        %d\n", today)
		fmt.Printf("queue unposted:     %d\n", sys.queues.Load().Unposted())
		fmt.Printf("ledger replies:     %d\n", replies)
		fmt.Printf("ledger proactive:   %d\n", proactive)
		fmt.Printf("accounts followed:  %d\n", followed)
		fmt.Printf("budget remaining:   %d\n", sys.window.Remaining())
		if len(byCat) > 0 {
			fmt.Println("posts by category:")
			for cat, n := range byCat {
				fmt.Printf("  %-18s %d\n", cat, n)
			}
		}

		last, err := postlog.Last(cctx.Context, sys.db)
		if err == nil {
			fmt.Printf("last post:          %s (%s)\n", last.PostedAt.Format(time.RFC3339), last.Category)
		} else if !errors.Is(err, postlog.ErrNotFound) {
			return err
		}
		return nil
	},
}
