package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/scrapegoat-spiders/internal/auth"
	"github.com/IshaanNene/scrapegoat-spiders/internal/config"
	"github.com/IshaanNene/scrapegoat-spiders/internal/engine"
	"github.com/IshaanNene/scrapegoat-spiders/internal/fetcher"
	"github.com/IshaanNene/scrapegoat-spiders/internal/observability"
	"github.com/IshaanNene/scrapegoat-spiders/internal/parser"
	"github.com/IshaanNene/scrapegoat-spiders/internal/pipeline"
	"github.com/IshaanNene/scrapegoat-spiders/internal/spider"
	"github.com/IshaanNene/scrapegoat-spiders/internal/storage"
	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

// runCrawl loads configuration, applies flags and runs one spider until
// it finishes or the process is interrupted.
func runCrawl(cmd *cobra.Command, name string, seeds []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyCLIOverrides(cmd, cfg); err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	sp, err := spider.Lookup(cfg, name)
	if err != nil {
		return err
	}
	for _, rawURL := range seeds {
		if err := config.ValidateURL(rawURL); err != nil {
			return fmt.Errorf("invalid URL %q: %w", rawURL, err)
		}
	}

	feed := feedOverrides(cmd, sp.Feed(cfg.Storage))
	if err := config.ValidateStorage(feed); err != nil {
		return fmt.Errorf("invalid output: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	metrics, err := run(ctx, cfg, sp, feed, seeds, logger)
	if metrics != nil {
		metrics.LogSummary()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "\n✅ %s finished in %s\n", sp.Name, time.Since(start).Round(time.Millisecond))
		fmt.Fprintf(out, "   Requests:  %d sent, %d failed\n", metrics.RequestsTotal.Load(), metrics.RequestsFailed.Load())
		if feed.Type == "html" {
			fmt.Fprintf(out, "   Pages:     %d dumped\n", metrics.PagesDumped.Load())
		} else {
			fmt.Fprintf(out, "   Records:   %d scraped, %d dropped, %d stored\n",
				metrics.RecordsScraped.Load(), metrics.RecordsDropped.Load(), metrics.RecordsStored.Load())
		}
		fmt.Fprintf(out, "   Output:    %s\n", outputLocation(feed, sp.Name))
	}
	return err
}

func outputLocation(feed config.StorageConfig, spiderName string) string {
	if feed.Type == "html" {
		return feed.OutputPath
	}
	return storage.OutputFile(feed, spiderName)
}

// run wires fetcher, login, extractor, pipeline and feed for one spider
// and drains the crawl. Branch failures are logged; storage failures end
// the run with an error. An interrupted crawl is not an error.
func run(ctx context.Context, cfg *config.Config, sp *spider.Spider, feed config.StorageConfig, seeds []string, logger *slog.Logger) (*observability.Metrics, error) {
	logger = logger.With("spider", sp.Name)

	metrics := observability.NewMetrics(logger)
	if cfg.Metrics.Enabled {
		metrics.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path)
	}

	sessions, err := fetcher.NewSessions(logger)
	if err != nil {
		return nil, err
	}
	f, err := fetcher.New(cfg, sessions, logger)
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	defer f.Close()

	if len(seeds) == 0 {
		seeds = sp.StartURLs
	}
	if sp.RequiresLogin {
		ok, next, err := login(ctx, cfg, sessions, logger)
		if err != nil {
			return metrics, err
		}
		if !ok {
			logger.Warn("not logged in, crawling without a session")
		}
		if next != "" {
			seeds = []string{next}
		}
	}

	var extractor engine.Parser
	if sp.Extracts() {
		ex, err := parser.NewExtractor(sp.Name, sp.Schema, sp.SpiderConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("build extractor: %w", err)
		}
		extractor = ex
	}

	stages := append(append([]config.MiddlewareConfig{}, cfg.Pipeline.Middlewares...), sp.Pipeline...)
	pipe, err := pipeline.Build(stages, logger)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	opts := []engine.Option{
		engine.WithAllowedDomains(sp.AllowedDomains...),
		engine.WithMetrics(metrics),
	}

	var sink storage.Storage
	if feed.Type == "html" {
		dump, err := storage.NewHTMLDump(feed.OutputPath, feed.FilePrefix, feed.Overwrite, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithResponseHook(func(resp *types.Response) error {
			path, err := dump.Save(resp)
			if err != nil {
				return err
			}
			if path != "" {
				metrics.PagesDumped.Add(1)
			}
			return nil
		}))
	} else {
		sink, err = storage.NewFileStorage(feed, sp.Name, logger)
		if err != nil {
			return nil, fmt.Errorf("create storage: %w", err)
		}
	}

	logger.Info("starting crawl",
		"seeds", seeds,
		"fetcher", f.Type(),
		"concurrency", cfg.Engine.Concurrency,
		"format", feed.Type,
		"stages", pipe.Names(),
	)

	eng := engine.New(&cfg.Engine, f, extractor, logger, opts...)
	crawlErr := drain(ctx, eng, seeds, pipe, sp.Schema, sink, metrics, logger)

	if sink != nil {
		if err := sink.Close(); err != nil && crawlErr == nil {
			crawlErr = err
		}
	}
	return metrics, crawlErr
}

func drain(ctx context.Context, eng *engine.Engine, seeds []string, pipe *pipeline.Pipeline, schema types.Schema, sink storage.Storage, metrics *observability.Metrics, logger *slog.Logger) error {
	for rec, err := range eng.Crawl(ctx, seeds) {
		if err != nil {
			var se *types.StorageError
			switch {
			case errors.As(err, &se):
				return err
			case errors.Is(err, types.ErrCrawlStopped):
				logger.Warn("crawl interrupted", "error", err)
				return nil
			default:
				logger.Warn("branch failed", "error", err)
				continue
			}
		}
		if sink == nil {
			continue
		}

		out, err := pipe.Process(rec)
		if err != nil {
			metrics.RecordsDropped.Add(1)
			logger.Warn("pipeline error", "url", rec.URL, "error", err)
			continue
		}
		if out == nil {
			metrics.RecordsDropped.Add(1)
			continue
		}
		if err := schema.Validate(out); err != nil {
			metrics.RecordsDropped.Add(1)
			logger.Warn("record rejected", "url", out.URL, "error", err)
			continue
		}
		if err := sink.Store([]*types.Record{out}); err != nil {
			return err
		}
		metrics.RecordsStored.Add(1)
	}
	return nil
}

// login runs the form login and returns the page to crawl afterwards, which
// is crawled whether or not the login succeeded.
func login(ctx context.Context, cfg *config.Config, sessions *fetcher.Sessions, logger *slog.Logger) (bool, string, error) {
	ua := ""
	if len(cfg.Engine.UserAgents) > 0 {
		ua = cfg.Engine.UserAgents[0]
	}
	client := auth.NewClient(cfg.Login, sessions, ua, cfg.Engine.RequestTimeout, logger)
	res, err := client.Login(ctx)
	if err != nil {
		return false, "", err
	}
	next, err := auth.AfterLoginURL(cfg.Login)
	if err != nil {
		return false, "", err
	}
	return res.Success, next, nil
}
