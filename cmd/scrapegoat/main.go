package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/IshaanNene/scrapegoat-spiders/internal/config"
	"github.com/IshaanNene/scrapegoat-spiders/internal/spider"
)

var (
	cfgFile     string
	verbose     bool
	outputPath  string
	outputType  string
	overwrite   bool
	concurrent  int
	delay       string
	maxPages    int
	fetcherType string
	username    string
	password    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scrapegoat",
		Short: "scrapegoat — tutorial spiders on a small crawl core",
		Long: `scrapegoat runs the bundled spiders against quotes.toscrape.com and
books.toscrape.com:

  quotes          humor quotes to JSON Lines
  advance_quotes  inspirational quotes, cleaned and upper-cased
  custom_quotes   same, with its own feed settings
  books_spider    fiction books with prices
  quotes_html     raw HTML of the first two pages
  login_quotes    log in, then scrape the humor tag

Extra spiders can be declared under "spiders:" in the config file.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(crawlCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// crawlCmd creates the "crawl" subcommand.
func crawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <spider> [seed...]",
		Short: "Run a spider",
		Long:  "Run a spider from its start URLs, or from the given seed URLs instead.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args[0], args[1:])
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file or directory (default: spider feed or storage.output_path)")
	cmd.Flags().StringVarP(&outputType, "format", "f", "", "output format: jsonl, json, csv, html")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "truncate the output file instead of appending")
	addEngineFlags(cmd)

	return cmd
}

// loginCmd creates the "login" subcommand.
func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to quotes.toscrape.com and scrape the humor tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, "login_quotes", nil)
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "login user name (default: login.username)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "login password (default: login.password)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file or directory")
	addEngineFlags(cmd)

	return cmd
}

func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&concurrent, "concurrency", "n", 0, "number of concurrent workers (default: engine.concurrency)")
	cmd.Flags().StringVar(&delay, "delay", "", "politeness delay between requests, e.g. 500ms")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "maximum pages to fetch (0 = unlimited)")
	cmd.Flags().StringVar(&fetcherType, "fetcher", "", "fetcher: http or browser")
}

// listCmd creates the "list" subcommand.
func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available spiders",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, name := range spider.Names(cfg) {
				sp, err := spider.Lookup(cfg, name)
				if err != nil {
					fmt.Fprintf(out, "%-16s invalid: %v\n", name, err)
					continue
				}
				feed := sp.Feed(cfg.Storage)
				fmt.Fprintf(out, "%-16s %-6s %-6s %s\n", sp.Name, sp.Schema.Name, feed.Type, strings.Join(sp.StartURLs, " "))
			}
			return nil
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return enc.Close()
		},
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scrapegoat %s\n", config.Version)
		},
	}
}

// setupLogger creates the root structured logger.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// applyCLIOverrides applies engine-level flag values to the config.
func applyCLIOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if concurrent > 0 {
		cfg.Engine.Concurrency = concurrent
	}
	if delay != "" {
		d, err := time.ParseDuration(delay)
		if err != nil {
			return fmt.Errorf("invalid --delay %q: %w", delay, err)
		}
		cfg.Engine.PolitenessDelay = d
	}
	if flags.Changed("max-pages") {
		cfg.Engine.MaxPages = maxPages
	}
	if fetcherType != "" {
		cfg.Fetcher.Type = strings.ToLower(fetcherType)
	}
	if username != "" {
		cfg.Login.Username = username
	}
	if password != "" {
		cfg.Login.Password = password
	}
	return nil
}

// feedOverrides applies output flags on top of the spider's feed.
func feedOverrides(cmd *cobra.Command, feed config.StorageConfig) config.StorageConfig {
	flags := cmd.Flags()
	if outputType != "" {
		feed.Type = strings.ToLower(outputType)
	}
	if outputPath != "" {
		feed.OutputPath = outputPath
	}
	if flags.Lookup("overwrite") != nil && flags.Changed("overwrite") {
		feed.Overwrite = overwrite
	}
	return feed
}
