package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"deepresearch/internal/config"
	"deepresearch/internal/logging"
	"deepresearch/internal/pipeline"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagYes        bool
	flagConfigFile string
	flagMinURLs    int
)

var rootCmd = &cobra.Command{
	Use:   "researchctl",
	Short: "Run sector and stock research from the terminal",
	Long: `researchctl runs the research pipeline in-process, without Temporal.

Available subcommands:
  research - classify, plan, confirm and research a query
  search   - aggregate web search results for a query
  pdf      - download PDFs and print their extracted text
  stock    - print a stock or sector snapshot
  watch    - refresh the watchlist into the index on an interval`,
	SilenceUsage: true,
}

var researchCmd = &cobra.Command{
	Use:   "research <query>",
	Short: "Plan and run deep research for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResearch,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Print unique URLs and snippets for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var pdfCmd = &cobra.Command{
	Use:   "pdf <url>...",
	Short: "Download PDFs and print extracted text",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPDF,
}

var stockCmd = &cobra.Command{
	Use:   "stock <ticker or sector query>",
	Short: "Print a stock snapshot",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStock,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Refresh the configured watchlist until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", os.Getenv("RESEARCH_CONFIG_FILE"), "YAML file with sectors and watchlist")
	researchCmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "skip the confirmation prompt")
	searchCmd.Flags().IntVar(&flagMinURLs, "min", 15, "minimum unique URLs to collect")
	rootCmd.AddCommand(researchCmd, searchCmd, pdfCmd, stockCmd, watchCmd)
}

// setup loads configuration and builds the pipeline. Logs go to stderr so
// command output stays clean.
func setup(ctx context.Context) (*pipeline.Pipeline, config.Config, *zap.Logger, error) {
	cfg := config.Load()
	if err := cfg.LoadFile(flagConfigFile); err != nil {
		return nil, cfg, nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return nil, cfg, nil, err
	}
	p, err := pipeline.Build(ctx, cfg, log)
	if err != nil {
		return nil, cfg, log, err
	}
	return p, cfg, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runResearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	p, _, log, err := setup(ctx)
	if err != nil {
		return err
	}
	defer p.Close()
	defer func() { _ = log.Sync() }()

	confirm := promptConfirm(cmd.InOrStdin(), cmd.OutOrStdout())
	if flagYes {
		confirm = autoConfirm
	}
	out, err := p.Assistant.Run(ctx, strings.Join(args, " "), confirm)
	if err != nil {
		return fmt.Errorf("research failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), out.Response)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	p, cfg, _, err := setup(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	res := p.Search.Search(ctx, strings.Join(args, " "), flagMinURLs, cfg.PerCallURLs)
	w := cmd.OutOrStdout()
	for i, u := range res.URLs {
		fmt.Fprintf(w, "%d. %s\n", i+1, u)
	}
	fmt.Fprintf(w, "\n%d urls, %d snippets, %d calls\n", len(res.URLs), len(res.Snippets), res.Calls)
	return nil
}

func runPDF(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	p, _, _, err := setup(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	batch := p.PDF.FetchAll(ctx, args)
	w := cmd.OutOrStdout()
	for _, t := range batch.Texts {
		fmt.Fprintln(w, t)
		fmt.Fprintln(w, "----")
	}
	fmt.Fprintf(w, "%d downloaded, %d failed\n", len(batch.Succeeded), len(batch.Failed))
	for _, u := range batch.Failed {
		fmt.Fprintf(w, "failed: %s\n", u)
	}
	return nil
}

func runStock(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	p, _, _, err := setup(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	text, _ := p.Stock.Snapshot(ctx, strings.Join(args, " "))
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	p, cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}
	defer p.Close()
	defer func() { _ = log.Sync() }()

	log.Info("watching", zap.Strings("queries", cfg.Watchlist), zap.Duration("interval", cfg.WatchInterval))
	if err := p.Refresher.Watch(ctx, cfg.Watchlist, cfg.WatchInterval); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
