package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/shpitdev/character-image-enricher/internal/app"
	"github.com/shpitdev/character-image-enricher/internal/config"
	"github.com/shpitdev/character-image-enricher/internal/pipeline"
	"github.com/shpitdev/character-image-enricher/internal/tags"
	"github.com/shpitdev/character-image-enricher/internal/version"
)

// globalFlags are shared by every command that talks to the board.
type globalFlags struct {
	configPath     string
	baseURL        string
	login          string
	apiKey         string
	debug          bool
	maxRetries     int
	retryDelay     time.Duration
	requestTimeout time.Duration
	rateLimitRPS   float64
	metricsFile    string
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:           "charimg",
		Short:         "Find representative character images on e621 and keep them in a CSV",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	bindGlobalFlags(root.PersistentFlags(), &g)

	root.AddCommand(
		newFillCmd(&g, getenv, false),
		newFillCmd(&g, getenv, true),
		newTagsCmd(&g, getenv),
		newCompareCmd(&g, getenv),
		newVersionCmd(),
	)
	return root
}

func bindGlobalFlags(pf *pflag.FlagSet, g *globalFlags) {
	def := config.Default()
	pf.StringVar(&g.configPath, "config", "", "Optional YAML config file")
	pf.StringVar(&g.baseURL, "base-url", def.BaseURL, "Board API base URL")
	pf.StringVar(&g.login, "login", "", "Board login (env "+config.EnvLogin+"); requires --api-key")
	pf.StringVar(&g.apiKey, "api-key", "", "Board API key (env "+config.EnvAPIKey+"); requires --login")
	pf.BoolVar(&g.debug, "debug", false, "Log request parameters and per-candidate decisions")
	pf.IntVar(&g.maxRetries, "max-retries", def.MaxRetries, "Attempts per lookup (env "+config.EnvMaxRetries+")")
	pf.DurationVar(&g.retryDelay, "retry-delay", def.RetryDelay, "Delay between lookup attempts")
	pf.DurationVar(&g.requestTimeout, "request-timeout", def.RequestTimeout, "Per-request HTTP timeout (env "+config.EnvRequestTimeout+")")
	pf.Float64Var(&g.rateLimitRPS, "rate-limit-rps", def.RateLimitRPS, "Requests per second across all workers, 0 disables (env "+config.EnvRateLimitRPS+")")
	pf.StringVar(&g.metricsFile, "metrics-file", "", "Write Prometheus text metrics to this file when the run ends")
}

// resolveConfig layers defaults, the YAML file, the environment and then any flag
// the user set explicitly.
func resolveConfig(cmd *cobra.Command, g *globalFlags, getenv func(string) string) (config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		if err := config.LoadFile(g.configPath, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := config.ApplyEnv(getenv, &cfg); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = g.baseURL
	}
	if flags.Changed("login") {
		cfg.Login = g.login
	}
	if flags.Changed("api-key") {
		cfg.APIKey = g.apiKey
	}
	if flags.Changed("debug") {
		cfg.Debug = g.debug
	}
	if flags.Changed("max-retries") {
		cfg.MaxRetries = g.maxRetries
	}
	if flags.Changed("retry-delay") {
		cfg.RetryDelay = g.retryDelay
	}
	if flags.Changed("request-timeout") {
		cfg.RequestTimeout = g.requestTimeout
	}
	if flags.Changed("rate-limit-rps") {
		cfg.RateLimitRPS = g.rateLimitRPS
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = g.metricsFile
	}
	return cfg, nil
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openSession resolves the config and builds a session. Callers must Close it.
func openSession(cmd *cobra.Command, g *globalFlags, getenv func(string) string, mutate func(*config.Config)) (*app.Session, error) {
	cfg, err := resolveConfig(cmd, g, getenv)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return app.NewSession(cfg, newLogger(cmd.ErrOrStderr(), cfg.Debug), nil)
}

func closeSession(s *app.Session, err error) error {
	if cerr := s.Close(); cerr != nil && err == nil {
		return cerr
	}
	return err
}

func newFillCmd(g *globalFlags, getenv func(string) string, overwrite bool) *cobra.Command {
	var workers int
	use, short := "fill [input.csv] [output.csv]", "Fill in image URLs for rows that have none"
	defIn, defOut := "top_img.csv", "top_img_2.csv"
	if overwrite {
		use, short = "fetch [input.csv] [output.csv]", "Look up an image URL for every row, replacing existing ones"
		defIn, defOut = "chars.csv", "top_img.csv"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, out := defIn, defOut
			if len(args) > 0 {
				in = args[0]
			}
			if len(args) > 1 {
				out = args[1]
			}

			s, err := openSession(cmd, g, getenv, func(cfg *config.Config) {
				if cmd.Flags().Changed("workers") {
					cfg.Workers = workers
				}
			})
			if err != nil {
				return err
			}
			sum, err := s.Fill(cmd.Context(), in, out, overwrite)
			printSummary(cmd.OutOrStdout(), sum)
			return closeSession(s, err)
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", config.Default().Workers, "Concurrent lookups (env "+config.EnvWorkers+")")
	return cmd
}

func printSummary(w io.Writer, sum pipeline.Summary) {
	if sum.OutputPath == "" {
		return
	}
	_, _ = fmt.Fprintf(w, "Total characters: %d\n", sum.Total)
	_, _ = fmt.Fprintf(w, "Skipped (already had images): %d\n", sum.Skipped)
	_, _ = fmt.Fprintf(w, "Successfully processed: %d (found %d)\n", sum.LookedUp, sum.Found)
	_, _ = fmt.Fprintf(w, "Errors: %d\n", sum.Errors)
	_, _ = fmt.Fprintf(w, "Output written to: %s\n", sum.OutputPath)
}

func newTagsCmd(g *globalFlags, getenv func(string) string) *cobra.Command {
	var opts tags.Options
	cmd := &cobra.Command{
		Use:   "tags [output.csv]",
		Short: "List the top character tags by post count",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := "chars.csv"
			if len(args) > 0 {
				out = args[0]
			}
			s, err := openSession(cmd, g, getenv, nil)
			if err != nil {
				return err
			}
			n, err := s.Tags(cmd.Context(), out, opts)
			if err == nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d tags to %s\n", n, out)
			}
			return closeSession(s, err)
		},
	}
	cmd.Flags().IntVar(&opts.Count, "count", tags.DefaultCount, "Number of tags to fetch")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", tags.DefaultPageSize, "Tags per request (max 320)")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", tags.DefaultConcurrency, "Pages fetched at once")
	return cmd
}

func newCompareCmd(g *globalFlags, getenv func(string) string) *cobra.Command {
	return &cobra.Command{
		Use:   "compare [input.csv]",
		Short: "Re-query one failing and one working row with debug logging",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := "top_img_2.csv"
			if len(args) > 0 {
				in = args[0]
			}
			s, err := openSession(cmd, g, getenv, func(cfg *config.Config) { cfg.Debug = true })
			if err != nil {
				return err
			}
			_, err = s.Compare(cmd.Context(), in, cmd.OutOrStdout())
			return closeSession(s, err)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "charimg %s\n", version.Current)
			return err
		},
	}
}
