package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mikeblum/scorpion-kpi/catalog"
	"github.com/mikeblum/scorpion-kpi/conf"
	"github.com/mikeblum/scorpion-kpi/kpi"
	"github.com/mikeblum/scorpion-kpi/pipeline"
	"github.com/mikeblum/scorpion-kpi/scorpion"
	"github.com/mikeblum/scorpion-kpi/source"
	"github.com/spf13/cobra"
)

type options struct {
	date        string
	live        bool
	services    []string
	catalogPath string
	workers     int
}

func newRootCmd(log *conf.Log) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "kpi-etl [SERVICE...]",
		Short: "Collect monthly service KPIs and submit them to ScorPIoN",
		Long: `kpi-etl fetches a month of usage figures from Matomo, GitHub releases and
Google Scholar for every configured service and submits them to the de.NBI
ScorPIoN API. Without --live it only prints the curl commands it would run.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, log, opts, args, time.Now())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.date, "date", "", "month to report as YYYY-MM (default: previous month)")
	flags.BoolVar(&opts.live, "live", false, "submit to ScorPIoN instead of printing curl commands")
	flags.StringSliceVar(&opts.services, "services", nil, "display names of the services to process (default: all)")
	flags.IntVar(&opts.workers, "workers", 1, "number of services fetched concurrently")
	cmd.PersistentFlags().StringVar(&opts.catalogPath, "catalog", "", "service catalog YAML (default: built-in catalog)")

	cmd.AddCommand(newCatalogCmd(opts))
	return cmd
}

func newCatalogCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the effective service catalog as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(opts.catalogPath)
			if err != nil {
				return err
			}
			return cat.Write(cmd.OutOrStdout())
		},
	}
}

func run(cmd *cobra.Command, log *conf.Log, opts *options, args []string, now time.Time) error {
	month, err := resolveMonth(opts.date, now)
	if err != nil {
		return err
	}
	if opts.workers < 1 {
		return fmt.Errorf("invalid --workers %d: must be at least 1", opts.workers)
	}

	cfg, err := conf.NewConfig(conf.NewEnv())
	if err != nil {
		var missing *conf.MissingEnvError
		if errors.As(err, &missing) {
			log.Critical("Missing required environment variables", "missing", strings.Join(missing.Vars, ","))
		}
		return err
	}
	log.Debug("Configuration loaded", "config", cfg)

	cat, err := loadCatalog(opts.catalogPath)
	if err != nil {
		return err
	}
	services, unknown := cat.Filter(serviceNames(opts.services, args))
	for _, name := range unknown {
		log.Warn("Unknown service, ignoring", "service", name)
	}
	if len(services) == 0 {
		log.Warn("No services selected, nothing to do")
		return nil
	}

	ctx := cmd.Context()
	httpClient := cfg.HTTPClient()
	gh, err := source.NewGitHub(ctx, cfg, httpClient, log)
	if err != nil {
		return err
	}
	client := scorpion.NewClient(cfg, httpClient, log)

	p := pipeline.New(
		source.NewMatomo(cfg, httpClient, log),
		gh,
		source.NewScholar(cfg, httpClient, log),
		client,
		scorpion.NewGateway(client, opts.live, cmd.OutOrStdout(), log),
		log,
		pipeline.WithWorkers(opts.workers),
		pipeline.WithClock(func() time.Time { return now }),
	)

	report, err := p.Run(ctx, month, services)
	if err != nil {
		return err
	}
	if warnings := report.Warnings(); len(warnings) > 0 {
		log.Warn("Run finished with warnings", "count", len(warnings))
	}
	return nil
}

// resolveMonth parses --date, defaulting to the month before now.
func resolveMonth(date string, now time.Time) (kpi.Month, error) {
	if date == "" {
		return kpi.PreviousMonth(now), nil
	}
	month, err := kpi.ParseMonth(date)
	if err != nil {
		return kpi.Month{}, fmt.Errorf("invalid --date %q: use YYYY-MM", date)
	}
	return month, nil
}

// serviceNames merges --services values with positional arguments, dropping
// blanks and duplicates.
func serviceNames(flagged, args []string) []string {
	var names []string
	seen := map[string]bool{}
	for _, name := range append(append([]string(nil), flagged...), args...) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}
