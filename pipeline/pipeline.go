// Package pipeline runs one monthly KPI collection: resolve short codes,
// fetch each service's figures, normalize them and hand them to the gateway.
//
// A service never aborts the run. Its fetch, conversion and submission
// problems end up in its Result; only the service directory is fatal.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/mikeblum/scorpion-kpi/catalog"
	"github.com/mikeblum/scorpion-kpi/conf"
	"github.com/mikeblum/scorpion-kpi/kpi"
	"github.com/mikeblum/scorpion-kpi/scorpion"
	"github.com/mikeblum/scorpion-kpi/source"
	"golang.org/x/sync/errgroup"
)

type Analytics interface {
	PageTitle(ctx context.Context, label string, month kpi.Month) (kpi.Raw, error)
	SiteSummary(ctx context.Context, month kpi.Month) (kpi.Raw, error)
	Download(ctx context.Context, downloadURL string, month kpi.Month) (kpi.Raw, error)
}

type Releases interface {
	ReleaseDownloads(ctx context.Context, repo string, tags []string) (source.ReleaseCount, error)
}

type Citations interface {
	Citations(ctx context.Context, titles []string) (int64, error)
}

type Directory interface {
	Abbreviations(ctx context.Context) (scorpion.Abbreviations, error)
}

type Submitter interface {
	Submit(ctx context.Context, code string, measurements []kpi.Measurement) error
	Live() bool
}

type Pipeline struct {
	analytics Analytics
	releases  Releases
	citations Citations
	directory Directory
	gateway   Submitter
	log       *conf.Log

	workers int
	now     func() time.Time
}

type Option func(*Pipeline)

// WithWorkers bounds how many services are fetched concurrently. Submission
// and dry-run output stay in catalog order whatever the value.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithClock replaces time.Now for mode selection.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

func New(analytics Analytics, releases Releases, citations Citations, directory Directory, gateway Submitter, log *conf.Log, opts ...Option) *Pipeline {
	p := &Pipeline{
		analytics: analytics,
		releases:  releases,
		citations: citations,
		directory: directory,
		gateway:   gateway,
		log:       log,
		workers:   1,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes services for month. The error is non-nil only when the
// service directory cannot be fetched; everything else is in the Report.
func (p *Pipeline) Run(ctx context.Context, month kpi.Month, services []catalog.ServiceDescriptor) (*Report, error) {
	report := &Report{
		Month:   month,
		Mode:    ModeFor(month, p.now()),
		Results: make([]Result, len(services)),
	}
	p.log.Info("Starting run", "date", month.String(), "mode", report.Mode.String(), "live", p.gateway.Live(), "services", len(services))

	abbrevs, err := p.directory.Abbreviations(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve service abbreviations: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, svc := range services {
		res := &report.Results[i]
		res.Service = svc.DisplayName

		code, ok := abbrevs[svc.ScorpionName]
		if !ok {
			res.Status = StatusSkipped
			res.Reason = fmt.Sprintf("could not find abbreviation for service '%s'", svc.ScorpionName)
			p.log.Warn("Could not find abbreviation, skipping", "service", svc.DisplayName, "scorpion_name", svc.ScorpionName)
			continue
		}
		res.Code = code

		g.Go(func() error {
			p.collect(ctx, svc, month, report.Mode, res)
			return nil
		})
	}
	_ = g.Wait()

	for i := range report.Results {
		res := &report.Results[i]
		if res.Status != StatusSkipped {
			p.submit(ctx, month, res)
		}
		p.log.Debug("Service done", "result", *res)
	}

	p.log.Info("Run complete", "report", report)
	return report, nil
}

// collect fills res.set from the service's source and, in current mode, its
// citations. Failures become warnings on res.
func (p *Pipeline) collect(ctx context.Context, svc catalog.ServiceDescriptor, month kpi.Month, mode Mode, res *Result) {
	p.log.Info("Processing service", "service", svc)

	switch src := svc.Source.(type) {
	case catalog.PageTitle:
		raw, err := p.analytics.PageTitle(ctx, src.Label, month)
		if err != nil {
			p.warn(res, "page title fetch failed: %v", err)
			break
		}
		res.set = kpi.FromPageTitle(raw)
	case catalog.SiteSummary:
		raw, err := p.analytics.SiteSummary(ctx, month)
		if err != nil {
			p.warn(res, "site summary fetch failed: %v", err)
			break
		}
		res.set = kpi.FromSiteSummary(raw)
	case catalog.DownloadCount:
		raw, err := p.analytics.Download(ctx, src.URL, month)
		if err != nil {
			p.warn(res, "download count fetch failed: %v", err)
			break
		}
		res.set = kpi.FromDownloadCount(raw)
	case catalog.ReleaseDownloads:
		if mode == Historical {
			p.log.Info("Skipping GitHub downloads fetch in historical mode", "service", svc.DisplayName)
			break
		}
		count, err := p.releases.ReleaseDownloads(ctx, src.Repo, src.Tags)
		if err != nil {
			p.warn(res, "release downloads fetch failed: %v", err)
			break
		}
		for _, tag := range count.Missing {
			res.Warnings = append(res.Warnings, fmt.Sprintf("no release for tag %s in %s", tag, src.Repo))
		}
		res.set = kpi.FromReleaseDownloads(count.Total)
	default:
		p.warn(res, "unsupported source %T", svc.Source)
	}

	for _, w := range res.set.Warnings {
		p.warn(res, "%s", w)
	}

	if mode == Current && len(svc.Publications) > 0 {
		n, err := p.citations.Citations(ctx, svc.Publications)
		if err != nil {
			p.warn(res, "citation fetch failed: %v", err)
			return
		}
		res.set.Add(kpi.Citations, n)
	}
}

func (p *Pipeline) submit(ctx context.Context, month kpi.Month, res *Result) {
	measurements, warnings := kpi.Measurements(res.set, month)
	for _, w := range warnings {
		p.warn(res, "%s", w)
	}
	res.Measurements = measurements

	if err := p.gateway.Submit(ctx, res.Code, measurements); err != nil {
		res.Status = StatusFailed
		res.Reason = err.Error()
		p.log.WithErrorMsg(err, "Failed to submit data", "service", res.Service)
		return
	}

	switch {
	case len(measurements) == 0:
		res.Status = StatusEmpty
	case p.gateway.Live():
		res.Status = StatusSubmitted
	default:
		res.Status = StatusDryRun
	}
}

func (p *Pipeline) warn(res *Result, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	res.Warnings = append(res.Warnings, msg)
	p.log.Warn(msg, "service", res.Service)
}
