package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mikeblum/scorpion-kpi/catalog"
	"github.com/mikeblum/scorpion-kpi/conf"
	"github.com/mikeblum/scorpion-kpi/kpi"
	"github.com/mikeblum/scorpion-kpi/scorpion"
	"github.com/mikeblum/scorpion-kpi/source"
	"github.com/stretchr/testify/require"
)

var (
	june  = time.Date(2024, time.June, 14, 9, 30, 0, 0, time.UTC)
	may   = kpi.MonthOf(time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC))
	march = kpi.MonthOf(time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
)

type fakeAnalytics struct {
	pageTitle kpi.Raw
	summary   kpi.Raw
	download  kpi.Raw
	err       error
	calls     atomic.Int32
}

func (f *fakeAnalytics) PageTitle(ctx context.Context, label string, month kpi.Month) (kpi.Raw, error) {
	f.calls.Add(1)
	return f.pageTitle, f.err
}

func (f *fakeAnalytics) SiteSummary(ctx context.Context, month kpi.Month) (kpi.Raw, error) {
	f.calls.Add(1)
	return f.summary, f.err
}

func (f *fakeAnalytics) Download(ctx context.Context, downloadURL string, month kpi.Month) (kpi.Raw, error) {
	f.calls.Add(1)
	return f.download, f.err
}

type fakeReleases struct {
	count source.ReleaseCount
	err   error
	calls atomic.Int32
}

func (f *fakeReleases) ReleaseDownloads(ctx context.Context, repo string, tags []string) (source.ReleaseCount, error) {
	f.calls.Add(1)
	return f.count, f.err
}

type fakeCitations struct {
	n     int64
	err   error
	calls atomic.Int32
}

func (f *fakeCitations) Citations(ctx context.Context, titles []string) (int64, error) {
	f.calls.Add(1)
	return f.n, f.err
}

type fakeDirectory struct {
	abbrevs scorpion.Abbreviations
	err     error
}

func (f *fakeDirectory) Abbreviations(ctx context.Context) (scorpion.Abbreviations, error) {
	return f.abbrevs, f.err
}

type submission struct {
	Code         string
	Measurements []kpi.Measurement
}

type fakeSubmitter struct {
	live bool
	fail map[string]error

	mu  sync.Mutex
	got []submission
}

func (f *fakeSubmitter) Submit(ctx context.Context, code string, ms []kpi.Measurement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, submission{Code: code, Measurements: ms})
	return f.fail[code]
}

func (f *fakeSubmitter) Live() bool {
	return f.live
}

type fixture struct {
	analytics *fakeAnalytics
	releases  *fakeReleases
	citations *fakeCitations
	directory *fakeDirectory
	submitter *fakeSubmitter
	logs      *bytes.Buffer
}

func newFixture() *fixture {
	return &fixture{
		analytics: &fakeAnalytics{
			pageTitle: kpi.Raw{"nb_visits": 10, "nb_hits": 40},
			summary:   kpi.Raw{"nb_visits": 3, "nb_actions": 9, "nb_uniq_visitors": 2, "nb_actions_per_visit": 3, "avg_time_on_site": 40},
			download:  kpi.Raw{"nb_hits": 12},
		},
		releases:  &fakeReleases{count: source.ReleaseCount{Total: 15}},
		citations: &fakeCitations{n: 42},
		directory: &fakeDirectory{abbrevs: scorpion.Abbreviations{
			"Helixer":     "HLX",
			"Trimmomatic": "TRIM",
			"MapMan":      "MM",
			"PlabiPD":     "PLABI",
		}},
		submitter: &fakeSubmitter{},
		logs:      &bytes.Buffer{},
	}
}

func (f *fixture) pipeline(opts ...Option) *Pipeline {
	opts = append([]Option{WithClock(func() time.Time { return june })}, opts...)
	return New(f.analytics, f.releases, f.citations, f.directory, f.submitter, conf.NewLogWriter(f.logs), opts...)
}

func services() []catalog.ServiceDescriptor {
	return []catalog.ServiceDescriptor{
		{DisplayName: "Helixer", ScorpionName: "Helixer", Publications: []string{"Helixer paper"}, Source: catalog.PageTitle{Label: " Helixer"}},
		{DisplayName: "Trimmomatic", ScorpionName: "Trimmomatic", Publications: []string{"Trimmomatic paper"}, Source: catalog.ReleaseDownloads{Repo: "usadellab/Trimmomatic", Tags: []string{"v0.39", "v0.40"}}},
		{DisplayName: "MapMan", ScorpionName: "MapMan", Source: catalog.DownloadCount{URL: "https://example.org/mapman.zip"}},
		{DisplayName: "PlabiPD", ScorpionName: "PlabiPD", Source: catalog.SiteSummary{}},
	}
}

func TestModeFor(t *testing.T) {
	t.Run("pipeline - previous month is current", func(t *testing.T) {
		require.Equal(t, Current, ModeFor(may, june))
	})

	t.Run("pipeline - older month is historical", func(t *testing.T) {
		require.Equal(t, Historical, ModeFor(march, june))
	})

	t.Run("pipeline - running month is historical", func(t *testing.T) {
		require.Equal(t, Historical, ModeFor(kpi.MonthOf(june), june))
	})

	t.Run("pipeline - year boundary", func(t *testing.T) {
		jan := time.Date(2025, time.January, 1, 0, 0, 1, 0, time.UTC)
		dec := kpi.MonthOf(time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC))
		require.Equal(t, Current, ModeFor(dec, jan))
	})
}

func TestRun_CurrentMode(t *testing.T) {
	f := newFixture()
	report, err := f.pipeline().Run(context.Background(), may, services())
	require.NoError(t, err)
	require.Equal(t, Current, report.Mode)

	require.EqualValues(t, 1, f.releases.calls.Load())
	require.EqualValues(t, 2, f.citations.calls.Load())
	require.EqualValues(t, 3, f.analytics.calls.Load())

	want := []submission{
		{Code: "HLX", Measurements: []kpi.Measurement{
			{KPI: kpi.KPIVisitDuration, Date: "2024-05", Value: 0},
			{KPI: kpi.KPIActions, Date: "2024-05", Value: 40},
			{KPI: kpi.KPIPageviews, Date: "2024-05", Value: 40},
			{KPI: kpi.KPIActionsPerVisit, Date: "2024-05", Value: 4},
			{KPI: kpi.KPIUniqueUsers, Date: "2024-05", Value: 0},
			{KPI: kpi.KPIVisits, Date: "2024-05", Value: 10},
			{KPI: kpi.KPICitations, Date: "2024-05", Value: 42},
		}},
		{Code: "TRIM", Measurements: []kpi.Measurement{
			{KPI: kpi.KPIDownloads, Date: "2024-05", Value: 15},
			{KPI: kpi.KPICitations, Date: "2024-05", Value: 42},
		}},
		{Code: "MM", Measurements: []kpi.Measurement{
			{KPI: kpi.KPIDownloads, Date: "2024-05", Value: 12},
		}},
	}
	// PlabiPD last, in catalog order.
	require.Len(t, f.submitter.got, 4)
	require.Equal(t, "PLABI", f.submitter.got[3].Code)
	if diff := cmp.Diff(want, f.submitter.got[:3]); diff != "" {
		t.Errorf("submissions mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, 4, report.Count(StatusDryRun))
	require.Empty(t, report.Warnings())
}

func TestRun_HistoricalModeSkipsPointInTimeSources(t *testing.T) {
	f := newFixture()
	report, err := f.pipeline().Run(context.Background(), march, services())
	require.NoError(t, err)
	require.Equal(t, Historical, report.Mode)

	require.Zero(t, f.releases.calls.Load())
	require.Zero(t, f.citations.calls.Load())

	for _, sub := range f.submitter.got {
		for _, m := range sub.Measurements {
			require.NotEqual(t, kpi.KPICitations, m.KPI)
			require.Equal(t, "2024-03", m.Date)
		}
	}

	// Trimmomatic has nothing left to report.
	trim := report.Results[1]
	require.Equal(t, "Trimmomatic", trim.Service)
	require.Equal(t, StatusEmpty, trim.Status)
	require.Empty(t, trim.Measurements)
}

func TestRun_MissingAbbreviation(t *testing.T) {
	f := newFixture()
	delete(f.directory.abbrevs, "Helixer")

	report, err := f.pipeline().Run(context.Background(), may, services())
	require.NoError(t, err)

	helixer := report.Results[0]
	require.Equal(t, StatusSkipped, helixer.Status)
	require.Contains(t, helixer.Reason, "Helixer")
	require.Empty(t, helixer.Code)

	for _, sub := range f.submitter.got {
		require.NotEqual(t, "HLX", sub.Code)
	}
	require.Len(t, f.submitter.got, 3)
	require.Contains(t, f.logs.String(), "Could not find abbreviation")
}

func TestRun_DirectoryFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.directory.err = scorpion.ErrEmptyDirectory

	report, err := f.pipeline().Run(context.Background(), may, services())
	require.ErrorIs(t, err, scorpion.ErrEmptyDirectory)
	require.Nil(t, report)
	require.Zero(t, f.analytics.calls.Load())
	require.Empty(t, f.submitter.got)
}

func TestRun_SourceFailuresDoNotAbort(t *testing.T) {
	f := newFixture()
	f.analytics.err = errors.New("matomo down")
	f.releases.err = errors.New("github down")

	report, err := f.pipeline().Run(context.Background(), may, services())
	require.NoError(t, err)

	// Citations still make it through for services with publications.
	helixer := report.Results[0]
	require.Equal(t, StatusDryRun, helixer.Status)
	require.Equal(t, []kpi.Measurement{{KPI: kpi.KPICitations, Date: "2024-05", Value: 42}}, helixer.Measurements)
	require.Contains(t, helixer.Warnings[0], "matomo down")

	trim := report.Results[1]
	require.Equal(t, StatusDryRun, trim.Status)
	require.Contains(t, trim.Warnings[0], "github down")

	require.Equal(t, StatusEmpty, report.Results[2].Status)
	require.Equal(t, StatusEmpty, report.Results[3].Status)
	require.Len(t, report.Warnings(), 4)
}

func TestRun_SubmissionFailure(t *testing.T) {
	f := newFixture()
	f.submitter.live = true
	f.submitter.fail = map[string]error{"HLX": errors.New("unexpected status 500")}

	report, err := f.pipeline().Run(context.Background(), may, services())
	require.NoError(t, err)

	require.Equal(t, StatusFailed, report.Results[0].Status)
	require.Contains(t, report.Results[0].Reason, "500")
	require.Equal(t, StatusSubmitted, report.Results[1].Status)
	require.Equal(t, 1, report.Count(StatusFailed))
	require.Equal(t, 3, report.Count(StatusSubmitted))
}

func TestRun_InvalidValuesAreDropped(t *testing.T) {
	f := newFixture()
	f.analytics.download = kpi.Raw{"nb_hits": "lots"}

	report, err := f.pipeline().Run(context.Background(), may, services())
	require.NoError(t, err)

	mapman := report.Results[2]
	require.Equal(t, StatusEmpty, mapman.Status)
	require.Len(t, mapman.Warnings, 1)
	require.Contains(t, mapman.Warnings[0], "Downloads")
}

func TestRun_MissingTagWarning(t *testing.T) {
	f := newFixture()
	f.releases.count = source.ReleaseCount{Total: 7, Missing: []string{"v0.40"}}

	report, err := f.pipeline().Run(context.Background(), may, services())
	require.NoError(t, err)

	trim := report.Results[1]
	require.Equal(t, []string{"no release for tag v0.40 in usadellab/Trimmomatic"}, trim.Warnings)
	require.Equal(t, int64(7), trim.Measurements[0].Value)
}

func TestRun_WorkersKeepCatalogOrder(t *testing.T) {
	var svcs []catalog.ServiceDescriptor
	abbrevs := scorpion.Abbreviations{}
	for _, name := range []string{"A", "B", "C", "D", "E", "F", "G", "H"} {
		svcs = append(svcs, catalog.ServiceDescriptor{DisplayName: name, ScorpionName: name, Source: catalog.SiteSummary{}})
		abbrevs[name] = strings.ToLower(name)
	}

	f := newFixture()
	f.directory.abbrevs = abbrevs

	report, err := f.pipeline(WithWorkers(4)).Run(context.Background(), may, svcs)
	require.NoError(t, err)
	require.Len(t, f.submitter.got, len(svcs))
	for i, sub := range f.submitter.got {
		require.Equal(t, strings.ToLower(svcs[i].DisplayName), sub.Code)
		require.Equal(t, svcs[i].DisplayName, report.Results[i].Service)
	}
}

func TestRun_DryRunOutputIsStable(t *testing.T) {
	render := func() string {
		f := newFixture()
		cfg := &conf.Config{ScorpionURL: "https://scorpion.test", ScorpionAPIKey: "key"}
		client := scorpion.NewClient(cfg, http.DefaultClient, conf.NewLogWriter(io.Discard))

		var out bytes.Buffer
		gw := scorpion.NewGateway(client, false, &out, conf.NewLogWriter(io.Discard))
		p := New(f.analytics, f.releases, f.citations, f.directory, gw, conf.NewLogWriter(io.Discard), WithClock(func() time.Time { return june }), WithWorkers(3))
		_, err := p.Run(context.Background(), may, services())
		require.NoError(t, err)
		return out.String()
	}

	first := render()
	require.Equal(t, 4, strings.Count(first, "[DRY RUN]"))
	require.Less(t, strings.Index(first, "'HLX'"), strings.Index(first, "'TRIM'"))
	require.Equal(t, first, render())
}

func TestReport_LogValue(t *testing.T) {
	report := &Report{
		Month: may,
		Mode:  Current,
		Results: []Result{
			{Service: "A", Status: StatusSubmitted},
			{Service: "B", Status: StatusSkipped, Reason: "no code", Warnings: []string{"x"}},
		},
	}

	var buf bytes.Buffer
	conf.NewLogWriter(&buf).Info("done", "report", report)
	out := buf.String()
	require.Contains(t, out, "report.mode=current")
	require.Contains(t, out, "report.submitted=1")
	require.Contains(t, out, "report.skipped=1")
	require.Equal(t, []string{"B: x"}, report.Warnings())
}
