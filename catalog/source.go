package catalog

import (
	"fmt"
	"log/slog"
	"strings"
)

// Kind names a source variant. The string values are the catalog's
// `type` discriminants.
type Kind string

const (
	KindPageTitle        Kind = "matomo_page_title"
	KindSiteSummary      Kind = "matomo_site_summary"
	KindDownloadCount    Kind = "matomo_download"
	KindReleaseDownloads Kind = "github_release_downloads"
)

// Kinds lists every supported discriminant.
var Kinds = []Kind{KindPageTitle, KindSiteSummary, KindDownloadCount, KindReleaseDownloads}

// Source is the closed set of data sources a service can be fed from:
// PageTitle, SiteSummary, DownloadCount or ReleaseDownloads.
type Source interface {
	Kind() Kind
	validate() error
}

// PageTitle reads Matomo's page title report for Label.
type PageTitle struct {
	Label string
}

// SiteSummary reads Matomo's whole site visits summary.
type SiteSummary struct{}

// DownloadCount reads Matomo's download report for URL.
type DownloadCount struct {
	URL string
}

// ReleaseDownloads sums GitHub release asset downloads of Repo
// ("owner/name"), restricted to Tags when any are given.
type ReleaseDownloads struct {
	Repo string
	Tags []string
}

func (PageTitle) Kind() Kind        { return KindPageTitle }
func (SiteSummary) Kind() Kind      { return KindSiteSummary }
func (DownloadCount) Kind() Kind    { return KindDownloadCount }
func (ReleaseDownloads) Kind() Kind { return KindReleaseDownloads }

// Labels are matched verbatim by Matomo, leading space included, so they
// are checked but never trimmed.
func (s PageTitle) validate() error {
	if strings.TrimSpace(s.Label) == "" {
		return fmt.Errorf("%s: label is required", s.Kind())
	}
	return nil
}

func (s SiteSummary) validate() error { return nil }

func (s DownloadCount) validate() error {
	if strings.TrimSpace(s.URL) == "" {
		return fmt.Errorf("%s: download_url is required", s.Kind())
	}
	return nil
}

func (s ReleaseDownloads) validate() error {
	if _, _, err := SplitRepo(s.Repo); err != nil {
		return fmt.Errorf("%s: %w", s.Kind(), err)
	}
	for _, tag := range s.Tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("%s: empty tag", s.Kind())
		}
	}
	return nil
}

// SplitRepo splits "owner/name".
func SplitRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(repo), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("repo %q must be owner/name", repo)
	}
	return owner, name, nil
}

func sourceLogValue(src Source) slog.Value {
	switch s := src.(type) {
	case PageTitle:
		return slog.GroupValue(slog.String("type", string(s.Kind())), slog.String("label", s.Label))
	case DownloadCount:
		return slog.GroupValue(slog.String("type", string(s.Kind())), slog.String("url", s.URL))
	case ReleaseDownloads:
		return slog.GroupValue(slog.String("type", string(s.Kind())), slog.String("repo", s.Repo), slog.Any("tags", s.Tags))
	case nil:
		return slog.StringValue("none")
	default:
		return slog.GroupValue(slog.String("type", string(s.Kind())))
	}
}
