package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v62/github"
	"github.com/mikeblum/scorpion-kpi/catalog"
	"github.com/mikeblum/scorpion-kpi/conf"
	"golang.org/x/mod/semver"
	"golang.org/x/oauth2"
)

const releasesPerPage = 100

// ReleaseCount is the summed asset download counter of a repository.
type ReleaseCount struct {
	Total int64
	// Missing lists requested tags with no matching release, semver sorted.
	Missing []string
}

// GitHub reads release download counters.
type GitHub struct {
	client *github.Client
	log    *conf.Log
}

// NewGitHub builds the client on top of base. A token only raises the API
// rate limit; anonymous access works for public repositories.
func NewGitHub(ctx context.Context, cfg *conf.Config, base *http.Client, log *conf.Log) (*GitHub, error) {
	hc := base
	if cfg.GitHubToken != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GitHubToken})
		hc = oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), ts)
		hc.Timeout = base.Timeout
	}
	client := github.NewClient(hc)

	if cfg.GitHubURL != "" {
		u, err := url.Parse(strings.TrimRight(cfg.GitHubURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github url: %w", err)
		}
		client.BaseURL = u
	}

	return &GitHub{client: client, log: log}, nil
}

// ReleaseDownloads sums asset downloads over the releases of repo. When tags
// are given only releases with those tags count, and tags with no release
// are reported in Missing rather than failing the lookup.
func (g *GitHub) ReleaseDownloads(ctx context.Context, repo string, tags []string) (ReleaseCount, error) {
	owner, name, err := catalog.SplitRepo(repo)
	if err != nil {
		return ReleaseCount{}, err
	}

	g.log.Info("Querying GitHub releases", "repo", repo)
	releases, err := g.releases(ctx, owner, name)
	if err != nil {
		return ReleaseCount{}, err
	}

	count := sumDownloads(releases, tags)
	if len(count.Missing) > 0 {
		g.log.Warn("Could not find releases for tags", "repo", repo, "tags", count.Missing)
	}
	return count, nil
}

func (g *GitHub) releases(ctx context.Context, owner, name string) ([]*github.RepositoryRelease, error) {
	var all []*github.RepositoryRelease
	opts := &github.ListOptions{PerPage: releasesPerPage}
	for {
		page, resp, err := g.client.Repositories.ListReleases(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("list releases of %s/%s: %w", owner, name, err)
		}
		all = append(all, page...)

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func sumDownloads(releases []*github.RepositoryRelease, tags []string) ReleaseCount {
	var count ReleaseCount
	want := make(map[string]bool, len(tags))
	for _, tag := range tags {
		want[tag] = true
	}
	found := make(map[string]bool, len(tags))

	for _, release := range releases {
		tag := release.GetTagName()
		if len(tags) > 0 {
			if !want[tag] || found[tag] {
				continue
			}
			found[tag] = true
		}
		for _, asset := range release.Assets {
			count.Total += int64(asset.GetDownloadCount())
		}
	}

	for tag := range want {
		if !found[tag] {
			count.Missing = append(count.Missing, tag)
		}
	}
	semver.Sort(count.Missing)
	return count
}
