package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mikeblum/scorpion-kpi/conf"
)

const (
	scholarEngine = "google_scholar"
	titleLogLen   = 40
)

// Scholar counts citations through SerpApi's Google Scholar engine.
type Scholar struct {
	baseURL string
	key     string
	client  *http.Client
	log     *conf.Log
}

func NewScholar(cfg *conf.Config, client *http.Client, log *conf.Log) *Scholar {
	return &Scholar{
		baseURL: cfg.SerpAPIURL,
		key:     cfg.SerpAPIKey,
		client:  client,
		log:     log,
	}
}

type scholarResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		InlineLinks struct {
			CitedBy struct {
				Total int64 `json:"total"`
			} `json:"cited_by"`
		} `json:"inline_links"`
	} `json:"organic_results"`
}

// Citations sums the "cited by" count of the top search result of each
// title. A failed lookup counts as zero for that title only. Without an API
// key the total is zero.
func (s *Scholar) Citations(ctx context.Context, titles []string) (int64, error) {
	if s.key == "" {
		return 0, nil
	}

	var total int64
	for _, title := range titles {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		s.log.Info("Querying SerpApi for citations", "title", shorten(title))
		n, err := s.citedBy(ctx, title)
		if err != nil {
			s.log.WithError(err).Warn("Citation lookup failed, counting 0", "title", shorten(title))
			continue
		}
		total += n
	}
	return total, nil
}

func (s *Scholar) citedBy(ctx context.Context, title string) (int64, error) {
	q := url.Values{
		"engine":  {scholarEngine},
		"q":       {title},
		"api_key": {s.key},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search.json?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// *url.Error repeats the URL, api_key included.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return 0, uerr.Err
		}
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("serpapi: unexpected status %d", resp.StatusCode)
	}

	var out scholarResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&out); err != nil {
		return 0, fmt.Errorf("serpapi: decode: %w", err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("serpapi: %s", out.Error)
	}
	if len(out.OrganicResults) == 0 {
		return 0, nil
	}
	return out.OrganicResults[0].InlineLinks.CitedBy.Total, nil
}

func shorten(title string) string {
	r := []rune(title)
	if len(r) <= titleLogLen {
		return title
	}
	return string(r[:titleLogLen]) + "..."
}
