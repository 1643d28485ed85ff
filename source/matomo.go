// Package source fetches raw usage figures from Matomo, GitHub and
// SerpApi's Google Scholar engine.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mikeblum/scorpion-kpi/conf"
	"github.com/mikeblum/scorpion-kpi/kpi"
)

const (
	methodPageTitles   = "Actions.getPageTitles"
	methodDownload     = "Actions.getDownload"
	methodVisitSummary = "VisitsSummary.get"

	maxBody = 4 << 20
)

// ErrNoData marks a well formed answer that carries nothing to report.
var ErrNoData = errors.New("no data")

// Matomo queries monthly reports of one Matomo site.
type Matomo struct {
	baseURL string
	siteID  string
	token   string
	client  *http.Client
	log     *conf.Log
}

func NewMatomo(cfg *conf.Config, client *http.Client, log *conf.Log) *Matomo {
	return &Matomo{
		baseURL: cfg.MatomoURL,
		siteID:  cfg.MatomoSiteID,
		token:   cfg.MatomoToken,
		client:  client,
		log:     log,
	}
}

// PageTitle returns the page title report row for label.
func (m *Matomo) PageTitle(ctx context.Context, label string, month kpi.Month) (kpi.Raw, error) {
	return m.report(ctx, methodPageTitles, month, url.Values{"label": {label}})
}

// SiteSummary returns the site wide visits summary.
func (m *Matomo) SiteSummary(ctx context.Context, month kpi.Month) (kpi.Raw, error) {
	return m.report(ctx, methodVisitSummary, month, nil)
}

// Download returns the download report row for downloadURL.
func (m *Matomo) Download(ctx context.Context, downloadURL string, month kpi.Month) (kpi.Raw, error) {
	return m.report(ctx, methodDownload, month, url.Values{"downloadUrl": {downloadURL}})
}

func (m *Matomo) reportURL(method string, month kpi.Month, extra url.Values) (string, error) {
	u, err := url.Parse(m.baseURL)
	if err != nil {
		return "", fmt.Errorf("matomo url: %w", err)
	}
	q := u.Query()
	q.Set("module", "API")
	q.Set("method", method)
	q.Set("idSite", m.siteID)
	q.Set("period", "month")
	q.Set("date", month.FirstDay())
	q.Set("format", "JSON")
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// report POSTs the token in the form body so it stays out of access logs.
func (m *Matomo) report(ctx context.Context, method string, month kpi.Month, extra url.Values) (kpi.Raw, error) {
	reportURL, err := m.reportURL(method, month, extra)
	if err != nil {
		return nil, err
	}

	form := url.Values{"token_auth": {m.token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reportURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("matomo %s: new request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	m.log.Info("Querying Matomo", "method", method, "date", month.FirstDay())
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("matomo %s: %w", method, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("matomo %s: read body: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("matomo %s: unexpected status %d", method, resp.StatusCode)
	}

	raw, err := decodeReport(body)
	if err != nil {
		return nil, fmt.Errorf("matomo %s: %w", method, err)
	}
	return raw, nil
}

// decodeReport reduces a list shaped report to its single row and passes an
// object shaped one through. Numbers are kept as json.Number.
func decodeReport(body []byte) (kpi.Raw, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrNoData)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}

	switch x := v.(type) {
	case []any:
		if len(x) == 0 {
			return nil, fmt.Errorf("%w: empty report", ErrNoData)
		}
		row, ok := x[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("decode report: unexpected row %T", x[0])
		}
		return kpi.Raw(row), nil
	case map[string]any:
		if result, _ := x["result"].(string); result == "error" {
			return nil, fmt.Errorf("api error: %v", x["message"])
		}
		if len(x) == 0 {
			return nil, fmt.Errorf("%w: empty report", ErrNoData)
		}
		return kpi.Raw(x), nil
	default:
		return nil, fmt.Errorf("decode report: unexpected %T", v)
	}
}
