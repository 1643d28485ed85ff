// Package scorpion talks to the de.NBI ScorPIoN KPI API: it resolves
// service abbreviations and submits monthly measurements.
package scorpion

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
	servicesPath     = "/denbi/api/v1/services"
	measurementsPath = "/denbi/api/v1/measurements"

	headerAPIKey      = "X-API-Key"
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"

	maxBody = 1 << 20
)

var ErrEmptyDirectory = errors.New("scorpion returned an empty service directory")

// Abbreviations maps full ScorPIoN service names to their short codes.
type Abbreviations map[string]string

// StatusError is a non 2xx answer from ScorPIoN.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *conf.Log
}

func NewClient(cfg *conf.Config, client *http.Client, log *conf.Log) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.ScorpionURL, "/"),
		apiKey:  cfg.ScorpionAPIKey,
		client:  client,
		log:     log,
	}
}

type directoryResponse struct {
	Result []struct {
		Name         string `json:"name"`
		Abbreviation string `json:"abbreviation"`
	} `json:"result"`
}

// Abbreviations fetches the service directory. Any failure, an empty
// directory included, is returned: without it nothing can be submitted.
func (c *Client) Abbreviations(ctx context.Context) (Abbreviations, error) {
	c.log.Info("Fetching service abbreviations from ScorPIoN")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+servicesPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(headerAPIKey, c.apiKey)

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch service directory: %w", err)
	}

	var dir directoryResponse
	if err := json.Unmarshal(body, &dir); err != nil {
		return nil, fmt.Errorf("decode service directory: %w", err)
	}

	abbrevs := make(Abbreviations, len(dir.Result))
	for _, svc := range dir.Result {
		if svc.Name == "" || svc.Abbreviation == "" {
			continue
		}
		abbrevs[svc.Name] = svc.Abbreviation
	}
	if len(abbrevs) == 0 {
		return nil, ErrEmptyDirectory
	}
	return abbrevs, nil
}

// MeasurementsURL is the submission endpoint for one service.
func (c *Client) MeasurementsURL(code string) string {
	return c.baseURL + measurementsPath + "?" + url.Values{"service": {code}}.Encode()
}

// Submit POSTs the measurements of one service. There is no retry.
func (c *Client) Submit(ctx context.Context, code string, measurements []kpi.Measurement) error {
	payload, err := json.Marshal(measurements)
	if err != nil {
		return fmt.Errorf("marshal measurements: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.MeasurementsURL(code), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(headerContentType, contentTypeJSON)

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("submit measurements for %s: %w", code, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
