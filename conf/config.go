package conf

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	ENV_SCORPION_API_KEY  = "SCORPION_API_KEY"
	ENV_SCORPION_API_URL  = "SCORPION_API_URL"
	ENV_MATOMO_AUTH_TOKEN = "MATOMO_AUTH_TOKEN"
	ENV_MATOMO_URL        = "MATOMO_URL"
	ENV_MATOMO_SITE_ID    = "MATOMO_SITE_ID"
	ENV_SERPAPI_KEY       = "SERPAPI_KEY"
	ENV_SERPAPI_URL       = "SERPAPI_URL"
	ENV_GITHUB_TOKEN      = "GITHUB_TOKEN"
	ENV_GITHUB_API_URL    = "GITHUB_API_URL"
	ENV_HTTP_TIMEOUT      = "HTTP_TIMEOUT"

	// defaults
	SCORPION_API_URL = "https://scorpion.bi.denbi.de"
	MATOMO_URL       = "https://www.plabipd.de/analytics/"
	MATOMO_SITE_ID   = "1"
	SERPAPI_URL      = "https://serpapi.com"
	HTTP_TIMEOUT     = 60 * time.Second
)

// RequiredEnv lists the credentials a run cannot start without.
var RequiredEnv = []string{ENV_SCORPION_API_KEY, ENV_MATOMO_AUTH_TOKEN}

// Config carries endpoints and credentials for every remote API. It is built
// once at startup and handed to the clients that need it.
type Config struct {
	ScorpionURL    string
	ScorpionAPIKey string
	MatomoURL      string
	MatomoSiteID   string
	MatomoToken    string
	SerpAPIURL     string
	SerpAPIKey     string
	GitHubURL      string
	GitHubToken    string
	HTTPTimeout    time.Duration
}

type MissingEnvError struct {
	Vars []string
}

func (e *MissingEnvError) Error() string {
	return "required environment variables are not set: " + strings.Join(e.Vars, ", ")
}

// NewConfig resolves the run configuration from env. Every missing required
// variable is reported at once in a *MissingEnvError.
func NewConfig(env EnvConf) (*Config, error) {
	if err := env.Load(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if missing := env.Missing(RequiredEnv...); len(missing) > 0 {
		return nil, &MissingEnvError{Vars: missing}
	}

	timeout := HTTP_TIMEOUT
	if raw := env.GetEnv(ENV_HTTP_TIMEOUT, ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid %s %q: want a duration such as 30s", ENV_HTTP_TIMEOUT, raw)
		}
		timeout = d
	}

	return &Config{
		ScorpionURL:    strings.TrimRight(env.GetEnv(ENV_SCORPION_API_URL, SCORPION_API_URL), "/"),
		ScorpionAPIKey: env.GetEnv(ENV_SCORPION_API_KEY, ""),
		MatomoURL:      env.GetEnv(ENV_MATOMO_URL, MATOMO_URL),
		MatomoSiteID:   env.GetEnv(ENV_MATOMO_SITE_ID, MATOMO_SITE_ID),
		MatomoToken:    env.GetEnv(ENV_MATOMO_AUTH_TOKEN, ""),
		SerpAPIURL:     strings.TrimRight(env.GetEnv(ENV_SERPAPI_URL, SERPAPI_URL), "/"),
		SerpAPIKey:     env.GetEnv(ENV_SERPAPI_KEY, ""),
		GitHubURL:      env.GetEnv(ENV_GITHUB_API_URL, ""),
		GitHubToken:    env.GetEnv(ENV_GITHUB_TOKEN, ""),
		HTTPTimeout:    timeout,
	}, nil
}

// HTTPClient returns a client bounded by the configured timeout.
func (c *Config) HTTPClient() *http.Client {
	return &http.Client{Timeout: c.HTTPTimeout}
}

// LogValue never exposes secrets, only whether they are set.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("scorpion", c.ScorpionURL),
		slog.String("matomo", c.MatomoURL),
		slog.String("site", c.MatomoSiteID),
		slog.Bool("serpapi", c.SerpAPIKey != ""),
		slog.Bool("github_token", c.GitHubToken != ""),
		slog.Duration("timeout", c.HTTPTimeout),
	)
}
