// Package catalog holds the read-only list of monitored services and where
// each one's usage figures come from.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed services.yaml
var defaultCatalog []byte

var ErrInvalid = errors.New("invalid catalog")

// ServiceDescriptor describes one monitored service.
type ServiceDescriptor struct {
	// DisplayName is the label used to select services on the command line.
	DisplayName string
	// ScorpionName is the exact service name in the ScorPIoN directory.
	ScorpionName string
	// Publications are citation search queries, in order.
	Publications []string
	Source       Source
}

func (s ServiceDescriptor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", s.DisplayName),
		slog.String("scorpion", s.ScorpionName),
		slog.Int("publications", len(s.Publications)),
		slog.Any("source", sourceLogValue(s.Source)),
	)
}

type Catalog struct {
	Services []ServiceDescriptor
}

type catalogYAML struct {
	Services []serviceYAML `yaml:"services"`
}

type serviceYAML struct {
	DisplayName  string     `yaml:"display_name"`
	ScorpionName string     `yaml:"scorpion_name"`
	Publications []string   `yaml:"publications,omitempty"`
	Source       sourceYAML `yaml:"source"`
}

type sourceYAML struct {
	Type        Kind     `yaml:"type"`
	Label       string   `yaml:"label,omitempty"`
	DownloadURL string   `yaml:"download_url,omitempty"`
	Repo        string   `yaml:"repo,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
}

func (s sourceYAML) source() (Source, error) {
	switch s.Type {
	case KindPageTitle:
		return PageTitle{Label: s.Label}, nil
	case KindSiteSummary:
		return SiteSummary{}, nil
	case KindDownloadCount:
		return DownloadCount{URL: s.DownloadURL}, nil
	case KindReleaseDownloads:
		return ReleaseDownloads{Repo: s.Repo, Tags: s.Tags}, nil
	case "":
		return nil, errors.New("source type is required")
	default:
		return nil, fmt.Errorf("unknown source type %q", s.Type)
	}
}

func toSourceYAML(src Source) sourceYAML {
	switch s := src.(type) {
	case PageTitle:
		return sourceYAML{Type: s.Kind(), Label: s.Label}
	case DownloadCount:
		return sourceYAML{Type: s.Kind(), DownloadURL: s.URL}
	case ReleaseDownloads:
		return sourceYAML{Type: s.Kind(), Repo: s.Repo, Tags: s.Tags}
	case SiteSummary:
		return sourceYAML{Type: s.Kind()}
	default:
		return sourceYAML{}
	}
}

// Default returns the built-in production catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates catalog YAML. Unknown keys and unknown source
// types are rejected.
func Parse(data []byte) (*Catalog, error) {
	var doc catalogYAML
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	c := &Catalog{}
	var errs error
	for i, svc := range doc.Services {
		src, err := svc.Source.source()
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("service %d (%q): %w", i, svc.DisplayName, err))
			continue
		}
		c.Services = append(c.Services, ServiceDescriptor{
			DisplayName:  svc.DisplayName,
			ScorpionName: svc.ScorpionName,
			Publications: svc.Publications,
			Source:       src,
		})
	}
	if errs != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, errs)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every descriptor and reports all problems at once.
func (c *Catalog) Validate() error {
	if len(c.Services) == 0 {
		return fmt.Errorf("%w: no services", ErrInvalid)
	}

	var errs error
	seen := make(map[string]bool)
	for i, svc := range c.Services {
		prefix := fmt.Sprintf("service %d (%q)", i, svc.DisplayName)
		if strings.TrimSpace(svc.DisplayName) == "" {
			errs = errors.Join(errs, fmt.Errorf("%s: display_name is required", prefix))
		} else if seen[svc.DisplayName] {
			errs = errors.Join(errs, fmt.Errorf("%s: duplicate display_name", prefix))
		}
		seen[svc.DisplayName] = true

		if strings.TrimSpace(svc.ScorpionName) == "" {
			errs = errors.Join(errs, fmt.Errorf("%s: scorpion_name is required", prefix))
		}
		for _, pub := range svc.Publications {
			if strings.TrimSpace(pub) == "" {
				errs = errors.Join(errs, fmt.Errorf("%s: empty publication title", prefix))
			}
		}
		if svc.Source == nil {
			errs = errors.Join(errs, fmt.Errorf("%s: source is required", prefix))
			continue
		}
		if err := svc.Source.validate(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}
	if errs != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, errs)
	}
	return nil
}

// Filter keeps the services whose display name is in names, in catalog
// order. An empty names selects every service. Names matching no service
// are returned as unknown.
func (c *Catalog) Filter(names []string) (selected []ServiceDescriptor, unknown []string) {
	if len(names) == 0 {
		return append([]ServiceDescriptor(nil), c.Services...), nil
	}

	want := make(map[string]bool, len(names))
	for _, name := range names {
		want[name] = true
	}
	known := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		known[svc.DisplayName] = true
		if want[svc.DisplayName] {
			selected = append(selected, svc)
		}
	}
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return selected, unknown
}

// Write encodes the catalog in the same YAML shape Parse reads.
func (c *Catalog) Write(w io.Writer) error {
	doc := catalogYAML{Services: make([]serviceYAML, 0, len(c.Services))}
	for _, svc := range c.Services {
		doc.Services = append(doc.Services, serviceYAML{
			DisplayName:  svc.DisplayName,
			ScorpionName: svc.ScorpionName,
			Publications: svc.Publications,
			Source:       toSourceYAML(svc.Source),
		})
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer func() {
		_ = encoder.Close()
	}()

	return encoder.Encode(doc)
}
