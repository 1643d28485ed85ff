// Package kpi turns raw analytics, release and citation figures into the KPI
// measurements accepted by ScorPIoN.
//
// Normalization is two table lookups: a source-specific table maps raw field
// names to intermediate metric names, and a shared table maps those to the
// destination KPI names.
package kpi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// Intermediate metric names.
const (
	VisitsDuration  = "Visits Duration"
	Actions         = "Actions"
	ActionsPerVisit = "Actions per Visit"
	Visitors        = "Visitors"
	Visits          = "Visits"
	Citations       = "Citations"
	Downloads       = "Downloads"
)

// Raw is one analytics report row as returned by the source, keyed by the
// source's own field names.
type Raw map[string]any

// value returns the field, or 0 when the report omits it.
func (r Raw) value(key string) any {
	v, ok := r[key]
	if !ok {
		return 0
	}
	return v
}

type Metric struct {
	Name  string
	Value any
}

// Set is an ordered intermediate metric set for one service.
type Set struct {
	Metrics  []Metric
	Warnings []string

	// Actions are mirrored as Pageviews for page based analytics sources.
	pageviews bool
}

// Add sets name to v, keeping the position of an existing entry.
func (s *Set) Add(name string, v any) {
	for i := range s.Metrics {
		if s.Metrics[i].Name == name {
			s.Metrics[i].Value = v
			return
		}
	}
	s.Metrics = append(s.Metrics, Metric{Name: name, Value: v})
}

func (s Set) Get(name string) (any, bool) {
	for _, m := range s.Metrics {
		if m.Name == name {
			return m.Value, true
		}
	}
	return nil, false
}

func (s Set) Len() int {
	return len(s.Metrics)
}

func (s Set) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(s.Metrics))
	for _, m := range s.Metrics {
		attrs = append(attrs, slog.Any(m.Name, m.Value))
	}
	return slog.GroupValue(attrs...)
}

func (s *Set) warnf(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

type field struct {
	raw  string
	name string
}

var pageTitleFields = []field{
	{"avg_time_on_page", VisitsDuration},
	{"nb_hits", Actions},
	{"nb_actions_per_visit", ActionsPerVisit},
	{"sum_daily_nb_uniq_visitors", Visitors},
	{"nb_visits", Visits},
}

var siteSummaryFields = []field{
	{"avg_time_on_site", VisitsDuration},
	{"nb_actions", Actions},
	{"nb_actions_per_visit", ActionsPerVisit},
	{"nb_uniq_visitors", Visitors},
	{"nb_visits", Visits},
}

// FromPageTitle maps an Actions.getPageTitles row. Page title reports carry
// no per-visit ratio, so Actions per Visit is nb_hits / max(nb_visits, 1).
func FromPageTitle(raw Raw) Set {
	s := Set{pageviews: true}
	for _, f := range pageTitleFields {
		if f.name == ActionsPerVisit {
			s.addActionsPerVisit(raw)
			continue
		}
		s.Add(f.name, raw.value(f.raw))
	}
	return s
}

func (s *Set) addActionsPerVisit(raw Raw) {
	hits, err := Float(raw.value("nb_hits"))
	if err != nil {
		s.warnf("cannot derive %s: nb_hits: %v", ActionsPerVisit, err)
		return
	}
	visits := 1.0
	if v, ok := raw["nb_visits"]; ok {
		visits, err = Float(v)
		if err != nil {
			s.warnf("cannot derive %s: nb_visits: %v", ActionsPerVisit, err)
			return
		}
	}
	s.Add(ActionsPerVisit, hits/math.Max(visits, 1))
}

// FromSiteSummary maps a VisitsSummary.get report.
func FromSiteSummary(raw Raw) Set {
	s := Set{pageviews: true}
	for _, f := range siteSummaryFields {
		s.Add(f.name, raw.value(f.raw))
	}
	return s
}

// FromDownloadCount maps an Actions.getDownload row.
func FromDownloadCount(raw Raw) Set {
	s := Set{}
	s.Add(Downloads, raw.value("nb_hits"))
	return s
}

// FromReleaseDownloads wraps a summed release asset download counter.
func FromReleaseDownloads(n int64) Set {
	s := Set{}
	s.Add(Downloads, n)
	return s
}

var errNull = errors.New("value is null")

// Float coerces a decoded JSON value to float64. Numeric strings are
// accepted; null, booleans, NaN and infinities are not.
func Float(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, errNull
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x.String())
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		f = n
	default:
		return 0, fmt.Errorf("not a number: %v (%T)", v, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %v", f)
	}
	return f, nil
}
