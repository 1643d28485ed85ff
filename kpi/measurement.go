package kpi

import (
	"fmt"
	"log/slog"
	"math"
)

// Destination KPI names.
const (
	KPIVisitDuration   = "Visit Duration"
	KPIActions         = "Actions"
	KPIActionsPerVisit = "Actions per Visit"
	KPIUniqueUsers     = "Unique Users"
	KPIVisits          = "Visits"
	KPICitations       = "Citations"
	KPIDownloads       = "Downloads"
	KPIPageviews       = "Pageviews"
)

var intermediateToKPI = map[string]string{
	VisitsDuration:  KPIVisitDuration,
	Actions:         KPIActions,
	ActionsPerVisit: KPIActionsPerVisit,
	Visitors:        KPIUniqueUsers,
	Visits:          KPIVisits,
	Citations:       KPICitations,
	Downloads:       KPIDownloads,
}

// Measurement is one KPI value for one month, as submitted to ScorPIoN.
type Measurement struct {
	KPI   string `json:"kpi"`
	Date  string `json:"date"`
	Value int64  `json:"value"`
}

func (m Measurement) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kpi", m.KPI),
		slog.String("date", m.Date),
		slog.Int64("value", m.Value),
	)
}

// NewMeasurement rounds v half to even, the way the previous tooling did,
// so resubmitted months keep their values.
func NewMeasurement(kpi string, v any, month Month) (Measurement, error) {
	f, err := Float(v)
	if err != nil {
		return Measurement{}, fmt.Errorf("could not convert value %v for KPI '%s' to integer: %w", v, kpi, err)
	}
	r := math.RoundToEven(f)
	if r >= math.MaxInt64 || r < math.MinInt64 {
		return Measurement{}, fmt.Errorf("value %v for KPI '%s' overflows int64", v, kpi)
	}
	return Measurement{KPI: kpi, Date: month.String(), Value: int64(r)}, nil
}

// Measurements maps the set onto destination KPIs in set order. Values that
// cannot be converted are left out and reported as warnings; metrics with no
// destination KPI are ignored.
func Measurements(set Set, month Month) ([]Measurement, []string) {
	var (
		out      []Measurement
		warnings []string
	)
	add := func(kpi string, v any) {
		m, err := NewMeasurement(kpi, v, month)
		if err != nil {
			warnings = append(warnings, err.Error()+", skipping")
			return
		}
		out = append(out, m)
	}

	for _, metric := range set.Metrics {
		kpi, ok := intermediateToKPI[metric.Name]
		if !ok {
			continue
		}
		add(kpi, metric.Value)
		if metric.Name == Actions && set.pageviews {
			add(KPIPageviews, metric.Value)
		}
	}
	return out, warnings
}
