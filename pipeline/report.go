package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mikeblum/scorpion-kpi/kpi"
)

// Mode is fixed for a run from the requested month.
type Mode int

const (
	// Current reports the most recently completed month and may use
	// point-in-time counters (citations, cumulative release downloads).
	Current Mode = iota
	// Historical reports any other month; only analytics are fetched.
	Historical
)

func (m Mode) String() string {
	switch m {
	case Current:
		return "current"
	case Historical:
		return "historical"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ModeFor picks Current only when month is the month before now.
func ModeFor(month kpi.Month, now time.Time) Mode {
	if month == kpi.PreviousMonth(now) {
		return Current
	}
	return Historical
}

type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusDryRun    Status = "dry-run"
	StatusSkipped   Status = "skipped"
	StatusEmpty     Status = "empty"
	StatusFailed    Status = "failed"
)

// Result is the outcome for one service.
type Result struct {
	Service      string
	Code         string
	Status       Status
	Reason       string
	Measurements []kpi.Measurement
	Warnings     []string

	set kpi.Set
}

func (r Result) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("service", r.Service),
		slog.String("status", string(r.Status)),
		slog.Int("measurements", len(r.Measurements)),
		slog.Int("warnings", len(r.Warnings)),
	}
	if r.Reason != "" {
		attrs = append(attrs, slog.String("reason", r.Reason))
	}
	return slog.GroupValue(attrs...)
}

type Report struct {
	Month   kpi.Month
	Mode    Mode
	Results []Result
}

func (r *Report) Count(status Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Warnings flattens every service's warnings, prefixed by service name.
func (r *Report) Warnings() []string {
	var out []string
	for _, res := range r.Results {
		for _, w := range res.Warnings {
			out = append(out, res.Service+": "+w)
		}
	}
	return out
}

func (r *Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("date", r.Month.String()),
		slog.String("mode", r.Mode.String()),
		slog.Int("services", len(r.Results)),
		slog.Int(string(StatusSubmitted), r.Count(StatusSubmitted)),
		slog.Int(string(StatusDryRun), r.Count(StatusDryRun)),
		slog.Int(string(StatusSkipped), r.Count(StatusSkipped)),
		slog.Int(string(StatusEmpty), r.Count(StatusEmpty)),
		slog.Int(string(StatusFailed), r.Count(StatusFailed)),
	)
}
