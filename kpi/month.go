package kpi

import (
	"fmt"
	"strings"
	"time"
)

const monthLayout = "2006-01"

// Month is a reporting period of one calendar month.
type Month struct {
	year  int
	month time.Month
}

// ParseMonth accepts YYYY-MM.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(monthLayout, strings.TrimSpace(s))
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q: use YYYY-MM", s)
	}
	return MonthOf(t), nil
}

func MonthOf(t time.Time) Month {
	return Month{year: t.Year(), month: t.Month()}
}

// PreviousMonth is the most recently completed month as of now (UTC).
// It steps back from the first of the month so that e.g. March 31st yields
// February rather than a normalized "February 31st".
func PreviousMonth(now time.Time) Month {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return MonthOf(first.AddDate(0, -1, 0))
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.year, int(m.month))
}

// FirstDay renders the analytics report date, YYYY-MM-01.
func (m Month) FirstDay() string {
	return m.String() + "-01"
}

func (m Month) IsZero() bool {
	return m.year == 0 && m.month == 0
}
