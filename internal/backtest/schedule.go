package backtest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/contactkeval/option-density/internal/data"
)

// Schedule selects the dates of a history on which to run an analysis.
type Schedule struct {
	Start time.Time `json:"start,omitempty"` // inclusive, default: first available date
	End   time.Time `json:"end,omitempty"`   // inclusive, default: last available date
	// Mode is "daily", "nth_weekday", "nth_month_day" or "expiry_offset".
	Mode string `json:"mode"`
	// NthList holds weekdays (0=Sunday) for nth_weekday, days of month for
	// nth_month_day and a single day offset (e.g. -5) for expiry_offset.
	NthList   []int              `json:"nth_list,omitempty"`
	MatchType data.DateMatchType `json:"date_match_type,omitempty"`
}

// Resolve snaps every candidate date of the schedule to an available date
// using MatchType and returns the sorted, unique result.
func (s Schedule) Resolve(available []time.Time, expiry time.Time) ([]time.Time, error) {
	out := []time.Time{}
	if len(available) == 0 {
		return out, nil
	}

	sorted := append([]time.Time(nil), available...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	if s.Start.IsZero() {
		s.Start = sorted[0]
	}
	if s.End.IsZero() {
		s.End = sorted[len(sorted)-1]
	}
	if s.Start.After(s.End) {
		return out, fmt.Errorf("schedule: start %s is after end %s", s.Start.Format("2006-01-02"), s.End.Format("2006-01-02"))
	}

	snap := func(d time.Time) {
		if d.Before(s.Start) || d.After(s.End) {
			return
		}
		if day := data.MatchBarDate(d, sorted, s.MatchType); !day.IsZero() {
			out = append(out, day)
		}
	}

	switch strings.ToLower(strings.TrimSpace(s.Mode)) {

	// expiry_offset - e.g., NthList = [-5] means 5 days before expiry
	case "expiry_offset":
		if len(s.NthList) == 0 || expiry.IsZero() {
			return out, fmt.Errorf("schedule: expiry_offset mode requires an offset and an expiry")
		}
		snap(expiry.AddDate(0, 0, s.NthList[0]))

	// nth_month_day: e.g. 10th of month, or [5, 15] of every month
	case "nth_month_day":
		if len(s.NthList) == 0 {
			return out, fmt.Errorf("schedule: nth_month_day mode requires NthList")
		}
		for m := time.Date(s.Start.Year(), s.Start.Month(), 1, 0, 0, 0, 0, time.UTC); !m.After(s.End); m = m.AddDate(0, 1, 0) {
			for _, dayNum := range s.NthList {
				d := time.Date(m.Year(), m.Month(), dayNum, 0, 0, 0, 0, time.UTC)
				if dayNum < 1 || d.Month() != m.Month() {
					continue // invalid day (e.g., Feb 30)
				}
				snap(d)
			}
		}

	// nth_weekday - e.g., every Tue, Thu or every Mon etc.
	case "nth_weekday":
		if len(s.NthList) == 0 {
			return out, fmt.Errorf("schedule: nth_weekday mode requires NthList")
		}
		for d := s.Start; !d.After(s.End); d = d.AddDate(0, 0, 1) {
			if containsInt(s.NthList, int(d.Weekday())) {
				snap(d)
			}
		}

	// default → daily schedule
	default:
		for d := s.Start; !d.After(s.End); d = d.AddDate(0, 0, 1) {
			snap(d)
		}
	}

	// Sort + unique
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	final := out[:0]
	for i, d := range out {
		if i == 0 || !d.Equal(out[i-1]) {
			final = append(final, d)
		}
	}
	return final, nil
}

// Indices maps each date to its position in available, skipping misses.
func Indices(dates, available []time.Time) []int {
	pos := make(map[time.Time]int, len(available))
	for i, d := range available {
		pos[d] = i
	}
	out := make([]int, 0, len(dates))
	for _, d := range dates {
		if i, ok := pos[d]; ok {
			out = append(out, i)
		}
	}
	return out
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
