// Package query answers structured questions about the scraped corpus
// (counts, listings, score aggregates) through a closed intent grammar.
// The LLM picks an intent from enumerated values and the package turns it
// into parameterized SQL via the store, so model output never reaches a
// query string.
package query

import "time"

// Timeframe restricts a query to a window of post or comment creation time.
type Timeframe string

// The closed set of timeframes the query tool accepts.
const (
	AllTime     Timeframe = "all_time"
	Today       Timeframe = "today"
	Yesterday   Timeframe = "yesterday"
	ThisWeek    Timeframe = "this_week"
	LastWeek    Timeframe = "last_week"
	ThisMonth   Timeframe = "this_month"
	LastMonth   Timeframe = "last_month"
	Last24Hours Timeframe = "last_24_hours"
	Last7Days   Timeframe = "last_7_days"
	Last30Days  Timeframe = "last_30_days"
	ThisYear    Timeframe = "this_year"
)

// Timeframes lists every accepted timeframe value, for tool schemas and
// validation messages.
func Timeframes() []Timeframe {
	return []Timeframe{
		AllTime, Today, Yesterday, ThisWeek, LastWeek,
		ThisMonth, LastMonth, Last24Hours, Last7Days, Last30Days, ThisYear,
	}
}

// Valid reports whether tf is one of the accepted timeframes.
func (tf Timeframe) Valid() bool {
	for _, known := range Timeframes() {
		if tf == known {
			return true
		}
	}
	return false
}

// Window resolves the timeframe to a half-open interval [from, to) relative
// to now. A zero bound means unbounded on that side. Weeks start on Sunday,
// matching how the subreddit's weekly threads roll over.
func (tf Timeframe) Window(now time.Time) (from, to time.Time) {
	dayStart := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
	weekStart := func(t time.Time) time.Time {
		return dayStart(t).AddDate(0, 0, -int(t.Weekday()))
	}
	monthStart := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	}

	switch tf {
	case Today:
		return dayStart(now), time.Time{}
	case Yesterday:
		return dayStart(now).AddDate(0, 0, -1), dayStart(now)
	case ThisWeek:
		return weekStart(now), time.Time{}
	case LastWeek:
		return weekStart(now).AddDate(0, 0, -7), weekStart(now)
	case ThisMonth:
		return monthStart(now), time.Time{}
	case LastMonth:
		return monthStart(now).AddDate(0, -1, 0), monthStart(now)
	case Last24Hours:
		return now.Add(-24 * time.Hour), time.Time{}
	case Last7Days:
		return now.AddDate(0, 0, -7), time.Time{}
	case Last30Days:
		return now.AddDate(0, 0, -30), time.Time{}
	case ThisYear:
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location()), time.Time{}
	default: // AllTime and anything unknown
		return time.Time{}, time.Time{}
	}
}
