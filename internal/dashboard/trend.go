package dashboard

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const dayLayout = "2006-01-02"

// BuildTrend lays daily totals onto a contiguous run of days. The window ends
// at the latest invoiced day and spans the invoiced range, capped at
// TrendDays. Without data it shows the TrendDays ending at now.
func BuildTrend(daily []DailyTotal, now time.Time) []TrendPoint {
	byDay := make(map[string]decimal.Decimal, len(daily))
	var first, last time.Time
	for _, d := range daily {
		day := truncateDay(d.Day)
		key := day.Format(dayLayout)
		byDay[key] = byDay[key].Add(d.Amount)
		if first.IsZero() || day.Before(first) {
			first = day
		}
		if last.IsZero() || day.After(last) {
			last = day
		}
	}

	days := TrendDays
	if last.IsZero() {
		last = truncateDay(now)
	} else {
		span := int(last.Sub(first).Hours()/24) + 1
		if span < days {
			days = span
		}
	}

	start := last.AddDate(0, 0, -(days - 1))
	points := make([]TrendPoint, 0, days)
	for i := 0; i < days; i++ {
		key := start.AddDate(0, 0, i).Format(dayLayout)
		points = append(points, TrendPoint{Date: key, Revenue: byDay[key]})
	}
	return points
}

// SortStatus orders the breakdown by count, then status name.
func SortStatus(counts []StatusCount) {
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Status < counts[j].Status
	})
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
