package domain

import "time"

// RevenueMonths is the number of trailing calendar months reported by revenue queries.
const RevenueMonths = 6

// RevenueSeries holds zero-filled monthly buckets, oldest first.
type RevenueSeries []MonthlyRevenue

// NewRevenueSeries builds `months` empty buckets ending with the month containing now.
func NewRevenueSeries(now time.Time, months int) RevenueSeries {
	if months <= 0 {
		months = RevenueMonths
	}
	now = now.UTC()
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	series := make(RevenueSeries, months)
	for i := 0; i < months; i++ {
		month := current.AddDate(0, -(months - 1 - i), 0)
		series[i] = MonthlyRevenue{Year: month.Year(), Month: month.Month()}
	}
	return series
}

// Start returns the first instant covered by the series.
func (s RevenueSeries) Start() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return time.Date(s[0].Year, s[0].Month, 1, 0, 0, 0, 0, time.UTC)
}

// Add credits amount to the bucket matching the (year, month) of at.
// Instants outside the window are ignored and reported as false.
func (s RevenueSeries) Add(at time.Time, amount int64) bool {
	at = at.UTC()
	for i := range s {
		if s[i].Year == at.Year() && s[i].Month == at.Month() {
			s[i].Total += amount
			return true
		}
	}
	return false
}
