// Package scoring holds the storage-free arithmetic behind a post's score:
// bucket averages, the day-over-history slope, and the merge/discard rule.
package scoring

import (
	"math"
	"strconv"
)

// Tally is a running (sum, count) pair of rating values.
type Tally struct {
	Total int64
	Count int64
}

// Add combines two tallies.
func (t Tally) Add(other Tally) Tally {
	return Tally{Total: t.Total + other.Total, Count: t.Count + other.Count}
}

// Decision is the outcome of Resolve for one post.
type Decision struct {
	HistoricalAverage float64
	TodayAverage      float64
	Slope             float64
	Merged            bool
	Score             float64
}

// Average returns Total/Count rounded to one decimal, or 0 for an empty tally.
func Average(t Tally) float64 {
	if t.Count <= 0 {
		return 0
	}
	return roundTo(float64(t.Total)/float64(t.Count), 1)
}

// Slope returns today minus historical rounded to two decimals. It is 0 when
// there is no historical average to compare against.
func Slope(today, historical float64) float64 {
	if historical == 0 {
		return 0
	}
	return roundTo(today-historical, 2)
}

// Resolve applies the slope rule. Today's tally is merged into history unless
// its average falls below the historical one by more than |threshold|, in
// which case today is discarded and the historical average is reported.
func Resolve(historical, today Tally, threshold float64) Decision {
	d := Decision{
		HistoricalAverage: Average(historical),
		TodayAverage:      Average(today),
	}
	d.Slope = Slope(d.TodayAverage, d.HistoricalAverage)

	if d.Slope >= -math.Abs(threshold) {
		d.Merged = true
		d.Score = Average(historical.Add(today))
		return d
	}
	d.Score = d.HistoricalAverage
	return d
}

// roundTo rounds the exact binary value of v to places decimals. Exact ties
// go to the even digit, so 0.25 becomes 0.2 while 0.15, stored just below
// the tie, becomes 0.1.
func roundTo(v float64, places int) float64 {
	r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', places, 64), 64)
	return r
}
