package stats

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"immostats/internal/models"
)

// Period is the trend granularity
type Period string

const (
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
)

func (p Period) Valid() bool {
	switch p {
	case PeriodWeek, PeriodMonth, PeriodQuarter:
		return true
	}
	return false
}

// Median of values. Even-length input averages the two central elements.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// Mean of values, 0 for empty input
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Summarize returns nil when there is nothing to summarize
func Summarize(values []float64) *models.FieldStats {
	if len(values) == 0 {
		return nil
	}
	return &models.FieldStats{
		Min:    slices.Min(values),
		Max:    slices.Max(values),
		Avg:    round(Mean(values), 2),
		Median: round(Median(values), 2),
	}
}

// Histogram splits [min, max] into n equal-width buckets. The last bucket is
// closed on both ends so the maximum is always counted. n below one is
// treated as one.
func Histogram(prices []float64, n int) *models.PriceDistribution {
	if len(prices) == 0 {
		return &models.PriceDistribution{NoData: true, Buckets: []models.PriceBucket{}}
	}
	if n < 1 {
		n = 1
	}

	minPrice, maxPrice := slices.Min(prices), slices.Max(prices)
	width := (maxPrice - minPrice) / float64(n)

	buckets := make([]models.PriceBucket, n)
	for i := range buckets {
		buckets[i].Min = minPrice + float64(i)*width
		buckets[i].Max = minPrice + float64(i+1)*width
	}
	buckets[n-1].Max = maxPrice

	for _, price := range prices {
		idx := n - 1
		if width > 0 {
			idx = int((price - minPrice) / width)
			if idx >= n {
				idx = n - 1
			}
		}
		buckets[idx].Count++
	}

	for i := range buckets {
		buckets[i].Min = round(buckets[i].Min, 2)
		buckets[i].Max = round(buckets[i].Max, 2)
		buckets[i].Percentage = round(float64(buckets[i].Count)*100/float64(len(prices)), 1)
	}

	return &models.PriceDistribution{
		Total:   len(prices),
		Min:     minPrice,
		Max:     maxPrice,
		Buckets: buckets,
	}
}

// PeriodKey derives the grouping key from a timestamp. Keys sort
// lexicographically in chronological order.
func PeriodKey(t time.Time, period Period) string {
	t = t.UTC()
	switch period {
	case PeriodWeek:
		offset := (int(t.Weekday()) + 6) % 7
		monday := time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, time.UTC)
		return monday.Format("2006-01-02")
	case PeriodQuarter:
		return fmt.Sprintf("%d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
	default:
		return t.Format("2006-01")
	}
}

// GroupByPeriod computes count and mean price / price per m² per period
func GroupByPeriod(rows []models.PropertyMetrics, period Period) []models.TrendPoint {
	type group struct {
		count  int
		prices []float64
		ppsqm  []float64
	}
	groups := make(map[string]*group)
	for _, row := range rows {
		key := PeriodKey(row.ScrapedAt, period)
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
		}
		g.count++
		g.prices = appendPresent(g.prices, row.Price)
		g.ppsqm = appendPresent(g.ppsqm, row.PricePerSqm)
	}

	points := make([]models.TrendPoint, 0, len(groups))
	for key, g := range groups {
		points = append(points, models.TrendPoint{
			Period:         key,
			ListingsCount:  g.count,
			AvgPrice:       round(Mean(g.prices), 2),
			AvgPricePerSqm: round(Mean(g.ppsqm), 2),
		})
	}
	slices.SortFunc(points, func(a, b models.TrendPoint) int {
		return strings.Compare(a.Period, b.Period)
	})
	return points
}

func round(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
