package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"immostats/internal/geometry"
	"immostats/internal/models"
)

var (
	ErrInvalidBuckets     = errors.New("buckets must be between 5 and 20")
	ErrInvalidPeriod      = errors.New("period must be one of week, month, quarter")
	ErrInvalidOrder       = errors.New("order must be asc or desc")
	ErrInvalidLimit       = errors.New("limit out of range")
	ErrInvalidRadius      = errors.New("radius must be positive and at most 200 km")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

const (
	MinBuckets       = 5
	MaxBuckets       = 20
	MaxCityLimit     = 100
	MaxRadiusKm      = 200.0
	DefaultNearLimit = 50
	MaxNearLimit     = 500
)

// Reader is the read side of the property store
type Reader interface {
	ListMetrics(ctx context.Context, filter models.PropertyFilter) ([]models.PropertyMetrics, error)
	CityAverages(ctx context.Context, filter models.PropertyFilter, descending bool, limit int) ([]models.CityRanking, error)
	PropertiesInBounds(ctx context.Context, filter models.PropertyFilter, minLat, maxLat, minLng, maxLng float64) ([]models.Property, error)
}

// Engine computes market statistics over the persisted properties.
// It holds no state of its own.
type Engine struct {
	reader Reader
	logger *logrus.Logger
}

func NewEngine(reader Reader, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Engine{reader: reader, logger: logger}
}

// MarketStats returns count plus min/max/avg/median of price, price per m²
// and surface. A filter matching nothing yields NoData, not an error.
func (e *Engine) MarketStats(ctx context.Context, filter models.PropertyFilter) (*models.MarketStats, error) {
	rows, err := e.reader.ListMetrics(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load market metrics: %w", err)
	}
	if len(rows) == 0 {
		return &models.MarketStats{NoData: true}, nil
	}

	var prices, ppsqm, surfaces []float64
	for _, row := range rows {
		prices = appendPresent(prices, row.Price)
		ppsqm = appendPresent(ppsqm, row.PricePerSqm)
		surfaces = appendPresent(surfaces, row.Surface)
	}

	return &models.MarketStats{
		Count:       len(rows),
		Price:       Summarize(prices),
		PricePerSqm: Summarize(ppsqm),
		Surface:     Summarize(surfaces),
	}, nil
}

// CityRanking orders cities by mean price per m²
func (e *Engine) CityRanking(ctx context.Context, filter models.PropertyFilter, order string, limit int) ([]models.CityRanking, error) {
	var descending bool
	switch order {
	case "desc", "":
		descending = true
	case "asc":
	default:
		return nil, ErrInvalidOrder
	}
	if limit < 1 || limit > MaxCityLimit {
		return nil, ErrInvalidLimit
	}

	rankings, err := e.reader.CityAverages(ctx, filter, descending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to rank cities: %w", err)
	}
	for i := range rankings {
		rankings[i].AvgPrice = round(rankings[i].AvgPrice, 2)
		rankings[i].AvgPricePerSqm = round(rankings[i].AvgPricePerSqm, 2)
		rankings[i].AvgSurface = round(rankings[i].AvgSurface, 2)
	}
	return rankings, nil
}

// PriceDistribution buckets the filtered prices into equal-width intervals
func (e *Engine) PriceDistribution(ctx context.Context, filter models.PropertyFilter, buckets int) (*models.PriceDistribution, error) {
	if buckets < MinBuckets || buckets > MaxBuckets {
		return nil, ErrInvalidBuckets
	}

	rows, err := e.reader.ListMetrics(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load prices: %w", err)
	}

	var prices []float64
	for _, row := range rows {
		prices = appendPresent(prices, row.Price)
	}
	return Histogram(prices, buckets), nil
}

// Trend groups the filtered rows by period of their ingestion time
func (e *Engine) Trend(ctx context.Context, filter models.PropertyFilter, period Period) ([]models.TrendPoint, error) {
	if !period.Valid() {
		return nil, ErrInvalidPeriod
	}

	rows, err := e.reader.ListMetrics(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load trend metrics: %w", err)
	}
	return GroupByPeriod(rows, period), nil
}

// NearbyQuery selects properties around a center point
type NearbyQuery struct {
	Latitude  float64
	Longitude float64
	RadiusKm  float64
	Limit     int
	Filter    models.PropertyFilter
}

// Nearby prunes candidates with a bounding box, then keeps the ones whose
// great-circle distance is within the radius, closest first
func (e *Engine) Nearby(ctx context.Context, query NearbyQuery) ([]models.NearbyProperty, error) {
	if !geometry.ValidCoordinate(query.Latitude, query.Longitude) {
		return nil, ErrInvalidCoordinates
	}
	if math.IsNaN(query.RadiusKm) || query.RadiusKm <= 0 || query.RadiusKm > MaxRadiusKm {
		return nil, ErrInvalidRadius
	}
	limit := query.Limit
	if limit == 0 {
		limit = DefaultNearLimit
	}
	if limit < 1 || limit > MaxNearLimit {
		return nil, ErrInvalidLimit
	}

	var candidates []models.Property
	seen := make(map[string]bool)
	for _, bound := range geometry.SearchBounds(query.Latitude, query.Longitude, query.RadiusKm) {
		rows, err := e.reader.PropertiesInBounds(ctx, query.Filter,
			bound.Min.Lat(), bound.Max.Lat(), bound.Min.Lon(), bound.Max.Lon())
		if err != nil {
			return nil, fmt.Errorf("failed to load nearby candidates: %w", err)
		}
		for _, row := range rows {
			if row.ID != "" && seen[row.ID] {
				continue
			}
			seen[row.ID] = true
			candidates = append(candidates, row)
		}
	}

	center := orb.Point{query.Longitude, query.Latitude}
	results := make([]models.NearbyProperty, 0, len(candidates))
	for i := range candidates {
		point, ok := geometry.PointOf(&candidates[i])
		if !ok {
			continue
		}
		distance := geometry.HaversineKm(center, point)
		if distance > query.RadiusKm {
			continue
		}
		results = append(results, models.NearbyProperty{
			Property:   candidates[i],
			DistanceKm: round(distance, 3),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].DistanceKm < results[j].DistanceKm
	})
	if len(results) > limit {
		results = results[:limit]
	}

	e.logger.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"matched":    len(results),
		"radius_km":  query.RadiusKm,
	}).Debug("Nearby search")

	return results, nil
}

func appendPresent(values []float64, v *float64) []float64 {
	if v == nil {
		return values
	}
	return append(values, *v)
}
