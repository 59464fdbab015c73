package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"immostats/internal/geometry"
	"immostats/internal/models"
	"immostats/internal/scheduler"
	"immostats/internal/stats"
)

// StatsService is the aggregation engine as seen by the handlers
type StatsService interface {
	MarketStats(ctx context.Context, filter models.PropertyFilter) (*models.MarketStats, error)
	CityRanking(ctx context.Context, filter models.PropertyFilter, order string, limit int) ([]models.CityRanking, error)
	PriceDistribution(ctx context.Context, filter models.PropertyFilter, buckets int) (*models.PriceDistribution, error)
	Trend(ctx context.Context, filter models.PropertyFilter, period stats.Period) ([]models.TrendPoint, error)
	Nearby(ctx context.Context, query stats.NearbyQuery) ([]models.NearbyProperty, error)
}

// IngestionController is the scheduler as seen by the handlers
type IngestionController interface {
	TriggerRun() error
	GetStatus() scheduler.Status
}

// RetentionStore deletes rows older than a cutoff
type RetentionStore interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Handler struct {
	stats     StatsService
	ingestion IngestionController
	retention RetentionStore
	maxAge    time.Duration
	logger    *logrus.Logger
	now       func() time.Time
}

func NewHandler(statsService StatsService, ingestion IngestionController, retention RetentionStore, maxAge time.Duration, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	return &Handler{
		stats:     statsService,
		ingestion: ingestion,
		retention: retention,
		maxAge:    maxAge,
		logger:    logger,
		now:       time.Now,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) GetMarketStats(c *gin.Context) {
	filter, ok := h.bindFilter(c)
	if !ok {
		return
	}

	result, err := h.stats.MarketStats(c.Request.Context(), filter)
	if err != nil {
		h.statsError(c, err, "Failed to get market stats")
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetCityRanking(c *gin.Context) {
	filter, ok := h.bindFilter(c)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit", 10)
	if !ok {
		return
	}

	rankings, err := h.stats.CityRanking(c.Request.Context(), filter, c.DefaultQuery("order", "desc"), limit)
	if err != nil {
		h.statsError(c, err, "Failed to get city ranking")
		return
	}

	c.JSON(http.StatusOK, rankings)
}

func (h *Handler) GetPriceDistribution(c *gin.Context) {
	filter, ok := h.bindFilter(c)
	if !ok {
		return
	}
	buckets, ok := intQuery(c, "buckets", 10)
	if !ok {
		return
	}

	distribution, err := h.stats.PriceDistribution(c.Request.Context(), filter, buckets)
	if err != nil {
		h.statsError(c, err, "Failed to get price distribution")
		return
	}

	c.JSON(http.StatusOK, distribution)
}

func (h *Handler) GetTrends(c *gin.Context) {
	filter, ok := h.bindFilter(c)
	if !ok {
		return
	}

	period := stats.Period(c.DefaultQuery("period", string(stats.PeriodMonth)))
	points, err := h.stats.Trend(c.Request.Context(), filter, period)
	if err != nil {
		h.statsError(c, err, "Failed to get trends")
		return
	}

	c.JSON(http.StatusOK, points)
}

func (h *Handler) GetNearby(c *gin.Context) {
	filter, ok := h.bindFilter(c)
	if !ok {
		return
	}

	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required numbers"})
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius_km", "5"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "radius_km must be a number"})
		return
	}
	limit, ok := intQuery(c, "limit", stats.DefaultNearLimit)
	if !ok {
		return
	}
	format := c.DefaultQuery("format", "json")
	if format != "json" && format != "geojson" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json or geojson"})
		return
	}

	results, err := h.stats.Nearby(c.Request.Context(), stats.NearbyQuery{
		Latitude:  lat,
		Longitude: lng,
		RadiusKm:  radius,
		Limit:     limit,
		Filter:    filter,
	})
	if err != nil {
		h.statsError(c, err, "Failed to search nearby properties")
		return
	}

	if format == "geojson" {
		c.JSON(http.StatusOK, geometry.FeatureCollection(results))
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *Handler) TriggerIngestion(c *gin.Context) {
	if err := h.ingestion.TriggerRun(); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).Error("Failed to trigger ingestion")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to trigger ingestion"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *Handler) GetIngestionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.ingestion.GetStatus())
}

func (h *Handler) PurgeExpired(c *gin.Context) {
	cutoff := h.now().Add(-h.maxAge).UTC()
	deleted, err := h.retention.PurgeOlderThan(c.Request.Context(), cutoff)
	if err != nil {
		h.logger.WithError(err).Error("Failed to purge expired properties")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to purge expired properties"})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"cutoff":  cutoff,
		"deleted": deleted,
	}).Info("Purged expired properties")

	c.JSON(http.StatusOK, gin.H{
		"deleted": deleted,
		"cutoff":  cutoff,
	})
}

func (h *Handler) bindFilter(c *gin.Context) (models.PropertyFilter, bool) {
	var filter models.PropertyFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter parameters"})
		return filter, false
	}
	return filter, true
}

func (h *Handler) statsError(c *gin.Context, err error, message string) {
	for _, invalid := range []error{
		stats.ErrInvalidBuckets,
		stats.ErrInvalidPeriod,
		stats.ErrInvalidOrder,
		stats.ErrInvalidLimit,
		stats.ErrInvalidRadius,
		stats.ErrInvalidCoordinates,
	} {
		if errors.Is(err, invalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	h.logger.WithError(err).Error(message)
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
}

func intQuery(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an integer"})
		return 0, false
	}
	return value, true
}
