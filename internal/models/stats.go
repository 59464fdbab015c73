package models

import "time"

// FieldStats summarizes one numeric column
type FieldStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	Median float64 `json:"median"`
}

// MarketStats is returned by the market statistics query. NoData is set
// when the filter matches zero rows.
type MarketStats struct {
	NoData      bool        `json:"no_data"`
	Count       int         `json:"count"`
	Price       *FieldStats `json:"price"`
	PricePerSqm *FieldStats `json:"price_per_sqm"`
	Surface     *FieldStats `json:"surface"`
}

type CityRanking struct {
	City           string  `json:"city"`
	ListingsCount  int     `json:"listings_count"`
	AvgPrice       float64 `json:"avg_price"`
	AvgPricePerSqm float64 `json:"avg_price_per_sqm"`
	AvgSurface     float64 `json:"avg_surface"`
}

type PriceBucket struct {
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type PriceDistribution struct {
	NoData  bool          `json:"no_data"`
	Total   int           `json:"total"`
	Min     float64       `json:"min"`
	Max     float64       `json:"max"`
	Buckets []PriceBucket `json:"buckets"`
}

type TrendPoint struct {
	Period         string  `json:"period"`
	ListingsCount  int     `json:"listings_count"`
	AvgPrice       float64 `json:"avg_price"`
	AvgPricePerSqm float64 `json:"avg_price_per_sqm"`
}

type NearbyProperty struct {
	Property
	DistanceKm float64 `json:"distance_km"`
}

// IngestionSummary is the outcome of one ingestion run
type IngestionSummary struct {
	Fetched          int       `json:"fetched"`
	Saved            int       `json:"saved"`
	Failed           int       `json:"failed"`
	Rejected         int       `json:"rejected"`
	FailedPartitions int       `json:"failed_partitions"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}
