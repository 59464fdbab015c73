package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"immostats/internal/models"
)

// KmPerDegree is the equirectangular approximation used for pruning
const KmPerDegree = 111.0

// ValidCoordinate reports whether lat/lng are inside WGS84 ranges
func ValidCoordinate(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180 &&
		!math.IsNaN(lat) && !math.IsNaN(lng)
}

// SearchBounds returns the rectangles that together contain every point
// within radiusKm of the center. A circle crossing the antimeridian yields two
// rectangles, one on each side; a circle reaching a pole spans all longitudes.
func SearchBounds(lat, lng, radiusKm float64) []orb.Bound {
	latDelta := radiusKm / KmPerDegree
	minLat := math.Max(-90, lat-latDelta)
	maxLat := math.Min(90, lat+latDelta)

	lngDelta := longitudeSpan(lat, radiusKm)
	if lngDelta >= 180 || minLat == -90 || maxLat == 90 {
		return []orb.Bound{{Min: orb.Point{-180, minLat}, Max: orb.Point{180, maxLat}}}
	}

	west, east := lng-lngDelta, lng+lngDelta
	switch {
	case west < -180:
		return []orb.Bound{
			{Min: orb.Point{west + 360, minLat}, Max: orb.Point{180, maxLat}},
			{Min: orb.Point{-180, minLat}, Max: orb.Point{east, maxLat}},
		}
	case east > 180:
		return []orb.Bound{
			{Min: orb.Point{west, minLat}, Max: orb.Point{180, maxLat}},
			{Min: orb.Point{-180, minLat}, Max: orb.Point{east - 360, maxLat}},
		}
	}
	return []orb.Bound{{Min: orb.Point{west, minLat}, Max: orb.Point{east, maxLat}}}
}

// longitudeSpan is the half-width in degrees of the search rectangle: the
// larger of the equirectangular estimate and the exact spherical extent
// asin(sin d / cos lat), or 180 when the circle contains a pole.
func longitudeSpan(lat, radiusKm float64) float64 {
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 1e-9 {
		return 180
	}
	ratio := math.Sin(radiusKm*1000/orb.EarthRadius) / cosLat
	if ratio >= 1 {
		return 180
	}
	exact := math.Asin(ratio) * 180 / math.Pi
	return math.Min(180, math.Max(radiusKm/(KmPerDegree*cosLat), exact))
}

// ContainsAny reports whether p falls inside one of the bounds
func ContainsAny(bounds []orb.Bound, p orb.Point) bool {
	for _, b := range bounds {
		if b.Contains(p) {
			return true
		}
	}
	return false
}

// HaversineKm is the great-circle distance between two points in kilometers
func HaversineKm(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b) / 1000
}

// PointOf returns the property location as an orb point (lng, lat)
func PointOf(p *models.Property) (orb.Point, bool) {
	if !p.HasCoordinates() {
		return orb.Point{}, false
	}
	return orb.Point{*p.Longitude, *p.Latitude}, true
}

// FeatureCollection renders nearby properties as GeoJSON points
func FeatureCollection(properties []models.NearbyProperty) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := range properties {
		p := &properties[i]
		point, ok := PointOf(&p.Property)
		if !ok {
			continue
		}

		feature := geojson.NewFeature(point)
		feature.ID = p.ID
		feature.Properties = geojson.Properties{
			"external_id":      p.ExternalID,
			"city":             p.City,
			"postal_code":      p.PostalCode,
			"property_type":    p.PropertyType,
			"transaction_type": p.TransactionType,
			"title":            p.Title,
			"distance_km":      p.DistanceKm,
		}
		if p.Price != nil {
			feature.Properties["price"] = *p.Price
		}
		if p.Surface != nil {
			feature.Properties["surface"] = *p.Surface
		}
		if p.PricePerSqm != nil {
			feature.Properties["price_per_sqm"] = *p.PricePerSqm
		}
		fc.Append(feature)
	}
	return fc
}
