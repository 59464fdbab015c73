package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"immostats/config"
	"immostats/internal/models"
	"immostats/internal/source"
)

// Domain bounds. Values outside are spurious transactions and are dropped.
const (
	MinPrice   = 10_000.0
	MaxPrice   = 50_000_000.0
	MinSurface = 9.0
	MaxSurface = 1_000.0
)

// Reject reasons, also used as metric labels
const (
	ReasonMissingPriceAndSurface = "missing_price_and_surface"
	ReasonInvalidPrice           = "invalid_price"
	ReasonInvalidSurface         = "invalid_surface"
	ReasonPriceOutOfRange        = "price_out_of_range"
	ReasonSurfaceOutOfRange      = "surface_out_of_range"
	ReasonMalformedRecord        = "malformed_record"
)

// ErrRejected is matched by every RejectError
var ErrRejected = errors.New("record rejected")

// RejectError means no entity was produced for a raw record
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("record rejected: %s", e.Reason)
}

func (e *RejectError) Is(target error) bool {
	return target == ErrRejected
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "02/01/2006"}

var typeLabels = map[models.PropertyType]string{
	models.PropertyTypeApartment: "Apartment",
	models.PropertyTypeHouse:     "House",
	models.PropertyTypeStudio:    "Studio",
	models.PropertyTypeLoft:      "Loft",
	models.PropertyTypeLand:      "Land",
	models.PropertyTypeOther:     "Property",
}

// Normalizer maps raw feed records onto Property entities for one source
type Normalizer struct {
	source string
}

func New(sourceName string) *Normalizer {
	return &Normalizer{source: sourceName}
}

// Normalize converts one raw record. It has no side effects and the same
// input always yields the same ExternalID.
func (n *Normalizer) Normalize(raw source.RawRecord, scrapedAt time.Time) (*models.Property, error) {
	if raw.DecodeErr != nil {
		return nil, &RejectError{Reason: ReasonMalformedRecord}
	}
	if !raw.Price.Present() && !raw.Surface.Present() {
		return nil, &RejectError{Reason: ReasonMissingPriceAndSurface}
	}

	price, err := parseOptionalFloat(raw.Price)
	if err != nil {
		return nil, &RejectError{Reason: ReasonInvalidPrice}
	}
	surface, err := parseOptionalFloat(raw.Surface)
	if err != nil {
		return nil, &RejectError{Reason: ReasonInvalidSurface}
	}
	if price != nil && (*price < MinPrice || *price > MaxPrice) {
		return nil, &RejectError{Reason: ReasonPriceOutOfRange}
	}
	if surface != nil && (*surface < MinSurface || *surface > MaxSurface) {
		return nil, &RejectError{Reason: ReasonSurfaceOutOfRange}
	}

	property := &models.Property{
		ExternalID:      n.externalID(raw),
		Source:          n.source,
		ScrapedAt:       scrapedAt.UTC(),
		PublishedAt:     parseDate(raw.MutationDate),
		Price:           price,
		Surface:         surface,
		Rooms:           parseOptionalInt(raw.Rooms),
		Bedrooms:        parseOptionalInt(raw.Bedrooms),
		PropertyType:    MapPropertyType(raw.LocalType),
		TransactionType: MapTransactionType(raw.MutationNature),
		City:            strings.TrimSpace(raw.City),
		PostalCode:      normalizePostalCode(raw.PostalCode.String()),
		Description:     strings.TrimSpace(raw.Description),
		URL:             strings.TrimSpace(raw.URL),
	}

	if price != nil && surface != nil {
		ppsqm := math.Round(*price / *surface)
		property.PricePerSqm = &ppsqm
	}

	property.Department = config.NormalizeDepartment(raw.Department.String())
	if property.Department == "" {
		property.Department = config.DepartmentFromPostalCode(property.PostalCode)
	}
	property.Region = config.RegionForDepartment(property.Department)

	lat := parseCoordinate(raw.Latitude, 90)
	lng := parseCoordinate(raw.Longitude, 180)
	if lat != nil && lng != nil {
		property.Latitude, property.Longitude = lat, lng
	}

	property.Title = strings.TrimSpace(raw.Title)
	if property.Title == "" {
		property.Title = synthesizeTitle(property)
	}

	for _, image := range raw.Images {
		if image = strings.TrimSpace(image); image != "" {
			property.ImageURLs = append(property.ImageURLs, image)
		}
	}

	return property, nil
}

func (n *Normalizer) externalID(raw source.RawRecord) string {
	id := strings.TrimSpace(raw.MutationID)
	if id != "" {
		if parcel := strings.TrimSpace(raw.ParcelID); parcel != "" {
			return fmt.Sprintf("%s:%s:%s", n.source, id, parcel)
		}
		return fmt.Sprintf("%s:%s", n.source, id)
	}

	composite := strings.Join([]string{
		strings.TrimSpace(raw.MutationDate),
		raw.PostalCode.String(),
		raw.Price.String(),
		raw.Surface.String(),
		strings.TrimSpace(raw.LocalType),
		raw.Latitude.String(),
		raw.Longitude.String(),
		strings.ToLower(strings.TrimSpace(raw.City)),
	}, "|")
	sum := sha256.Sum256([]byte(composite))
	return fmt.Sprintf("%s:h:%s", n.source, hex.EncodeToString(sum[:])[:16])
}

// MapPropertyType maps a source category to the canonical enum. Unmapped
// values fall back to other.
func MapPropertyType(localType string) models.PropertyType {
	switch strings.ToLower(strings.TrimSpace(localType)) {
	case "appartement", "apartment", "flat":
		return models.PropertyTypeApartment
	case "maison", "house":
		return models.PropertyTypeHouse
	case "studio":
		return models.PropertyTypeStudio
	case "loft":
		return models.PropertyTypeLoft
	case "terrain", "land":
		return models.PropertyTypeLand
	default:
		return models.PropertyTypeOther
	}
}

// MapTransactionType maps a mutation nature. The reference feed publishes
// sales, so anything unrecognised is a sale.
func MapTransactionType(nature string) models.TransactionType {
	value := strings.ToLower(strings.TrimSpace(nature))
	switch {
	case strings.HasPrefix(value, "location"), strings.HasPrefix(value, "rent"):
		return models.TransactionTypeRental
	default:
		return models.TransactionTypeSale
	}
}

// ParseDecimal accepts both "1234.5" and "1 234,5"
func ParseDecimal(value string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f':
			return -1
		case ',':
			return '.'
		}
		return r
	}, strings.TrimSpace(value))

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %q", value)
	}
	return f, nil
}

func parseOptionalFloat(value source.RawValue) (*float64, error) {
	if !value.Present() {
		return nil, nil
	}
	f, err := ParseDecimal(value.String())
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func parseOptionalInt(value source.RawValue) *int {
	if !value.Present() {
		return nil
	}
	f, err := ParseDecimal(value.String())
	if err != nil || f < 0 || f != math.Trunc(f) {
		return nil
	}
	i := int(f)
	return &i
}

func parseCoordinate(value source.RawValue, limit float64) *float64 {
	if !value.Present() {
		return nil
	}
	f, err := ParseDecimal(value.String())
	if err != nil || f < -limit || f > limit {
		return nil
	}
	return &f
}

func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func normalizePostalCode(value string) string {
	pc := strings.TrimSpace(value)
	if len(pc) == 4 {
		if _, err := strconv.Atoi(pc); err == nil {
			pc = "0" + pc
		}
	}
	return pc
}

func synthesizeTitle(p *models.Property) string {
	title := typeLabels[p.PropertyType]
	if p.Surface != nil {
		title += " " + strconv.FormatFloat(*p.Surface, 'f', -1, 64) + " m²"
	}
	if p.City != "" {
		title += " - " + p.City
	}
	return title
}
