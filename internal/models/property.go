package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PropertyType string

const (
	PropertyTypeApartment PropertyType = "apartment"
	PropertyTypeHouse     PropertyType = "house"
	PropertyTypeStudio    PropertyType = "studio"
	PropertyTypeLoft      PropertyType = "loft"
	PropertyTypeLand      PropertyType = "land"
	PropertyTypeOther     PropertyType = "other"
)

type TransactionType string

const (
	TransactionTypeSale   TransactionType = "sale"
	TransactionTypeRental TransactionType = "rental"
)

// Property is the canonical entity. ExternalID is the deduplication key.
type Property struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	ExternalID  string     `gorm:"type:varchar(128);not null;uniqueIndex" json:"external_id"`
	Source      string     `gorm:"type:varchar(32);not null;index" json:"source"`
	ScrapedAt   time.Time  `gorm:"not null;index" json:"scraped_at"`
	PublishedAt *time.Time `json:"published_at"`

	Price       *float64 `json:"price"`
	PricePerSqm *float64 `json:"price_per_sqm"`
	Surface     *float64 `json:"surface"`
	Rooms       *int     `json:"rooms"`
	Bedrooms    *int     `json:"bedrooms"`

	PropertyType    PropertyType    `gorm:"type:varchar(16);not null;index" json:"property_type"`
	TransactionType TransactionType `gorm:"type:varchar(16);not null;index" json:"transaction_type"`

	City       string   `gorm:"index" json:"city"`
	PostalCode string   `gorm:"type:varchar(10);index" json:"postal_code"`
	Department string   `gorm:"type:varchar(3);index" json:"department"`
	Region     string   `json:"region"`
	Latitude   *float64 `gorm:"index:idx_properties_coordinates" json:"latitude"`
	Longitude  *float64 `gorm:"index:idx_properties_coordinates" json:"longitude"`

	Title       string                      `json:"title"`
	Description string                      `json:"description"`
	URL         string                      `json:"url"`
	ImageURLs   datatypes.JSONSlice[string] `gorm:"column:image_urls" json:"image_urls"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (Property) TableName() string {
	return "properties"
}

// BeforeCreate assigns the internal id
func (p *Property) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// HasCoordinates reports whether both latitude and longitude are set
func (p *Property) HasCoordinates() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// PropertyFilter narrows aggregation queries. Empty fields are ignored.
type PropertyFilter struct {
	City            string          `form:"city" json:"city,omitempty"`
	PostalCode      string          `form:"postal_code" json:"postal_code,omitempty"`
	Department      string          `form:"department" json:"department,omitempty"`
	PropertyType    PropertyType    `form:"property_type" binding:"omitempty,oneof=apartment house studio loft land other" json:"property_type,omitempty"`
	TransactionType TransactionType `form:"transaction_type" binding:"omitempty,oneof=sale rental" json:"transaction_type,omitempty"`
}

// PropertyMetrics is the projection the aggregation engine works on
type PropertyMetrics struct {
	City        string
	Price       *float64
	PricePerSqm *float64
	Surface     *float64
	ScrapedAt   time.Time
}
