// Package market holds the housing-market records exchanged with the upstream
// services, the bundled fallback dataset and the statistics the dashboard reports.
package market

import (
	"encoding/json"
	"fmt"
)

// Property is one housing record as served by the market-analysis upstream.
type Property struct {
	ID                   int     `json:"id"`
	SquareFootage        float64 `json:"square_footage"`
	Bedrooms             int     `json:"bedrooms"`
	Bathrooms            float64 `json:"bathrooms"`
	YearBuilt            int     `json:"year_built"`
	LotSize              float64 `json:"lot_size"`
	DistanceToCityCenter float64 `json:"distance_to_city_center"`
	SchoolRating         float64 `json:"school_rating"`
	Price                float64 `json:"price"`
}

// propertyWire accepts both the snake_case and camelCase spellings that
// upstream deployments have used.
type propertyWire struct {
	ID       *float64 `json:"id"`
	Bedrooms *float64 `json:"bedrooms"`
	Bathroom *float64 `json:"bathrooms"`
	Price    *float64 `json:"price"`

	SquareFootage        *float64 `json:"square_footage"`
	SquareFootageCamel   *float64 `json:"squareFootage"`
	YearBuilt            *float64 `json:"year_built"`
	YearBuiltCamel       *float64 `json:"yearBuilt"`
	LotSize              *float64 `json:"lot_size"`
	LotSizeCamel         *float64 `json:"lotSize"`
	DistanceToCityCenter *float64 `json:"distance_to_city_center"`
	DistanceCamel        *float64 `json:"distanceToCityCenter"`
	SchoolRating         *float64 `json:"school_rating"`
	SchoolRatingCamel    *float64 `json:"schoolRating"`
}

// UnmarshalJSON decodes a record written with either key style. The camelCase
// value wins when it is present and non-zero. An explicit camelCase 0 counts as
// absent, so {"squareFootage":0,"square_footage":1200} decodes to 1200. Missing
// fields decode as zero.
func (p *Property) UnmarshalJSON(data []byte) error {
	var w propertyWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode property: %w", err)
	}

	*p = Property{
		ID:                   int(first(w.ID)),
		SquareFootage:        first(w.SquareFootageCamel, w.SquareFootage),
		Bedrooms:             int(first(w.Bedrooms)),
		Bathrooms:            first(w.Bathroom),
		YearBuilt:            int(first(w.YearBuiltCamel, w.YearBuilt)),
		LotSize:              first(w.LotSizeCamel, w.LotSize),
		DistanceToCityCenter: first(w.DistanceCamel, w.DistanceToCityCenter),
		SchoolRating:         first(w.SchoolRatingCamel, w.SchoolRating),
		Price:                first(w.Price),
	}
	return nil
}

// first returns the first present, non-zero value. Zero is treated as unset,
// matching how upstream records leave unknown measurements at 0.
func first(values ...*float64) float64 {
	for _, v := range values {
		if v != nil && *v != 0 {
			return *v
		}
	}
	return 0
}

// AssignIDs numbers records that arrived without an id by their position (1-based).
func AssignIDs(props []Property) {
	for i := range props {
		if props[i].ID == 0 {
			props[i].ID = i + 1
		}
	}
}
