package market

import (
	"errors"
	"fmt"
)

// PredictionInput is one feature row sent to the prediction service.
type PredictionInput struct {
	SquareFootage        float64 `json:"square_footage"`
	Bedrooms             int     `json:"bedrooms"`
	Bathrooms            float64 `json:"bathrooms"`
	YearBuilt            int     `json:"year_built"`
	LotSize              float64 `json:"lot_size"`
	DistanceToCityCenter float64 `json:"distance_to_city_center"`
	SchoolRating         float64 `json:"school_rating"`
}

// ErrInvalidInput marks a prediction input rejected before any request is made.
var ErrInvalidInput = errors.New("invalid prediction input")

// Validate checks the value ranges the prediction service accepts.
func (in PredictionInput) Validate() error {
	switch {
	case in.SquareFootage <= 0:
		return fmt.Errorf("%w: square_footage must be positive", ErrInvalidInput)
	case in.Bedrooms < 0:
		return fmt.Errorf("%w: bedrooms must be non-negative", ErrInvalidInput)
	case in.Bathrooms < 0:
		return fmt.Errorf("%w: bathrooms must be non-negative", ErrInvalidInput)
	case in.YearBuilt < 0:
		return fmt.Errorf("%w: year_built must be non-negative", ErrInvalidInput)
	case in.LotSize < 0:
		return fmt.Errorf("%w: lot_size must be non-negative", ErrInvalidInput)
	case in.DistanceToCityCenter < 0:
		return fmt.Errorf("%w: distance_to_city_center must be non-negative", ErrInvalidInput)
	case in.SchoolRating < 0 || in.SchoolRating > 10:
		return fmt.Errorf("%w: school_rating must be between 0 and 10", ErrInvalidInput)
	}
	return nil
}

// InputFromProperty builds a prediction row from an observed record.
func InputFromProperty(p Property) PredictionInput {
	return PredictionInput{
		SquareFootage:        p.SquareFootage,
		Bedrooms:             p.Bedrooms,
		Bathrooms:            p.Bathrooms,
		YearBuilt:            p.YearBuilt,
		LotSize:              p.LotSize,
		DistanceToCityCenter: p.DistanceToCityCenter,
		SchoolRating:         p.SchoolRating,
	}
}
