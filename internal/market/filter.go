package market

import (
	"math"
	"slices"
)

// Filters narrows a property list. Nil ranges and empty option lists match everything.
type Filters struct {
	Price         *Range `json:"price,omitempty"`
	Bedrooms      []int  `json:"bedrooms,omitempty"`
	Bathrooms     []int  `json:"bathrooms,omitempty"`
	YearBuilt     *Range `json:"yearBuilt,omitempty"`
	SquareFootage *Range `json:"squareFootage,omitempty"`
	SchoolRating  *Range `json:"schoolRating,omitempty"`
	Distance      *Range `json:"distance,omitempty"`
}

// Match reports whether p satisfies every set criterion. Bathrooms are compared floored.
func (f Filters) Match(p Property) bool {
	if f.Price != nil && !f.Price.Contains(p.Price) {
		return false
	}
	if len(f.Bedrooms) > 0 && !slices.Contains(f.Bedrooms, p.Bedrooms) {
		return false
	}
	if len(f.Bathrooms) > 0 && !slices.Contains(f.Bathrooms, int(math.Floor(p.Bathrooms))) {
		return false
	}
	if f.YearBuilt != nil && !f.YearBuilt.Contains(float64(p.YearBuilt)) {
		return false
	}
	if f.SquareFootage != nil && !f.SquareFootage.Contains(p.SquareFootage) {
		return false
	}
	if f.SchoolRating != nil && !f.SchoolRating.Contains(p.SchoolRating) {
		return false
	}
	if f.Distance != nil && !f.Distance.Contains(p.DistanceToCityCenter) {
		return false
	}
	return true
}

// Filter returns the properties matching f, preserving order.
func Filter(props []Property, f Filters) []Property {
	out := make([]Property, 0, len(props))
	for _, p := range props {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	return out
}
