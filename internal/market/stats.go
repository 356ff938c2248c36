package market

import (
	"fmt"
	"math"
	"slices"
	"sort"
)

// Stats summarizes a set of properties.
type Stats struct {
	TotalProperties         int     `json:"totalProperties"`
	AveragePrice            float64 `json:"averagePrice"`
	MedianPrice             float64 `json:"medianPrice"`
	PricePerSqFt            float64 `json:"pricePerSqFt"`
	AverageSquareFootage    float64 `json:"averageSquareFootage"`
	AverageSchoolRating     float64 `json:"averageSchoolRating"`
	AverageDistanceToCenter float64 `json:"averageDistanceToCenter"`
}

// Segment is one bucket of a property breakdown.
type Segment struct {
	Label        string  `json:"label"`
	Count        int     `json:"count"`
	AveragePrice float64 `json:"averagePrice"`
	Percentage   float64 `json:"percentage"`
}

// Range is an inclusive numeric interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// DataRanges holds the observed bounds of a dataset, used to initialise filters.
type DataRanges struct {
	Price           Range `json:"priceRange"`
	YearBuilt       Range `json:"yearBuiltRange"`
	SquareFootage   Range `json:"squareFootageRange"`
	SchoolRating    Range `json:"schoolRatingRange"`
	Distance        Range `json:"distanceRange"`
	BedroomOptions  []int `json:"bedroomOptions"`
	BathroomOptions []int `json:"bathroomOptions"`
}

// CalculateStats computes market statistics. An empty input yields all zeros.
func CalculateStats(props []Property) Stats {
	if len(props) == 0 {
		return Stats{}
	}

	prices := make([]float64, len(props))
	var totalPrice, totalSqFt, totalRating, totalDistance float64
	for i, p := range props {
		prices[i] = p.Price
		totalPrice += p.Price
		totalSqFt += p.SquareFootage
		totalRating += p.SchoolRating
		totalDistance += p.DistanceToCityCenter
	}
	sort.Float64s(prices)

	n := float64(len(props))
	stats := Stats{
		TotalProperties:         len(props),
		AveragePrice:            totalPrice / n,
		MedianPrice:             median(prices),
		AverageSquareFootage:    totalSqFt / n,
		AverageSchoolRating:     totalRating / n,
		AverageDistanceToCenter: totalDistance / n,
	}
	if totalSqFt > 0 {
		stats.PricePerSqFt = totalPrice / totalSqFt
	}
	return stats
}

// median expects sorted input.
func median(sorted []float64) float64 {
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// SegmentsByBedrooms groups properties by bedroom count, ordered by count ascending.
func SegmentsByBedrooms(props []Property) []Segment {
	groups := make(map[int][]Property)
	for _, p := range props {
		groups[p.Bedrooms] = append(groups[p.Bedrooms], p)
	}

	keys := make([]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	segments := make([]Segment, 0, len(keys))
	for _, k := range keys {
		label := fmt.Sprintf("%d Bedrooms", k)
		if k == 1 {
			label = "1 Bedroom"
		}
		segments = append(segments, newSegment(label, groups[k], len(props)))
	}
	return segments
}

var priceBands = []struct {
	min, max float64
	label    string
}{
	{0, 200000, "Under $200K"},
	{200000, 300000, "$200K - $300K"},
	{300000, 400000, "$300K - $400K"},
	{400000, math.Inf(1), "Over $400K"},
}

// SegmentsByPriceRange groups properties into fixed price bands. Empty bands are omitted.
func SegmentsByPriceRange(props []Property) []Segment {
	var segments []Segment
	for _, band := range priceBands {
		var in []Property
		for _, p := range props {
			if p.Price >= band.min && p.Price < band.max {
				in = append(in, p)
			}
		}
		if len(in) > 0 {
			segments = append(segments, newSegment(band.label, in, len(props)))
		}
	}
	return segments
}

func newSegment(label string, group []Property, total int) Segment {
	var sum float64
	for _, p := range group {
		sum += p.Price
	}
	return Segment{
		Label:        label,
		Count:        len(group),
		AveragePrice: sum / float64(len(group)),
		Percentage:   float64(len(group)) / float64(total) * 100,
	}
}

// CalculateDataRanges returns the observed bounds of props. Bathroom options are
// floored to whole numbers.
func CalculateDataRanges(props []Property) DataRanges {
	if len(props) == 0 {
		return DataRanges{}
	}

	p0 := props[0]
	r := DataRanges{
		Price:         Range{p0.Price, p0.Price},
		YearBuilt:     Range{float64(p0.YearBuilt), float64(p0.YearBuilt)},
		SquareFootage: Range{p0.SquareFootage, p0.SquareFootage},
		SchoolRating:  Range{p0.SchoolRating, p0.SchoolRating},
		Distance:      Range{p0.DistanceToCityCenter, p0.DistanceToCityCenter},
	}

	bedrooms := make(map[int]struct{})
	bathrooms := make(map[int]struct{})
	for _, p := range props {
		widen(&r.Price, p.Price)
		widen(&r.YearBuilt, float64(p.YearBuilt))
		widen(&r.SquareFootage, p.SquareFootage)
		widen(&r.SchoolRating, p.SchoolRating)
		widen(&r.Distance, p.DistanceToCityCenter)
		bedrooms[p.Bedrooms] = struct{}{}
		bathrooms[int(math.Floor(p.Bathrooms))] = struct{}{}
	}

	r.BedroomOptions = sortedKeys(bedrooms)
	r.BathroomOptions = sortedKeys(bathrooms)
	return r
}

func widen(r *Range, v float64) {
	r.Min = math.Min(r.Min, v)
	r.Max = math.Max(r.Max, v)
}

func sortedKeys(m map[int]struct{}) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
