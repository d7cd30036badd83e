package ml

import (
	"errors"
	"fmt"
	"time"
)

// HouseRecord is a validated set of raw house attributes.
type HouseRecord struct {
	Sqft      float64 `json:"sqft"`
	Bedrooms  int     `json:"bedrooms"`
	Bathrooms float64 `json:"bathrooms"`
	Location  string  `json:"location"`
	YearBuilt int     `json:"year_built"`
	Condition string  `json:"condition"`
}

const (
	ColumnSqft         = "sqft"
	ColumnBedrooms     = "bedrooms"
	ColumnBathrooms    = "bathrooms"
	ColumnYearBuilt    = "year_built"
	ColumnHouseAge     = "house_age"
	ColumnBedBathRatio = "bed_bath_ratio"
	ColumnCondition    = "condition"

	locationColumnPrefix = "location_"
)

// Layout is the column order shared by the engineer and the artifacts.
// Numeric columns come first, then one-hot location columns in configured
// order, then the ordinal condition rank.
type Layout struct {
	locations  []string
	conditions []string
	names      []string
}

func NewLayout(locations, conditions []string) (Layout, error) {
	if len(locations) == 0 {
		return Layout{}, errors.New("locations is empty")
	}
	if len(conditions) == 0 {
		return Layout{}, errors.New("conditions is empty")
	}
	if dup, ok := firstDuplicate(locations); ok {
		return Layout{}, fmt.Errorf("duplicate location %q", dup)
	}
	if dup, ok := firstDuplicate(conditions); ok {
		return Layout{}, fmt.Errorf("duplicate condition %q", dup)
	}

	names := []string{
		ColumnSqft,
		ColumnBedrooms,
		ColumnBathrooms,
		ColumnYearBuilt,
		ColumnHouseAge,
		ColumnBedBathRatio,
	}
	for _, loc := range locations {
		names = append(names, locationColumnPrefix+loc)
	}
	names = append(names, ColumnCondition)

	return Layout{
		locations:  append([]string(nil), locations...),
		conditions: append([]string(nil), conditions...),
		names:      names,
	}, nil
}

func (l Layout) Names() []string {
	return append([]string(nil), l.names...)
}

func (l Layout) Width() int {
	return len(l.names)
}

func (l Layout) Locations() []string {
	return append([]string(nil), l.locations...)
}

// Conditions returns the ordinal set ordered worst to best.
func (l Layout) Conditions() []string {
	return append([]string(nil), l.conditions...)
}

func (l Layout) locationIndex(location string) (int, bool) {
	for i, loc := range l.locations {
		if loc == location {
			return i, true
		}
	}
	return -1, false
}

func (l Layout) conditionRank(condition string) (int, bool) {
	for i, c := range l.conditions {
		if c == condition {
			return i, true
		}
	}
	return -1, false
}

func firstDuplicate(values []string) (string, bool) {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			return v, true
		}
		seen[v] = struct{}{}
	}
	return "", false
}

// FeatureVector is an engineered, encoded house record. The encoded values
// are only reachable through copies.
type FeatureVector struct {
	Record       HouseRecord
	HouseAge     int
	BedBathRatio float64
	// RatioDefined is false when bathrooms is zero; BedBathRatio then holds
	// the zero sentinel.
	RatioDefined bool

	values []float64
}

func (v FeatureVector) Values() []float64 {
	return append([]float64(nil), v.values...)
}

func (v FeatureVector) Len() int {
	return len(v.values)
}

// Engineer derives computed features and encodes a record into a layout.
type Engineer struct {
	layout Layout
	now    func() time.Time
}

func NewEngineer(layout Layout, now func() time.Time) *Engineer {
	if now == nil {
		now = time.Now
	}
	return &Engineer{layout: layout, now: now}
}

func (e *Engineer) Layout() Layout {
	return e.layout
}

// Engineer expects a validated record. Unknown categories encode as all-zero
// location columns and a condition rank of -1.
func (e *Engineer) Engineer(record HouseRecord) FeatureVector {
	age := CalculateHouseAge(e.now().Year(), record.YearBuilt)
	ratio, defined := CalculateBedBathRatio(record.Bedrooms, record.Bathrooms)

	values := make([]float64, 0, e.layout.Width())
	values = append(values,
		record.Sqft,
		float64(record.Bedrooms),
		record.Bathrooms,
		float64(record.YearBuilt),
		float64(age),
		ratio,
	)
	locIdx, _ := e.layout.locationIndex(record.Location)
	values = append(values, OneHot(locIdx, len(e.layout.locations))...)
	rank, _ := e.layout.conditionRank(record.Condition)
	values = append(values, float64(rank))

	return FeatureVector{
		Record:       record,
		HouseAge:     age,
		BedBathRatio: ratio,
		RatioDefined: defined,
		values:       values,
	}
}
