package ml

import (
	"errors"
	"math"
)

// CalculateHouseAge never returns a negative age.
func CalculateHouseAge(currentYear, yearBuilt int) int {
	age := currentYear - yearBuilt
	if age < 0 {
		return 0
	}
	return age
}

// CalculateBedBathRatio returns bedrooms/bathrooms. With no bathrooms, or a
// bathroom count so small the quotient overflows, the ratio is undefined and
// the sentinel 0 is returned with ok=false.
func CalculateBedBathRatio(bedrooms int, bathrooms float64) (ratio float64, ok bool) {
	if bathrooms == 0 {
		return 0, false
	}
	ratio = float64(bedrooms) / bathrooms
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0, false
	}
	return ratio, true
}

// OneHot returns n columns with a 1 at idx; an out-of-range idx yields zeros.
func OneHot(idx, n int) []float64 {
	result := make([]float64, n)
	if idx >= 0 && idx < n {
		result[idx] = 1
	}
	return result
}

func StandardizeFeature(value, mean, scale float64) float64 {
	return (value - mean) / scale
}

// StandardizeVector writes the scaled values into dst, which must have the
// same length as values.
func StandardizeVector(dst, values, means, scales []float64) error {
	if len(values) != len(means) || len(values) != len(scales) || len(dst) != len(values) {
		return errors.New("values/means/scales length mismatch")
	}
	for i := range values {
		dst[i] = StandardizeFeature(values[i], means[i], scales[i])
	}
	return nil
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
