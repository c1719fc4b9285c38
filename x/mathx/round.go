package mathx

import "math"

// RoundTenths rounds v to one decimal place, half away from zero.
func RoundTenths(v float64) float64 {
	return math.Round(v*10) / 10
}

// Percent returns part/whole as an integer percentage clamped to [0, 100].
func Percent(part, whole int64) int {
	if whole <= 0 {
		return 100
	}
	return int(Clamp(part*100/whole, 0, 100))
}
