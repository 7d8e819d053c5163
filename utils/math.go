package utils

import (
	"hash/fnv"
	"math"
	"math/rand"
)

// DegToRad converts degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(radians float64) float64 {
	return radians * 180 / math.Pi
}

// Float64AlmostEqual compares two floats with an absolute tolerance.
func Float64AlmostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) <= epsilon
}

// IsFinite reports whether none of the values is NaN or infinite.
func IsFinite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// SeededRand returns a random source seeded from the base seed and the given keys, so that
// work keyed by the same names draws the same numbers regardless of scheduling.
func SeededRand(seed int64, keys ...string) *rand.Rand {
	h := fnv.New64a()
	for _, k := range keys {
		//nolint:errcheck
		h.Write([]byte(k))
		//nolint:errcheck
		h.Write([]byte{0})
	}
	//nolint:gosec
	return rand.New(rand.NewSource(seed ^ int64(h.Sum64())))
}
