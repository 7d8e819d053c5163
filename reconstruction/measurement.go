package reconstruction

import "github.com/golang/geo/r3"

// Measurement is an optional value with explicit presence.
type Measurement[T any] struct {
	value T
	has   bool
}

// NewMeasurement returns a measurement holding v.
func NewMeasurement[T any](v T) Measurement[T] {
	return Measurement[T]{value: v, has: true}
}

// HasValue reports whether a value is set.
func (m Measurement[T]) HasValue() bool {
	return m.has
}

// Value returns the value, the zero value when unset.
func (m Measurement[T]) Value() T {
	return m.value
}

// SetValue stores v.
func (m *Measurement[T]) SetValue(v T) {
	m.value = v
	m.has = true
}

// Reset clears the value.
func (m *Measurement[T]) Reset() {
	var zero T
	m.value = zero
	m.has = false
}

// ShotMeasurements is the capture metadata of a shot. GPSPosition is topocentric.
type ShotMeasurements struct {
	GPSPosition     Measurement[r3.Vector]
	GPSAccuracy     Measurement[float64]
	OrientationTag  Measurement[int]
	CaptureTime     Measurement[float64]
	CompassAngle    Measurement[float64]
	CompassAccuracy Measurement[float64]
	SequenceKey     Measurement[string]
}
