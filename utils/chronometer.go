package utils

import "time"

// Lap is a named interval measured by a Chronometer.
type Lap struct {
	Name     string
	Duration time.Duration
}

// Chronometer records consecutive named laps since its start.
type Chronometer struct {
	start time.Time
	last  time.Time
	laps  []Lap
	now   func() time.Time
}

// NewChronometer returns a started Chronometer.
func NewChronometer() *Chronometer {
	c := &Chronometer{now: time.Now}
	c.Start()
	return c
}

// Start resets the chronometer.
func (c *Chronometer) Start() {
	c.start = c.now()
	c.last = c.start
	c.laps = nil
}

// Lap closes the current interval under the given name.
func (c *Chronometer) Lap(name string) {
	t := c.now()
	c.laps = append(c.laps, Lap{Name: name, Duration: t.Sub(c.last)})
	c.last = t
}

// LapTime returns the duration of the last lap with the given name.
func (c *Chronometer) LapTime(name string) (time.Duration, bool) {
	for i := len(c.laps) - 1; i >= 0; i-- {
		if c.laps[i].Name == name {
			return c.laps[i].Duration, true
		}
	}
	return 0, false
}

// Laps returns the recorded laps in order.
func (c *Chronometer) Laps() []Lap {
	return append([]Lap(nil), c.laps...)
}

// LapSeconds returns the laps as a name to seconds map, suitable for reports.
func (c *Chronometer) LapSeconds() map[string]float64 {
	out := make(map[string]float64, len(c.laps))
	for _, lap := range c.laps {
		out[lap.Name] = lap.Duration.Seconds()
	}
	return out
}

// TotalTime is the time between the start and the last lap.
func (c *Chronometer) TotalTime() time.Duration {
	return c.last.Sub(c.start)
}
