// Package bundle implements bundle adjustment of reconstructions.
package bundle

// WallTimes are the durations in seconds of the phases of an adjustment.
type WallTimes struct {
	Setup    float64 `json:"setup"`
	Run      float64 `json:"run"`
	Teardown float64 `json:"teardown"`
}

// Report summarizes one adjustment.
type Report struct {
	WallTimes        WallTimes `json:"wall_times"`
	NumImages        int       `json:"num_images"`
	NumPoints        int       `json:"num_points"`
	NumReprojections int       `json:"num_reprojections"`
	BriefReport      string    `json:"brief_report"`
}
