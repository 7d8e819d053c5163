// Package tracking links pairwise feature matches into multi-view tracks and indexes them by
// image and by track.
package tracking

import (
	"image/color"
	"sort"
	"strconv"

	"github.com/golang/geo/r2"
	"github.com/samber/lo"
)

// NoSemanticValue marks an observation without segmentation or instance label.
const NoSemanticValue = -1

// Depth is a depth prior attached to an observation.
type Depth struct {
	Value        float64 `json:"value"`
	StdDeviation float64 `json:"std_deviation"`
	IsRadial     bool    `json:"is_radial"`
}

// Observation is one feature of one image belonging to a track.
type Observation struct {
	Point        r2.Point   `json:"point"`
	Scale        float64    `json:"scale"`
	Color        color.RGBA `json:"color"`
	FeatureID    int        `json:"feature_id"`
	Segmentation int        `json:"segmentation"`
	Instance     int        `json:"instance"`
	DepthPrior   *Depth     `json:"depth_prior,omitempty"`
}

// ImagePair is an unordered pair of image names stored with Im1 < Im2.
type ImagePair struct {
	Im1 string
	Im2 string
}

// NewImagePair orders the two names.
func NewImagePair(a, b string) ImagePair {
	if b < a {
		a, b = b, a
	}
	return ImagePair{Im1: a, Im2: b}
}

func (p ImagePair) String() string {
	return p.Im1 + "-" + p.Im2
}

// SortPairs sorts pairs by first then second image.
func SortPairs(pairs []ImagePair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Im1 != pairs[j].Im1 {
			return pairs[i].Im1 < pairs[j].Im1
		}
		return pairs[i].Im2 < pairs[j].Im2
	})
}

// CommonObservation is a track seen by both images of a pair.
type CommonObservation struct {
	TrackID string
	Obs1    Observation
	Obs2    Observation
}

// TracksManager is the bipartite graph of image and track observations.
type TracksManager struct {
	byShot  map[string]map[string]Observation
	byTrack map[string]map[string]Observation
}

// NewTracksManager returns an empty manager.
func NewTracksManager() *TracksManager {
	return &TracksManager{
		byShot:  map[string]map[string]Observation{},
		byTrack: map[string]map[string]Observation{},
	}
}

// AddObservation records that shotID sees trackID, replacing any previous observation.
func (tm *TracksManager) AddObservation(shotID, trackID string, obs Observation) {
	if tm.byShot[shotID] == nil {
		tm.byShot[shotID] = map[string]Observation{}
	}
	if tm.byTrack[trackID] == nil {
		tm.byTrack[trackID] = map[string]Observation{}
	}
	tm.byShot[shotID][trackID] = obs
	tm.byTrack[trackID][shotID] = obs
}

// RemoveObservation deletes the link between shotID and trackID if present.
func (tm *TracksManager) RemoveObservation(shotID, trackID string) {
	delete(tm.byShot[shotID], trackID)
	if len(tm.byShot[shotID]) == 0 {
		delete(tm.byShot, shotID)
	}
	delete(tm.byTrack[trackID], shotID)
	if len(tm.byTrack[trackID]) == 0 {
		delete(tm.byTrack, trackID)
	}
}

// NumShots returns the number of images with at least one observation.
func (tm *TracksManager) NumShots() int {
	return len(tm.byShot)
}

// NumTracks returns the number of tracks.
func (tm *TracksManager) NumTracks() int {
	return len(tm.byTrack)
}

// NumObservations returns the number of image and track links.
func (tm *TracksManager) NumObservations() int {
	n := 0
	for _, obs := range tm.byShot {
		n += len(obs)
	}
	return n
}

// ShotIDs returns the sorted image names.
func (tm *TracksManager) ShotIDs() []string {
	ids := lo.Keys(tm.byShot)
	sort.Strings(ids)
	return ids
}

// TrackIDs returns the sorted track ids.
func (tm *TracksManager) TrackIDs() []string {
	ids := lo.Keys(tm.byTrack)
	SortTrackIDs(ids)
	return ids
}

// HasShot reports whether the image has observations.
func (tm *TracksManager) HasShot(shotID string) bool {
	_, ok := tm.byShot[shotID]
	return ok
}

// ShotObservations returns the observations of an image keyed by track id. The map must not
// be modified.
func (tm *TracksManager) ShotObservations(shotID string) map[string]Observation {
	return tm.byShot[shotID]
}

// TrackObservations returns the observations of a track keyed by image. The map must not be
// modified.
func (tm *TracksManager) TrackObservations(trackID string) map[string]Observation {
	return tm.byTrack[trackID]
}

// Observation returns the observation of trackID in shotID.
func (tm *TracksManager) Observation(shotID, trackID string) (Observation, bool) {
	obs, ok := tm.byShot[shotID][trackID]
	return obs, ok
}

// CommonObservations returns the tracks seen by both images, sorted by track id.
func (tm *TracksManager) CommonObservations(im1, im2 string) []CommonObservation {
	obs2 := tm.byShot[im2]
	var out []CommonObservation
	for track, o1 := range tm.byShot[im1] {
		if o2, ok := obs2[track]; ok {
			out = append(out, CommonObservation{TrackID: track, Obs1: o1, Obs2: o2})
		}
	}
	sortCommon(out)
	return out
}

func sortCommon(obs []CommonObservation) {
	sort.Slice(obs, func(i, j int) bool { return trackIDLess(obs[i].TrackID, obs[j].TrackID) })
}

// AllPairsConnectivity counts the common tracks of every pair of images sharing at least one.
func (tm *TracksManager) AllPairsConnectivity() map[ImagePair]int {
	return tm.PairsConnectivity(nil, nil)
}

// PairsConnectivity counts common tracks per image pair, restricted to pairs with at least one
// image in shots and to tracks in tracks. A nil filter accepts everything.
func (tm *TracksManager) PairsConnectivity(shots, tracks map[string]bool) map[ImagePair]int {
	out := map[ImagePair]int{}
	for trackID, obs := range tm.byTrack {
		if tracks != nil && !tracks[trackID] {
			continue
		}
		images := lo.Keys(obs)
		sort.Strings(images)
		for i := 0; i < len(images); i++ {
			for j := i + 1; j < len(images); j++ {
				if shots != nil && !shots[images[i]] && !shots[images[j]] {
					continue
				}
				out[ImagePair{Im1: images[i], Im2: images[j]}]++
			}
		}
	}
	return out
}

// SubsetForShots returns a manager restricted to the given images.
func (tm *TracksManager) SubsetForShots(shots []string) *TracksManager {
	sub := NewTracksManager()
	for _, shot := range shots {
		for track, obs := range tm.byShot[shot] {
			sub.AddObservation(shot, track, obs)
		}
	}
	return sub
}

// SortTrackIDs sorts decimal track ids numerically and any others lexically after them.
func SortTrackIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool { return trackIDLess(ids[i], ids[j]) })
}

func trackIDLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		return ai < bi
	case aerr == nil:
		return true
	case berr == nil:
		return false
	default:
		return a < b
	}
}
