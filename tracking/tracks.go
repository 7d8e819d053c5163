package tracking

import (
	"image/color"
	"math"
	"sort"
	"strconv"

	"github.com/golang/geo/r2"
	"github.com/samber/lo"

	"go.viam.com/sfm/logging"
)

// ImageFeatures are the detected features of one image. Points are normalized image
// coordinates. Segmentations, Instances and Depths are optional and, when set, have one entry
// per point; NaN depths are ignored.
type ImageFeatures struct {
	Points        []r2.Point   `json:"points"`
	Scales        []float64    `json:"scales"`
	Colors        []color.RGBA `json:"colors"`
	Segmentations []int        `json:"segmentations,omitempty"`
	Instances     []int        `json:"instances,omitempty"`
	Depths        []float64    `json:"depths,omitempty"`
}

// FeatureMatch links feature indexes of the two images of a pair.
type FeatureMatch [2]int

// Matches holds the feature matches of image pairs. The first index of each FeatureMatch
// refers to Im1 of its pair.
type Matches map[ImagePair][]FeatureMatch

// Add records matches between im1 and im2, keeping the pair ordering consistent.
func (m Matches) Add(im1, im2 string, matches []FeatureMatch) {
	pair := NewImagePair(im1, im2)
	if pair.Im1 != im1 {
		flipped := make([]FeatureMatch, len(matches))
		for i, fm := range matches {
			flipped[i] = FeatureMatch{fm[1], fm[0]}
		}
		matches = flipped
	}
	m[pair] = append(m[pair], matches...)
}

type featureKey struct {
	image   string
	feature int
}

// TrackOptions tunes track creation.
type TrackOptions struct {
	MinLength         int
	DepthStdDeviation float64
	DepthIsRadial     bool
}

// CreateTracksManager links matches into tracks. A track is kept when it has at least
// MinLength observations and sees every image at most once. Track ids enumerate the kept
// tracks in a deterministic order.
func CreateTracksManager(
	features map[string]ImageFeatures,
	matches Matches,
	opts TrackOptions,
	logger logging.Logger,
) *TracksManager {
	logger.Debug("merging features onto tracks")
	pairs := lo.Keys(matches)
	SortPairs(pairs)

	uf := NewUnionFind[featureKey]()
	for _, pair := range pairs {
		for _, fm := range matches[pair] {
			uf.Union(featureKey{pair.Im1, fm[0]}, featureKey{pair.Im2, fm[1]})
		}
	}

	var tracks [][]featureKey
	for _, set := range uf.Sets() {
		if goodTrack(set, opts.MinLength) {
			tracks = append(tracks, set)
		}
	}

	tm := NewTracksManager()
	numObservations, numDepthPriors := 0, 0
	for trackIndex, track := range tracks {
		trackID := strconv.Itoa(trackIndex)
		sort.Slice(track, func(i, j int) bool { return track[i].image < track[j].image })
		for _, key := range track {
			f, ok := features[key.image]
			if !ok || key.feature < 0 || key.feature >= len(f.Points) {
				continue
			}
			obs := Observation{
				Point:        f.Points[key.feature],
				FeatureID:    key.feature,
				Segmentation: NoSemanticValue,
				Instance:     NoSemanticValue,
			}
			if key.feature < len(f.Scales) {
				obs.Scale = f.Scales[key.feature]
			}
			if key.feature < len(f.Colors) {
				obs.Color = f.Colors[key.feature]
			}
			if key.feature < len(f.Segmentations) {
				obs.Segmentation = f.Segmentations[key.feature]
			}
			if key.feature < len(f.Instances) {
				obs.Instance = f.Instances[key.feature]
			}
			if key.feature < len(f.Depths) {
				depth := f.Depths[key.feature]
				if !math.IsNaN(depth) && !math.IsInf(depth, 0) {
					obs.DepthPrior = &Depth{
						Value:        depth,
						StdDeviation: math.Max(opts.DepthStdDeviation*depth, opts.DepthStdDeviation),
						IsRadial:     opts.DepthIsRadial,
					}
					numDepthPriors++
				}
			}
			tm.AddObservation(key.image, trackID, obs)
			numObservations++
		}
	}
	logger.Infof("%d tracks, %d observations, %d depth priors added to TracksManager",
		len(tracks), numObservations, numDepthPriors)
	return tm
}

func goodTrack(track []featureKey, minLength int) bool {
	if len(track) < minLength {
		return false
	}
	images := lo.Map(track, func(k featureKey, _ int) string { return k.image })
	return len(lo.Uniq(images)) == len(images)
}

// PairTracks are the common tracks of an image pair with their normalized points.
type PairTracks struct {
	Tracks []string
	P1     []r2.Point
	P2     []r2.Point
}

// CommonTracks lists the tracks observed in both images.
func CommonTracks(tm *TracksManager, im1, im2 string) PairTracks {
	var out PairTracks
	for _, c := range tm.CommonObservations(im1, im2) {
		out.Tracks = append(out.Tracks, c.TrackID)
		out.P1 = append(out.P1, c.Obs1.Point)
		out.P2 = append(out.P2, c.Obs2.Point)
	}
	return out
}

// AllCommonTracks lists the common tracks of every pair sharing at least minCommon tracks.
func AllCommonTracks(tm *TracksManager, minCommon int) map[ImagePair]PairTracks {
	out := map[ImagePair]PairTracks{}
	for pair, size := range tm.AllPairsConnectivity() {
		if size < minCommon {
			continue
		}
		out[pair] = CommonTracks(tm, pair.Im1, pair.Im2)
	}
	return out
}
