package bundle

import (
	"math"
	"sort"

	"github.com/samber/lo"

	"go.viam.com/sfm/reconstruction"
)

// DirectShotNeighbors returns up to maxNeighbors shots outside shotIDs sharing at least
// minCommonPoints points with them, most connected first.
func DirectShotNeighbors(
	rec *reconstruction.Reconstruction,
	shotIDs map[string]bool,
	minCommonPoints, maxNeighbors int,
) []string {
	points := map[string]bool{}
	for id := range shotIDs {
		for _, pointID := range rec.Shot(id).PointIDs() {
			points[pointID] = true
		}
	}
	common := map[string]int{}
	for pointID := range points {
		for _, shotID := range rec.Point(pointID).ShotIDs() {
			if !shotIDs[shotID] {
				common[shotID]++
			}
		}
	}
	candidates := lo.Keys(common)
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if common[a] != common[b] {
			return common[a] > common[b]
		}
		return a < b
	})
	var neighbors []string
	for _, id := range candidates {
		if len(neighbors) >= maxNeighbors || common[id] < minCommonPoints {
			break
		}
		neighbors = append(neighbors, id)
	}
	return neighbors
}

// ShotNeighborhood grows the interior from the central shot for radius-1 rings of direct
// neighbors, bounded by maxInteriorSize. The boundary is every other shot sharing a point
// with the interior. Shots of a rig instance are never split between interior and boundary.
func ShotNeighborhood(
	rec *reconstruction.Reconstruction,
	centralShotID string,
	radius, minCommonPoints, maxInteriorSize int,
) (interior, boundary []string) {
	in := map[string]bool{centralShotID: true}
	for distance := 1; distance < radius; distance++ {
		remaining := maxInteriorSize - len(in)
		if remaining <= 0 {
			break
		}
		for _, id := range DirectShotNeighbors(rec, in, minCommonPoints, remaining) {
			in[id] = true
		}
	}
	for id := range in {
		if ri := rec.Shot(id).RigInstance(); ri != nil {
			for _, mate := range ri.ShotIDs() {
				in[mate] = true
			}
		}
	}
	out := DirectShotNeighbors(rec, in, 1, math.MaxInt32)
	interior = lo.Keys(in)
	sort.Strings(interior)
	for _, id := range out {
		if !in[id] {
			boundary = append(boundary, id)
		}
	}
	sort.Strings(boundary)
	return interior, boundary
}
