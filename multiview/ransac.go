package multiview

import (
	"math"
	"math/rand"
)

// RansacOptions bounds a RANSAC run.
type RansacOptions struct {
	Threshold     float64
	MaxIterations int
	Probability   float64
}

// DefaultRansacOptions returns 1000 iterations at 0.999 confidence.
func DefaultRansacOptions(threshold float64) RansacOptions {
	return RansacOptions{Threshold: threshold, MaxIterations: 1000, Probability: 0.999}
}

// RansacProblem describes a model to be estimated from NumData items.
type RansacProblem[M any] struct {
	NumData    int
	SampleSize int
	// Fit returns the models generated by a minimal sample, possibly none.
	Fit func(sample []int) []M
	// Inliers returns the indices of the data consistent with a model.
	Inliers func(model M) []int
}

// RansacResult is the best model found and its support.
type RansacResult[M any] struct {
	Model      M
	Inliers    []int
	Iterations int
}

// RequiredIterations returns how many samples are needed to draw an all-inlier sample with
// the given probability when a fraction inlierRatio of the data are inliers.
func RequiredIterations(inlierRatio float64, sampleSize int, probability float64) int {
	if inlierRatio <= 0 {
		return math.MaxInt32
	}
	if inlierRatio >= 1 {
		return 1
	}
	good := math.Pow(inlierRatio, float64(sampleSize))
	if good <= 0 {
		return math.MaxInt32
	}
	n := math.Log(1-probability) / math.Log(1-good)
	if math.IsNaN(n) || n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Ceil(n))
}

// RANSAC runs a random sample consensus with an adaptive iteration count. It returns false
// when no model had any support.
func RANSAC[M any](problem RansacProblem[M], opts RansacOptions, rng *rand.Rand) (RansacResult[M], bool) {
	var best RansacResult[M]
	found := false
	if problem.NumData < problem.SampleSize || problem.SampleSize <= 0 {
		return best, false
	}
	maxIterations := opts.MaxIterations
	i := 0
	for ; i < maxIterations; i++ {
		sample := sampleIndices(rng, problem.NumData, problem.SampleSize)
		for _, model := range problem.Fit(sample) {
			inliers := problem.Inliers(model)
			if len(inliers) == 0 || (found && len(inliers) <= len(best.Inliers)) {
				continue
			}
			best.Model, best.Inliers, found = model, inliers, true
			ratio := float64(len(inliers)) / float64(problem.NumData)
			if n := RequiredIterations(ratio, problem.SampleSize, opts.Probability); n < maxIterations {
				maxIterations = n
			}
		}
	}
	best.Iterations = i
	return best, found
}

// sampleIndices draws k distinct indices in [0, n).
func sampleIndices(rng *rand.Rand, n, k int) []int {
	if k > n {
		k = n
	}
	if k*4 < n {
		seen := make(map[int]struct{}, k)
		out := make([]int, 0, k)
		for len(out) < k {
			i := rng.Intn(n)
			if _, ok := seen[i]; ok {
				continue
			}
			seen[i] = struct{}{}
			out = append(out, i)
		}
		return out
	}
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm[:k]
}
