// Package multiview contains the geometric solvers of the reconstruction: relative and
// absolute pose, homographies, triangulation, similarity fitting and a generic RANSAC.
//
// All solvers work on bearings, unit rays in a camera frame, so that every camera model
// including spherical ones can use them.
package multiview

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/sfm/spatialmath"
)

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U  *mat.Dense
	V  *mat.Dense
	VT *mat.Dense
	S  *mat.Dense
}

// performSVD performs SVD on inputMatrix and returns matrices U, Sigma and V from the decomposition.
func performSVD(inputMatrix mat.Matrix) *matsSVD {
	var svd mat.SVD
	ok := svd.Factorize(inputMatrix, mat.SVDFull)
	if !ok {
		return nil
	}

	u, v, sigma, vt := &mat.Dense{}, &mat.Dense{}, &mat.Dense{}, &mat.Dense{}

	svd.UTo(u)
	svd.VTo(v)
	vt.CloneFrom(v.T())

	singularValues := svd.Values(nil)
	sigma.CloneFrom(mat.NewDiagDense(len(singularValues), singularValues))

	return &matsSVD{u, v, vt, sigma}
}

// eye create an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func transposeDense(m *mat.Dense) *mat.Dense {
	nRows, nCols := m.Dims()
	m2 := mat.NewDense(nCols, nRows, nil)
	m2.Copy(m.T())
	return m2
}

// nullVector returns the unit vector x minimizing |Ax|. It works on AᵀA so that any
// number of rows, including fewer than columns, is accepted.
func nullVector(a *mat.Dense) ([]float64, bool) {
	_, cols := a.Dims()
	var ata mat.SymDense
	ata.SymOuterK(1, a.T())
	var es mat.EigenSym
	if !es.Factorize(&ata, true) {
		return nil, false
	}
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	out := make([]float64, cols)
	for i := range out {
		out[i] = vecs.At(i, 0)
	}
	return out, true
}

// normalizePoints normalizes points as described in Multiple View Geometry, Alg 4.2.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	nPoints := len(pts)
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / float64(nPoints))
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	scale := 1.0
	if d > 1e-12 {
		scale = math.Sqrt(2) / d
	}
	transformData := []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	}
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = pts[i].Sub(mu).Mul(scale)
	}
	return pointsTransformed, mat.NewDense(3, 3, transformData)
}

func denseFromVector(v r3.Vector) *mat.VecDense {
	return mat.NewVecDense(3, []float64{v.X, v.Y, v.Z})
}

func vectorFromDense(v mat.Vector) r3.Vector {
	return r3.Vector{X: v.AtVec(0), Y: v.AtVec(1), Z: v.AtVec(2)}
}

func mulVec3(m mat.Matrix, v r3.Vector) r3.Vector {
	var out mat.VecDense
	out.MulVec(m, denseFromVector(v))
	return vectorFromDense(&out)
}

func outer(a, b r3.Vector) *mat.Dense {
	av := []float64{a.X, a.Y, a.Z}
	bv := []float64{b.X, b.Y, b.Z}
	m := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, av[i]*bv[j])
		}
	}
	return m
}

// perturb rotates base by the axis-angle delta, left multiplied.
func perturb(base spatialmath.RotationMatrix, delta []float64) spatialmath.RotationMatrix {
	return spatialmath.RotationFromAxisAngle(r3.Vector{X: delta[0], Y: delta[1], Z: delta[2]}).Mul(base)
}

const gradientStep = 1e-7

func numericGradient(f func([]float64) float64, grad, x []float64) {
	xc := append([]float64(nil), x...)
	for i := range xc {
		orig := xc[i]
		xc[i] = orig + gradientStep
		fp := f(xc)
		xc[i] = orig - gradientStep
		fm := f(xc)
		xc[i] = orig
		grad[i] = (fp - fm) / (2 * gradientStep)
	}
}

// minimize runs BFGS with a central-difference gradient and returns the best point found,
// never one worse than x0.
func minimize(f func([]float64) float64, x0 []float64, iterations int) []float64 {
	problem := optimize.Problem{
		Func: f,
		Grad: func(grad, x []float64) { numericGradient(f, grad, x) },
	}
	settings := &optimize.Settings{
		MajorIterations:   iterations,
		GradientThreshold: 1e-14,
		Converger:         &optimize.FunctionConverge{Absolute: 1e-16, Relative: 1e-12, Iterations: 20},
	}
	start := f(x0)
	// A failed line search still reports the best location reached.
	res, _ := optimize.Minimize(problem, x0, settings, &optimize.BFGS{})
	if res == nil || math.IsNaN(res.F) || res.F > start {
		return x0
	}
	return res.X
}
