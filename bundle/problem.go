package bundle

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/camera"
	"go.viam.com/sfm/spatialmath"
)

const (
	jacobianStep   = 1e-6
	initialLambda  = 1e-4
	lambdaDecrease = 0.3
	lambdaIncrease = 4
	maxLambda      = 1e12
	minLambda      = 1e-14
)

// poseBlock is a world to camera (or world to rig) pose parametrized by a rotation update
// left multiplied on rotation0 and the camera origin.
type poseBlock struct {
	rotation0 spatialmath.RotationMatrix
	params    [6]float64
	fixed     bool
	index     int
	write     func(spatialmath.Pose)
}

func newPoseBlock(p spatialmath.Pose, fixed bool, write func(spatialmath.Pose)) *poseBlock {
	o := p.Origin()
	return &poseBlock{rotation0: p.Rotation(), params: [6]float64{0, 0, 0, o.X, o.Y, o.Z}, fixed: fixed, write: write}
}

func (b *poseBlock) pose() spatialmath.Pose {
	delta := r3.Vector{X: b.params[0], Y: b.params[1], Z: b.params[2]}
	origin := r3.Vector{X: b.params[3], Y: b.params[4], Z: b.params[5]}
	return spatialmath.NewPoseFromOrigin(spatialmath.RotationFromAxisAngle(delta).Mul(b.rotation0), origin)
}

type pointBlock struct {
	params [3]float64
	fixed  bool
	index  int
	write  func(r3.Vector)
}

func newPointBlock(x r3.Vector, fixed bool, write func(r3.Vector)) *pointBlock {
	return &pointBlock{params: [3]float64{x.X, x.Y, x.Z}, fixed: fixed, write: write}
}

func (b *pointBlock) point() r3.Vector {
	return r3.Vector{X: b.params[0], Y: b.params[1], Z: b.params[2]}
}

// residual is a whitened residual depending on at most one pose and one point.
type residual interface {
	blocks() (*poseBlock, *pointBlock)
	evaluate() []float64
	robust() bool
}

// reprojection compares the projection of a point with its observation, divided by the
// observation standard deviation.
type reprojection struct {
	pose      *poseBlock
	rigCamera *spatialmath.Pose
	camera    *camera.Camera
	point     *pointBlock
	observed  r2.Point
	sd        float64

	shotID, pointID string
}

func (r *reprojection) blocks() (*poseBlock, *pointBlock) { return r.pose, r.point }
func (r *reprojection) robust() bool                      { return true }

func (r *reprojection) shotPose() spatialmath.Pose {
	p := r.pose.pose()
	if r.rigCamera != nil {
		return r.rigCamera.Compose(p)
	}
	return p
}

func (r *reprojection) projectionError() r2.Point {
	return r.camera.Project(r.shotPose().Transform(r.point.point())).Sub(r.observed)
}

func (r *reprojection) evaluate() []float64 {
	e := r.projectionError()
	return []float64{e.X / r.sd, e.Y / r.sd}
}

// positionPrior pulls a camera origin toward a measured position.
type positionPrior struct {
	pose      *poseBlock
	rigCamera *spatialmath.Pose
	target    r3.Vector
	sd        r3.Vector
}

func (r *positionPrior) blocks() (*poseBlock, *pointBlock) { return r.pose, nil }
func (r *positionPrior) robust() bool                      { return false }

func (r *positionPrior) evaluate() []float64 {
	p := r.pose.pose()
	if r.rigCamera != nil {
		p = r.rigCamera.Compose(p)
	}
	d := p.Origin().Sub(r.target)
	return []float64{d.X / r.sd.X, d.Y / r.sd.Y, d.Z / r.sd.Z}
}

// pointPrior pulls a point toward a surveyed position. A zero sd component disables it.
type pointPrior struct {
	point  *pointBlock
	target r3.Vector
	sd     r3.Vector
}

func (r *pointPrior) blocks() (*poseBlock, *pointBlock) { return nil, r.point }
func (r *pointPrior) robust() bool                      { return false }

func (r *pointPrior) evaluate() []float64 {
	d := r.point.point().Sub(r.target)
	out := []float64{d.X / r.sd.X, d.Y / r.sd.Y, 0}
	if r.sd.Z > 0 {
		out[2] = d.Z / r.sd.Z
	}
	return out
}

// problem is a sparse least squares over pose and point blocks.
type problem struct {
	poses     []*poseBlock
	points    []*pointBlock
	residuals []residual
	loss      loss
}

func (p *problem) addPose(b *poseBlock) *poseBlock {
	p.poses = append(p.poses, b)
	return b
}

func (p *problem) addPoint(b *pointBlock) *pointBlock {
	p.points = append(p.points, b)
	return b
}

func (p *problem) addResidual(r residual) {
	p.residuals = append(p.residuals, r)
}

func (p *problem) residualCost(r residual) float64 {
	s := 0.0
	for _, v := range r.evaluate() {
		s += v * v
	}
	if r.robust() {
		return p.loss.rho(s)
	}
	return s
}

func (p *problem) cost() float64 {
	total := 0.0
	for _, r := range p.residuals {
		total += p.residualCost(r)
	}
	return total
}

// numericJacobian differentiates a residual with respect to a parameter slice.
func numericJacobian(r residual, params []float64) [][]float64 {
	cols := make([][]float64, len(params))
	for i := range params {
		orig := params[i]
		params[i] = orig + jacobianStep
		plus := r.evaluate()
		params[i] = orig - jacobianStep
		minus := r.evaluate()
		params[i] = orig
		col := make([]float64, len(plus))
		for k := range plus {
			col[k] = (plus[k] - minus[k]) / (2 * jacobianStep)
		}
		cols[i] = col
	}
	return cols
}

// normalEquations holds JᵀJ and Jᵀr split into pose (U), point (V) and coupling (W) blocks.
type normalEquations struct {
	u  *mat.Dense
	gc []float64
	v  [][9]float64
	gp [][3]float64
	w  [][]coupling
}

// coupling is the 6x3 block between a pose and a point.
type coupling struct {
	pose int
	blk  [18]float64
}

func (ne *normalEquations) couplingFor(point, pose int) *coupling {
	for k := range ne.w[point] {
		if ne.w[point][k].pose == pose {
			return &ne.w[point][k]
		}
	}
	ne.w[point] = append(ne.w[point], coupling{pose: pose})
	return &ne.w[point][len(ne.w[point])-1]
}

func (p *problem) variableBlocks() (poses []*poseBlock, points []*pointBlock) {
	for _, b := range p.poses {
		if !b.fixed {
			b.index = len(poses)
			poses = append(poses, b)
		}
	}
	for _, b := range p.points {
		if !b.fixed {
			b.index = len(points)
			points = append(points, b)
		}
	}
	return poses, points
}

func (p *problem) linearize(numPoses, numPoints int) *normalEquations {
	ne := &normalEquations{
		gc: make([]float64, 6*numPoses),
		v:  make([][9]float64, numPoints),
		gp: make([][3]float64, numPoints),
		w:  make([][]coupling, numPoints),
	}
	if numPoses > 0 {
		ne.u = mat.NewDense(6*numPoses, 6*numPoses, nil)
	}
	for _, r := range p.residuals {
		pose, point := r.blocks()
		res := r.evaluate()
		weight := 1.0
		if r.robust() {
			s := 0.0
			for _, v := range res {
				s += v * v
			}
			weight = p.loss.weight(s)
		}
		var jc, jp [][]float64
		if pose != nil && !pose.fixed {
			jc = numericJacobian(r, pose.params[:])
		}
		if point != nil && !point.fixed {
			jp = numericJacobian(r, point.params[:])
		}
		if jc != nil {
			base := 6 * pose.index
			for a := 0; a < 6; a++ {
				ne.gc[base+a] += weight * dot(jc[a], res)
				for b := 0; b < 6; b++ {
					ne.u.Set(base+a, base+b, ne.u.At(base+a, base+b)+weight*dot(jc[a], jc[b]))
				}
			}
		}
		if jp != nil {
			j := point.index
			for a := 0; a < 3; a++ {
				ne.gp[j][a] += weight * dot(jp[a], res)
				for b := 0; b < 3; b++ {
					ne.v[j][3*a+b] += weight * dot(jp[a], jp[b])
				}
			}
		}
		if jc != nil && jp != nil {
			c := ne.couplingFor(point.index, pose.index)
			for a := 0; a < 6; a++ {
				for b := 0; b < 3; b++ {
					c.blk[3*a+b] += weight * dot(jc[a], jp[b])
				}
			}
		}
	}
	return ne
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// solve computes the damped Gauss-Newton step by eliminating the points with the Schur
// complement.
func (ne *normalEquations) solve(lambda float64, numPoses, numPoints int) (dc []float64, dp [][3]float64, ok bool) {
	vinv := make([]*mat.Dense, numPoints)
	for j := 0; j < numPoints; j++ {
		v := mat.NewDense(3, 3, nil)
		for a := 0; a < 3; a++ {
			for b := 0; b < 3; b++ {
				v.Set(a, b, ne.v[j][3*a+b])
			}
			v.Set(a, a, v.At(a, a)+lambda*(v.At(a, a)+1e-9))
		}
		var inv mat.Dense
		if err := inv.Inverse(v); err != nil {
			return nil, nil, false
		}
		vinv[j] = &inv
	}

	dc = make([]float64, 6*numPoses)
	if numPoses > 0 {
		n := 6 * numPoses
		s := mat.NewDense(n, n, nil)
		s.Copy(ne.u)
		for i := 0; i < n; i++ {
			s.Set(i, i, s.At(i, i)+lambda*(s.At(i, i)+1e-9))
		}
		rhs := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			rhs.SetVec(i, -ne.gc[i])
		}
		for j := 0; j < numPoints; j++ {
			gp := mat.NewVecDense(3, ne.gp[j][:])
			for _, ci := range ne.w[j] {
				// W_ij V_j⁻¹
				var m mat.Dense
				m.Mul(mat.NewDense(6, 3, ci.blk[:]), vinv[j])
				i := ci.pose
				var t mat.VecDense
				t.MulVec(&m, gp)
				for a := 0; a < 6; a++ {
					rhs.SetVec(6*i+a, rhs.AtVec(6*i+a)+t.AtVec(a))
				}
				for _, ck := range ne.w[j] {
					k := ck.pose
					var prod mat.Dense
					prod.Mul(&m, mat.NewDense(6, 3, ck.blk[:]).T())
					for a := 0; a < 6; a++ {
						for b := 0; b < 6; b++ {
							s.Set(6*i+a, 6*k+b, s.At(6*i+a, 6*k+b)-prod.At(a, b))
						}
					}
				}
			}
		}
		// symmetrize against round off before the factorization
		sym := mat.NewSymDense(n, nil)
		for a := 0; a < n; a++ {
			for b := a; b < n; b++ {
				sym.SetSym(a, b, 0.5*(s.At(a, b)+s.At(b, a)))
			}
		}
		var x mat.VecDense
		var chol mat.Cholesky
		if chol.Factorize(sym) {
			if err := chol.SolveVecTo(&x, rhs); err != nil {
				return nil, nil, false
			}
		} else if err := x.SolveVec(s, rhs); err != nil {
			return nil, nil, false
		}
		for i := range dc {
			dc[i] = x.AtVec(i)
		}
	}

	dp = make([][3]float64, numPoints)
	for j := 0; j < numPoints; j++ {
		b := mat.NewVecDense(3, []float64{-ne.gp[j][0], -ne.gp[j][1], -ne.gp[j][2]})
		for _, c := range ne.w[j] {
			var t mat.VecDense
			t.MulVec(mat.NewDense(6, 3, c.blk[:]).T(), mat.NewVecDense(6, dc[6*c.pose:6*c.pose+6]))
			b.SubVec(b, &t)
		}
		var x mat.VecDense
		x.MulVec(vinv[j], b)
		dp[j] = [3]float64{x.AtVec(0), x.AtVec(1), x.AtVec(2)}
	}
	return dc, dp, true
}

type solveSummary struct {
	iterations  int
	initialCost float64
	finalCost   float64
	termination string
}

func (s solveSummary) String() string {
	return fmt.Sprintf("Levenberg-Marquardt: %d iterations, initial cost %.6e, final cost %.6e, termination: %s",
		s.iterations, s.initialCost, s.finalCost, s.termination)
}

type snapshot struct {
	poses  [][6]float64
	points [][3]float64
}

func (p *problem) save(poses []*poseBlock, points []*pointBlock) snapshot {
	s := snapshot{poses: make([][6]float64, len(poses)), points: make([][3]float64, len(points))}
	for i, b := range poses {
		s.poses[i] = b.params
	}
	for j, b := range points {
		s.points[j] = b.params
	}
	return s
}

func (p *problem) restore(s snapshot, poses []*poseBlock, points []*pointBlock) {
	for i, b := range poses {
		b.params = s.poses[i]
	}
	for j, b := range points {
		b.params = s.points[j]
	}
}

// run minimizes the problem in place and writes the variable blocks back.
func (p *problem) run(maxIterations int) solveSummary {
	poses, points := p.variableBlocks()
	summary := solveSummary{initialCost: p.cost(), termination: "NO_CONVERGENCE"}
	current := summary.initialCost
	if len(poses) == 0 && len(points) == 0 {
		summary.finalCost, summary.termination = current, "NO_PARAMETERS"
		return summary
	}
	lambda := initialLambda
	for summary.iterations < maxIterations {
		summary.iterations++
		ne := p.linearize(len(poses), len(points))
		accepted := false
		for lambda < maxLambda {
			dc, dp, ok := ne.solve(lambda, len(poses), len(points))
			if !ok {
				lambda *= lambdaIncrease
				continue
			}
			before := p.save(poses, points)
			for i, b := range poses {
				for a := 0; a < 6; a++ {
					b.params[a] += dc[6*i+a]
				}
			}
			for j, b := range points {
				for a := 0; a < 3; a++ {
					b.params[a] += dp[j][a]
				}
			}
			trial := p.cost()
			if !math.IsNaN(trial) && trial < current {
				accepted = true
				improvement := current - trial
				current = trial
				lambda = math.Max(lambda*lambdaDecrease, minLambda)
				if improvement < 1e-10*current || improvement < 1e-16 {
					summary.termination = "CONVERGENCE"
				}
				break
			}
			p.restore(before, poses, points)
			lambda *= lambdaIncrease
		}
		if !accepted {
			summary.termination = "CONVERGENCE"
			break
		}
		if summary.termination == "CONVERGENCE" {
			break
		}
	}
	summary.finalCost = current
	for _, b := range poses {
		b.rotation0 = b.pose().Rotation()
		b.params[0], b.params[1], b.params[2] = 0, 0, 0
		if b.write != nil {
			b.write(b.pose())
		}
	}
	for _, b := range points {
		if b.write != nil {
			b.write(b.point())
		}
	}
	return summary
}
