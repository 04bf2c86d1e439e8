package scan

import "gonum.org/v1/gonum/mat"

// StateSize is the length of the state vector x = (tx, ty, cos, sin)
const StateSize = 4

// CostMatrices holds the quadratic cost x'Mx + g'x and the rotation constraint x'Wx = 1
// for one round of the update.
type CostMatrices struct {
	M *mat.SymDense
	W *mat.SymDense
	G *mat.VecDense
	N int // number of correspondences summed
}

// ConstraintMatrix returns W: zero except for a 2x2 identity on the rotation block
func ConstraintMatrix() *mat.SymDense {
	w := mat.NewSymDense(StateSize, nil)
	w.SetSym(2, 2, 1)
	w.SetSym(3, 3, 1)
	return w
}

// Accumulate sums the per-correspondence point-to-line terms with the scan points
// mapped through current. For each correspondence the 2x4 Jacobian
//
//	Mi = [1 0 px -py]
//	     [0 1 py  px]
//
// is projected on the normal, v = Mi'n, so Mi'(nn')Mi = vv' and -2 pi'(nn')Mi = -2(pi.n)v'.
func Accumulate(corrs []Correspondence, current RigidTransform) CostMatrices {
	cm := CostMatrices{
		M: mat.NewSymDense(StateSize, nil),
		W: ConstraintMatrix(),
		G: mat.NewVecDense(StateSize, nil),
		N: len(corrs),
	}

	v := mat.NewVecDense(StateSize, nil)
	for _, c := range corrs {
		p := current.Apply(c.P)
		n := c.Normal

		v.SetVec(0, n.X)
		v.SetVec(1, n.Y)
		v.SetVec(2, p.X*n.X+p.Y*n.Y)
		v.SetVec(3, -p.Y*n.X+p.X*n.Y)

		cm.M.SymRankOne(cm.M, 1, v)
		cm.G.AddScaledVec(cm.G, -2*(c.Pi.X*n.X+c.Pi.Y*n.Y), v)
	}

	return cm
}

// Cost evaluates x'Mx + g'x for a state vector
func (cm CostMatrices) Cost(x mat.Vector) float64 {
	return mat.Inner(x, cm.M, x) + mat.Dot(cm.G, x)
}
