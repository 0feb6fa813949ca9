package qp

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ADMMSettings tunes the operator-splitting solver.
type ADMMSettings struct {
	Rho           float64 // base step size for inequality rows
	RhoEqualScale float64 // multiplier applied to rho on equality rows
	Sigma         float64 // primal regularization
	Alpha         float64 // over-relaxation, in (0, 2)
	EpsAbs        float64
	EpsRel        float64
	MaxIterations int
}

// DefaultADMMSettings returns the settings used by the torque solvers.
func DefaultADMMSettings() ADMMSettings {
	return ADMMSettings{
		Rho:           0.1,
		RhoEqualScale: 1e3,
		Sigma:         1e-6,
		Alpha:         1.6,
		EpsAbs:        1e-5,
		EpsRel:        1e-5,
		MaxIterations: 4000,
	}
}

// ADMM solves the box-constrained QP by operator splitting: alternate an
// equality-constrained minimization (one linear solve against a cached
// Cholesky factorization) with a projection onto [l, u] and a dual ascent
// step. Equality rows get a stiffer step size so they converge tightly.
// The factorization is rebuilt only when the Hessian, the constraint
// matrix or the equality pattern changes; gradient and bound updates
// between control cycles reuse it.
type ADMM struct {
	settings ADMMSettings

	n, m        int
	initialized bool

	hessian     *mat.Dense
	gradient    []float64
	constraints *mat.Dense
	lower       []float64
	upper       []float64
	rho         []float64

	// iterates, kept across solves for warm starting
	x []float64
	z []float64
	y []float64

	chol          mat.Cholesky
	factorized    bool
	needFactorize bool

	stats Stats

	// scratch
	rhs   []float64
	xNew  []float64
	ax    []float64
	axRel []float64
}

// NewADMM returns a solver with the given settings.
func NewADMM(settings ADMMSettings) *ADMM {
	return &ADMM{settings: settings}
}

// Init implements Backend.
func (s *ADMM) Init(numVariables, numConstraints int) error {
	if numVariables <= 0 || numConstraints <= 0 {
		return errors.Errorf("invalid problem size %dx%d", numVariables, numConstraints)
	}
	s.n = numVariables
	s.m = numConstraints
	s.hessian = mat.NewDense(s.n, s.n, nil)
	s.gradient = make([]float64, s.n)
	s.constraints = mat.NewDense(s.m, s.n, nil)
	s.lower = make([]float64, s.m)
	s.upper = make([]float64, s.m)
	s.rho = make([]float64, s.m)
	for i := range s.rho {
		s.rho[i] = s.settings.Rho
	}
	s.x = make([]float64, s.n)
	s.z = make([]float64, s.m)
	s.y = make([]float64, s.m)
	s.rhs = make([]float64, s.n)
	s.xNew = make([]float64, s.n)
	s.ax = make([]float64, s.m)
	s.axRel = make([]float64, s.m)
	s.initialized = true
	s.factorized = false
	s.needFactorize = true
	return nil
}

// IsInitialized implements Backend.
func (s *ADMM) IsInitialized() bool { return s.initialized }

// SetHessian implements Backend.
func (s *ADMM) SetHessian(hessian mat.Matrix) error {
	if !s.initialized {
		return errors.New("backend not initialized")
	}
	if r, c := hessian.Dims(); r != s.n || c != s.n {
		return errors.Errorf("hessian is %dx%d, want %dx%d", r, c, s.n, s.n)
	}
	s.hessian.Copy(hessian)
	s.needFactorize = true
	return nil
}

// SetGradient implements Backend.
func (s *ADMM) SetGradient(gradient []float64) error {
	if !s.initialized {
		return errors.New("backend not initialized")
	}
	if len(gradient) != s.n {
		return errors.Errorf("gradient has %d entries, want %d", len(gradient), s.n)
	}
	copy(s.gradient, gradient)
	return nil
}

// SetConstraintMatrix implements Backend.
func (s *ADMM) SetConstraintMatrix(constraints mat.Matrix) error {
	if !s.initialized {
		return errors.New("backend not initialized")
	}
	if r, c := constraints.Dims(); r != s.m || c != s.n {
		return errors.Errorf("constraint matrix is %dx%d, want %dx%d", r, c, s.m, s.n)
	}
	s.constraints.Copy(constraints)
	s.needFactorize = true
	return nil
}

// SetBounds implements Backend. The step sizes follow the equality pattern
// of the bounds, so a row switching between equality and inequality forces
// a refactorization; pure value changes do not.
func (s *ADMM) SetBounds(lower, upper []float64) error {
	if !s.initialized {
		return errors.New("backend not initialized")
	}
	if len(lower) != s.m || len(upper) != s.m {
		return errors.Errorf("bounds have %d/%d entries, want %d", len(lower), len(upper), s.m)
	}
	for i := range lower {
		if lower[i] > upper[i] {
			return errors.Errorf("row %d has lower bound %g above upper bound %g", i, lower[i], upper[i])
		}
	}
	copy(s.lower, lower)
	copy(s.upper, upper)
	for i := range s.rho {
		rho := s.settings.Rho
		if s.lower[i] == s.upper[i] {
			rho *= s.settings.RhoEqualScale
		}
		if rho != s.rho[i] {
			s.rho[i] = rho
			s.needFactorize = true
		}
	}
	return nil
}

// factorize builds and factors the reduced KKT matrix
// P + sigma*I + A' diag(rho) A.
func (s *ADMM) factorize() error {
	kkt := mat.NewSymDense(s.n, nil)
	for i := 0; i < s.n; i++ {
		for j := i; j < s.n; j++ {
			v := 0.5 * (s.hessian.At(i, j) + s.hessian.At(j, i))
			if i == j {
				v += s.settings.Sigma
			}
			for k := 0; k < s.m; k++ {
				v += s.rho[k] * s.constraints.At(k, i) * s.constraints.At(k, j)
			}
			kkt.SetSym(i, j, v)
		}
	}
	if ok := s.chol.Factorize(kkt); !ok {
		s.factorized = false
		return errors.New("reduced kkt matrix is not positive definite")
	}
	s.factorized = true
	s.needFactorize = false
	return nil
}

// Solve implements Backend.
func (s *ADMM) Solve() error {
	if !s.initialized {
		return errors.New("backend not initialized")
	}
	if s.needFactorize || !s.factorized {
		if err := s.factorize(); err != nil {
			return err
		}
	}

	alpha := s.settings.Alpha
	for iter := 1; iter <= s.settings.MaxIterations; iter++ {
		// x update: (P + sigma*I + A' diag(rho) A) x = sigma*x - q + A'(rho.*z - y)
		for i := 0; i < s.n; i++ {
			s.rhs[i] = s.settings.Sigma*s.x[i] - s.gradient[i]
		}
		for k := 0; k < s.m; k++ {
			w := s.rho[k]*s.z[k] - s.y[k]
			if w == 0 {
				continue
			}
			for j := 0; j < s.n; j++ {
				s.rhs[j] += s.constraints.At(k, j) * w
			}
		}
		rhsVec := mat.NewVecDense(s.n, s.rhs)
		sol := mat.NewVecDense(s.n, s.xNew)
		if err := s.chol.SolveVecTo(sol, rhsVec); err != nil {
			return errors.Wrap(err, "kkt solve failed")
		}

		s.mulConstraints(s.xNew, s.ax)

		// z and y updates with over-relaxation
		for k := 0; k < s.m; k++ {
			s.axRel[k] = alpha*s.ax[k] + (1-alpha)*s.z[k]
			zNew := clamp(s.axRel[k]+s.y[k]/s.rho[k], s.lower[k], s.upper[k])
			s.y[k] += s.rho[k] * (s.axRel[k] - zNew)
			s.z[k] = zNew
		}
		for i := 0; i < s.n; i++ {
			s.x[i] = alpha*s.xNew[i] + (1-alpha)*s.x[i]
		}

		if iter%10 == 0 || iter == s.settings.MaxIterations {
			prim, dual := s.residuals()
			if prim <= s.primalTolerance() && dual <= s.dualTolerance() {
				s.stats = Stats{
					Iterations:     iter,
					PrimalResidual: prim,
					DualResidual:   dual,
					Objective:      s.objective(),
				}
				return nil
			}
		}
	}

	prim, dual := s.residuals()
	s.stats = Stats{
		Iterations:     s.settings.MaxIterations,
		PrimalResidual: prim,
		DualResidual:   dual,
		Objective:      s.objective(),
	}
	return errors.Errorf("no convergence after %d iterations (primal %.3e, dual %.3e)",
		s.settings.MaxIterations, prim, dual)
}

// Solution implements Backend.
func (s *ADMM) Solution() []float64 { return s.x }

// Stats implements Backend.
func (s *ADMM) Stats() Stats { return s.stats }

func (s *ADMM) mulConstraints(x, out []float64) {
	for k := 0; k < s.m; k++ {
		var sum float64
		for j := 0; j < s.n; j++ {
			sum += s.constraints.At(k, j) * x[j]
		}
		out[k] = sum
	}
}

// objective evaluates 1/2 x'Px + q'x at the current iterate.
func (s *ADMM) objective() float64 {
	var obj float64
	for i := 0; i < s.n; i++ {
		var px float64
		for j := 0; j < s.n; j++ {
			px += s.hessian.At(i, j) * s.x[j]
		}
		obj += 0.5 * s.x[i] * px
	}
	return obj + floats.Dot(s.gradient, s.x)
}

func (s *ADMM) residuals() (primal, dual float64) {
	s.mulConstraints(s.x, s.ax)
	copy(s.axRel, s.ax)
	floats.Sub(s.axRel, s.z)
	primal = floats.Norm(s.axRel, math.Inf(1))
	for i := 0; i < s.n; i++ {
		r := s.gradient[i]
		for j := 0; j < s.n; j++ {
			r += s.hessian.At(i, j) * s.x[j]
		}
		for k := 0; k < s.m; k++ {
			r += s.constraints.At(k, i) * s.y[k]
		}
		dual = math.Max(dual, math.Abs(r))
	}
	return primal, dual
}

func (s *ADMM) primalTolerance() float64 {
	var maxAx, maxZ float64
	for k := 0; k < s.m; k++ {
		maxAx = math.Max(maxAx, math.Abs(s.ax[k]))
		maxZ = math.Max(maxZ, math.Abs(s.z[k]))
	}
	return s.settings.EpsAbs + s.settings.EpsRel*math.Max(maxAx, maxZ)
}

func (s *ADMM) dualTolerance() float64 {
	var scale float64
	for i := 0; i < s.n; i++ {
		var px, aty float64
		for j := 0; j < s.n; j++ {
			px += s.hessian.At(i, j) * s.x[j]
		}
		for k := 0; k < s.m; k++ {
			aty += s.constraints.At(k, i) * s.y[k]
		}
		scale = math.Max(scale, math.Abs(px))
		scale = math.Max(scale, math.Abs(aty))
		scale = math.Max(scale, math.Abs(s.gradient[i]))
	}
	return s.settings.EpsAbs + s.settings.EpsRel*scale
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
