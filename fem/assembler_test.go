package fem

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/femassembler/comm"
	"github.com/notargets/femassembler/la"
	"github.com/notargets/femassembler/mesh"
)

type poisson struct {
	V    *FunctionSpace
	a, L *Form
	bc   *DirichletBC
}

// newPoisson sets up -u'' = 1 on [0,1] with u(0) = 1, u(1) = 2
func newPoisson(c *comm.Comm, n int, method Method) (p *poisson, err error) {
	var m *mesh.Mesh
	if m, err = mesh.UnitInterval(c, n); err != nil {
		return
	}
	p = &poisson{}
	if p.V, err = NewFunctionSpace(m, P1()); err != nil {
		return
	}
	if p.a, err = NewBilinearForm(LaplaceP1{}, p.V, p.V); err != nil {
		return
	}
	if p.L, err = NewLinearForm(SourceP1{}, p.V, Constant(1)); err != nil {
		return
	}
	ends := func(x []float64, onBoundary bool) bool {
		return onBoundary || x[0] == 0 || x[0] == 1
	}
	p.bc, err = NewDirichletBC(p.V, Expression(func(x []float64) float64 { return 1 + x[0] }), ends, method)
	return
}

func (p *poisson) assemble(bcs ...*DirichletBC) (A *la.Matrix, b *la.Vector, err error) {
	var as *Assembler
	if as, err = NewAssembler([][]*Form{{p.a}}, []*Form{p.L}, bcs); err != nil {
		return
	}
	A, b = la.NewMatrix("A"), la.NewVector("b")
	err = as.Assemble(A, b)
	return
}

func TestSingleCellTensor(t *testing.T) {
	{ // DG0 mass on one interval
		m, err := mesh.NewInterval(comm.Self(), 1, 0, 3)
		require.NoError(t, err)
		Q, err := NewFunctionSpace(m, DG0())
		require.NoError(t, err)
		a, err := NewBilinearForm(MassP0{}, Q, Q)
		require.NoError(t, err)
		as, err := NewAssembler([][]*Form{{a}}, nil, nil)
		require.NoError(t, err)
		A := la.NewMatrix("A")
		require.NoError(t, as.AssembleMatrix(A))
		D, err := A.ToDense()
		require.NoError(t, err)
		assert.Equal(t, []float64{3}, D.RawMatrix().Data)
	}
	{ // P1 stiffness and mass on the reference triangle
		m, err := mesh.NewMesh(comm.Self(), mesh.Triangle, [][]float64{{0, 0}, {1, 0}, {0, 1}}, [][]int{{0, 1, 2}})
		require.NoError(t, err)
		V, err := NewFunctionSpace(m, P1())
		require.NoError(t, err)
		for _, tc := range []struct {
			integral CellIntegral
			expected []float64
		}{
			{LaplaceP1{}, []float64{1, -0.5, -0.5, -0.5, 0.5, 0, -0.5, 0, 0.5}},
			{MassP1{}, []float64{2, 1, 1, 1, 2, 1, 1, 1, 2}},
		} {
			a, err := NewBilinearForm(tc.integral, V, V)
			require.NoError(t, err)
			as, err := NewAssembler([][]*Form{{a}}, nil, nil)
			require.NoError(t, err)
			A := la.NewMatrix("A")
			require.NoError(t, as.AssembleMatrix(A))
			D, err := A.ToDense()
			require.NoError(t, err)
			expected := tc.expected
			if _, ok := tc.integral.(MassP1); ok {
				expected = make([]float64, 9)
				floats.ScaleTo(expected, 1./24, tc.expected)
			}
			assert.InDeltaSlice(t, expected, D.RawMatrix().Data, 1e-14)
			assert.Equal(t, 1, A.ApplyCount())
		}
	}
}

func TestDirichletElimination(t *testing.T) {
	p, err := newPoisson(comm.Self(), 4, Topological)
	require.NoError(t, err)
	A, b, err := p.assemble(p.bc)
	require.NoError(t, err)
	D, err := A.ToDense()
	require.NoError(t, err)
	assert.Equal(t, []float64{
		1, 0, 0, 0, 0,
		0, 8, -4, 0, 0,
		0, -4, 8, -4, 0,
		0, 0, -4, 8, 0,
		0, 0, 0, 0, 1,
	}, D.RawMatrix().Data)
	x, err := b.Gather()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 4.25, 0.25, 8.25, 2}, x, 1e-14)
	// Constrained entries are exact
	assert.Equal(t, 1., x[0])
	assert.Equal(t, 2., x[4])
	assert.Equal(t, 1, A.ApplyCount())
	// Assembly, one lifting, set_bc
	assert.Equal(t, 3, b.ApplyCount())

	// P1 is nodally exact for this problem, u = 1 + x + x(1-x)/2
	var u mat.VecDense
	require.NoError(t, u.SolveVec(D, mat.NewVecDense(5, x)))
	for i := 0; i < 5; i++ {
		xi := float64(i) / 4
		assert.InDelta(t, 1+xi+xi*(1-xi)/2, u.AtVec(i), 1e-12)
	}
}

func TestLifting(t *testing.T) {
	m, err := mesh.UnitSquare(comm.Self(), 2, 2)
	require.NoError(t, err)
	V, err := NewFunctionSpace(m, P1())
	require.NoError(t, err)
	a, err := NewBilinearForm(LaplaceP1{}, V, V)
	require.NoError(t, err)
	L, err := NewLinearForm(SourceP1{}, V, Expression(func(x []float64) float64 { return x[0] + 2*x[1] }))
	require.NoError(t, err)
	origin := func(x []float64, onBoundary bool) bool { return x[0] == 0 && x[1] == 0 }
	bc, err := NewDirichletBC(V, Constant(3), origin, Pointwise)
	require.NoError(t, err)

	assemble := func(bcs []*DirichletBC) (D *mat.Dense, x []float64) {
		as, err := NewAssembler([][]*Form{{a}}, []*Form{L}, bcs)
		require.NoError(t, err)
		A, b := la.NewMatrix("A"), la.NewVector("b")
		require.NoError(t, as.Assemble(A, b))
		D, err = A.ToDense()
		require.NoError(t, err)
		x, err = b.Gather()
		require.NoError(t, err)
		return
	}
	A0, b0 := assemble(nil)
	A1, b1 := assemble([]*DirichletBC{bc})
	assert.Equal(t, 3., b1[0])
	assert.Equal(t, 1., A1.At(0, 0))
	for i := 1; i < len(b0); i++ {
		assert.InDelta(t, b0[i]-A0.At(i, 0)*3, b1[i], 1e-14, "row %d", i)
		assert.Equal(t, 0., A1.At(i, 0))
		assert.Equal(t, 0., A1.At(0, i))
	}
}

func TestIdempotentAssembly(t *testing.T) {
	p, err := newPoisson(comm.Self(), 7, Geometric)
	require.NoError(t, err)
	A1, b1, err := p.assemble(p.bc)
	require.NoError(t, err)
	A2, b2, err := p.assemble(p.bc)
	require.NoError(t, err)
	D1, err := A1.ToDense()
	require.NoError(t, err)
	D2, err := A2.ToDense()
	require.NoError(t, err)
	assert.Equal(t, D1.RawMatrix().Data, D2.RawMatrix().Data)
	x1, err := b1.Gather()
	require.NoError(t, err)
	x2, err := b2.Gather()
	require.NoError(t, err)
	assert.Equal(t, x1, x2)
}

func TestBlockAssembly(t *testing.T) {
	m, err := mesh.UnitInterval(comm.Self(), 2)
	require.NoError(t, err)
	V, err := NewFunctionSpace(m, P1())
	require.NoError(t, err)
	Q, err := NewFunctionSpace(m, DG0())
	require.NoError(t, err)
	a00, err := NewBilinearForm(LaplaceP1{}, V, V)
	require.NoError(t, err)
	a01, err := NewBilinearForm(CouplingP1P0{}, V, Q)
	require.NoError(t, err)
	a10, err := NewBilinearForm(CouplingP0P1{}, Q, V)
	require.NoError(t, err)
	L, err := NewLinearForm(SourceP1{}, V, Constant(1))
	require.NoError(t, err)
	bc, err := NewDirichletBC(V, Constant(0), OnBoundary)
	require.NoError(t, err)
	bcs := []*DirichletBC{bc}

	as, err := NewAssembler([][]*Form{{a00, a01}, {a10, nil}}, []*Form{L}, bcs)
	require.NoError(t, err)
	A, b := la.NewMatrix("A"), la.NewVector("b")
	require.NoError(t, as.Assemble(A, b))
	assert.True(t, A.IsNest())
	assert.Nil(t, A.Block(1, 1))
	assert.NotNil(t, A.Block(0, 1))
	assert.Equal(t, 1, A.ApplyCount())
	r, c := A.Dims()
	assert.Equal(t, 5, r)
	assert.Equal(t, 5, c)

	// Each block assembled on its own
	single := func(a *Form) *mat.Dense {
		as, err := NewAssembler([][]*Form{{a}}, nil, bcs)
		require.NoError(t, err)
		B := la.NewMatrix("B")
		require.NoError(t, as.AssembleMatrix(B))
		D, err := B.ToDense()
		require.NoError(t, err)
		return D
	}
	K, B, C := single(a00), single(a01), single(a10)
	// Constrained rows of the coupling block are cleared without a diagonal
	assert.Equal(t, []float64{0, 0}, B.RawRowView(0))
	assert.Equal(t, []float64{0.25, 0.25}, B.RawRowView(1))
	assert.Equal(t, []float64{0, 0}, B.RawRowView(2))
	assert.Equal(t, []float64{0, 0.25, 0}, C.RawRowView(0))

	var (
		xu = mat.NewVecDense(3, []float64{1, -2, 3})
		xp = mat.NewVecDense(2, []float64{0.5, 4})
		x  = mat.NewVecDense(5, []float64{1, -2, 3, 0.5, 4})
		yu, yp, t0, y mat.VecDense
	)
	yu.MulVec(K, xu)
	t0.MulVec(B, xp)
	yu.AddVec(&yu, &t0)
	yp.MulVec(C, xu)
	D, err := A.ToDense()
	require.NoError(t, err)
	y.MulVec(D, x)
	expected := append(append([]float64{}, yu.RawVector().Data...), yp.RawVector().Data...)
	assert.InDeltaSlice(t, expected, y.RawVector().Data, 1e-14)
	// (1, 1) is an explicit zero block
	assert.Equal(t, []float64{0, 0, 0, 0}, []float64{D.At(3, 3), D.At(3, 4), D.At(4, 3), D.At(4, 4)})

	x2, err := b.Gather()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 0}, x2)
}

// countingLaplace records how many cells are tabulated
type countingLaplace struct {
	LaplaceP1
	calls *int
}

func (cl countingLaplace) TabulateTensor(A []float64, w [][]float64, coords *mat.Dense, cell mesh.CellData) {
	*cl.calls++
	cl.LaplaceP1.TabulateTensor(A, w, coords, cell)
}

func TestOffDiagonalLifting(t *testing.T) {
	m, err := mesh.UnitInterval(comm.Self(), 2)
	require.NoError(t, err)
	V, err := NewFunctionSpace(m, P1())
	require.NoError(t, err)
	Q, err := NewFunctionSpace(m, DG0())
	require.NoError(t, err)
	a01, err := NewBilinearForm(CouplingP1P0{}, V, Q)
	require.NoError(t, err)
	L, err := NewLinearForm(SourceP1{}, V, Constant(0))
	require.NoError(t, err)
	left := func(x []float64, onBoundary bool) bool { return x[0] < 0.5 }
	// Q dof 0 sits at the first cell midpoint, V dof 0 at x = 0
	bcQ, err := NewDirichletBC(Q, Constant(2), left, Pointwise)
	require.NoError(t, err)
	bcV, err := NewDirichletBC(V, Constant(7), func(x []float64, onBoundary bool) bool { return x[0] == 0 }, Pointwise)
	require.NoError(t, err)

	as, err := NewAssembler([][]*Form{{a01}}, []*Form{L}, []*DirichletBC{bcQ, bcV})
	require.NoError(t, err)
	{ // b = -A01 g, rows constrained in V are not zeroed since V differs from Q
		b := la.NewVector("b")
		require.NoError(t, b.Init(V.DofMap().IndexMap()))
		require.NoError(t, as.applyBC(b, a01))
		assert.Equal(t, 1, b.ApplyCount())
		x, err := b.Gather()
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{-0.5, -0.5, 0}, x, 1e-15)
	}
	{ // set_bc then overwrites the V constrained entry
		b := la.NewVector("b")
		require.NoError(t, as.AssembleVector(b))
		x, err := b.Gather()
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{7, -0.5, 0}, x, 1e-15)
	}
}

func TestLiftingSkipsFreeCells(t *testing.T) {
	m, err := mesh.UnitInterval(comm.Self(), 4)
	require.NoError(t, err)
	V, err := NewFunctionSpace(m, P1())
	require.NoError(t, err)
	var calls int
	a, err := NewBilinearForm(countingLaplace{calls: &calls}, V, V)
	require.NoError(t, err)
	L, err := NewLinearForm(SourceP1{}, V, Constant(1))
	require.NoError(t, err)
	bc, err := NewDirichletBC(V, Constant(1), func(x []float64, onBoundary bool) bool { return x[0] == 0 }, Pointwise)
	require.NoError(t, err)
	as, err := NewAssembler([][]*Form{{a}}, []*Form{L}, []*DirichletBC{bc})
	require.NoError(t, err)

	require.NoError(t, as.AssembleMatrix(la.NewMatrix("A")))
	assert.Equal(t, 4, calls)
	calls = 0
	b := la.NewVector("b")
	require.NoError(t, as.AssembleVector(b))
	// Only the cell holding x = 0 is tabulated by the lifting
	assert.Equal(t, 1, calls)
	x, err := b.Gather()
	require.NoError(t, err)
	// Row 1 loses K10*g = -4
	assert.InDeltaSlice(t, []float64{1, 0.25 + 4, 0.25, 0.25, 0.125}, x, 1e-14)
}

func TestGhostExclusion(t *testing.T) {
	serialA, serialB := func() (*mat.Dense, []float64) {
		p, err := newPoisson(comm.Self(), 4, Topological)
		require.NoError(t, err)
		A, b, err := p.assemble(p.bc)
		require.NoError(t, err)
		D, err := A.ToDense()
		require.NoError(t, err)
		x, err := b.Gather()
		require.NoError(t, err)
		return D, x
	}()
	var (
		w      = comm.NewWorld(2)
		dense  = make([]*mat.Dense, 2)
		vecs   = make([][]float64, 2)
		totals = make([]float64, 2)
	)
	err := w.Run(func(c *comm.Comm) (err error) {
		var p *poisson
		if p, err = newPoisson(c, 4, Topological); err != nil {
			return
		}
		// Every rank holds a ghost copy of a cell owned by the other
		assert.Equal(t, 1, p.V.Mesh().NumGhostCells())
		var (
			A *la.Matrix
			b *la.Vector
		)
		if A, b, err = p.assemble(p.bc); err != nil {
			return
		}
		if dense[c.Rank()], err = A.ToDense(); err != nil {
			return
		}
		if vecs[c.Rank()], err = b.Gather(); err != nil {
			return
		}
		// The mass matrix of [0,1] sums to the length of the interval
		var (
			a  *Form
			as *Assembler
			M  = la.NewMatrix("M")
			DM *mat.Dense
		)
		if a, err = NewBilinearForm(MassP1{}, p.V, p.V); err != nil {
			return
		}
		if as, err = NewAssembler([][]*Form{{a}}, nil, nil); err != nil {
			return
		}
		if err = as.AssembleMatrix(M); err != nil {
			return
		}
		if DM, err = M.ToDense(); err != nil {
			return
		}
		totals[c.Rank()] = mat.Sum(DM)
		return
	})
	require.NoError(t, err)
	for rank := 0; rank < 2; rank++ {
		assert.InDeltaSlice(t, serialA.RawMatrix().Data, dense[rank].RawMatrix().Data, 1e-14)
		assert.InDeltaSlice(t, serialB, vecs[rank], 1e-14)
		assert.InDelta(t, 1, totals[rank], 1e-14)
	}
}

func TestGatherAsymmetry(t *testing.T) {
	type result struct {
		local, complete BoundaryMap
		D               *mat.Dense
		x               []float64
	}
	run := func(method Method) (results []result, collectives int64) {
		w := comm.NewWorld(2)
		results = make([]result, 2)
		err := w.Run(func(c *comm.Comm) (err error) {
			var p *poisson
			if p, err = newPoisson(c, 4, method); err != nil {
				return
			}
			r := &results[c.Rank()]
			r.local = make(BoundaryMap)
			p.bc.GetBoundaryValues(r.local)
			as, err := NewAssembler([][]*Form{{p.a}}, []*Form{p.L}, []*DirichletBC{p.bc})
			if err != nil {
				return
			}
			if r.complete, err = as.collectBoundaryValues(p.V); err != nil {
				return
			}
			A, b := la.NewMatrix("A"), la.NewVector("b")
			if err = as.Assemble(A, b); err != nil {
				return
			}
			if r.D, err = A.ToDense(); err != nil {
				return
			}
			r.x, err = b.Gather()
			return
		})
		require.NoError(t, err)
		return results, w.Collectives()
	}
	topo, topoCollectives := run(Topological)
	point, pointCollectives := run(Pointwise)

	// Topological resolution only sees the facets of owned cells
	assert.Equal(t, BoundaryMap{0: 1}, topo[0].local)
	assert.Equal(t, BoundaryMap{4: 2}, topo[1].local)
	// Pointwise resolution is complete on every rank
	assert.Equal(t, BoundaryMap{0: 1, 4: 2}, point[0].local)
	assert.Equal(t, BoundaryMap{0: 1, 4: 2}, point[1].local)
	for rank := 0; rank < 2; rank++ {
		assert.Equal(t, point[rank].complete, topo[rank].complete)
		assert.Equal(t, BoundaryMap{0: 1, 4: 2}, topo[rank].complete)
		assert.Equal(t, topo[rank].D.RawMatrix().Data, point[rank].D.RawMatrix().Data)
		assert.Equal(t, topo[rank].x, point[rank].x)
	}
	// The pointwise run skipped every boundary gather
	assert.Less(t, pointCollectives, topoCollectives)
}

func TestBoundaryMethods(t *testing.T) {
	m, err := mesh.UnitSquare(comm.Self(), 2, 2)
	require.NoError(t, err)
	V, err := NewFunctionSpace(m, P1())
	require.NoError(t, err)
	onEdge := func(x []float64, onBoundary bool) bool {
		return x[0] == 0 || x[0] == 1 || x[1] == 0 || x[1] == 1
	}
	maps := make([]BoundaryMap, 0, 3)
	for _, method := range []Method{Topological, Geometric, Pointwise} {
		marker := SubDomain(OnBoundary)
		if method == Pointwise {
			marker = onEdge
		}
		bc, err := NewDirichletBC(V, Constant(1), marker, method)
		require.NoError(t, err)
		assert.Equal(t, method, bc.Method())
		assert.True(t, bc.FunctionSpace() == V)
		bm := make(BoundaryMap)
		bc.GetBoundaryValues(bm)
		maps = append(maps, bm)
	}
	assert.Len(t, maps[0], 8)
	assert.False(t, maps[0].Has(4))
	assert.Equal(t, maps[0], maps[1])
	assert.Equal(t, maps[0], maps[2])
	dofs, values := maps[0].Sorted()
	assert.Equal(t, []int{0, 1, 2, 3, 5, 6, 7, 8}, dofs)
	assert.Equal(t, []float64{1, 1, 1, 1, 1, 1, 1, 1}, values)

	_, err = NewDirichletBC(V, Constant(1), OnBoundary, Method(7))
	assert.Error(t, err)
	_, err = NewDirichletBC(V, nil, OnBoundary)
	assert.Error(t, err)
}

func TestVectorBoundaryOnSubspace(t *testing.T) {
	m, err := mesh.UnitInterval(comm.Self(), 2)
	require.NoError(t, err)
	V, err := NewFunctionSpace(m, P1(2))
	require.NoError(t, err)
	a, err := NewBilinearForm(VectorLaplaceP1{BlockSize: 2}, V, V)
	require.NoError(t, err)
	bc, err := NewDirichletBC(V.Sub(0), Constant(5), OnBoundary)
	require.NoError(t, err)
	as, err := NewAssembler([][]*Form{{a}}, nil, []*DirichletBC{bc})
	require.NoError(t, err)
	A := la.NewMatrix("A")
	require.NoError(t, as.AssembleMatrix(A))
	D, err := A.ToDense()
	require.NoError(t, err)
	// Component 0 of the end points is eliminated, component 1 is not
	assert.Equal(t, []float64{1, 0, 0, 0, 0, 0}, D.RawRowView(0))
	assert.Equal(t, []float64{0, 2, 0, -2, 0, 0}, D.RawRowView(1))
	assert.Equal(t, []float64{0, 0, 0, 0, 1, 0}, D.RawRowView(4))
	assert.Equal(t, []float64{0, 0, 0, -2, 0, 2}, D.RawRowView(5))
	assert.Equal(t, []float64{0, 0, 4, 0, 0, 0}, D.RawRowView(2))
}

func TestAssemblerErrors(t *testing.T) {
	p, err := newPoisson(comm.Self(), 2, Topological)
	require.NoError(t, err)
	{ // Re-initialization is not supported
		as, err := NewAssembler([][]*Form{{p.a}}, []*Form{p.L}, nil)
		require.NoError(t, err)
		A := la.NewMatrix("A")
		require.NoError(t, as.AssembleMatrix(A))
		assert.True(t, errors.Is(as.AssembleMatrix(A), ErrNotImplemented))
	}
	{ // Several linear forms
		as, err := NewAssembler([][]*Form{{p.a}}, []*Form{p.L, p.L}, nil)
		require.NoError(t, err)
		assert.True(t, errors.Is(as.AssembleVector(la.NewVector("b")), ErrNotImplemented))
	}
	{ // Construction checks
		_, err := NewAssembler([][]*Form{{p.L}}, nil, nil)
		assert.True(t, errors.Is(err, ErrRankMismatch))
		_, err = NewAssembler([][]*Form{{p.a}}, []*Form{p.a}, nil)
		assert.True(t, errors.Is(err, ErrRankMismatch))
		_, err = NewAssembler([][]*Form{{p.a, p.a}, {p.a}}, nil, nil)
		assert.True(t, errors.Is(err, ErrShape))
		_, err = NewAssembler([][]*Form{{p.a}}, nil, []*DirichletBC{nil})
		assert.Error(t, err)
	}
	{ // Every block row and column needs a form to size it
		_, err := NewAssembler([][]*Form{{p.a, nil}, {nil, nil}}, nil, nil)
		assert.True(t, errors.Is(err, ErrShape))
		_, err = NewAssembler([][]*Form{{p.a, nil}}, nil, nil)
		assert.True(t, errors.Is(err, ErrShape))
		_, err = NewAssembler([][]*Form{{p.a}, {nil}}, nil, nil)
		assert.True(t, errors.Is(err, ErrShape))
		_, err = NewAssembler([][]*Form{{nil}}, nil, nil)
		assert.True(t, errors.Is(err, ErrShape))
	}
	{ // Block rows must share the test space
		W, err := NewFunctionSpace(p.V.Mesh(), P1())
		require.NoError(t, err)
		aw, err := NewBilinearForm(LaplaceP1{}, W, p.V)
		require.NoError(t, err)
		_, err = NewAssembler([][]*Form{{p.a}, {aw}}, nil, nil)
		assert.NoError(t, err)
		_, err = NewAssembler([][]*Form{{p.a, aw}}, nil, nil)
		assert.Error(t, err)
	}
	{ // Vector assembly accumulates into an initialized vector
		as, err := NewAssembler(nil, []*Form{p.L}, nil)
		require.NoError(t, err)
		b := la.NewVector("b")
		require.NoError(t, as.AssembleVector(b))
		require.NoError(t, as.AssembleVector(b))
		x, err := b.Gather()
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{0.5, 1, 0.5}, x, 1e-14)
		norm, err := b.Norm()
		require.NoError(t, err)
		assert.InDelta(t, math.Sqrt(1.5), norm, 1e-14)
	}
}
