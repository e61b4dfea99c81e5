package fem

import (
	"errors"
	"fmt"

	"github.com/notargets/femassembler/mesh"
)

var (
	ErrRankMismatch    = errors.New("form rank does not match")
	ErrElementMismatch = errors.New("function space element does not match the integral")
)

// Form is a cell integral bound to its argument spaces, test space first.
// The spaces of a form share one mesh.
type Form struct {
	integral     CellIntegral
	spaces       []*FunctionSpace
	coefficients []Coefficient
}

func NewForm(integral CellIntegral, spaces []*FunctionSpace, coefficients ...Coefficient) (f *Form, err error) {
	if integral == nil {
		return nil, fmt.Errorf("form needs a cell integral")
	}
	if integral.Rank() != len(spaces) {
		return nil, fmt.Errorf("integral of rank %d given %d spaces: %w", integral.Rank(), len(spaces), ErrRankMismatch)
	}
	elements := integral.Elements()
	for i, V := range spaces {
		if V == nil {
			return nil, fmt.Errorf("argument %d has no function space", i)
		}
		if V.Mesh() != spaces[0].Mesh() {
			return nil, fmt.Errorf("argument %d is defined on a different mesh", i)
		}
		if V.Element() != elements[i] {
			return nil, fmt.Errorf("argument %d is %s, integral needs %s: %w", i, V.Element(), elements[i], ErrElementMismatch)
		}
	}
	for i, c := range coefficients {
		if c == nil {
			return nil, fmt.Errorf("coefficient %d is nil", i)
		}
	}
	f = &Form{
		integral:     integral,
		spaces:       spaces,
		coefficients: coefficients,
	}
	return
}

func NewBilinearForm(integral CellIntegral, test, trial *FunctionSpace, coefficients ...Coefficient) (*Form, error) {
	return NewForm(integral, []*FunctionSpace{test, trial}, coefficients...)
}

func NewLinearForm(integral CellIntegral, test *FunctionSpace, coefficients ...Coefficient) (*Form, error) {
	return NewForm(integral, []*FunctionSpace{test}, coefficients...)
}

func (f *Form) Rank() int { return len(f.spaces) }

// FunctionSpace returns argument space i, 0 is the test space
func (f *Form) FunctionSpace(i int) *FunctionSpace { return f.spaces[i] }

// Mesh is nil only for a form without arguments
func (f *Form) Mesh() *mesh.Mesh {
	if len(f.spaces) == 0 {
		return nil
	}
	return f.spaces[0].Mesh()
}

func (f *Form) Integral() CellIntegral { return f.integral }

func (f *Form) Coefficients() []Coefficient { return f.coefficients }
