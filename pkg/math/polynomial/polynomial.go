package polynomial

import (
	"errors"
	"io"

	"MPC_SESSION/pkg/math/curve"
	"MPC_SESSION/pkg/math/sample"
	"MPC_SESSION/pkg/party"
)

// Polynomial represents f(X) = a₀ + a₁⋅X + … + aₜ⋅Xᵗ.
type Polynomial struct {
	coefficients []*curve.Scalar
}

// NewPolynomial generates a Polynomial f(X) = secret + a₁⋅X + … + aₜ⋅Xᵗ,
// with coefficients in ℤₙ, and degree t.
func NewPolynomial(rand io.Reader, degree int, constant *curve.Scalar) *Polynomial {
	coefficients := make([]*curve.Scalar, degree+1)
	if constant == nil {
		constant = curve.NewScalar()
	}
	coefficients[0] = constant.Clone()
	for i := 1; i <= degree; i++ {
		coefficients[i] = sample.ScalarUnit(rand)
	}
	return &Polynomial{coefficients: coefficients}
}

// Evaluate evaluates a polynomial in a given variable index
// We use Horner's method: https://en.wikipedia.org/wiki/Horner%27s_method
func (p *Polynomial) Evaluate(index *curve.Scalar) *curve.Scalar {
	result := curve.NewScalar()
	for i := len(p.coefficients) - 1; i >= 0; i-- {
		// bₙ₋₁ = bₙ * x + aₙ₋₁
		result.Mul(index).Add(p.coefficients[i])
	}
	return result
}

// EvaluateAt evaluates the polynomial at the scalar of a party index.
func (p *Polynomial) EvaluateAt(i party.Index) *curve.Scalar {
	return p.Evaluate(IndexScalar(i))
}

// Constant returns a reference to the constant coefficient of the polynomial.
func (p *Polynomial) Constant() *curve.Scalar {
	return p.coefficients[0].Clone()
}

// Degree is the highest power of the Polynomial.
func (p *Polynomial) Degree() int {
	return len(p.coefficients) - 1
}

// Exponent returns F(X) = f(X)•G.
func (p *Polynomial) Exponent() *Exponent {
	points := make([]*curve.Point, len(p.coefficients))
	for i, c := range p.coefficients {
		points[i] = c.ActOnBase()
	}
	return &Exponent{coefficients: points}
}

// Exponent is a polynomial whose coefficients are points, the Feldman commitment to a Polynomial.
type Exponent struct {
	coefficients []*curve.Point
}

// Evaluate returns F(x) using Horner's method.
func (e *Exponent) Evaluate(x *curve.Scalar) *curve.Point {
	last := len(e.coefficients) - 1
	result := e.coefficients[last]
	for i := last - 1; i >= 0; i-- {
		result = x.Act(result).Add(e.coefficients[i])
	}
	return result
}

// EvaluateAt evaluates F at the scalar of a party index.
func (e *Exponent) EvaluateAt(i party.Index) *curve.Point {
	return e.Evaluate(IndexScalar(i))
}

// Constant returns F(0).
func (e *Exponent) Constant() *curve.Point {
	return e.coefficients[0]
}

// Degree is the highest power of the Exponent.
func (e *Exponent) Degree() int {
	return len(e.coefficients) - 1
}

// Sum returns the coefficient-wise sum of exponents of equal degree.
func Sum(exponents ...*Exponent) (*Exponent, error) {
	if len(exponents) == 0 {
		return nil, errors.New("polynomial: nothing to sum")
	}
	degree := exponents[0].Degree()
	out := make([]*curve.Point, degree+1)
	for i := range out {
		out[i] = curve.NewIdentity()
	}
	for _, e := range exponents {
		if e.Degree() != degree {
			return nil, errors.New("polynomial: exponents of different degree")
		}
		for i, c := range e.coefficients {
			out[i] = out[i].Add(c)
		}
	}
	return &Exponent{coefficients: out}, nil
}

// Points encodes the coefficients as a list of compressed points.
func (e *Exponent) Points() ([][]byte, error) {
	out := make([][]byte, len(e.coefficients))
	for i, c := range e.coefficients {
		data, err := c.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out[i] = data
	}
	return out, nil
}

// NewExponent decodes compressed points produced by Exponent.Points.
func NewExponent(points [][]byte) (*Exponent, error) {
	if len(points) == 0 {
		return nil, errors.New("polynomial: empty exponent")
	}
	coefficients := make([]*curve.Point, len(points))
	for i, data := range points {
		var p curve.Point
		if err := p.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		coefficients[i] = &p
	}
	return &Exponent{coefficients: coefficients}, nil
}

// IndexScalar maps a party index to its evaluation point.
func IndexScalar(i party.Index) *curve.Scalar {
	return curve.ScalarFromUint(uint32(i))
}
