package polynomial

import (
	"MPC_SESSION/pkg/math/curve"
	"MPC_SESSION/pkg/party"
)

// Lagrange returns the Lagrange coefficients at 0 for all parties in the interpolation domain.
func Lagrange(interpolationDomain []party.Index) map[party.Index]*curve.Scalar {
	return LagrangeFor(interpolationDomain, interpolationDomain...)
}

// LagrangeFor returns the Lagrange coefficients at 0 for all parties in the given subset.
func LagrangeFor(interpolationDomain []party.Index, subset ...party.Index) map[party.Index]*curve.Scalar {
	// numerator = x₀ * … * xₖ
	scalars, numerator := getScalarsAndNumerator(interpolationDomain)

	coefficients := make(map[party.Index]*curve.Scalar, len(subset))
	for _, j := range subset {
		coefficients[j] = lagrange(scalars, numerator, j)
	}
	return coefficients
}

// LagrangeSingle returns the lagrange coefficient at 0 of the party with index j.
func LagrangeSingle(interpolationDomain []party.Index, j party.Index) *curve.Scalar {
	return LagrangeFor(interpolationDomain, j)[j]
}

func getScalarsAndNumerator(interpolationDomain []party.Index) (map[party.Index]*curve.Scalar, *curve.Scalar) {
	numerator := curve.ScalarFromUint(1)
	scalars := make(map[party.Index]*curve.Scalar, len(interpolationDomain))
	for _, i := range interpolationDomain {
		xi := IndexScalar(i)
		scalars[i] = xi
		numerator.Mul(xi)
	}
	return scalars, numerator
}

// lagrange returns the Lagrange coefficient lⱼ(0), for j in the interpolation domain.
// The numerator is provided beforehand for efficiency reasons.
//
// The following formulas are taken from
// https://en.wikipedia.org/wiki/Lagrange_polynomial
//
//	x₀ ⋅⋅⋅ xₖ
//
// lⱼ(0) =	--------------------------------------------------
//
//	xⱼ⋅(x₀ - xⱼ)⋅⋅⋅(xⱼ₋₁ - xⱼ)⋅(xⱼ₊₁ - xⱼ)⋅⋅⋅(xₖ - xⱼ).
func lagrange(interpolationDomain map[party.Index]*curve.Scalar, numerator *curve.Scalar, j party.Index) *curve.Scalar {
	xJ := interpolationDomain[j]
	tmp := curve.NewScalar()

	denominator := curve.ScalarFromUint(1)
	for i, xI := range interpolationDomain {
		if i == j {
			// lⱼ *= xⱼ
			denominator.Mul(xJ)
			continue
		}
		// tmp = xᵢ - xⱼ
		tmp.Set(xJ).Negate().Add(xI)
		// lⱼ *= (xᵢ - xⱼ)
		denominator.Mul(tmp)
	}

	// lⱼ = numerator/denominator
	lJ := denominator.Invert()
	lJ.Mul(numerator)
	return lJ
}
