// Package fixedpoint implements deterministic fixed-point arithmetic for the
// economic engine. Values are signed integers scaled by 1e18 and backed by
// big.Int so intermediate products never overflow. All transcendental
// functions are bounded-iteration approximations (Taylor series, Newton
// refinement, Babylonian method) so results are bit-identical across runs
// and platforms.
package fixedpoint

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// Scale is the engine-wide precision constant. One fixed-point unit
// represents 1e-18. Raw integers must never be mixed with scaled values.
const Scale = 1_000_000_000_000_000_000

// Approximation bounds. Test oracles depend on these exact values.
const (
	// taylorIterationCap bounds every series expansion.
	taylorIterationCap = 50
	// convergenceThreshold stops a series once the term magnitude drops
	// below 1e-12 in fixed-point units.
	convergenceThreshold = 1_000_000
	// newtonIterationCap bounds Ln refinement.
	newtonIterationCap = 32
)

// Domain errors.
var (
	// ErrDivisionByZero is returned when a divisor is zero.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")

	// ErrNonPositive is returned by Ln for x <= 0.
	ErrNonPositive = errors.New("fixedpoint: ln of non-positive value")

	// ErrNegative is returned by Sqrt for x < 0.
	ErrNegative = errors.New("fixedpoint: sqrt of negative value")
)

var (
	scaleInt = big.NewInt(Scale)
	twoInt   = big.NewInt(2)

	// expInputGuard is the overflow guard for Exp/ExpNeg: 20.0 in
	// fixed-point units. Beyond it ExpNeg returns 0 and Exp saturates.
	expInputGuard = new(big.Int).Mul(big.NewInt(20), scaleInt)

	// ln2 is ln(2) at Scale precision, used to undo range reduction.
	ln2 = big.NewInt(693_147_180_559_945_309)
)

// Value is an immutable fixed-point number. The zero Value is 0.
type Value struct {
	i *big.Int
}

// Zero returns the zero value.
func Zero() Value {
	return Value{}
}

// One returns 1.0.
func One() Value {
	return Value{i: new(big.Int).Set(scaleInt)}
}

// FromInt converts a whole number of units into a fixed-point value.
func FromInt(n int64) Value {
	return Value{i: new(big.Int).Mul(big.NewInt(n), scaleInt)}
}

// FromRaw wraps an already-scaled integer. The caller asserts that raw is
// expressed in Scale units.
func FromRaw(raw *big.Int) Value {
	if raw == nil {
		return Value{}
	}
	return Value{i: new(big.Int).Set(raw)}
}

// FromRawInt64 wraps an already-scaled int64.
func FromRawInt64(raw int64) Value {
	return Value{i: big.NewInt(raw)}
}

// FromDecimal converts a decimal value into fixed-point, truncating any
// precision beyond 18 fractional digits.
func FromDecimal(d decimal.Decimal) Value {
	shifted := d.Shift(18).Truncate(0)
	return Value{i: shifted.BigInt()}
}

// Decimal converts the value back into a decimal for external consumers
// (price feeds, reports). Exact: no precision is lost.
func (v Value) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(v.int(), -18)
}

// Raw returns a copy of the underlying scaled integer.
func (v Value) Raw() *big.Int {
	return new(big.Int).Set(v.int())
}

// Int returns the whole-unit part of v, truncated toward zero and
// saturated to the int64 range.
func (v Value) Int() int64 {
	q := new(big.Int).Quo(v.int(), scaleInt)
	if !q.IsInt64() {
		if q.Sign() > 0 {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return q.Int64()
}

// int returns the backing integer, treating the zero Value as 0.
func (v Value) int() *big.Int {
	if v.i == nil {
		return new(big.Int)
	}
	return v.i
}

// IsZero reports whether v == 0.
func (v Value) IsZero() bool {
	return v.i == nil || v.i.Sign() == 0
}

// Sign returns -1, 0, or +1.
func (v Value) Sign() int {
	return v.int().Sign()
}

// Cmp compares v and o, returning -1, 0, or +1.
func (v Value) Cmp(o Value) int {
	return v.int().Cmp(o.int())
}

// Add returns v + o.
func (v Value) Add(o Value) Value {
	return Value{i: new(big.Int).Add(v.int(), o.int())}
}

// Sub returns v - o.
func (v Value) Sub(o Value) Value {
	return Value{i: new(big.Int).Sub(v.int(), o.int())}
}

// Neg returns -v.
func (v Value) Neg() Value {
	return Value{i: new(big.Int).Neg(v.int())}
}

// Abs returns |v|.
func (v Value) Abs() Value {
	return Value{i: new(big.Int).Abs(v.int())}
}

// MulInt returns v * n for a raw integer n.
func (v Value) MulInt(n int64) Value {
	return Value{i: new(big.Int).Mul(v.int(), big.NewInt(n))}
}

// MulDown returns v * o rounded toward negative infinity.
func (v Value) MulDown(o Value) Value {
	p := new(big.Int).Mul(v.int(), o.int())
	return Value{i: floorDiv(p, scaleInt)}
}

// MulUp returns v * o rounded toward positive infinity.
func (v Value) MulUp(o Value) Value {
	p := new(big.Int).Mul(v.int(), o.int())
	return Value{i: ceilDiv(p, scaleInt)}
}

// DivDown returns v / o rounded toward negative infinity.
func (v Value) DivDown(o Value) (Value, error) {
	if o.IsZero() {
		return Value{}, ErrDivisionByZero
	}
	p := new(big.Int).Mul(v.int(), scaleInt)
	return Value{i: floorDiv(p, o.int())}, nil
}

// DivUp returns v / o rounded toward positive infinity.
func (v Value) DivUp(o Value) (Value, error) {
	if o.IsZero() {
		return Value{}, ErrDivisionByZero
	}
	p := new(big.Int).Mul(v.int(), scaleInt)
	return Value{i: ceilDiv(p, o.int())}, nil
}

// Min returns the smaller of v and o.
func (v Value) Min(o Value) Value {
	if v.Cmp(o) <= 0 {
		return v
	}
	return o
}

// Max returns the larger of v and o.
func (v Value) Max(o Value) Value {
	if v.Cmp(o) >= 0 {
		return v
	}
	return o
}

// Clamp constrains v to [lo, hi].
func (v Value) Clamp(lo, hi Value) Value {
	return v.Max(lo).Min(hi)
}

// String renders the value with full 18-digit fractional precision trimmed
// of trailing zeros.
func (v Value) String() string {
	return v.Decimal().String()
}

// floorDiv divides p by q rounding toward negative infinity. q must be
// non-zero.
func floorDiv(p, q *big.Int) *big.Int {
	quo, rem := new(big.Int).QuoRem(p, q, new(big.Int))
	if rem.Sign() != 0 && (p.Sign() < 0) != (q.Sign() < 0) {
		quo.Sub(quo, big.NewInt(1))
	}
	return quo
}

// ceilDiv divides p by q rounding toward positive infinity. q must be
// non-zero.
func ceilDiv(p, q *big.Int) *big.Int {
	quo, rem := new(big.Int).QuoRem(p, q, new(big.Int))
	if rem.Sign() != 0 && (p.Sign() < 0) == (q.Sign() < 0) {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// Exp computes e^x. Inputs beyond the overflow guard saturate: the result
// for x > 20.0 is Exp(20.0). Negative x is computed as 1/Exp(-x) rounded
// down.
func Exp(x Value) Value {
	xi := x.int()
	if xi.Sign() < 0 {
		inv := Exp(x.Neg())
		r, err := One().DivDown(inv)
		if err != nil {
			// Exp of a guarded positive input is never zero.
			return Zero()
		}
		return r
	}
	if xi.Cmp(expInputGuard) > 0 {
		xi = expInputGuard
	}

	// Taylor series: sum x^n/n!, term(n) = term(n-1) * x / n.
	sum := new(big.Int).Set(scaleInt)
	term := new(big.Int).Set(scaleInt)
	threshold := big.NewInt(convergenceThreshold)
	for n := int64(1); n <= taylorIterationCap; n++ {
		term.Mul(term, xi)
		term.Quo(term, scaleInt)
		term.Quo(term, big.NewInt(n))
		if term.CmpAbs(threshold) < 0 {
			break
		}
		sum.Add(sum, term)
	}
	return Value{i: sum}
}

// ExpNeg computes e^(-x) for x >= 0. Inputs beyond the overflow guard
// return 0 (the mathematical limit). Negative x degrades to 1 rather than
// growing the result, which is the financially conservative direction for
// decay callers.
func ExpNeg(x Value) Value {
	xi := x.int()
	if xi.Sign() < 0 {
		return One()
	}
	if xi.Cmp(expInputGuard) > 0 {
		return Zero()
	}
	r, err := One().DivDown(Exp(x))
	if err != nil {
		return Zero()
	}
	return r
}

// Ln computes the natural logarithm of x. Returns ErrNonPositive for
// x <= 0. The input is range-reduced into [0.5, 2.0) by repeated halving
// or doubling, refined by Newton iteration, then corrected by the
// power-of-two adjustment times ln(2).
func Ln(x Value) (Value, error) {
	if x.Sign() <= 0 {
		return Value{}, fmt.Errorf("%w: %s", ErrNonPositive, x)
	}

	reduced := new(big.Int).Set(x.int())
	adjustment := int64(0)
	two := new(big.Int).Mul(scaleInt, twoInt)
	half := new(big.Int).Quo(scaleInt, twoInt)
	for reduced.Cmp(two) >= 0 {
		reduced.Quo(reduced, twoInt)
		adjustment++
	}
	for reduced.Cmp(half) < 0 {
		reduced.Mul(reduced, twoInt)
		adjustment--
	}

	// Newton iteration on f(y) = e^y - x: y += x*e^(-y) - 1.
	target := Value{i: reduced}
	y := target.Sub(One())
	threshold := FromRawInt64(convergenceThreshold)
	for i := 0; i < newtonIterationCap; i++ {
		ey := Exp(y)
		ratio, err := target.DivDown(ey)
		if err != nil {
			return Value{}, err
		}
		delta := ratio.Sub(One())
		y = y.Add(delta)
		if delta.Abs().Cmp(threshold) < 0 {
			break
		}
	}

	correction := Value{i: new(big.Int).Mul(ln2, big.NewInt(adjustment))}
	return y.Add(correction), nil
}

// Sqrt computes the square root of y using the Babylonian method.
// Sqrt(0) == 0; negative input returns ErrNegative.
func Sqrt(y Value) (Value, error) {
	switch y.Sign() {
	case -1:
		return Value{}, fmt.Errorf("%w: %s", ErrNegative, y)
	case 0:
		return Zero(), nil
	}

	// Solve z^2 = y*Scale so z is itself in Scale units.
	target := new(big.Int).Mul(y.int(), scaleInt)
	z := new(big.Int).Lsh(big.NewInt(1), uint(target.BitLen()+1)/2)
	prev := new(big.Int)
	for {
		prev.Set(z)
		q := new(big.Int).Quo(target, z)
		z.Add(z, q)
		z.Quo(z, twoInt)
		if z.Cmp(prev) >= 0 {
			return Value{i: prev}, nil
		}
	}
}

// ExponentialDecay returns principal * e^(-rate*periods). Any zero input
// short-circuits to the principal unchanged: zero elapsed time or a zero
// rate must never reduce a balance.
func ExponentialDecay(principal, ratePerPeriod Value, periods int64) Value {
	if principal.IsZero() || ratePerPeriod.Sign() <= 0 || periods <= 0 {
		return principal
	}
	exponent := ratePerPeriod.MulInt(periods)
	return principal.MulDown(ExpNeg(exponent))
}
