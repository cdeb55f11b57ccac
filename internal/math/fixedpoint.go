package math

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// WAD is the common 18-decimal fixed-point scale. Share prices, fee rates
// and normalized asset amounts are all int64 values at this scale.
const WAD int64 = 1_000_000_000_000_000_000

// MaxAssetDecimals bounds the native precision of the pool asset. Assets
// with more than 18 decimals cannot be normalized onto the WAD scale.
const MaxAssetDecimals = 18

var (
	ErrDivideByZero = errors.New("math: divide by zero")
	ErrOverflow     = errors.New("math: result exceeds int64 range")
)

// bigPool recycles big.Int intermediates so the hot settlement path does
// not allocate per multiplication.
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	bigPool.Put(v)
}

// MulDiv computes floor(a * b / denom) with a big.Int intermediate so the
// product cannot overflow. Floor, not truncation: -1/2 rounds to -1.
func MulDiv(a, b, denom int64) (int64, error) {
	if denom == 0 {
		return 0, ErrDivideByZero
	}

	product := getBig()
	d := getBig()
	quotient := getBig()

	scratch := getBig()
	product.Mul(scratch.SetInt64(a), d.SetInt64(b))
	d.SetInt64(denom)
	quotient.Div(product, d) // big.Int.Div is floored division

	ok := quotient.IsInt64()
	result := int64(0)
	if ok {
		result = quotient.Int64()
	}

	putBig(product)
	putBig(d)
	putBig(quotient)
	putBig(scratch)

	if !ok {
		return 0, ErrOverflow
	}
	return result, nil
}

// WadMul computes floor(a * b / WAD).
func WadMul(a, b int64) (int64, error) {
	return MulDiv(a, b, WAD)
}

// WadDiv computes floor(a * WAD / b).
func WadDiv(a, b int64) (int64, error) {
	return MulDiv(a, WAD, b)
}

// Scaler converts between an asset's native precision and the WAD scale.
// The conversion factor is fixed at construction; Denormalize floors, so
// round-tripping a normalized value never inflates it.
type Scaler struct {
	factor int64
}

// NewScaler derives the scaler for an asset with the given decimals.
func NewScaler(assetDecimals uint8) (Scaler, error) {
	if assetDecimals > MaxAssetDecimals {
		return Scaler{}, fmt.Errorf("math: asset decimals %d exceed %d", assetDecimals, MaxAssetDecimals)
	}
	factor := int64(1)
	for i := uint8(0); i < MaxAssetDecimals-assetDecimals; i++ {
		factor *= 10
	}
	return Scaler{factor: factor}, nil
}

// Factor returns 10^(18 - assetDecimals).
func (s Scaler) Factor() int64 {
	return s.factor
}

// Normalize lifts a native asset amount onto the WAD scale.
func (s Scaler) Normalize(amount int64) (int64, error) {
	product := getBig()
	f := getBig()
	product.Mul(product.SetInt64(amount), f.SetInt64(s.factor))

	ok := product.IsInt64()
	result := int64(0)
	if ok {
		result = product.Int64()
	}

	putBig(product)
	putBig(f)

	if !ok {
		return 0, ErrOverflow
	}
	return result, nil
}

// Denormalize floors a WAD-scale amount back to native asset precision.
func (s Scaler) Denormalize(norm int64) int64 {
	if norm >= 0 || norm%s.factor == 0 {
		return norm / s.factor
	}
	return norm/s.factor - 1
}
