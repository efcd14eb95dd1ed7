package crowdsale

import (
	"math/big"

	"github.com/holiman/uint256"
)

// toWord converts an amount into a 256-bit word. Nil is treated as zero.
// Negative amounts are rejected and anything wider than 256 bits overflows.
func toWord(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return word, nil
}

func checkedMul(a, b *big.Int) (*big.Int, error) {
	x, err := toWord(a)
	if err != nil {
		return nil, err
	}
	y, err := toWord(b)
	if err != nil {
		return nil, err
	}
	product, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return product.ToBig(), nil
}

func checkedAdd(a, b *big.Int) (*big.Int, error) {
	x, err := toWord(a)
	if err != nil {
		return nil, err
	}
	y, err := toWord(b)
	if err != nil {
		return nil, err
	}
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return sum.ToBig(), nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
