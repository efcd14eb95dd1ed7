package crowdsale

import "math/big"

// ConversionRate holds the price of one USD cent expressed in wei. The value
// is non-zero for the whole lifetime of the rate.
type ConversionRate struct {
	weiPerUsdCent *big.Int
}

// NewConversionRate returns a conversion rate initialised to the supplied
// value.
func NewConversionRate(weiPerUsdCent *big.Int) (*ConversionRate, error) {
	if err := checkRate(weiPerUsdCent); err != nil {
		return nil, err
	}
	return &ConversionRate{weiPerUsdCent: cloneBigInt(weiPerUsdCent)}, nil
}

func checkRate(rate *big.Int) error {
	if rate == nil || rate.Sign() == 0 {
		return ErrInvalidRate
	}
	if _, err := toWord(rate); err != nil {
		return ErrInvalidRate
	}
	return nil
}

// Rate returns a copy of the current rate.
func (r *ConversionRate) Rate() *big.Int {
	return cloneBigInt(r.weiPerUsdCent)
}

// SetRate swaps the rate and returns the previous value. A zero rate is
// rejected and leaves the current value untouched.
func (r *ConversionRate) SetRate(newRate *big.Int) (*big.Int, error) {
	if err := checkRate(newRate); err != nil {
		return nil, err
	}
	previous := r.weiPerUsdCent
	r.weiPerUsdCent = cloneBigInt(newRate)
	return cloneBigInt(previous), nil
}

// ToNativeUnits converts USD cents into wei at the current rate.
func (r *ConversionRate) ToNativeUnits(usdCents *big.Int) (*big.Int, error) {
	return checkedMul(usdCents, r.weiPerUsdCent)
}
