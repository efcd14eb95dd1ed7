package crowdsale

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Validate rejects a purchase before any state is touched. The cap check
// compares the full incoming value, overpayment included, against the cap
// converted at the current rate; reaching the cap exactly is allowed.
func Validate(buyer common.Address, incoming, totalRaised, capUsdCents *big.Int, rate *ConversionRate) error {
	if buyer == (common.Address{}) {
		return ErrZeroAddress
	}
	if incoming == nil || incoming.Sign() == 0 {
		return ErrZeroValue
	}
	if incoming.Sign() < 0 {
		return ErrInvalidAmount
	}
	if rate == nil {
		return ErrInvalidRate
	}
	capWei, err := rate.ToNativeUnits(capUsdCents)
	if err != nil {
		return err
	}
	next, err := checkedAdd(totalRaised, incoming)
	if err != nil {
		return err
	}
	if next.Cmp(capWei) > 0 {
		return ErrCapExceeded
	}
	return nil
}
