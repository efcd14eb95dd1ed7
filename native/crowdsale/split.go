package crowdsale

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Contribution describes how a single payment was applied. Spent is always a
// whole multiple of the unit price and Spent+Overpaid equals Incoming.
type Contribution struct {
	ID       common.Hash
	Buyer    common.Address
	Incoming *big.Int
	Spent    *big.Int
	Overpaid *big.Int
	Units    *big.Int
}

// Clone returns a deep copy of the contribution.
func (c Contribution) Clone() Contribution {
	clone := c
	clone.Incoming = cloneBigInt(c.Incoming)
	clone.Spent = cloneBigInt(c.Spent)
	clone.Overpaid = cloneBigInt(c.Overpaid)
	clone.Units = cloneBigInt(c.Units)
	return clone
}

// Split divides a payment into the portion spent on whole units and the
// remainder. unitPrice must be positive.
func Split(incoming, unitPrice *big.Int) (spent, remainder *big.Int) {
	units, remainder := new(big.Int).QuoRem(cloneBigInt(incoming), unitPrice, new(big.Int))
	return units.Mul(units, unitPrice), remainder
}

// UnitsFor returns the number of whole units a payment buys.
func UnitsFor(incoming, unitPrice *big.Int) *big.Int {
	return new(big.Int).Quo(cloneBigInt(incoming), unitPrice)
}

// Quote derives units, spent and overpaid portions from one division so the
// minted amount and the deposited value always agree.
func Quote(buyer common.Address, incoming, unitPrice *big.Int) Contribution {
	in := cloneBigInt(incoming)
	units, overpaid := new(big.Int).QuoRem(in, unitPrice, new(big.Int))
	return Contribution{
		Buyer:    buyer,
		Incoming: in,
		Spent:    new(big.Int).Mul(units, unitPrice),
		Overpaid: overpaid,
		Units:    units,
	}
}
