package crowdsale

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TokenMinter credits purchased units to a buyer.
type TokenMinter interface {
	Mint(recipient common.Address, amount *big.Int) error
}

// TransferSink moves value out of custody. Send either completes or fails
// as a whole.
type TransferSink interface {
	Send(to common.Address, amount *big.Int) error
}

// Authorizer decides which callers may change the rate and finalize.
type Authorizer interface {
	IsController(caller common.Address) bool
}

// TimeWindow gates purchases and finalization.
type TimeWindow interface {
	IsOpen(now time.Time) bool
	HasClosed(now time.Time) bool
}

// MinterFunc adapts a function to the TokenMinter interface.
type MinterFunc func(recipient common.Address, amount *big.Int) error

// Mint delegates to the wrapped function.
func (f MinterFunc) Mint(recipient common.Address, amount *big.Int) error {
	if f == nil {
		return nil
	}
	return f(recipient, amount)
}

// SinkFunc adapts a function to the TransferSink interface.
type SinkFunc func(to common.Address, amount *big.Int) error

// Send delegates to the wrapped function.
func (f SinkFunc) Send(to common.Address, amount *big.Int) error {
	if f == nil {
		return nil
	}
	return f(to, amount)
}

// Controllers is a fixed set of addresses allowed to administer the sale.
type Controllers map[common.Address]struct{}

// NewControllers builds a controller set, skipping the zero address.
func NewControllers(addrs ...common.Address) Controllers {
	set := make(Controllers, len(addrs))
	for _, addr := range addrs {
		if addr == (common.Address{}) {
			continue
		}
		set[addr] = struct{}{}
	}
	return set
}

// IsController implements Authorizer.
func (c Controllers) IsController(caller common.Address) bool {
	_, ok := c[caller]
	return ok
}
