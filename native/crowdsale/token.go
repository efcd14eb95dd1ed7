package crowdsale

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TokenBalances is an in-memory token ledger that satisfies TokenMinter.
// A nil or zero max supply means unlimited.
type TokenBalances struct {
	mu        sync.RWMutex
	balances  map[common.Address]*big.Int
	supply    *big.Int
	maxSupply *big.Int
}

// NewTokenBalances returns an empty token ledger.
func NewTokenBalances(maxSupply *big.Int) *TokenBalances {
	t := &TokenBalances{
		balances: make(map[common.Address]*big.Int),
		supply:   big.NewInt(0),
	}
	if maxSupply != nil && maxSupply.Sign() > 0 {
		t.maxSupply = cloneBigInt(maxSupply)
	}
	return t
}

// Mint credits amount to recipient.
func (t *TokenBalances) Mint(recipient common.Address, amount *big.Int) error {
	if recipient == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	supply, err := checkedAdd(t.supply, amount)
	if err != nil {
		return err
	}
	if t.maxSupply != nil && supply.Cmp(t.maxSupply) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrSupplyExceeded, supply, t.maxSupply)
	}
	t.supply = supply
	t.balances[recipient] = new(big.Int).Add(cloneBigInt(t.balances[recipient]), amount)
	return nil
}

// BalanceOf returns the units held by owner.
func (t *TokenBalances) BalanceOf(owner common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneBigInt(t.balances[owner])
}

// TotalSupply returns the units minted so far.
func (t *TokenBalances) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneBigInt(t.supply)
}

// Holders returns a copy of every non-zero balance.
func (t *TokenBalances) Holders() map[common.Address]*big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[common.Address]*big.Int, len(t.balances))
	for addr, bal := range t.balances {
		out[addr] = cloneBigInt(bal)
	}
	return out
}

// RestoreTokenBalances rebuilds a token ledger from a Holders snapshot.
func RestoreTokenBalances(maxSupply *big.Int, holders map[common.Address]*big.Int) (*TokenBalances, error) {
	t := NewTokenBalances(maxSupply)
	for addr, bal := range holders {
		if err := t.Mint(addr, bal); err != nil {
			return nil, fmt.Errorf("restore %s: %w", addr.Hex(), err)
		}
	}
	return t, nil
}
