package crowdsale

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// VaultSnapshot is the serialisable form of a vault.
type VaultSnapshot struct {
	State     VaultState                  `json:"state"`
	Balances  map[common.Address]*big.Int `json:"balances"`
	Deposited *big.Int                    `json:"deposited"`
	PaidOut   *big.Int                    `json:"paidOut"`
}

// Snapshot is the serialisable form of a ledger. It carries everything
// Restore needs except the collaborators.
type Snapshot struct {
	UnitPrice    *big.Int       `json:"unitPrice"`
	CapUsdCents  *big.Int       `json:"capUsdCents"`
	GoalUsdCents *big.Int       `json:"goalUsdCents"`
	Rate         *big.Int       `json:"rate"`
	Wallet       common.Address `json:"wallet"`
	TotalRaised  *big.Int       `json:"totalRaised"`
	Finalized    bool           `json:"finalized"`
	GoalMet      bool           `json:"goalMet"`
	Purchases    uint64         `json:"purchases"`
	Sale         VaultSnapshot  `json:"sale"`
	Overpayment  VaultSnapshot  `json:"overpayment"`
}

func (v *Vault) snapshot() VaultSnapshot {
	balances := make(map[common.Address]*big.Int, len(v.balances))
	for addr, bal := range v.balances {
		balances[addr] = cloneBigInt(bal)
	}
	return VaultSnapshot{
		State:     v.state,
		Balances:  balances,
		Deposited: cloneBigInt(v.deposited),
		PaidOut:   cloneBigInt(v.paidOut),
	}
}

func (v *Vault) restore(s VaultSnapshot) error {
	if !s.State.Valid() {
		return fmt.Errorf("%w: vault %s state %d", ErrInvalidConfig, v.name, s.State)
	}
	balances := make(map[common.Address]*big.Int, len(s.Balances))
	for addr, bal := range s.Balances {
		if bal == nil || bal.Sign() == 0 {
			continue
		}
		if _, err := toWord(bal); err != nil {
			return fmt.Errorf("vault %s balance of %s: %w", v.name, addr.Hex(), err)
		}
		balances[addr] = cloneBigInt(bal)
	}
	v.state = s.State
	v.balances = balances
	v.deposited = cloneBigInt(s.Deposited)
	v.paidOut = cloneBigInt(s.PaidOut)
	return v.Reconcile()
}

// Snapshot captures the full ledger state.
func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{
		UnitPrice:    cloneBigInt(l.unitPrice),
		CapUsdCents:  cloneBigInt(l.capUsdCents),
		GoalUsdCents: cloneBigInt(l.goalUsdCents),
		Rate:         l.rate.Rate(),
		Wallet:       l.wallet,
		TotalRaised:  cloneBigInt(l.totalRaised),
		Finalized:    l.finalized,
		GoalMet:      l.goalMet,
		Purchases:    l.purchases,
		Sale:         l.sale.snapshot(),
		Overpayment:  l.overpayment.snapshot(),
	}
}

// Restore rebuilds a ledger from a snapshot and the supplied collaborators.
// The snapshot must be internally consistent: vaults reconcile, both vaults
// are Active exactly when the sale is not finalized, and the raise equals
// the sale vault's cumulative deposits.
func Restore(s Snapshot, minter TokenMinter, sink TransferSink, opts ...Option) (*Ledger, error) {
	l, err := NewLedger(Params{
		UnitPrice:         s.UnitPrice,
		CapUsdCents:       s.CapUsdCents,
		GoalUsdCents:      s.GoalUsdCents,
		RateWeiPerUsdCent: s.Rate,
		Wallet:            s.Wallet,
	}, minter, sink, opts...)
	if err != nil {
		return nil, err
	}
	if err := l.sale.restore(s.Sale); err != nil {
		return nil, err
	}
	if err := l.overpayment.restore(s.Overpayment); err != nil {
		return nil, err
	}
	if _, err := toWord(s.TotalRaised); err != nil {
		return nil, fmt.Errorf("total raised: %w", err)
	}
	raised := cloneBigInt(s.TotalRaised)
	if raised.Cmp(l.sale.deposited) != 0 {
		return nil, fmt.Errorf("%w: total raised %s does not match sale deposits %s", ErrInvalidConfig, raised, l.sale.deposited)
	}
	active := l.sale.state == VaultActive && l.overpayment.state == VaultActive
	if s.Finalized == active {
		return nil, fmt.Errorf("%w: finalized=%t with vault states %s/%s", ErrInvalidConfig, s.Finalized, l.sale.state, l.overpayment.state)
	}
	if s.Finalized {
		if l.overpayment.state != VaultRefunding {
			return nil, fmt.Errorf("%w: finalized sale with overpayment vault %s", ErrInvalidConfig, l.overpayment.state)
		}
		wantSale := VaultRefunding
		if s.GoalMet {
			wantSale = VaultClosed
		}
		if l.sale.state != wantSale {
			return nil, fmt.Errorf("%w: goalMet=%t with sale vault %s", ErrInvalidConfig, s.GoalMet, l.sale.state)
		}
	}
	l.totalRaised = raised
	l.finalized = s.Finalized
	l.goalMet = s.GoalMet
	l.purchases = s.Purchases
	return l, nil
}

// Status is a read-only summary of the sale.
type Status struct {
	UnitPrice        *big.Int `json:"unitPrice"`
	Rate             *big.Int `json:"rate"`
	CapUsdCents      *big.Int `json:"capUsdCents"`
	GoalUsdCents     *big.Int `json:"goalUsdCents"`
	CapWei           *big.Int `json:"capWei"`
	GoalWei          *big.Int `json:"goalWei"`
	TotalRaised      *big.Int `json:"totalRaised"`
	CapReached       bool     `json:"capReached"`
	GoalReached      bool     `json:"goalReached"`
	Finalized        bool     `json:"finalized"`
	Purchases        uint64   `json:"purchases"`
	SaleVault        string   `json:"saleVault"`
	SaleHeld         *big.Int `json:"saleHeld"`
	OverpaymentVault string   `json:"overpaymentVault"`
	OverpaymentHeld  *big.Int `json:"overpaymentHeld"`
}

// Status summarises the sale at the current rate.
func (l *Ledger) Status() (Status, error) {
	capWei, err := l.rate.ToNativeUnits(l.capUsdCents)
	if err != nil {
		return Status{}, err
	}
	goalWei, err := l.rate.ToNativeUnits(l.goalUsdCents)
	if err != nil {
		return Status{}, err
	}
	goalReached := l.totalRaised.Cmp(goalWei) >= 0
	if l.finalized {
		goalReached = l.goalMet
	}
	return Status{
		UnitPrice:        cloneBigInt(l.unitPrice),
		Rate:             l.rate.Rate(),
		CapUsdCents:      cloneBigInt(l.capUsdCents),
		GoalUsdCents:     cloneBigInt(l.goalUsdCents),
		CapWei:           capWei,
		GoalWei:          goalWei,
		TotalRaised:      cloneBigInt(l.totalRaised),
		CapReached:       l.totalRaised.Cmp(capWei) >= 0,
		GoalReached:      goalReached,
		Finalized:        l.finalized,
		Purchases:        l.purchases,
		SaleVault:        l.sale.state.String(),
		SaleHeld:         l.sale.Held(),
		OverpaymentVault: l.overpayment.state.String(),
		OverpaymentHeld:  l.overpayment.Held(),
	}, nil
}
