package crowdsale

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// VaultState represents the lifecycle of a vault. Active is the only state
// that accepts deposits; Refunding and Closed are terminal.
type VaultState uint8

const (
	VaultActive VaultState = iota
	VaultRefunding
	VaultClosed
)

func (s VaultState) String() string {
	switch s {
	case VaultActive:
		return "active"
	case VaultRefunding:
		return "refunding"
	case VaultClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid reports whether the state value is within the supported range.
func (s VaultState) Valid() bool {
	switch s {
	case VaultActive, VaultRefunding, VaultClosed:
		return true
	default:
		return false
	}
}

// Vault escrows per-depositor balances. The sum of balances plus everything
// already paid out always equals everything ever deposited.
type Vault struct {
	name      string
	state     VaultState
	balances  map[common.Address]*big.Int
	deposited *big.Int
	paidOut   *big.Int
	sink      TransferSink
}

// NewVault creates an active vault that releases value through sink.
func NewVault(name string, sink TransferSink) *Vault {
	return &Vault{
		name:      name,
		state:     VaultActive,
		balances:  make(map[common.Address]*big.Int),
		deposited: big.NewInt(0),
		paidOut:   big.NewInt(0),
		sink:      sink,
	}
}

// Name returns the label the vault was created with.
func (v *Vault) Name() string { return v.name }

// State returns the current lifecycle state.
func (v *Vault) State() VaultState { return v.state }

// DepositedOf returns the balance currently held for depositor.
func (v *Vault) DepositedOf(depositor common.Address) *big.Int {
	return cloneBigInt(v.balances[depositor])
}

// TotalDeposited returns the cumulative amount ever deposited.
func (v *Vault) TotalDeposited() *big.Int { return cloneBigInt(v.deposited) }

// TotalPaidOut returns the cumulative amount refunded or forwarded.
func (v *Vault) TotalPaidOut() *big.Int { return cloneBigInt(v.paidOut) }

// Held returns the value currently in custody.
func (v *Vault) Held() *big.Int {
	total := big.NewInt(0)
	for _, bal := range v.balances {
		total.Add(total, bal)
	}
	return total
}

// Reconcile verifies the conservation law of the vault.
func (v *Vault) Reconcile() error {
	accounted := new(big.Int).Add(v.Held(), v.paidOut)
	if accounted.Cmp(v.deposited) != 0 {
		return fmt.Errorf("crowdsale: vault %s out of balance: held+paid=%s deposited=%s", v.name, accounted, v.deposited)
	}
	return nil
}

// Deposit credits amount to depositor. Zero deposits are accepted and leave
// no trace.
func (v *Vault) Deposit(depositor common.Address, amount *big.Int) error {
	return v.deposit(nil, depositor, amount)
}

func (v *Vault) deposit(j *journal, depositor common.Address, amount *big.Int) error {
	if v.state != VaultActive {
		return ErrVaultClosed
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	balance, err := checkedAdd(v.balances[depositor], amount)
	if err != nil {
		return err
	}
	deposited, err := checkedAdd(v.deposited, amount)
	if err != nil {
		return err
	}
	prevBalance, hadBalance := v.balances[depositor]
	prevDeposited := v.deposited
	v.balances[depositor] = balance
	v.deposited = deposited
	j.append(func() {
		if hadBalance {
			v.balances[depositor] = prevBalance
		} else {
			delete(v.balances, depositor)
		}
		v.deposited = prevDeposited
	})
	return nil
}

// EnableRefunds moves an active vault into the refunding state.
func (v *Vault) EnableRefunds() error {
	return v.enableRefunds(nil)
}

func (v *Vault) enableRefunds(j *journal) error {
	if v.state != VaultActive {
		return ErrAlreadyFinalized
	}
	v.state = VaultRefunding
	j.append(func() { v.state = VaultActive })
	return nil
}

// Close moves an active vault into the closed state and forwards everything
// it holds to beneficiary. When the transfer fails the vault is left exactly
// as it was.
func (v *Vault) Close(beneficiary common.Address) (*big.Int, error) {
	if v.state != VaultActive {
		return nil, ErrAlreadyFinalized
	}
	local := newJournal()
	held := v.drain(local)
	v.state = VaultClosed
	local.append(func() { v.state = VaultActive })
	if held.Sign() > 0 {
		if err := v.send(beneficiary, held); err != nil {
			local.revert()
			return nil, err
		}
	}
	return held, nil
}

func (v *Vault) drain(j *journal) *big.Int {
	prevBalances := v.balances
	prevPaidOut := v.paidOut
	held := v.Held()
	v.balances = make(map[common.Address]*big.Int)
	v.paidOut = new(big.Int).Add(prevPaidOut, held)
	j.append(func() {
		v.balances = prevBalances
		v.paidOut = prevPaidOut
	})
	return held
}

// Refund pays depositor back. The balance is cleared before value leaves
// custody so a re-entrant call sees nothing to refund; an empty balance is
// a no-op returning zero.
func (v *Vault) Refund(depositor common.Address) (*big.Int, error) {
	local := newJournal()
	amount, err := v.withdraw(local, depositor)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return amount, nil
	}
	if err := v.send(depositor, amount); err != nil {
		local.revert()
		return nil, err
	}
	return amount, nil
}

// withdraw clears depositor's balance and books it as paid out without
// moving value. The caller is responsible for the transfer.
func (v *Vault) withdraw(j *journal, depositor common.Address) (*big.Int, error) {
	if v.state != VaultRefunding {
		return nil, ErrNotRefunding
	}
	balance, ok := v.balances[depositor]
	if !ok || balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	prevPaidOut := v.paidOut
	delete(v.balances, depositor)
	v.paidOut = new(big.Int).Add(prevPaidOut, balance)
	j.append(func() {
		v.balances[depositor] = balance
		v.paidOut = prevPaidOut
	})
	return cloneBigInt(balance), nil
}

func (v *Vault) send(to common.Address, amount *big.Int) error {
	if v.sink == nil {
		return fmt.Errorf("%w: vault %s has no transfer sink", ErrTransferFailed, v.name)
	}
	if err := v.sink.Send(to, cloneBigInt(amount)); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}
