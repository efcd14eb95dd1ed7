package crowdsale

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func mustDeposit(t *testing.T, v *Vault, who common.Address, amount int64) {
	t.Helper()
	if err := v.Deposit(who, big.NewInt(amount)); err != nil {
		t.Fatalf("deposit %d: %v", amount, err)
	}
}

func mustReconcile(t *testing.T, v *Vault) {
	t.Helper()
	if err := v.Reconcile(); err != nil {
		t.Fatal(err)
	}
}

func TestVaultDepositAccumulates(t *testing.T) {
	v := NewVault("test", &recordingSink{})
	alice := newTestAddress(0x01)
	mustDeposit(t, v, alice, 10)
	mustDeposit(t, v, alice, 15)
	if got := v.DepositedOf(alice); got.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("balance = %s, want 25", got)
	}
	if v.Held().Cmp(big.NewInt(25)) != 0 || v.TotalDeposited().Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("held=%s deposited=%s", v.Held(), v.TotalDeposited())
	}
	mustReconcile(t, v)
}

func TestVaultZeroDepositLeavesNoEntry(t *testing.T) {
	v := NewVault("test", &recordingSink{})
	alice := newTestAddress(0x01)
	mustDeposit(t, v, alice, 0)
	if err := v.Deposit(alice, nil); err != nil {
		t.Fatalf("nil deposit: %v", err)
	}
	if len(v.balances) != 0 {
		t.Fatalf("zero deposit created %d entries", len(v.balances))
	}
}

func TestVaultStateTransitions(t *testing.T) {
	v := NewVault("test", &recordingSink{})
	if v.State() != VaultActive {
		t.Fatalf("initial state %s", v.State())
	}
	if _, err := v.Refund(newTestAddress(0x01)); !errors.Is(err, ErrNotRefunding) {
		t.Fatalf("refund while active: %v", err)
	}
	if err := v.EnableRefunds(); err != nil {
		t.Fatalf("enable refunds: %v", err)
	}
	if err := v.EnableRefunds(); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("second enable: %v", err)
	}
	if _, err := v.Close(testWallet); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("close after refunding: %v", err)
	}
	if err := v.Deposit(newTestAddress(0x01), big.NewInt(1)); !errors.Is(err, ErrVaultClosed) {
		t.Fatalf("deposit after refunding: %v", err)
	}

	closed := NewVault("closed", &recordingSink{})
	if _, err := closed.Close(testWallet); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := closed.EnableRefunds(); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("enable after close: %v", err)
	}
	if err := closed.Deposit(newTestAddress(0x01), big.NewInt(1)); !errors.Is(err, ErrVaultClosed) {
		t.Fatalf("deposit after close: %v", err)
	}
	if _, err := closed.Refund(newTestAddress(0x01)); !errors.Is(err, ErrNotRefunding) {
		t.Fatalf("refund after close: %v", err)
	}
}

func TestVaultRefundIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	v := NewVault("test", sink)
	alice := newTestAddress(0x01)
	mustDeposit(t, v, alice, 40)
	if err := v.EnableRefunds(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	first, err := v.Refund(alice)
	if err != nil {
		t.Fatalf("first refund: %v", err)
	}
	second, err := v.Refund(alice)
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}
	if first.Cmp(big.NewInt(40)) != 0 || second.Sign() != 0 {
		t.Fatalf("refunds = %s, %s", first, second)
	}
	if len(sink.payments) != 1 || sink.paidTo(alice).Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected payments %+v", sink.payments)
	}
	if got, err := v.Refund(newTestAddress(0x02)); err != nil || got.Sign() != 0 {
		t.Fatalf("refund of stranger = %v, %v", got, err)
	}
	mustReconcile(t, v)
}

func TestVaultRefundRestoresOnTransferFailure(t *testing.T) {
	sink := &recordingSink{fail: errInjected}
	v := NewVault("test", sink)
	alice := newTestAddress(0x01)
	mustDeposit(t, v, alice, 40)
	if err := v.EnableRefunds(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, err := v.Refund(alice); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if got := v.DepositedOf(alice); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("balance after failed refund = %s", got)
	}
	if v.TotalPaidOut().Sign() != 0 {
		t.Fatalf("paid out after failure = %s", v.TotalPaidOut())
	}
	mustReconcile(t, v)

	sink.fail = nil
	if got, err := v.Refund(alice); err != nil || got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("retry = %v, %v", got, err)
	}
}

func TestVaultRefundReentrancy(t *testing.T) {
	sink := &recordingSink{}
	v := NewVault("test", sink)
	alice := newTestAddress(0x01)
	mustDeposit(t, v, alice, 40)
	if err := v.EnableRefunds(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	var nested *big.Int
	sink.onSend = func(to common.Address, amount *big.Int) {
		sink.onSend = nil
		got, err := v.Refund(to)
		if err != nil {
			t.Errorf("nested refund: %v", err)
		}
		nested = got
	}
	if _, err := v.Refund(alice); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if nested == nil || nested.Sign() != 0 {
		t.Fatalf("nested refund observed %v", nested)
	}
	if sink.total().Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("paid %s, want 40", sink.total())
	}
	mustReconcile(t, v)
}

func TestVaultCloseForwardsHoldings(t *testing.T) {
	sink := &recordingSink{}
	v := NewVault("test", sink)
	mustDeposit(t, v, newTestAddress(0x01), 30)
	mustDeposit(t, v, newTestAddress(0x02), 20)
	forwarded, err := v.Close(testWallet)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if forwarded.Cmp(big.NewInt(50)) != 0 || sink.paidTo(testWallet).Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("forwarded %s, sink %s", forwarded, sink.paidTo(testWallet))
	}
	if v.State() != VaultClosed || v.Held().Sign() != 0 {
		t.Fatalf("state %s held %s", v.State(), v.Held())
	}
	mustReconcile(t, v)
}

func TestVaultCloseRestoresOnTransferFailure(t *testing.T) {
	sink := &recordingSink{fail: errInjected}
	v := NewVault("test", sink)
	alice := newTestAddress(0x01)
	mustDeposit(t, v, alice, 30)
	if _, err := v.Close(testWallet); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if v.State() != VaultActive {
		t.Fatalf("state after failed close = %s", v.State())
	}
	if got := v.DepositedOf(alice); got.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("balance after failed close = %s", got)
	}
	mustReconcile(t, v)
}

func TestVaultCloseEmptySkipsTransfer(t *testing.T) {
	sink := &recordingSink{fail: errInjected}
	v := NewVault("test", sink)
	forwarded, err := v.Close(testWallet)
	if err != nil {
		t.Fatalf("close empty vault: %v", err)
	}
	if forwarded.Sign() != 0 {
		t.Fatalf("forwarded %s", forwarded)
	}
}

func TestVaultWithoutSink(t *testing.T) {
	v := NewVault("test", nil)
	alice := newTestAddress(0x01)
	mustDeposit(t, v, alice, 5)
	if err := v.EnableRefunds(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, err := v.Refund(alice); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	mustReconcile(t, v)
}

func TestVaultStateString(t *testing.T) {
	cases := map[VaultState]string{
		VaultActive:    "active",
		VaultRefunding: "refunding",
		VaultClosed:    "closed",
		VaultState(9):  "unknown(9)",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("%d.String() = %q, want %q", state, got, want)
		}
	}
	if VaultState(9).Valid() {
		t.Fatalf("out of range state reported valid")
	}
}
