package crowdsale

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tokensale/core/events"
	nativecommon "tokensale/native/common"
)

// ModuleName is the key checked against the pause view before purchases.
const ModuleName = "crowdsale"

const (
	saleVaultName        = "sale"
	overpaymentVaultName = "overpayment"
)

// Params captures the immutable economics of a sale. Cap and goal are USD
// cents; the unit price is wei per whole token.
type Params struct {
	UnitPrice         *big.Int
	CapUsdCents       *big.Int
	GoalUsdCents      *big.Int
	RateWeiPerUsdCent *big.Int
	Wallet            common.Address
}

func (p Params) validate() error {
	if p.UnitPrice == nil || p.UnitPrice.Sign() <= 0 {
		return fmt.Errorf("%w: unit price must be positive", ErrInvalidConfig)
	}
	if _, err := toWord(p.UnitPrice); err != nil {
		return fmt.Errorf("%w: unit price: %v", ErrInvalidConfig, err)
	}
	if p.CapUsdCents == nil || p.CapUsdCents.Sign() <= 0 {
		return fmt.Errorf("%w: cap must be positive", ErrInvalidConfig)
	}
	if _, err := toWord(p.CapUsdCents); err != nil {
		return fmt.Errorf("%w: cap: %v", ErrInvalidConfig, err)
	}
	if p.GoalUsdCents == nil || p.GoalUsdCents.Sign() < 0 {
		return fmt.Errorf("%w: goal must not be negative", ErrInvalidConfig)
	}
	if p.GoalUsdCents.Cmp(p.CapUsdCents) > 0 {
		return fmt.Errorf("%w: goal exceeds cap", ErrInvalidConfig)
	}
	if err := checkRate(p.RateWeiPerUsdCent); err != nil {
		return err
	}
	if _, err := checkedMul(p.CapUsdCents, p.RateWeiPerUsdCent); err != nil {
		return fmt.Errorf("%w: cap at rate: %v", ErrInvalidRate, err)
	}
	if p.Wallet == (common.Address{}) {
		return fmt.Errorf("%w: beneficiary wallet required", ErrZeroAddress)
	}
	return nil
}

// Refund reports what a single ClaimRefund call paid out.
type Refund struct {
	Buyer       common.Address
	Sale        *big.Int
	Overpayment *big.Int
}

// Total returns the combined refunded amount.
func (r Refund) Total() *big.Int {
	return new(big.Int).Add(cloneBigInt(r.Sale), cloneBigInt(r.Overpayment))
}

// Option customises a Ledger during construction.
type Option func(*Ledger)

// WithWindow sets the purchase window. Without one the sale is always open
// and only a reached cap allows finalization.
func WithWindow(window TimeWindow) Option {
	return func(l *Ledger) {
		if window != nil {
			l.window = window
		}
	}
}

// WithAuthorizer sets the controller policy. Without one every
// administrative call is rejected.
func WithAuthorizer(auth Authorizer) Option {
	return func(l *Ledger) {
		if auth != nil {
			l.auth = auth
		}
	}
}

// WithEmitter sets the event sink for advisory notifications.
func WithEmitter(emitter events.Emitter) Option {
	return func(l *Ledger) {
		if emitter != nil {
			l.emitter = emitter
		}
	}
}

// WithClock overrides the time source. Primarily intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.nowFn = now
		}
	}
}

// WithPauses wires an operator pause switch in front of purchases.
func WithPauses(pauses nativecommon.PauseView) Option {
	return func(l *Ledger) { l.pauses = pauses }
}

type alwaysOpen struct{}

func (alwaysOpen) IsOpen(time.Time) bool    { return true }
func (alwaysOpen) HasClosed(time.Time) bool { return false }

type denyAll struct{}

func (denyAll) IsController(common.Address) bool { return false }

// Ledger sells units at a fixed price, escrows spent value and overpayment
// in two vaults, and settles both exactly once after finalization.
//
// A Ledger is a plain state machine and is not safe for concurrent use;
// callers serialize access. Every exported mutating call is all-or-nothing.
type Ledger struct {
	unitPrice    *big.Int
	capUsdCents  *big.Int
	goalUsdCents *big.Int
	wallet       common.Address

	rate        *ConversionRate
	sale        *Vault
	overpayment *Vault

	totalRaised *big.Int
	finalized   bool
	goalMet     bool
	purchases   uint64

	minter  TokenMinter
	sink    TransferSink
	window  TimeWindow
	auth    Authorizer
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() time.Time
}

// NewLedger constructs a ledger in the open state.
func NewLedger(params Params, minter TokenMinter, sink TransferSink, opts ...Option) (*Ledger, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if minter == nil {
		return nil, fmt.Errorf("%w: token minter required", ErrInvalidConfig)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: transfer sink required", ErrInvalidConfig)
	}
	rate, err := NewConversionRate(params.RateWeiPerUsdCent)
	if err != nil {
		return nil, err
	}
	l := &Ledger{
		unitPrice:    cloneBigInt(params.UnitPrice),
		capUsdCents:  cloneBigInt(params.CapUsdCents),
		goalUsdCents: cloneBigInt(params.GoalUsdCents),
		wallet:       params.Wallet,
		rate:         rate,
		sale:         NewVault(saleVaultName, sink),
		overpayment:  NewVault(overpaymentVaultName, sink),
		totalRaised:  big.NewInt(0),
		minter:       minter,
		sink:         sink,
		window:       alwaysOpen{},
		auth:         denyAll{},
		emitter:      events.NoopEmitter{},
		nowFn:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

func (l *Ledger) now() time.Time { return l.nowFn() }

func (l *Ledger) emit(evt events.Event) { events.SafeEmit(l.emitter, evt) }

func contributionID(buyer common.Address, seq uint64) common.Hash {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], seq)
	return ethcrypto.Keccak256Hash(buyer.Bytes(), nonce[:])
}

// Buy applies a payment of incoming wei from buyer. The spent portion is
// escrowed in the sale vault and counted towards the raise, the remainder
// is escrowed in the overpayment vault, and the whole units are minted.
// If minting fails nothing is left behind.
func (l *Ledger) Buy(buyer common.Address, incoming *big.Int) (Contribution, error) {
	if err := Validate(buyer, incoming, l.totalRaised, l.capUsdCents, l.rate); err != nil {
		return Contribution{}, err
	}
	if l.finalized {
		return Contribution{}, ErrAlreadyFinalized
	}
	if err := nativecommon.Guard(l.pauses, ModuleName); err != nil {
		return Contribution{}, err
	}
	if !l.window.IsOpen(l.now()) {
		return Contribution{}, ErrSaleNotOpen
	}
	contribution := Quote(buyer, incoming, l.unitPrice)

	j := newJournal()
	if err := l.sale.deposit(j, buyer, contribution.Spent); err != nil {
		j.revert()
		return Contribution{}, err
	}
	if err := l.overpayment.deposit(j, buyer, contribution.Overpaid); err != nil {
		j.revert()
		return Contribution{}, err
	}
	raised, err := checkedAdd(l.totalRaised, contribution.Spent)
	if err != nil {
		j.revert()
		return Contribution{}, err
	}
	prevRaised := l.totalRaised
	l.totalRaised = raised
	j.append(func() { l.totalRaised = prevRaised })

	seq := l.purchases
	l.purchases++
	j.append(func() { l.purchases = seq })
	contribution.ID = contributionID(buyer, seq)

	if err := l.minter.Mint(buyer, cloneBigInt(contribution.Units)); err != nil {
		j.revert()
		return Contribution{}, fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	l.emit(events.TokensPurchased{
		ID:       contribution.ID,
		Buyer:    buyer,
		Incoming: cloneBigInt(contribution.Incoming),
		Spent:    cloneBigInt(contribution.Spent),
		Overpaid: cloneBigInt(contribution.Overpaid),
		Units:    cloneBigInt(contribution.Units),
	})
	return contribution, nil
}

// CapReached reports whether the raise has met the cap at the current rate.
func (l *Ledger) CapReached() (bool, error) {
	capWei, err := l.rate.ToNativeUnits(l.capUsdCents)
	if err != nil {
		return false, err
	}
	return l.totalRaised.Cmp(capWei) >= 0, nil
}

// GoalReached reports whether the raise has met the goal at the current rate.
func (l *Ledger) GoalReached() (bool, error) {
	goalWei, err := l.rate.ToNativeUnits(l.goalUsdCents)
	if err != nil {
		return false, err
	}
	return l.totalRaised.Cmp(goalWei) >= 0, nil
}

// Finalize ends the sale. Overpayments always become refundable; the sale
// vault is forwarded to the wallet when the goal was met and opened for
// refunds otherwise. A failed forward undoes the whole call.
func (l *Ledger) Finalize(caller common.Address) error {
	if !l.auth.IsController(caller) {
		return ErrUnauthorized
	}
	if l.finalized {
		return ErrAlreadyFinalized
	}
	capReached, err := l.CapReached()
	if err != nil {
		return err
	}
	if !capReached && !l.window.HasClosed(l.now()) {
		return ErrSaleStillOpen
	}
	goalReached, err := l.GoalReached()
	if err != nil {
		return err
	}

	j := newJournal()
	l.finalized = true
	j.append(func() { l.finalized = false })
	if err := l.overpayment.enableRefunds(j); err != nil {
		j.revert()
		return err
	}
	// Recorded before the forward so a claim made from inside the transfer
	// reads the settled outcome.
	prevGoalMet := l.goalMet
	l.goalMet = goalReached
	j.append(func() { l.goalMet = prevGoalMet })
	var forwarded *big.Int
	if goalReached {
		forwarded, err = l.sale.Close(l.wallet)
		if err != nil {
			j.revert()
			return err
		}
	} else if err := l.sale.enableRefunds(j); err != nil {
		j.revert()
		return err
	}

	l.emit(events.SaleFinalized{GoalReached: goalReached, TotalRaised: cloneBigInt(l.totalRaised)})
	if goalReached {
		l.emit(events.FundsForwarded{Wallet: l.wallet, Amount: forwarded})
	}
	return nil
}

// ClaimRefund returns whatever buyer is owed after finalization: the sale
// deposit when the goal was missed, and the overpayment in every case. Both
// balances are cleared before a single transfer leaves custody, so repeated
// or re-entrant claims pay nothing further. A failed transfer restores both.
func (l *Ledger) ClaimRefund(buyer common.Address) (Refund, error) {
	if !l.finalized {
		return Refund{}, ErrNotFinalized
	}
	j := newJournal()
	refund := Refund{Buyer: buyer, Sale: big.NewInt(0), Overpayment: big.NewInt(0)}
	if !l.goalMet {
		amount, err := l.sale.withdraw(j, buyer)
		if err != nil {
			j.revert()
			return Refund{}, err
		}
		refund.Sale = amount
	}
	amount, err := l.overpayment.withdraw(j, buyer)
	if err != nil {
		j.revert()
		return Refund{}, err
	}
	refund.Overpayment = amount

	total := refund.Total()
	if total.Sign() == 0 {
		return refund, nil
	}
	if err := l.sink.Send(buyer, total); err != nil {
		j.revert()
		return Refund{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	l.emit(events.RefundClaimed{Buyer: buyer, Sale: cloneBigInt(refund.Sale), Overpayment: cloneBigInt(refund.Overpayment)})
	return refund, nil
}

// SetRate lets a controller update the conversion rate. The previous rate
// is returned and a rate change notification is emitted. A rate at which the
// cap no longer fits in 256 bits is rejected.
func (l *Ledger) SetRate(caller common.Address, newRate *big.Int) (*big.Int, error) {
	if !l.auth.IsController(caller) {
		return nil, ErrUnauthorized
	}
	if err := checkRate(newRate); err != nil {
		return nil, err
	}
	if _, err := checkedMul(l.capUsdCents, newRate); err != nil {
		return nil, fmt.Errorf("%w: cap at new rate: %v", ErrInvalidRate, err)
	}
	previous, err := l.rate.SetRate(newRate)
	if err != nil {
		return nil, err
	}
	l.emit(events.RateChanged{Old: cloneBigInt(previous), New: l.rate.Rate(), ChangedBy: caller})
	return previous, nil
}

// OverpaymentBalanceOf returns the refundable overpayment held for buyer.
func (l *Ledger) OverpaymentBalanceOf(buyer common.Address) *big.Int {
	return l.overpayment.DepositedOf(buyer)
}

// SaleBalanceOf returns the spent value held for buyer in the sale vault.
func (l *Ledger) SaleBalanceOf(buyer common.Address) *big.Int {
	return l.sale.DepositedOf(buyer)
}

func (l *Ledger) TotalRaised() *big.Int  { return cloneBigInt(l.totalRaised) }
func (l *Ledger) Finalized() bool        { return l.finalized }
func (l *Ledger) Rate() *big.Int         { return l.rate.Rate() }
func (l *Ledger) UnitPrice() *big.Int    { return cloneBigInt(l.unitPrice) }
func (l *Ledger) Wallet() common.Address { return l.wallet }
func (l *Ledger) Purchases() uint64      { return l.purchases }

// SaleVaultState returns the lifecycle state of the sale vault.
func (l *Ledger) SaleVaultState() VaultState { return l.sale.State() }

// OverpaymentVaultState returns the lifecycle state of the overpayment vault.
func (l *Ledger) OverpaymentVaultState() VaultState { return l.overpayment.State() }
