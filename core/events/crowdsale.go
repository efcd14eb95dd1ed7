package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"tokensale/core/types"
)

const (
	// TypeRateChanged is emitted when a controller updates the wei per USD
	// cent conversion rate.
	TypeRateChanged = "crowdsale.rate_changed"
	// TypeTokensPurchased is emitted for every accepted purchase.
	TypeTokensPurchased = "crowdsale.tokens_purchased"
	// TypeSaleFinalized is emitted once, when the sale is finalized.
	TypeSaleFinalized = "crowdsale.finalized"
	// TypeFundsForwarded is emitted when the sale vault releases its
	// holdings to the beneficiary wallet.
	TypeFundsForwarded = "crowdsale.funds_forwarded"
	// TypeRefundClaimed is emitted when a contributor receives a refund.
	TypeRefundClaimed = "crowdsale.refund_claimed"
)

type RateChanged struct {
	Old       *big.Int
	New       *big.Int
	ChangedBy common.Address
}

func (RateChanged) EventType() string { return TypeRateChanged }

func (e RateChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeRateChanged,
		Attributes: map[string]string{
			"old":       formatAmount(e.Old),
			"new":       formatAmount(e.New),
			"changedBy": e.ChangedBy.Hex(),
		},
	}
}

type TokensPurchased struct {
	ID       common.Hash
	Buyer    common.Address
	Incoming *big.Int
	Spent    *big.Int
	Overpaid *big.Int
	Units    *big.Int
}

func (TokensPurchased) EventType() string { return TypeTokensPurchased }

func (e TokensPurchased) Event() *types.Event {
	return &types.Event{
		Type: TypeTokensPurchased,
		Attributes: map[string]string{
			"id":       e.ID.Hex(),
			"buyer":    e.Buyer.Hex(),
			"incoming": formatAmount(e.Incoming),
			"spent":    formatAmount(e.Spent),
			"overpaid": formatAmount(e.Overpaid),
			"units":    formatAmount(e.Units),
		},
	}
}

type SaleFinalized struct {
	GoalReached bool
	TotalRaised *big.Int
}

func (SaleFinalized) EventType() string { return TypeSaleFinalized }

func (e SaleFinalized) Event() *types.Event {
	return &types.Event{
		Type: TypeSaleFinalized,
		Attributes: map[string]string{
			"goalReached": strconv.FormatBool(e.GoalReached),
			"totalRaised": formatAmount(e.TotalRaised),
		},
	}
}

type FundsForwarded struct {
	Wallet common.Address
	Amount *big.Int
}

func (FundsForwarded) EventType() string { return TypeFundsForwarded }

func (e FundsForwarded) Event() *types.Event {
	return &types.Event{
		Type: TypeFundsForwarded,
		Attributes: map[string]string{
			"wallet": e.Wallet.Hex(),
			"amount": formatAmount(e.Amount),
		},
	}
}

type RefundClaimed struct {
	Buyer       common.Address
	Sale        *big.Int
	Overpayment *big.Int
}

func (RefundClaimed) EventType() string { return TypeRefundClaimed }

func (e RefundClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeRefundClaimed,
		Attributes: map[string]string{
			"buyer":       e.Buyer.Hex(),
			"sale":        formatAmount(e.Sale),
			"overpayment": formatAmount(e.Overpayment),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
