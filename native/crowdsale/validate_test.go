package crowdsale

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestValidate(t *testing.T) {
	rate, err := NewConversionRate(big.NewInt(2))
	if err != nil {
		t.Fatalf("new rate: %v", err)
	}
	buyer := newTestAddress(0x01)
	capCents := big.NewInt(500) // 1000 wei at rate 2

	cases := []struct {
		name     string
		buyer    common.Address
		incoming *big.Int
		raised   *big.Int
		want     error
	}{
		{name: "zero address", buyer: common.Address{}, incoming: big.NewInt(10), raised: big.NewInt(0), want: ErrZeroAddress},
		{name: "nil value", buyer: buyer, incoming: nil, raised: big.NewInt(0), want: ErrZeroValue},
		{name: "zero value", buyer: buyer, incoming: big.NewInt(0), raised: big.NewInt(0), want: ErrZeroValue},
		{name: "negative value", buyer: buyer, incoming: big.NewInt(-5), raised: big.NewInt(0), want: ErrInvalidAmount},
		{name: "below cap", buyer: buyer, incoming: big.NewInt(999), raised: big.NewInt(0)},
		{name: "exactly cap", buyer: buyer, incoming: big.NewInt(400), raised: big.NewInt(600)},
		{name: "one over cap", buyer: buyer, incoming: big.NewInt(401), raised: big.NewInt(600), want: ErrCapExceeded},
		{name: "already at cap", buyer: buyer, incoming: big.NewInt(1), raised: big.NewInt(1000), want: ErrCapExceeded},
		{name: "zero address wins over zero value", buyer: common.Address{}, incoming: big.NewInt(0), raised: big.NewInt(0), want: ErrZeroAddress},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.buyer, tc.incoming, tc.raised, capCents, rate)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateOverflow(t *testing.T) {
	rate, err := NewConversionRate(big.NewInt(1))
	if err != nil {
		t.Fatalf("new rate: %v", err)
	}
	maxWord := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	err = Validate(newTestAddress(0x01), big.NewInt(1), maxWord, maxWord, rate)
	if !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
}
