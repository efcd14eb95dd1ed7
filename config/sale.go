package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SaleParams is the parsed form of Sale.
type SaleParams struct {
	UnitPrice         *big.Int
	CapUsdCents       *big.Int
	GoalUsdCents      *big.Int
	RateWeiPerUsdCent *big.Int
	MaxSupply         *big.Int
	Wallet            common.Address
	Controllers       []common.Address
	Opening           time.Time
	Closing           time.Time
}

// HasWindow reports whether both window bounds were configured.
func (p SaleParams) HasWindow() bool {
	return !p.Opening.IsZero() && !p.Closing.IsZero()
}

// Parse converts the textual sale settings into runtime values.
func (s Sale) Parse() (SaleParams, error) {
	var (
		params SaleParams
		err    error
	)
	if params.UnitPrice, err = parsePositive(s.UnitPriceWei); err != nil {
		return params, fmt.Errorf("invalid sale.UnitPriceWei: %w", err)
	}
	if params.CapUsdCents, err = parsePositive(s.CapUsdCents); err != nil {
		return params, fmt.Errorf("invalid sale.CapUsdCents: %w", err)
	}
	if params.GoalUsdCents, err = parseUintAmount(s.GoalUsdCents); err != nil {
		return params, fmt.Errorf("invalid sale.GoalUsdCents: %w", err)
	}
	if params.GoalUsdCents.Cmp(params.CapUsdCents) > 0 {
		return params, fmt.Errorf("invalid sale.GoalUsdCents: exceeds CapUsdCents")
	}
	if params.RateWeiPerUsdCent, err = parsePositive(s.RateWeiPerUsdCent); err != nil {
		return params, fmt.Errorf("invalid sale.RateWeiPerUsdCent: %w", err)
	}
	if params.MaxSupply, err = parseUintAmount(s.MaxSupply); err != nil {
		return params, fmt.Errorf("invalid sale.MaxSupply: %w", err)
	}
	if params.Wallet, err = parseAddress(s.Wallet); err != nil {
		return params, fmt.Errorf("invalid sale.Wallet: %w", err)
	}
	if len(s.Controllers) == 0 {
		return params, fmt.Errorf("sale.Controllers must list at least one address")
	}
	params.Controllers = make([]common.Address, 0, len(s.Controllers))
	for i, raw := range s.Controllers {
		addr, err := parseAddress(raw)
		if err != nil {
			return params, fmt.Errorf("invalid sale.Controllers[%d]: %w", i, err)
		}
		params.Controllers = append(params.Controllers, addr)
	}
	if params.Opening, err = parseTime(s.Opening); err != nil {
		return params, fmt.Errorf("invalid sale.Opening: %w", err)
	}
	if params.Closing, err = parseTime(s.Closing); err != nil {
		return params, fmt.Errorf("invalid sale.Closing: %w", err)
	}
	if params.Opening.IsZero() != params.Closing.IsZero() {
		return params, fmt.Errorf("sale.Opening and sale.Closing must be set together")
	}
	if params.HasWindow() && params.Closing.Before(params.Opening) {
		return params, fmt.Errorf("sale.Closing precedes sale.Opening")
	}
	return params, nil
}

// parseUintAmount parses a non-negative base-10 integer. Empty means zero.
func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%q is not a base-10 integer", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%q must not be negative", raw)
	}
	return value, nil
}

func parsePositive(raw string) (*big.Int, error) {
	value, err := parseUintAmount(raw)
	if err != nil {
		return nil, err
	}
	if value.Sign() == 0 {
		return nil, fmt.Errorf("must be greater than zero")
	}
	return value, nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", raw)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address not allowed")
	}
	return addr, nil
}

func parseTime(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, trimmed)
}
