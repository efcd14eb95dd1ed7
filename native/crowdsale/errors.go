package crowdsale

import "errors"

var (
	ErrInvalidRate        = errors.New("crowdsale: invalid rate")
	ErrZeroAddress        = errors.New("crowdsale: zero address")
	ErrZeroValue          = errors.New("crowdsale: zero value")
	ErrCapExceeded        = errors.New("crowdsale: cap exceeded")
	ErrVaultClosed        = errors.New("crowdsale: vault not accepting deposits")
	ErrAlreadyFinalized   = errors.New("crowdsale: already finalized")
	ErrNotFinalized       = errors.New("crowdsale: not finalized")
	ErrNotRefunding       = errors.New("crowdsale: vault not refunding")
	ErrArithmeticOverflow = errors.New("crowdsale: arithmetic overflow")
	ErrMintFailed         = errors.New("crowdsale: mint failed")
	ErrTransferFailed     = errors.New("crowdsale: transfer failed")
	ErrUnauthorized       = errors.New("crowdsale: unauthorized")

	ErrSaleNotOpen    = errors.New("crowdsale: sale window not open")
	ErrSaleStillOpen  = errors.New("crowdsale: sale window open and cap not reached")
	ErrInvalidAmount  = errors.New("crowdsale: invalid amount")
	ErrInvalidConfig  = errors.New("crowdsale: invalid configuration")
	ErrSupplyExceeded = errors.New("crowdsale: token supply exceeded")
)
