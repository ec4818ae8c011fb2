package preference

import "errors"

var (
	ErrInvalidBitstring = errors.New("preference: invalid bitstring")
	ErrInvalidHex       = errors.New("preference: invalid hex code")
	ErrWidthMismatch    = errors.New("preference: bitstring widths differ")
	ErrEmptySelection   = errors.New("preference: nothing selected")
)
