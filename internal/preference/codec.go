package preference

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// chunkWidth bounds the integers built while computing an overlap.
const chunkWidth = 8

// Encode renders selected as a bitstring of e.Width() characters. Order of
// selected and letter case are irrelevant; unknown values are ignored.
func Encode(e Enumeration, selected []string) string {
	bits := make([]byte, e.Width())
	for i := range bits {
		bits[i] = '0'
	}
	for _, v := range selected {
		if i := e.Index(v); i >= 0 {
			bits[i] = '1'
		}
	}
	return string(bits)
}

// Decode is the inverse of Encode. It returns the selected members in
// declaration order, or nil if bits is not exactly e.Width() long.
func Decode(e Enumeration, bits string) []string {
	if len(bits) != e.Width() {
		return nil
	}
	values := make([]string, 0, len(bits))
	for i := 0; i < len(bits); i++ {
		if bits[i] == '1' {
			values = append(values, e.Members[i])
		}
	}
	return values
}

// ToHex concatenates bitstrings, reads the result as a base-2 integer and
// renders it in lower-case base 16.
func ToHex(bitstrings ...string) (string, error) {
	joined := strings.Join(bitstrings, "")
	if joined == "" {
		return "0", nil
	}
	n, ok := new(big.Int).SetString(joined, 2)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidBitstring, joined)
	}
	return n.Text(16), nil
}

// FromHex expands hex back into a bitstring left-padded with zeros to
// width. It fails if the value needs more than width bits.
func FromHex(hex string, width int) (string, error) {
	n, ok := new(big.Int).SetString(hex, 16)
	if !ok || n.Sign() < 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidHex, hex)
	}
	bits := n.Text(2)
	if n.Sign() == 0 {
		bits = ""
	}
	if len(bits) > width {
		return "", fmt.Errorf("preference: %q needs %d bits, width is %d", hex, len(bits), width)
	}
	return strings.Repeat("0", width-len(bits)) + bits, nil
}

// OverlapBits returns the bitwise AND of two equal-length bitstrings. The
// strings are processed in chunks of 8 bits, each re-padded to its own
// width so leading zeros survive.
func OverlapBits(a, b string) (string, error) {
	if len(a) != len(b) {
		return "", fmt.Errorf("%w: %d vs %d", ErrWidthMismatch, len(a), len(b))
	}

	var out strings.Builder
	out.Grow(len(a))
	for start := 0; start < len(a); start += chunkWidth {
		end := min(start+chunkWidth, len(a))
		x, err := strconv.ParseUint(a[start:end], 2, chunkWidth)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidBitstring, a)
		}
		y, err := strconv.ParseUint(b[start:end], 2, chunkWidth)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidBitstring, b)
		}
		fmt.Fprintf(&out, "%0*b", end-start, x&y)
	}
	return out.String(), nil
}

// nonZero reports whether bits has at least one set bit.
func nonZero(bits string) bool {
	return strings.IndexByte(bits, '1') >= 0
}
