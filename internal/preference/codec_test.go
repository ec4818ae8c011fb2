package preference

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// subset returns the members of e selected by mask.
func subset(e Enumeration, mask int) []string {
	var values []string
	for i, m := range e.Members {
		if mask&(1<<i) != 0 {
			values = append(values, m)
		}
	}
	return values
}

func TestEncode_Width(t *testing.T) {
	for _, e := range []Enumeration{Languages, Difficulties, Topics} {
		assert.Len(t, Encode(e, nil), e.Width(), e.Name)
		assert.Equal(t, strings.Repeat("0", e.Width()), Encode(e, []string{}), e.Name)
	}
}

func TestEncode_PositionsFollowDeclarationOrder(t *testing.T) {
	assert.Equal(t, "100000", Encode(Languages, []string{"python"}))
	assert.Equal(t, "010000", Encode(Languages, []string{"Java"}))
	assert.Equal(t, "001", Encode(Difficulties, []string{"HARD"}))
	assert.Equal(t, "1000000000000000", Encode(Topics, []string{"array"}))
}

func TestEncode_IgnoresUnknownValues(t *testing.T) {
	assert.Equal(t, "000000", Encode(Languages, []string{"cobol"}))
}

func TestEncode_OrderIndependent(t *testing.T) {
	for i, x := range Topics.Members {
		for _, y := range Topics.Members[i:] {
			assert.Equal(t, Encode(Topics, []string{x, y}), Encode(Topics, []string{y, x}))
		}
	}
}

func TestDecode_RoundTripEverySubset(t *testing.T) {
	for _, e := range []Enumeration{Languages, Difficulties, Topics} {
		for mask := 0; mask < 1<<e.Width(); mask++ {
			want := subset(e, mask)
			got := Decode(e, Encode(e, want))
			require.ElementsMatch(t, want, got, "%s mask=%b", e.Name, mask)
		}
	}
}

func TestDecode_WrongWidth(t *testing.T) {
	assert.Empty(t, Decode(Difficulties, "10"))
	assert.Empty(t, Decode(Difficulties, "1000"))
}

func TestHex_RoundTrip(t *testing.T) {
	cases := [][3]string{
		{"000000", "000", "0000000000000000"},
		{"100000", "010", "1000000000000000"},
		{"000001", "000", "0000000000000001"},
		{"111111", "111", "1111111111111111"},
		{"010100", "100", "0010010000000010"},
	}
	for _, c := range cases {
		hex, err := ToHex(c[0], c[1], c[2])
		require.NoError(t, err)

		bits, err := FromHex(hex, TotalWidth())
		require.NoError(t, err)
		assert.Equal(t, c[0]+c[1]+c[2], bits, "hex=%s", hex)
	}
}

func TestHex_AllZeroIsZero(t *testing.T) {
	hex, err := ToHex("000", "00")
	require.NoError(t, err)
	assert.Equal(t, "0", hex)
}

func TestFromHex_Errors(t *testing.T) {
	_, err := FromHex("xyz", 8)
	assert.ErrorIs(t, err, ErrInvalidHex)

	_, err = FromHex("1ff", 8)
	assert.Error(t, err)
}

func TestOverlapBits(t *testing.T) {
	cases := []struct {
		a, b, want string
	}{
		{"1100", "1010", "1000"},
		{"0000", "1111", "0000"},
		// Leading zeros inside every chunk must survive.
		{"0000000100000001", "0000000100000000", "0000000100000000"},
		// Final chunk shorter than 8.
		{"000000001", "000000001", "000000001"},
		{"0110000000111", "0100000000101", "0100000000101"},
	}
	for _, c := range cases {
		got, err := OverlapBits(c.a, c.b)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, fmt.Sprintf("%s & %s", c.a, c.b))
		assert.Len(t, got, len(c.a))
	}
}

func TestOverlapBits_Symmetric(t *testing.T) {
	for x := 0; x < 1<<Languages.Width(); x++ {
		for y := 0; y < 1<<Languages.Width(); y += 7 {
			a := Encode(Languages, subset(Languages, x))
			b := Encode(Languages, subset(Languages, y))
			ab, err := OverlapBits(a, b)
			require.NoError(t, err)
			ba, err := OverlapBits(b, a)
			require.NoError(t, err)
			assert.Equal(t, ab, ba)
		}
	}
}

func TestOverlapBits_WidthMismatch(t *testing.T) {
	_, err := OverlapBits("101", "10")
	assert.ErrorIs(t, err, ErrWidthMismatch)
}
