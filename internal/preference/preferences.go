package preference

import "fmt"

// Preferences is what a requester selected, as received from the client.
// Code is derived by Encode and omitted on input.
type Preferences struct {
	Languages    []string `json:"languages"`
	Difficulties []string `json:"difficulties"`
	Topics       []string `json:"topics"`
	Code         string   `json:"code,omitempty"`
}

// Encoded holds one bitstring per dimension. An empty field means the
// dimension was never encoded, which is distinct from an all-zero field.
type Encoded struct {
	Languages    string `json:"languages"`
	Difficulties string `json:"difficulties"`
	Topics       string `json:"topics"`
}

// Encode computes the per-dimension bitstrings.
func (p Preferences) Encode() Encoded {
	return Encoded{
		Languages:    Encode(Languages, p.Languages),
		Difficulties: Encode(Difficulties, p.Difficulties),
		Topics:       Encode(Topics, p.Topics),
	}
}

// WithCode returns a copy of p carrying its preference code. The value
// lists are normalized to declaration order so equal sets compare equal.
func (p Preferences) WithCode() Preferences {
	enc := p.Encode()
	return Preferences{
		Languages:    Decode(Languages, enc.Languages),
		Difficulties: Decode(Difficulties, enc.Difficulties),
		Topics:       Decode(Topics, enc.Topics),
		Code:         enc.Code(),
	}
}

// Code renders the three bitstrings as one hex preference code.
func (e Encoded) Code() string {
	// Encode only produces '0'/'1' so ToHex cannot fail here.
	code, _ := ToHex(e.Languages, e.Difficulties, e.Topics)
	return code
}

// Complete reports whether all three dimensions are present.
func (e Encoded) Complete() bool {
	return e.Languages != "" && e.Difficulties != "" && e.Topics != ""
}

// DecodeCode splits a preference code back into its three dimensions.
func DecodeCode(code string) (Encoded, error) {
	bits, err := FromHex(code, TotalWidth())
	if err != nil {
		return Encoded{}, err
	}
	l, d := Languages.Width(), Difficulties.Width()
	return Encoded{
		Languages:    bits[:l],
		Difficulties: bits[l : l+d],
		Topics:       bits[l+d:],
	}, nil
}

// Overlap reports whether a and b share at least one selected value in
// every dimension. Any missing or zero-overlap dimension makes it false.
func Overlap(a, b Encoded) bool {
	if !a.Complete() || !b.Complete() {
		return false
	}
	for _, pair := range [][2]string{
		{a.Languages, b.Languages},
		{a.Difficulties, b.Difficulties},
		{a.Topics, b.Topics},
	} {
		bits, err := OverlapBits(pair[0], pair[1])
		if err != nil || !nonZero(bits) {
			return false
		}
	}
	return true
}

// SharedLanguages returns the languages selected by both a and b, in
// declaration order.
func SharedLanguages(a, b Preferences) []string {
	bits, err := OverlapBits(Encode(Languages, a.Languages), Encode(Languages, b.Languages))
	if err != nil {
		return nil
	}
	return Decode(Languages, bits)
}

// Validate checks that every dimension selects at least one known value.
func (p Preferences) Validate() error {
	for _, d := range []struct {
		enum   Enumeration
		values []string
	}{
		{Languages, p.Languages},
		{Difficulties, p.Difficulties},
		{Topics, p.Topics},
	} {
		if !nonZero(Encode(d.enum, d.values)) {
			return fmt.Errorf("%w: %s", ErrEmptySelection, d.enum.Name)
		}
	}
	return nil
}
