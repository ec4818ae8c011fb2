package messaging

import "errors"

var (
	// ErrNoMatch is returned by Channel.Match when the attempt ended without
	// a partner.
	ErrNoMatch = errors.New("messaging: no match")

	// ErrClaimRejected means the claimed attempt was already matched, closed,
	// or busy claiming someone else.
	ErrClaimRejected = errors.New("messaging: claim rejected")
)
