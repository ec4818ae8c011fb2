// Package room holds the in-process registry of matching rooms. A room is
// created by the first requester (its owner), becomes matched when a second
// requester with overlapping preferences joins, and is removed on timeout,
// cancellation, or disconnect.
package room

import (
	"strconv"
	"time"

	"github.com/peerprep/matcher/internal/preference"
)

// Partner identifies one side of a match. ID is the stable user id,
// ConnectionID changes on every reconnect.
type Partner struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connectionId"`
}

// Room is a snapshot of one matching attempt. Once Matched is true the
// room no longer changes until it is removed.
type Room struct {
	ID                string                  `json:"id"`
	Owner             Partner                 `json:"owner"`
	Partner           *Partner                `json:"partner,omitempty"`
	Preference        preference.Preferences  `json:"preference"`
	PartnerPreference *preference.Preferences `json:"partnerPreference,omitempty"`
	Matched           bool                    `json:"matched"`
	CreatedOn         time.Time               `json:"createdOn"`
}

// ID builds the room id used for a requester's waiting room.
func ID(code, userID string) string {
	return code + "-" + userID
}

// MatchKey identifies one pairing. Room ids repeat when a user asks again
// with the same preferences; the creation time tells the attempts apart.
// Both sides of a match compute the same key.
func (r Room) MatchKey() string {
	return r.ID + "@" + strconv.FormatInt(r.CreatedOn.UnixNano(), 10)
}

// Other returns the side of the room that is not connID, and whether one
// exists yet.
func (r Room) Other(connID string) (Partner, bool) {
	if r.Partner == nil {
		return Partner{}, false
	}
	if r.Owner.ConnectionID == connID {
		return *r.Partner, true
	}
	return r.Owner, true
}

// Languages returns the languages both sides selected, or the owner's
// languages when the partner's preferences are unknown or disjoint.
func (r Room) Languages() []string {
	if r.PartnerPreference != nil {
		if shared := preference.SharedLanguages(r.Preference, *r.PartnerPreference); len(shared) > 0 {
			return shared
		}
	}
	return preference.Decode(preference.Languages, preference.Encode(preference.Languages, r.Preference.Languages))
}

// clone copies the pointer fields so callers never share them with the store.
func (r Room) clone() Room {
	if r.Partner != nil {
		p := *r.Partner
		r.Partner = &p
	}
	if r.PartnerPreference != nil {
		p := *r.PartnerPreference
		r.PartnerPreference = &p
	}
	return r
}
