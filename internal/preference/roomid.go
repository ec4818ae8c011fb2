package preference

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// RoomIDLength is the number of hex characters kept from the digest.
const RoomIDLength = 20

// GenerateRoomID derives the collaboration room id handed to the
// collaboration service. The input order matters: swapping owner and
// partner yields a different id.
func GenerateRoomID(ownerID, partnerID, questionID, language string) string {
	sum := sha256.Sum256([]byte(ownerID + partnerID + questionID + strings.ToLower(language)))
	return hex.EncodeToString(sum[:])[:RoomIDLength]
}

// VerifyRoomID accepts id if it was generated for the two users in either
// order.
func VerifyRoomID(id, userA, userB, questionID, language string) bool {
	return id == GenerateRoomID(userA, userB, questionID, language) ||
		id == GenerateRoomID(userB, userA, questionID, language)
}
