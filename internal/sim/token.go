package sim

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SessionToken derives the expected session token for an actor from a
// shared secret. Clients receive theirs out of band at match creation
// and attach it to every input.
func SessionToken(secret, actorID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(actorID))
	return hex.EncodeToString(mac.Sum(nil))
}
