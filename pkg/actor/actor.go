// Package actor provides the Actor identity envelope used throughout the
// pipeline in place of the ad-hoc {req.user?.id, req.userId, req.user?.public_key}
// shape the HTTP layer would otherwise pass around.
package actor

// Actor identifies the caller behind a request: always a userID, and a
// publicKey when the caller's identity has one attached (multiple users may
// share a publicKey under multi-role setups).
type Actor struct {
	UserID    string
	PublicKey *string
	Role      string
}

// New builds an Actor from a userID and an optional public key.
func New(userID string, publicKey *string) Actor {
	return Actor{UserID: userID, PublicKey: publicKey}
}

// Matches reports whether a candidate row's ownership columns identify this
// actor, using OR-logic: a publicKey match is sufficient even if the userID
// differs (multi-role), and vice versa.
func (a Actor) Matches(rowUserID string, rowPublicKey *string) bool {
	if a.PublicKey != nil && rowPublicKey != nil && *a.PublicKey == *rowPublicKey {
		return true
	}
	return a.UserID != "" && a.UserID == rowUserID
}

// HasPublicKey reports whether the actor carries a public key.
func (a Actor) HasPublicKey() bool {
	return a.PublicKey != nil && *a.PublicKey != ""
}
