package jwt

import "github.com/golang-jwt/jwt"

// Payload holds the claims of an identity token issued by the external identity
// provider. The chat server only verifies the signature and reads the sender
// identity; it never issues accounts itself.
type Payload struct {
	jwt.StandardClaims

	// ID is the sender id attached to messages.
	ID string `json:"id"`

	// Name is the display name attached to messages.
	Name string `json:"name"`
}
