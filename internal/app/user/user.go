/*
Package user defines the sender identity attached to chat messages.
*/
package user

import "strings"

// MaxNameLength bounds display names accepted from callers, in bytes.
const MaxNameLength = 64

// User identifies the author of a message. The chat core trusts these fields;
// verification happens upstream, at the identity provider.
type User struct {
	// ID is the sender id stored with each message.
	ID string `json:"id"`

	// Name is the display name stored with each message.
	Name string `json:"name"`
}

// New returns a User with surrounding whitespace removed and the name truncated
// to MaxNameLength bytes on a rune boundary.
func New(id, name string) User {
	name = strings.TrimSpace(name)
	if len(name) > MaxNameLength {
		cut := MaxNameLength
		for cut > 0 && !isRuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}

	return User{ID: strings.TrimSpace(id), Name: name}
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
