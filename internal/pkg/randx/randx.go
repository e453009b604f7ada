/*
Package randx generates identifiers: time-ordered store keys built from a
cryptographically secure source, and validation for caller-supplied room ids.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

const (
	// Base62Chars is the Base62 alphabet in ascending ASCII order, so encoded
	// values sort the same way as the numbers they encode.
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the size of the Base62 alphabet.
	Base62Len = int64(len(Base62Chars))

	// PushKeyTimeLength is the number of leading key characters encoding milliseconds.
	PushKeyTimeLength = 8

	// PushKeyRandomLength is the number of trailing random key characters.
	PushKeyRandomLength = 12

	// MaxRoomIDLength bounds room identifiers accepted from callers.
	MaxRoomIDLength = 128
)

// KeyGenerator produces push keys: 8 characters of millisecond time followed by
// 12 random characters. Keys from one generator sort in creation order, also
// within the same millisecond.
type KeyGenerator struct {
	mu       sync.Mutex
	lastMs   int64
	lastRand [PushKeyRandomLength]int
}

// NewKeyGenerator returns a ready KeyGenerator.
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{}
}

// PushKey returns a new key for time t.
func (g *KeyGenerator) PushKey(t time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := t.UnixMilli()

	if ms == g.lastMs {
		g.increment()
	} else {
		for i := 0; i < PushKeyRandomLength; i++ {
			num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
			if err != nil {
				return "", fmt.Errorf("failed to generate random number for push key: %w", err)
			}
			g.lastRand[i] = int(num.Int64())
		}
		g.lastMs = ms
	}

	key := make([]byte, PushKeyTimeLength+PushKeyRandomLength)

	for i := PushKeyTimeLength - 1; i >= 0; i-- {
		key[i] = Base62Chars[ms%Base62Len]
		ms /= Base62Len
	}

	for i, idx := range g.lastRand {
		key[PushKeyTimeLength+i] = Base62Chars[idx]
	}

	return string(key), nil
}

// increment bumps the random suffix by one, carrying leftwards.
func (g *KeyGenerator) increment() {
	for i := PushKeyRandomLength - 1; i >= 0; i-- {
		if g.lastRand[i] < int(Base62Len)-1 {
			g.lastRand[i]++
			return
		}
		g.lastRand[i] = 0
	}
}

// IsValidRoomID reports whether id can be used as a single store path segment:
// 1 to MaxRoomIDLength characters from Base62, '-' or '_'.
func IsValidRoomID(id string) bool {
	if id == "" || len(id) > MaxRoomIDLength {
		return false
	}

	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c == '-', c == '_':
		default:
			return false
		}
	}

	return true
}
