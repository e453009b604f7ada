package user

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	u := New("  u1 ", "  Alice  ")
	assert.Equal(t, User{ID: "u1", Name: "Alice"}, u)
}

func TestNew_TruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", MaxNameLength)

	u := New("u1", long)

	assert.LessOrEqual(t, len(u.Name), MaxNameLength)
	assert.True(t, utf8.ValidString(u.Name))
	assert.Equal(t, MaxNameLength/2, utf8.RuneCountInString(u.Name))
}
