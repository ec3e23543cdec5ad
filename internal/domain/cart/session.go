package cart

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const sessionAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewSessionID returns a correlation token of the form
// session_<unix millis>_<9 base36 chars>. It is not a secret.
func NewSessionID(now time.Time) string {
	var b strings.Builder
	b.Grow(32)
	b.WriteString("session_")
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteByte('_')
	for range 9 {
		b.WriteByte(sessionAlphabet[rand.IntN(len(sessionAlphabet))])
	}
	return b.String()
}

// ValidSessionID reports whether id is usable as a cart key.
func ValidSessionID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for i := range len(id) {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}
