// Package crypto provides the small credential helpers: random password
// generation for per-AVM AMQP accounts, and the TOTP derivation used for
// VNC console access.
package crypto

import (
	"crypto/rand"
	"math/big"
)

// PasswordChars is the default alphabet for generated passwords.
const PasswordChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// HexChars is the alphabet used for VNC secrets.
const HexChars = "01234567890abcdef"

// GeneratePassword returns a random string of length size drawn from chars.
// size 0 yields the empty string.
func GeneratePassword(size int, chars string) string {
	out := make([]byte, size)
	max := big.NewInt(int64(len(chars)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing means the process has no usable
			// entropy source; nothing sensible to do but stop.
			panic(err)
		}
		out[i] = chars[n.Int64()]
	}
	return string(out)
}
