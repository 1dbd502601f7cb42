package crypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// totpPeriod is the TOTP time step. VNC codes rotate every 30 seconds.
const totpPeriod = 30

// totpDigits is the number of decimal digits in a code.
const totpDigits = 6

// TOTP derives the RFC 6238 code for a hex-encoded HMAC seed at time t.
// The stored vnc_secret is the seed; SHA-1, 6 digits, 30 s window, epoch 0.
func TOTP(secretHex string, t time.Time) (string, error) {
	key, err := hex.DecodeString(secretHex)
	if err != nil {
		return "", fmt.Errorf("decode totp secret: %w", err)
	}

	counter := uint64(t.Unix()) / totpPeriod

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// RFC 4226 dynamic truncation
	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%06d", code%1000000), nil
}
