// Package totp implements the time-based one-time-password second factor:
// secret provisioning, RFC 6238 code verification and the recovery-key
// fallback path.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"time"
)

const (
	// Issuer appears in the provisioning URI rendered as a QR code.
	Issuer = "CoinVault"

	codeDigits  = 6
	stepSeconds = 30
	secretBytes = 20

	recoveryKeyLength = 16
	// Visually unambiguous 32-symbol alphabet: no 0/O, no 1/I.
	recoveryAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// no-padding base32, the authenticator-app convention
var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Provisioning is the output of Provision: nothing is persisted until the
// user proves possession of the secret via Enable.
type Provisioning struct {
	Secret      string
	RecoveryKey string
	URI         string
}

// Provision generates a fresh random secret and recovery key plus the
// otpauth URI a client renders as a scannable code.
func Provision(accountLabel string) (*Provisioning, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	secret := secretEncoding.EncodeToString(raw)

	key, err := newRecoveryKey()
	if err != nil {
		return nil, err
	}

	uri := fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s&digits=%d&period=%d",
		Issuer, url.PathEscape(accountLabel), secret, Issuer, codeDigits, stepSeconds)

	return &Provisioning{Secret: secret, RecoveryKey: key, URI: uri}, nil
}

func newRecoveryKey() (string, error) {
	raw := make([]byte, recoveryKeyLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate recovery key: %w", err)
	}
	key := make([]byte, recoveryKeyLength)
	for i, b := range raw {
		key[i] = recoveryAlphabet[int(b)%len(recoveryAlphabet)]
	}
	return string(key), nil
}

// GenerateCode computes the 6-digit HOTP code for an explicit counter:
// HMAC-SHA1 over the 8-byte big-endian counter, dynamic truncation, mod 1e6,
// zero-padded.
func GenerateCode(secret string, counter int64) (string, error) {
	key, err := secretEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := (uint32(sum[offset])&0x7f)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])
	code %= 1_000_000

	return fmt.Sprintf("%06d", code), nil
}

// CodeAt returns the code for the time step containing t.
func CodeAt(secret string, t time.Time) (string, error) {
	return GenerateCode(secret, t.Unix()/stepSeconds)
}

// Verify checks a supplied code against the secret, accepting the previous,
// current and next 30-second step (90-second effective window for clock
// drift). Any decode or HMAC failure returns false, never an error.
func Verify(code, secret string) bool {
	return VerifyAt(code, secret, time.Now())
}

// VerifyAt is Verify with an explicit clock.
func VerifyAt(code, secret string, now time.Time) bool {
	if len(code) != codeDigits || secret == "" {
		return false
	}

	counter := now.Unix() / stepSeconds
	for _, c := range []int64{counter - 1, counter, counter + 1} {
		want, err := GenerateCode(secret, c)
		if err != nil {
			return false
		}
		if subtle.ConstantTimeCompare([]byte(code), []byte(want)) == 1 {
			return true
		}
	}
	return false
}

// RecoveryKeyMatches compares a supplied recovery key to the stored one in
// constant time.
func RecoveryKeyMatches(supplied, stored string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(stored)) == 1
}
