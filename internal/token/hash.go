package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// Hasher derives all protocol hashes from the server secret
type Hasher struct {
	secret []byte
}

// NewHasher creates a hasher from the server secret
func NewHasher(secret string) *Hasher {
	return &Hasher{secret: []byte(secret)}
}

// HashSessionToken hashes a raw session token. Deterministic (no salt) so
// the hash can be recomputed for database lookup.
func (h *Hasher) HashSessionToken(raw string) string {
	return h.hmacHex("session:" + raw)
}

// NewOtpSalt generates a random per-issuance salt
func (h *Hasher) NewOtpSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// HashOtpCode hashes an OTP code with its issuance salt
func (h *Hasher) HashOtpCode(code, salt string) string {
	return h.hmacHex("otp:" + salt + ":" + code)
}

// VerifyOtpCode recomputes the hash with the stored salt and compares in
// constant time
func (h *Hasher) VerifyOtpCode(code, salt, hash string) bool {
	computed := h.HashOtpCode(code, salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// HashOfflineEvent computes the deterministic content hash of an offline
// event. The client computes the identical hash before sending; a mismatch
// on the server side means the payload was altered in transit.
func (h *Hasher) HashOfflineEvent(orderID, timestamp, gps, deviceID string) string {
	content := strings.Join([]string{orderID, timestamp, gps, deviceID}, "|")
	return h.hmacHex("offline:" + content)
}

// TokenFingerprint is a plain SHA-256 of the full token string, stored in
// place of the raw token so a leaked database cannot be used to forge or
// replay QR images.
func TokenFingerprint(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])
}

// NewSessionToken generates a random raw session token
func NewSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NewNonce generates a random token nonce
func NewNonce() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NewOtpCode generates a random numeric code of the given length
func NewOtpCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("otp length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	digits := make([]byte, length)
	for i, b := range buf {
		digits[i] = '0' + b%10
	}
	return string(digits), nil
}

func (h *Hasher) hmacHex(input string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(input))
	return hex.EncodeToString(mac.Sum(nil))
}
