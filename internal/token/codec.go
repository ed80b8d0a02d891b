// Package token implements the signed delivery-token codec and the
// secret-derived hashing used across the confirmation protocol.
//
// The token is a compact three-part string (header.payload.signature,
// base64url, HMAC-SHA256). Issuer and verifier are the same trust domain,
// so no asymmetric crypto is involved, and the QR image content is exactly
// this string.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PayloadType is the type tag every delivery token carries
const PayloadType = "delivery_qr"

const headerAlg = "HS256"

// ErrInvalidToken is returned for every verification failure. Callers must
// not surface the underlying reason to unauthenticated users; the wrapped
// cause is for internal logs only.
var ErrInvalidToken = errors.New("invalid delivery token")

// ErrTokenExpired marks the one failure the scan flow treats specially:
// the signature was authentic but exp has passed. It wraps
// ErrInvalidToken, so generic callers need no extra case.
var ErrTokenExpired = fmt.Errorf("%w: expired", ErrInvalidToken)

// Payload is the claim set encoded into a delivery QR
type Payload struct {
	Type        string `json:"typ"`
	Jti         string `json:"jti"`
	OrderID     string `json:"order_id"`
	WarehouseID string `json:"warehouse_id"`
	BatchID     string `json:"batch_id"`
	Nonce       string `json:"nonce"`
	IssuedAt    int64  `json:"iat"`
	ExpiresAt   int64  `json:"exp"`
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Codec signs and verifies delivery tokens with a server-held secret
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec creates a codec from the server secret
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret), now: time.Now}
}

// NewCodecAt creates a codec with a fixed clock, for tests
func NewCodecAt(secret string, now func() time.Time) *Codec {
	return &Codec{secret: []byte(secret), now: now}
}

// Create serializes and signs a payload into the opaque token string
func (c *Codec) Create(p Payload) (string, error) {
	if p.Type == "" {
		p.Type = PayloadType
	}

	headerJSON, err := json.Marshal(header{Alg: headerAlg, Typ: "DQR"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	enc := base64.RawURLEncoding
	signingInput := enc.EncodeToString(headerJSON) + "." + enc.EncodeToString(payloadJSON)
	sig := c.sign(signingInput)

	return signingInput + "." + enc.EncodeToString(sig), nil
}

// Verify checks structure, signature, type tag and expiry before trusting
// the payload. The signature compare is constant-time.
func (c *Codec) Verify(tokenString string) (*Payload, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: malformed structure", ErrInvalidToken)
	}

	enc := base64.RawURLEncoding

	headerJSON, err := enc.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: bad header encoding", ErrInvalidToken)
	}
	var h header
	if err := json.Unmarshal(headerJSON, &h); err != nil {
		return nil, fmt.Errorf("%w: bad header", ErrInvalidToken)
	}
	if h.Alg != headerAlg || h.Typ != "DQR" {
		return nil, fmt.Errorf("%w: unsupported header", ErrInvalidToken)
	}

	sig, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: bad signature encoding", ErrInvalidToken)
	}
	expected := c.sign(parts[0] + "." + parts[1])
	if !hmac.Equal(sig, expected) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}

	payloadJSON, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad payload encoding", ErrInvalidToken)
	}
	var p Payload
	if err := json.Unmarshal(payloadJSON, &p); err != nil {
		return nil, fmt.Errorf("%w: bad payload", ErrInvalidToken)
	}
	if p.Type != PayloadType {
		return nil, fmt.Errorf("%w: wrong payload type", ErrInvalidToken)
	}
	if c.now().Unix() >= p.ExpiresAt {
		// The payload is authenticated at this point; return it so the
		// scan flow can transition the registry row to expirado
		return &p, ErrTokenExpired
	}

	return &p, nil
}

func (c *Codec) sign(input string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(input))
	return mac.Sum(nil)
}
