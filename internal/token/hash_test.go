package token

import (
	"testing"
)

func TestOtpHashing(t *testing.T) {
	h := NewHasher("test-secret-key")

	salt, err := h.NewOtpSalt()
	if err != nil {
		t.Fatalf("Failed to generate salt: %v", err)
	}
	hash := h.HashOtpCode("482913", salt)

	if !h.VerifyOtpCode("482913", salt, hash) {
		t.Error("Correct code should verify")
	}
	if h.VerifyOtpCode("482914", salt, hash) {
		t.Error("Wrong code of correct length should not verify")
	}

	otherSalt, _ := h.NewOtpSalt()
	if h.VerifyOtpCode("482913", otherSalt, hash) {
		t.Error("Correct code with wrong salt should not verify")
	}
}

func TestSessionTokenHashDeterministic(t *testing.T) {
	h := NewHasher("test-secret-key")

	a := h.HashSessionToken("raw-session-token")
	b := h.HashSessionToken("raw-session-token")
	if a != b {
		t.Error("Session token hash must be deterministic for lookup")
	}
	if a == h.HashSessionToken("other-token") {
		t.Error("Different tokens should not collide")
	}
	if len(a) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(a))
	}
}

func TestOfflineEventHash(t *testing.T) {
	h := NewHasher("test-secret-key")

	a := h.HashOfflineEvent("SO-9001", "2026-08-12T10:00:00Z", "4.60971,-74.08175", "device-1")
	b := h.HashOfflineEvent("SO-9001", "2026-08-12T10:00:00Z", "4.60971,-74.08175", "device-1")
	if a != b {
		t.Error("Offline hash must be deterministic")
	}

	c := h.HashOfflineEvent("SO-9001", "2026-08-12T10:00:01Z", "4.60971,-74.08175", "device-1")
	if a == c {
		t.Error("Changing the timestamp must change the hash")
	}
}

func TestTokenFingerprint(t *testing.T) {
	fp := TokenFingerprint("some.token.string")
	if len(fp) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(fp))
	}
	if fp != TokenFingerprint("some.token.string") {
		t.Error("Fingerprint must be deterministic")
	}
	if fp == TokenFingerprint("some.token.strinh") {
		t.Error("Different tokens should not share a fingerprint")
	}
}

func TestNewOtpCode(t *testing.T) {
	code, err := NewOtpCode(6)
	if err != nil {
		t.Fatalf("Failed to generate code: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("Expected 6 digits, got %q", code)
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			t.Errorf("Code should be numeric, got %q", code)
		}
	}

	if _, err := NewOtpCode(0); err == nil {
		t.Error("Zero length should be rejected")
	}
}
