package webhook

import (
	"regexp"
	"testing"
)

func TestSign(t *testing.T) {
	body := []byte(`{"event":"export_complete","data":{"id":"42"}}`)

	sig := Sign("s3cret", body)
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64 hex chars", len(sig))
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(sig) {
		t.Fatalf("signature %q is not lowercase hex", sig)
	}

	// Deterministic for the same secret and body.
	if again := Sign("s3cret", body); again != sig {
		t.Errorf("signature not deterministic: %q vs %q", sig, again)
	}

	// Sensitive to both secret and body.
	if Sign("other", body) == sig {
		t.Error("different secret produced the same signature")
	}
	if Sign("s3cret", []byte(`{}`)) == sig {
		t.Error("different body produced the same signature")
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"test"}`)
	sig := Sign("s3cret", body)

	if !VerifySignature("s3cret", body, sig) {
		t.Error("valid signature did not verify")
	}
	if VerifySignature("wrong", body, sig) {
		t.Error("signature verified under the wrong secret")
	}
	if VerifySignature("s3cret", []byte(`tampered`), sig) {
		t.Error("signature verified for a tampered body")
	}
	if VerifySignature("s3cret", body, "not-hex") {
		t.Error("malformed signature verified")
	}
}
