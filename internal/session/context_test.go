package session

import (
	"context"
	"testing"
)

func TestTokenRoundTrip(t *testing.T) {
	ctx := WithToken(context.Background(), "tok-123")
	got, ok := TokenFromContext(ctx)
	if !ok || got != "tok-123" {
		t.Fatalf("expected token tok-123, got %q ok=%v", got, ok)
	}
}

func TestTokenMissing(t *testing.T) {
	if _, ok := TokenFromContext(context.Background()); ok {
		t.Fatal("expected no token in empty context")
	}
	if _, ok := TokenFromContext(WithToken(context.Background(), "")); ok {
		t.Fatal("expected empty token to be treated as missing")
	}
}

func TestFingerprintStableAndOpaque(t *testing.T) {
	a := Fingerprint("secret-token")
	if a != Fingerprint("secret-token") {
		t.Fatal("fingerprint should be deterministic")
	}
	if a == Fingerprint("other-token") {
		t.Fatal("different tokens should not collide")
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars, got %d", len(a))
	}
}
