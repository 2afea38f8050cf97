package zklogin

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func encodeSegment(t *testing.T, v map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal segment: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func makeToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := encodeSegment(t, map[string]any{"alg": "RS256", "typ": "JWT"})
	payload := encodeSegment(t, claims)
	return header + "." + payload + ".c2lnbmF0dXJl"
}

func TestParseIDTokenRoundTrip(t *testing.T) {
	now := time.Now().Unix()
	raw := makeToken(t, map[string]any{
		"iss": "https://accounts.google.com",
		"sub": "user-123",
		"aud": "client-abc",
		"iat": now,
		"exp": now + 3600,
	})
	token, err := ParseIDToken(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if token.Issuer != "https://accounts.google.com" ||
		token.Subject != "user-123" ||
		token.Audience != "client-abc" {
		t.Fatalf("claims not recovered: %+v", token)
	}
	if token.Raw != raw {
		t.Fatal("raw token must be preserved")
	}
	if token.IssuedAt.Unix() != now || token.ExpiresAt.Unix() != now+3600 {
		t.Fatalf("timestamps not recovered: iat=%v exp=%v", token.IssuedAt, token.ExpiresAt)
	}
}

func TestParseIDTokenAudienceList(t *testing.T) {
	raw := makeToken(t, map[string]any{
		"iss": "https://issuer.test",
		"sub": "user-1",
		"aud": []string{"client-a", "client-b"},
	})
	token, err := ParseIDToken(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if token.Audience != "client-a" {
		t.Fatalf("expected first audience, got %q", token.Audience)
	}
}

func TestParseIDTokenRejectsTwoSegments(t *testing.T) {
	if _, err := ParseIDToken("abc.def"); !errors.Is(err, ErrJWTParsing) {
		t.Fatalf("expected ErrJWTParsing, got %v", err)
	}
}

func TestParseIDTokenRejectsNonBase64(t *testing.T) {
	if _, err := ParseIDToken("!!!.???.~~~"); !errors.Is(err, ErrJWTParsing) {
		t.Fatalf("expected ErrJWTParsing, got %v", err)
	}
}

func TestParseIDTokenRejectsEmpty(t *testing.T) {
	if _, err := ParseIDToken("  "); !errors.Is(err, ErrJWTParsing) {
		t.Fatalf("expected ErrJWTParsing, got %v", err)
	}
}

func TestParseIDTokenRequiresClaims(t *testing.T) {
	cases := map[string]map[string]any{
		"missing subject":  {"iss": "https://issuer.test", "aud": "client"},
		"missing issuer":   {"sub": "user-1", "aud": "client"},
		"missing audience": {"iss": "https://issuer.test", "sub": "user-1"},
		"empty subject":    {"iss": "https://issuer.test", "sub": "", "aud": "client"},
	}
	for name, claims := range cases {
		if _, err := ParseIDToken(makeToken(t, claims)); !errors.Is(err, ErrJWTParsing) {
			t.Fatalf("%s: expected ErrJWTParsing, got %v", name, err)
		}
	}
}
