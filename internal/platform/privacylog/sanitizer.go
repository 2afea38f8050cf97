// Package privacylog keeps secret pipeline material out of log output.
// Ephemeral secret keys, identity tokens and user salts must never appear in
// cleartext; stable identifiers are fingerprinted so operators can correlate
// log lines without learning the identity behind them.
package privacylog

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

const redactedValue = "[REDACTED]"

var (
	bootNonce = randomBootNonce()

	// Values under these keys are dropped entirely.
	secretKeyParts = []string{
		"token", "jwt", "secret", "salt", "randomness",
		"proof", "passphrase", "authorization", "password",
	}

	// Values under these keys are replaced with a boot-scoped fingerprint.
	fingerprintedKeys = map[string]struct{}{
		"subject": {},
		"address": {},
		"nonce":   {},
		"issuer":  {},
	}
)

// SanitizingHandler wraps another slog.Handler and rewrites attributes
// before they reach it.
type SanitizingHandler struct {
	next slog.Handler
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(SanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, SanitizeAttr(attr))
	}
	return &SanitizingHandler{next: h.next.WithAttrs(out)}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

// SanitizeAttr redacts secret-bearing attributes and fingerprints stable
// identifiers.
func SanitizeAttr(attr slog.Attr) slog.Attr {
	key := strings.ToLower(strings.TrimSpace(attr.Key))
	if isSecretKey(key) {
		return slog.String(attr.Key, redactedValue)
	}
	if _, ok := fingerprintedKeys[key]; ok {
		return slog.String(attr.Key+"_fp", FingerprintID(attrValueString(attr.Value)))
	}
	return attr
}

// FingerprintID maps an identifier to a short hash that is stable within one
// process lifetime and unlinkable across restarts.
func FingerprintID(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(trimmed + "|" + bootNonce))
	return "fp_" + hex.EncodeToString(sum[:8])
}

func isSecretKey(key string) bool {
	for _, part := range secretKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func attrValueString(v slog.Value) string {
	if v.Kind() == slog.KindString {
		return v.String()
	}
	return fmt.Sprint(v.Any())
}

func randomBootNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "static_boot_nonce"
	}
	return hex.EncodeToString(buf)
}
