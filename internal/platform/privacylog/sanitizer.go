// Package privacylog wraps a slog.Handler so credentials never reach the log
// and engine values appear only as per-process fingerprints.
package privacylog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const redactedValue = "[REDACTED]"

var (
	processNonce = randomNonce()
	// Keys whose values are engine data; they are logged as fingerprints so
	// repeated values can still be correlated within one process.
	fingerprintKeys = map[string]struct{}{
		"value":        {},
		"arg_value":    {},
		"result_value": {},
		"variable":     {},
		"client":       {},
	}
	sensitiveKeyParts = []string{"token", "secret", "password", "authorization", "credential"}
)

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
	clean := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		clean[i] = SanitizeAttr(attr)
	}
	return &SanitizingHandler{next: h.next.WithAttrs(clean)}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

// SanitizeAttr redacts credential attributes and fingerprints engine value
// attributes. Groups are sanitized recursively.
func SanitizeAttr(attr slog.Attr) slog.Attr {
	key := strings.TrimSpace(attr.Key)
	lower := strings.ToLower(key)
	switch {
	case isSensitiveKey(lower):
		return slog.String(key, redactedValue)
	case isFingerprintKey(lower):
		return slog.String(fingerprintKeyName(key), Fingerprint(valueToString(attr.Value.Resolve())))
	case attr.Value.Kind() == slog.KindGroup:
		group := attr.Value.Group()
		clean := make([]any, len(group))
		for i, a := range group {
			clean[i] = SanitizeAttr(a)
		}
		return slog.Group(key, clean...)
	default:
		return attr
	}
}

// Fingerprint returns a short digest of value that is stable for the life
// of the process and unlinkable across processes.
func Fingerprint(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(trimmed + "|" + processNonce))
	return "fp_" + hex.EncodeToString(sum[:8])
}

func isFingerprintKey(key string) bool {
	_, ok := fingerprintKeys[key]
	return ok
}

func fingerprintKeyName(key string) string {
	if strings.HasSuffix(strings.ToLower(key), "_fp") {
		return key
	}
	return key + "_fp"
}

func isSensitiveKey(key string) bool {
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return v.Time().UTC().Format("2006-01-02T15:04:05.000000000Z")
	default:
		return fmt.Sprint(v.Any())
	}
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "fallback_nonce"
	}
	return hex.EncodeToString(buf)
}
