package logging

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// RedactedValue replaces values of keys that are not known to be safe.
const RedactedValue = "[REDACTED]"

// safeKeys are the ledger log keys emitted verbatim. Sorted.
var safeKeys = []string{
	"backend", "component", "env", "error", "intents", "manifest", "message",
	"outcome", "reason", "root", "service", "severity", "timestamp", "tx", "version",
}

// IsSafeKey reports whether values under key are logged without redaction.
func IsSafeKey(key string) bool {
	_, ok := slices.BinarySearch(safeKeys, strings.ToLower(strings.TrimSpace(key)))
	return ok
}

// MaskField redacts value unless key is safe. Blank values log as "".
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, "")
	}
	if IsSafeKey(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// KeyFingerprint logs a public key by its leading bytes and length, enough
// to correlate signers across lines without printing the key.
func KeyFingerprint(key string, pub []byte) slog.Attr {
	if len(pub) == 0 {
		return slog.String(key, "")
	}
	return slog.String(key, fmt.Sprintf("%s..(%d bytes)", hex.EncodeToString(pub[:min(4, len(pub))]), len(pub)))
}
