// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and SHA-256 digests over it. It is the single source of
// deterministic hashing in the core: dedup fingerprints, policy cache
// keys, and decision hashes all come through here so structurally
// equivalent payloads always collide.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Marshal returns the RFC 8785 canonical JSON encoding of v: map keys
// sorted by UTF-8 bytes, no HTML escaping, canonical number formatting.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of the canonical encoding of v.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint computes the dedup fingerprint of an event: a canonical
// digest over (correlation_id, symbol, signal).
func Fingerprint(correlationID, symbol string, signal any) (string, error) {
	return Hash(map[string]any{
		"correlation_id": correlationID,
		"symbol":         symbol,
		"signal":         signal,
	})
}
