package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Size is the length in bytes of a content fingerprint.
const Size = sha256.Size

// Fingerprint is the SHA-256 digest of a submitted payload. Identical
// content always yields the identical fingerprint, which is the key the
// case deduplication logic matches on. It is treated as opaque everywhere
// except construction.
type Fingerprint [Size]byte

// Compute returns the fingerprint of raw content bytes.
func Compute(content []byte) Fingerprint {
	return Fingerprint(sha256.Sum256(content))
}

// ComputeString returns the fingerprint of a text payload.
func ComputeString(text string) Fingerprint {
	return Compute([]byte(text))
}

// Parse decodes a hex-encoded fingerprint, rejecting anything that is not
// exactly Size bytes of hex.
func Parse(s string) (Fingerprint, error) {
	var fp Fingerprint
	if len(s) != Size*2 {
		return fp, fmt.Errorf("fingerprint must be %d hex characters, got %d", Size*2, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fp, fmt.Errorf("fingerprint is not valid hex: %w", err)
	}
	copy(fp[:], raw)
	return fp, nil
}

// String returns the lowercase hex encoding.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether the fingerprint has not been set.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// MarshalText implements encoding.TextMarshaler so fingerprints render as
// hex in JSON payloads.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
