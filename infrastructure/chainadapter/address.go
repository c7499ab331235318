// Package chainadapter provides address validation and a reference Chain
// Adapter implementation used for local development and tests.
package chainadapter

import (
	"strings"

	"golang.org/x/crypto/sha3"
)

// NormalizeAddress strips an optional "0x"/"0X" prefix, lowercases, and
// validates that the result is a 40-character hex string — the EVM analogue
// of the teacher's NormalizeContractAddress for Neo N3 script hashes.
// Returns "" for invalid input.
func NormalizeAddress(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "0x")
	raw = strings.TrimPrefix(raw, "0X")
	raw = strings.ToLower(raw)
	if len(raw) != 40 {
		return ""
	}
	for _, ch := range raw {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return ""
		}
	}
	return raw
}

// IsWellFormed reports whether raw is a well-formed "0x"-prefixed, 40 hex
// character address (spec §4.5 step 1 validation rule).
func IsWellFormed(raw string) bool {
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		return false
	}
	return NormalizeAddress(raw) != ""
}

// Checksum re-encodes a normalized (lowercase, unprefixed) 40-hex-character
// address using the EIP-55 mixed-case checksum: each hex digit is
// uppercased when the corresponding nibble of keccak256(lowercase address)
// is >= 8. Returns "" if addr is not a well-formed normalized address.
func Checksum(addr string) string {
	addr = strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X"))
	if len(addr) != 40 {
		return ""
	}
	for _, ch := range addr {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return ""
		}
	}

	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(addr))
	digest := hash.Sum(nil)

	out := make([]byte, 40)
	for i := 0; i < 40; i++ {
		c := addr[i]
		if c >= 'a' && c <= 'f' {
			// nibble i of the digest: high nibble for even i, low for odd i.
			var nibble byte
			if i%2 == 0 {
				nibble = digest[i/2] >> 4
			} else {
				nibble = digest[i/2] & 0x0f
			}
			if nibble >= 8 {
				c -= 'a' - 'A'
			}
		}
		out[i] = c
	}
	return "0x" + string(out)
}

// VerifyChecksum reports whether raw carries a valid EIP-55 checksum. A
// fully lowercase or fully uppercase address is treated as unchecksummed
// and always passes; a mixed-case address must match Checksum exactly.
func VerifyChecksum(raw string) bool {
	normalized := NormalizeAddress(raw)
	if normalized == "" {
		return false
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if trimmed == strings.ToLower(trimmed) || trimmed == strings.ToUpper(trimmed) {
		return true
	}
	return "0x"+trimmed == Checksum(normalized)
}
