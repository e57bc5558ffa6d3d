package cap

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"

	"github.com/splax-s/splax-os-sub001/internal/coretypes"
)

// Token is a 256-bit capability token: four 64-bit limbs. Outside this
// package it is opaque. The all-zero token is the null token and is
// always invalid.
//
// Generation is a keyed-SHA-256 construction:
// value = SHA256(token_id || resource_id || operations || secret).
type Token [4]uint64

// Null is the invalid, all-zero token.
var Null Token

// IsNull reports whether t is the all-zero token.
func (t Token) IsNull() bool { return t == Token{} }

// Bytes returns the token's 32-byte little-endian wire representation.
func (t Token) Bytes() [32]byte {
	var out [32]byte
	for i, limb := range t {
		binary.LittleEndian.PutUint64(out[i*8:(i+1)*8], limb)
	}
	return out
}

// Equal performs a constant-time comparison of two tokens, to avoid
// leaking timing information about how many leading limbs matched.
func (t Token) Equal(other Token) bool {
	a, b := t.Bytes(), other.Bytes()
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// generateToken derives a token value from its issuance parameters. The
// counter (tokenID) must be monotone across the table; the secret must be
// established before any token is created and never leak.
func generateToken(tokenID uint64, resource coretypes.ResourceID, ops OpSet, secret []byte) Token {
	h := sha256.New()

	var u64buf [8]byte
	binary.LittleEndian.PutUint64(u64buf[:], tokenID)
	h.Write(u64buf[:])

	binary.LittleEndian.PutUint64(u64buf[:], resource.ID)
	h.Write(u64buf[:])
	h.Write([]byte(resource.Type))

	var u32buf [4]byte
	binary.LittleEndian.PutUint32(u32buf[:], uint32(ops))
	h.Write(u32buf[:])

	h.Write(secret)

	sum := h.Sum(nil)
	var tok Token
	for i := 0; i < 4; i++ {
		tok[i] = binary.LittleEndian.Uint64(sum[i*8 : (i+1)*8])
	}
	return tok
}
