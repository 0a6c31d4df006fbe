// Package crypto implements the authenticated-encryption envelope bearer
// tokens are sealed under: a ChaCha20-Poly1305 AEAD whose key and nonce are
// both derived from the caller-supplied context rather than stored
// alongside the ciphertext, so that tampering with any part of a token's
// metadata (grant type, client id, account id, password hash, expiry)
// makes the AEAD tag fail to verify.
package crypto

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// NonceLen is the ChaCha20-Poly1305 nonce size.
	NonceLen = chacha20poly1305.NonceSize
	// EncryptTagLen is the AEAD authentication tag size.
	EncryptTagLen = 16
	// RandomCodeLen is the size of the random payload sealed into every
	// bearer token's ciphertext.
	RandomCodeLen = 16
)

// SymmetricEncrypt seals and opens RandomCodeLen-sized payloads under a
// key derived from an oauth_key secret and a caller-supplied context
// string.
type SymmetricEncrypt struct {
	aead cipher.AEAD
}

// New derives a per-context subkey from key (blake3-keyed hash of context,
// under a fixed-size master key itself derived from key by unkeyed blake3)
// and builds the ChaCha20-Poly1305 AEAD over it. Binding context into the
// key means a token minted for one (grant_type, client_id, account_id,
// password_hash) tuple cannot be decrypted under any other.
func New(key []byte, context string) (*SymmetricEncrypt, error) {
	masterHash := blake3.New()
	masterHash.Write(key)
	var master [32]byte
	copy(master[:], masterHash.Sum(nil))

	keyed, err := blake3.NewKeyed(master[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: derive subkey: %w", err)
	}
	keyed.Write([]byte(context))
	subkey := keyed.Sum(make([]byte, 0, chacha20poly1305.KeySize))

	aead, err := chacha20poly1305.New(subkey)
	if err != nil {
		return nil, fmt.Errorf("crypto: build aead: %w", err)
	}
	return &SymmetricEncrypt{aead: aead}, nil
}

// Encrypt seals plaintext under nonce, returning ciphertext||tag.
func (s *SymmetricEncrypt) Encrypt(plaintext, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceLen {
		return nil, fmt.Errorf("crypto: nonce must be %d bytes, got %d", NonceLen, len(nonce))
	}
	return s.aead.Seal(nil, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext||tag under nonce, failing if the tag does not
// verify.
func (s *SymmetricEncrypt) Decrypt(ciphertextAndTag, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceLen {
		return nil, fmt.Errorf("crypto: nonce must be %d bytes, got %d", NonceLen, len(nonce))
	}
	return s.aead.Open(nil, nonce, ciphertextAndTag, nil)
}

// DeriveNonce computes the token nonce as the first NonceLen bytes of
// blake3(contextNonce || expiry_be8): nonces are derived, never stored,
// and binding expiry into
// them means tampering with the trailing plaintext metadata fails
// decryption even though the nonce itself carries no tag.
func DeriveNonce(contextNonce string, expiry uint64) []byte {
	h := blake3.New()
	h.Write([]byte(contextNonce))
	var expiryBE [8]byte
	binary.BigEndian.PutUint64(expiryBE[:], expiry)
	h.Write(expiryBE[:])

	digest := h.Sum(nil)
	return digest[:NonceLen]
}
