// Package cipher seals and opens batch envelopes with AES-256-GCM: a
// 256-bit pre-shared key, a 96-bit random nonce per envelope, and a
// 128-bit tag.  The envelope on the wire is nonce || ciphertext || tag;
// associated data is always empty.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

// KeySize is the required length of the pre-shared key, in bytes.
const KeySize = 32

// NonceSize is the length of the random nonce prefixed to every envelope.
const NonceSize = 12

// TagSize is the length of the GCM authentication tag appended to every
// envelope's ciphertext.
const TagSize = 16

// Overhead is the fixed per-envelope cost over the plaintext length.
const Overhead = NonceSize + TagSize

var (
	// ErrEnvelopeTruncated is returned when an envelope is shorter than
	// the minimum nonce+tag overhead, so it cannot possibly be valid.
	ErrEnvelopeTruncated = errors.New("cipher: envelope truncated")
	// ErrAuthFailed is returned when the GCM tag does not verify, whether
	// because the key is wrong or the envelope was tampered with.  The
	// two cases are deliberately indistinguishable to the caller.
	ErrAuthFailed = errors.New("cipher: authentication failed")
)

// Seal encrypts plaintext under key and returns the self-delimiting
// envelope nonce || ciphertext || tag.  key must be exactly KeySize bytes;
// internal/config validates that once at load time, so callers on the
// hot path don't need to re-check it per message.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	envelope := aead.Seal(nonce, nonce, plaintext, nil)
	return envelope, nil
}

// Open verifies and decrypts an envelope produced by Seal.  It returns
// ErrEnvelopeTruncated if the envelope is too short to contain a nonce and
// tag, and ErrAuthFailed if the tag doesn't verify under key - including
// when key is simply the wrong key.  Neither error reveals which check
// failed or where in the ciphertext verification diverged; Seal/Open never
// branch on ciphertext content before the tag check completes, so there is
// no timing signal to leak.
func Open(key, envelope []byte) ([]byte, error) {
	if len(envelope) < Overhead {
		return nil, ErrEnvelopeTruncated
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := envelope[:NonceSize]
	sealed := envelope[NonceSize:]

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, errors.New("cipher: key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
