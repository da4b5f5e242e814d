// Package seal provides the authenticated encryption used to protect
// schema and fragment metadata files under a caller-supplied key. It
// wraps golang.org/x/crypto/nacl/secretbox rather than hand-rolling
// AES-GCM.
package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/latticedb/lattice/errors"
)

// Key is a 32-byte symmetric key. NoKey is the zero value, used when a
// caller opts out of encryption.
type Key [32]byte

// NoKey reports whether k is the all-zero key, i.e. encryption disabled.
func (k Key) NoKey() bool {
	return k == Key{}
}

// DeriveKey folds an arbitrary-length passphrase into a fixed-size Key via
// SHA-256, matching how most of these systems accept a caller-provided
// string and turn it into cipher-ready key material.
func DeriveKey(passphrase []byte) Key {
	return Key(sha256.Sum256(passphrase))
}

// Seal encrypts plaintext under key, returning nonce||ciphertext. If key is
// NoKey, Seal returns plaintext unchanged (encryption is opt-in).
func Seal(key Key, plaintext []byte) ([]byte, error) {
	if key.NoKey() {
		return plaintext, nil
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrap(err, "seal: generating nonce")
	}
	out := secretbox.Seal(nonce[:], plaintext, &nonce, (*[32]byte)(&key))
	return out, nil
}

// Open decrypts a buffer produced by Seal. A key mismatch (including
// calling Open with a key when the data was written with NoKey) is
// reported as errors.CodeEncryptionMismatch. Open with NoKey returns
// sealed unchanged, so data sealed under a key is not reported as a
// mismatch in that case.
func Open(key Key, sealed []byte) ([]byte, error) {
	if key.NoKey() {
		return sealed, nil
	}
	if len(sealed) < 24 {
		return nil, errors.New(errors.CodeEncryptionMismatch, "seal: ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	out, ok := secretbox.Open(nil, sealed[24:], &nonce, (*[32]byte)(&key))
	if !ok {
		return nil, errors.New(errors.CodeEncryptionMismatch, "seal: decryption failed, wrong key")
	}
	return out, nil
}
