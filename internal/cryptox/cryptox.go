// Package cryptox implements the field cipher used for encryptedFields.
//
// Ciphertext strings are tagged with their format, "<format>:<base64>".
// aesgcm-v1 is AES-256-GCM with the 12-byte nonce prepended to the sealed
// bytes. box-v1 is a NaCl anonymous box addressed to a recipient public key
// and is only produced by recipient-mode exports.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/box"
)

const (
	FormatAESGCM = "aesgcm-v1"
	FormatBox    = "box-v1"
	// FormatOpaque marks ciphertext without a recognisable tag.
	FormatOpaque = "opaque"
)

const nonceSize = 12

// PassphrasePrefix marks a key given as a passphrase rather than raw
// key material.
const PassphrasePrefix = "pass:"

// minSaltLen is the shortest salt ResolveKey derives with.
const minSaltLen = 8

var (
	ErrUnsupportedFormat = errors.New("unsupported ciphertext format")
	ErrAuthentication    = errors.New("message authentication failed")
	ErrSaltRequired      = errors.New("passphrase keys need a key salt of at least 8 bytes")
)

// Key is an AES-256 key.
type Key [32]byte

// ParseKey accepts a 32-byte key as 64 hex digits or standard base64.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := decodeKeyBytes(s)
	if err != nil {
		return k, err
	}
	copy(k[:], b)
	return k, nil
}

// ResolveKey accepts raw key material as ParseKey does, or
// "pass:<passphrase>", which is stretched with DeriveKey under salt.
func ResolveKey(s string, salt []byte) (Key, error) {
	pass, ok := strings.CutPrefix(s, PassphrasePrefix)
	if !ok {
		return ParseKey(s)
	}
	if pass == "" {
		return Key{}, errors.New("empty passphrase")
	}
	if len(salt) < minSaltLen {
		return Key{}, ErrSaltRequired
	}
	return DeriveKey([]byte(pass), salt), nil
}

// DeriveKey stretches a passphrase with argon2id.
func DeriveKey(passphrase, salt []byte) Key {
	var k Key
	copy(k[:], argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32))
	return k
}

// Format returns the format tag of a ciphertext string.
func Format(ciphertext string) string {
	i := strings.IndexByte(ciphertext, ':')
	if i <= 0 {
		return FormatOpaque
	}
	tag := ciphertext[:i]
	for _, r := range tag {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
			return FormatOpaque
		}
	}
	return tag
}

// Seal encrypts plaintext under key as aesgcm-v1.
func Seal(key Key, plaintext []byte) (string, error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return FormatAESGCM + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts an aesgcm-v1 ciphertext.
func Open(key Key, ciphertext string) ([]byte, error) {
	data, err := payload(ciphertext, FormatAESGCM)
	if err != nil {
		return nil, err
	}
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return pt, nil
}

// Rekey decrypts with prev and re-encrypts under target.
func Rekey(prev, target Key, ciphertext string) (string, error) {
	pt, err := Open(prev, ciphertext)
	if err != nil {
		return "", err
	}
	return Seal(target, pt)
}

// PublicKey is a Curve25519 recipient key.
type PublicKey [32]byte

// ParsePublicKey accepts a recipient key as 64 hex digits or base64.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	b, err := decodeKeyBytes(s)
	if err != nil {
		return pk, err
	}
	copy(pk[:], b)
	return pk, nil
}

// GenerateRecipientKeys creates a box key pair.
func GenerateRecipientKeys() (pub, priv *[32]byte, err error) {
	return box.GenerateKey(rand.Reader)
}

// SealTo wraps plaintext for a recipient as box-v1.
func SealTo(recipient PublicKey, plaintext []byte) (string, error) {
	pk := [32]byte(recipient)
	sealed, err := box.SealAnonymous(nil, plaintext, &pk, rand.Reader)
	if err != nil {
		return "", err
	}
	return FormatBox + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenFrom opens a box-v1 ciphertext with the recipient key pair.
func OpenFrom(pub, priv *[32]byte, ciphertext string) ([]byte, error) {
	data, err := payload(ciphertext, FormatBox)
	if err != nil {
		return nil, err
	}
	pt, ok := box.OpenAnonymous(nil, data, pub, priv)
	if !ok {
		return nil, ErrAuthentication
	}
	return pt, nil
}

// DecryptionFailure reports a field that could not be decrypted or
// re-encrypted. It never aborts the enclosing operation.
type DecryptionFailure struct {
	StableID string
	Field    string
	Err      error
}

func (e *DecryptionFailure) Error() string {
	return fmt.Sprintf("decrypt %s field %q: %v", e.StableID, e.Field, e.Err)
}

func (e *DecryptionFailure) Unwrap() error {
	return e.Err
}

// IsDecryptionFailure reports whether err is a DecryptionFailure.
func IsDecryptionFailure(err error) bool {
	var df *DecryptionFailure
	return errors.As(err, &df)
}

func newGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func payload(ciphertext, format string) ([]byte, error) {
	if Format(ciphertext) != format {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, Format(ciphertext))
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext[len(format)+1:])
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	return data, nil
}

func decodeKeyBytes(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) == 64 {
		if b, err := hex.DecodeString(s); err == nil {
			return b, nil
		}
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("key must be 32 bytes as hex or base64")
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(b))
	}
	return b, nil
}
