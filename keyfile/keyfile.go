// Package keyfile generates, validates and fingerprints the shared secret
// replica set members use to authenticate each other.
package keyfile

import (
	"bytes"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"
)

const (
	// DefaultSize is the number of random bytes in a generated keyfile.
	// Its base64 encoding is 1008 characters, under the 1024 limit.
	DefaultSize = 756

	minLength = 6
	maxLength = 1024
)

// Generate returns a base64 keyfile built from size random bytes.
func Generate(size int) ([]byte, error) {
	raw := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, err
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(size), base64.StdEncoding.EncodedLen(size)+1)
	base64.StdEncoding.Encode(out, raw)
	if err := Validate(out); err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Validate checks content the way mongod does: whitespace is ignored, the
// remainder must be 6 to 1024 base64 characters.
func Validate(content []byte) error {
	key := normalize(content)
	if len(key) < minLength || len(key) > maxLength {
		return errors.Errorf("keyfile must hold between %d and %d characters, got %d", minLength, maxLength, len(key))
	}
	for _, c := range key {
		if !isBase64(c) {
			return errors.Errorf("keyfile contains invalid character %q", c)
		}
	}
	return nil
}

// Fingerprint returns the hex SHA-512/256 digest of the normalized key. It
// identifies a keyfile in logs without revealing it.
func Fingerprint(content []byte) string {
	sum := sha512.Sum512_256(normalize(content))
	return hex.EncodeToString(sum[:])
}

// FingerprintFile fingerprints the keyfile at path.
func FingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		return "", err
	}
	return Fingerprint(buf.Bytes()), nil
}

// WriteNew generates a keyfile at path. An existing file is kept unless
// force is set. It reports whether a new key was written.
func WriteNew(path string, force bool) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	} else if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	key, err := Generate(DefaultSize)
	if err != nil {
		return false, err
	}
	// the existing key is read-only
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0400)
	if err != nil {
		return false, err
	}
	if _, err := f.Write(key); err != nil {
		f.Close()
		return false, err
	}
	return true, f.Close()
}

func normalize(content []byte) []byte {
	return bytes.Join(bytes.Fields(content), nil)
}

func isBase64(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '+' || c == '/' || c == '='
}
