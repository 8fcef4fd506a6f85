package cipher

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/semmidev/dbguardian/internal/domain"
)

const (
	KeySize = 32

	// The salt is fixed so the same password always yields the same key and
	// old backups stay decryptable.
	derivationSalt       = "dbguardian_backup_salt"
	derivationIterations = 100000
)

// ResolveKey returns the 32-byte backup key. A direct key wins over a
// password; with neither configured it fails with ErrEncryptionKeyMissing.
func ResolveKey(directKey, password string) ([]byte, error) {
	if directKey = strings.TrimSpace(directKey); directKey != "" {
		return decodeKey(directKey)
	}
	if password != "" {
		return DeriveKey(password), nil
	}
	return nil, domain.ErrEncryptionKeyMissing
}

// DeriveKey stretches password with PBKDF2-HMAC-SHA256.
func DeriveKey(password string) []byte {
	return pbkdf2.Key([]byte(password), []byte(derivationSalt), derivationIterations, KeySize, sha256.New)
}

// decodeKey accepts URL-safe or standard base64, padded or not.
func decodeKey(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.URLEncoding,
		base64.StdEncoding,
		base64.RawURLEncoding,
		base64.RawStdEncoding,
	}

	for _, enc := range encodings {
		key, err := enc.DecodeString(s)
		if err != nil {
			continue
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("encryption key must decode to %d bytes, got %d", KeySize, len(key))
		}
		return key, nil
	}
	return nil, fmt.Errorf("encryption key is not valid base64")
}
