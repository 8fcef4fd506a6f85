package domain

import "errors"

type Compressor interface {
	Compress(sourcePath, destPath string) error
	Decompress(sourcePath, destPath string) error
}

type Cipher interface {
	Encrypt(plaintext, key []byte) ([]byte, error)
	Decrypt(ciphertext, key []byte) ([]byte, error)
	EncryptFile(sourcePath, destPath string, key []byte) error
	DecryptFile(sourcePath, destPath string, key []byte) error
}

// ErrEncryptionKeyMissing is returned when encryption is enabled without a key
// or password configured.
var ErrEncryptionKeyMissing = errors.New("encryption enabled but no key or password configured")
