package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	saltSize = 16
	ivSize   = 12
	keySize  = 32

	keyInfoPrefix = "healthvault/v1/"
)

// deriveKey expands the master key into a per-record data key. The salt is
// fresh per write, so no two envelopes share a data key.
func deriveKey(master, salt []byte, dataType string) ([]byte, error) {
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, master, salt, []byte(keyInfoPrefix+dataType))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive data key: %w", err)
	}
	return key, nil
}

// additionalData binds a ciphertext to its storage address.
func additionalData(userID, dataType, recordID string) []byte {
	return []byte(userID + "|" + dataType + "|" + recordID)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// seal encrypts plaintext into env, drawing salt and IV from random.
func seal(random io.Reader, master []byte, env *Envelope, plaintext []byte) error {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(random, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(random, iv); err != nil {
		return fmt.Errorf("generate iv: %w", err)
	}

	key, err := deriveKey(master, salt, env.DataType)
	if err != nil {
		return err
	}
	aead, err := newGCM(key)
	if err != nil {
		return err
	}

	env.Salt = salt
	env.IV = iv
	env.Ciphertext = aead.Seal(nil, iv, plaintext, additionalData(env.UserID, env.DataType, env.RecordID))
	env.Algorithm = Algorithm
	return nil
}

// open authenticates and decrypts env. Any failure is reported as
// errIntegrity without detail about the key or bytes involved.
func open(master []byte, env Envelope) ([]byte, error) {
	if env.Algorithm != Algorithm || len(env.IV) != ivSize || len(env.Salt) != saltSize {
		return nil, errIntegrity
	}
	key, err := deriveKey(master, env.Salt, env.DataType)
	if err != nil {
		return nil, errIntegrity
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, errIntegrity
	}
	plaintext, err := aead.Open(nil, env.IV, env.Ciphertext, additionalData(env.UserID, env.DataType, env.RecordID))
	if err != nil {
		return nil, errIntegrity
	}
	return plaintext, nil
}
