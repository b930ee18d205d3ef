// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100_000
	keyLength        = 32
	// keySalt is fixed: both the agent and the dashboard tooling derive the
	// same key for a given date.
	keySalt = "sentinel-config-v1"
)

// envelope wraps the plaintext bundle with its content checksum so a
// corrupted or truncated cache is detected before use.
type envelope struct {
	Checksum string `json:"checksum"`
	Configs  Bundle `json:"configs"`
}

// deriveKey builds the date-rotated symmetric key: PBKDF2-HMAC-SHA256 over
// "YYYY_MM_DD" + password.
func deriveKey(date time.Time, password string) []byte {
	passphrase := date.UTC().Format("2006_01_02") + password
	return pbkdf2.Key([]byte(passphrase), []byte(keySalt), pbkdf2Iterations, keyLength, sha256.New)
}

// encryptBundle seals a bundle under the key for `date`. The output layout
// is nonce || ciphertext.
func encryptBundle(bundle Bundle, date time.Time, password string) ([]byte, error) {
	plain, err := json.Marshal(envelope{
		Checksum: bundleChecksum(bundle),
		Configs:  bundle,
	})
	if err != nil {
		return nil, fmt.Errorf("serializing config envelope: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(date, password))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

// decryptBundle opens a cache blob, trying today's key first and falling
// back to the previous day's to cover the midnight rotation.
func decryptBundle(blob []byte, now time.Time, password string) (Bundle, error) {
	var lastErr error
	for _, date := range []time.Time{now, now.AddDate(0, 0, -1)} {
		bundle, err := decryptWithKey(blob, deriveKey(date, password))
		if err == nil {
			return bundle, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("decrypting config cache: %w", lastErr)
}

func decryptWithKey(blob, key []byte) (Bundle, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("cache blob too short")
	}
	plain, err := gcm.Open(nil, blob[:gcm.NonceSize()], blob[gcm.NonceSize():], nil)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, fmt.Errorf("parsing config envelope: %w", err)
	}
	if env.Checksum != bundleChecksum(env.Configs) {
		return nil, fmt.Errorf("config cache checksum mismatch")
	}
	return env.Configs, nil
}

// bundleChecksum hashes the bundle content with deterministic key order.
func bundleChecksum(bundle Bundle) string {
	h := sha256.New()
	for _, key := range bundle.sortedKeys() {
		h.Write([]byte(key))
		h.Write(bundle[key])
	}
	return hex.EncodeToString(h.Sum(nil))
}
