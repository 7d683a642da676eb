// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package dlms

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// decryptGCM decrypts ciphertext of exactly messageLength bytes using
// AES-128 in GCM mode, keyed by key and initialized with a 12-byte IV
// built from the system title and frame counter. Only the GCM
// keystream is applied; the authentication tag is never checked,
// matching the source firmware, which ignores the result of its own
// tag check.
func decryptGCM(key, systemTitle, frameCounter, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("dlms: invalid AES key: %w", err)
	}

	iv := make([]byte, 0, 12)
	iv = append(iv, systemTitle...)
	iv = append(iv, frameCounter...)

	gcmCipher, err := newGCMKeystreamCipher(block, iv)
	if err != nil {
		return nil, fmt.Errorf("dlms: failed to init GCM: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	gcmCipher.XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

// newGCMKeystreamCipher builds a CTR-mode stream cipher seeded exactly
// as GCM derives its keystream: counter block = IV || 0x00000002, big
// endian, incrementing. GCM's confidentiality transform is CTR mode
// with this specific initial counter value; crypto/cipher's GCM AEAD
// always verifies the tag, so decrypting without that check means
// driving the same counter construction directly through CTR mode.
func newGCMKeystreamCipher(block cipher.Block, iv []byte) (cipher.Stream, error) {
	if len(iv) != 12 {
		return nil, fmt.Errorf("dlms: IV must be 12 bytes, got %d", len(iv))
	}
	counter := make([]byte, 16)
	copy(counter, iv)
	counter[15] = 0x02 // GCM counter starts at 2; block 1 is reserved for the tag
	return cipher.NewCTR(block, counter), nil
}
