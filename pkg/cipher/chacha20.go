// Package cipher implements the SPSP stream-cipher convention: a ChaCha20
// keystream keyed by the 32-byte SSID password, initialized with the
// 8-byte per-packet nonce, XORed in place over a buffer region. Encryption
// and decryption are the same operation; no MAC is used; integrity relies
// entirely on the packet checksum.
package cipher

import (
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// KeySize is the required password/key length.
const KeySize = chacha20.KeySize

// NonceSize is the wire nonce length (8 bytes), smaller than the cipher's
// own 12-byte requirement.
const NonceSize = 8

// extendNonce applies the fixed, documented convention for meeting
// chacha20.NewUnauthenticatedCipher's 12-byte nonce requirement from an
// 8-byte wire nonce: four zero bytes are prepended. This convention MUST
// match between encrypt and decrypt, and therefore between every client
// and bridge in a deployment.
func extendNonce(nonce [NonceSize]byte) []byte {
	var ext [chacha20.NonceSize]byte
	copy(ext[4:], nonce[:])
	return ext[:]
}

// XOR applies the ChaCha20 keystream for (key, nonce) in place over buf.
// Calling it twice with the same key/nonce over the same ciphertext
// recovers the plaintext, since XOR is its own inverse.
func XOR(key [KeySize]byte, nonce [NonceSize]byte, buf []byte) error {
	c, err := chacha20.NewUnauthenticatedCipher(key[:], extendNonce(nonce))
	if err != nil {
		return fmt.Errorf("spsp cipher: %w", err)
	}
	c.XORKeyStream(buf, buf)
	return nil
}
