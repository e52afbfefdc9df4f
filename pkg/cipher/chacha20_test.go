package cipher

import (
	"bytes"
	"testing"
)

func TestXORRoundTrip(t *testing.T) {
	var key [KeySize]byte
	for i := range key {
		key[i] = 0x48
	}
	var nonce [NonceSize]byte
	copy(nonce[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	plain := []byte("hello, spsp world")
	buf := append([]byte(nil), plain...)

	if err := XOR(key, nonce, buf); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(buf, plain) {
		t.Fatal("expected ciphertext to differ from plaintext")
	}
	if err := XOR(key, nonce, buf); err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(buf, plain) {
		t.Fatalf("round trip failed: got %q, want %q", buf, plain)
	}
}

func TestXORDifferentNoncesDiffer(t *testing.T) {
	var key [KeySize]byte
	var n1, n2 [NonceSize]byte
	n2[0] = 1

	b1 := []byte("same plaintext!!")
	b2 := append([]byte(nil), b1...)

	XOR(key, n1, b1)
	XOR(key, n2, b2)

	if bytes.Equal(b1, b2) {
		t.Fatal("expected different nonces to produce different ciphertexts")
	}
}
