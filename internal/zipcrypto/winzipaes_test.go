package zipcrypto

import (
	"bytes"
	"io"
	"testing"
)

func TestWinZipAESRoundTrip(t *testing.T) {
	for _, bits := range []int{128, 192, 256} {
		password := []byte("correct horse battery staple")
		salt := bytes.Repeat([]byte{0x11}, SaltSize(bits))

		keys, err := Derive(password, salt, bits)
		if err != nil {
			t.Fatalf("bits=%d: Derive: %v", bits, err)
		}

		plain := bytes.Repeat([]byte("winzip aes test data, spanning more than one 16-byte block\n"), 10)

		var cipherBuf bytes.Buffer
		w, err := NewWinZipAESWriter(&cipherBuf, keys)
		if err != nil {
			t.Fatalf("bits=%d: NewWinZipAESWriter: %v", bits, err)
		}
		if _, err := w.Write(plain); err != nil {
			t.Fatalf("bits=%d: Write: %v", bits, err)
		}
		tag := w.Tag()
		if len(tag) != AuthTagSize {
			t.Fatalf("bits=%d: tag length = %d, want %d", bits, len(tag), AuthTagSize)
		}

		r, err := NewWinZipAESReader(bytes.NewReader(cipherBuf.Bytes()), keys)
		if err != nil {
			t.Fatalf("bits=%d: NewWinZipAESReader: %v", bits, err)
		}
		got := make([]byte, len(plain))
		if _, err := io.ReadFull(r, got); err != nil {
			t.Fatalf("bits=%d: read: %v", bits, err)
		}
		if !bytes.Equal(got, plain) {
			t.Errorf("bits=%d: decrypted content mismatch", bits)
		}
		if !r.CheckTag(tag) {
			t.Errorf("bits=%d: CheckTag failed for the writer's own tag", bits)
		}
		if r.CheckTag(append([]byte(nil), tag...)[:AuthTagSize-1]) {
			t.Errorf("bits=%d: CheckTag accepted a truncated tag", bits)
		}
	}
}

func TestWinZipAESVerifierMismatch(t *testing.T) {
	keys, err := Derive([]byte("pw1"), bytes.Repeat([]byte{1}, SaltSize(256)), 256)
	if err != nil {
		t.Fatal(err)
	}
	otherKeys, err := Derive([]byte("pw2"), bytes.Repeat([]byte{1}, SaltSize(256)), 256)
	if err != nil {
		t.Fatal(err)
	}
	if CheckVerifier(otherKeys.Verifier, keys) {
		t.Error("CheckVerifier accepted a verifier derived from a different password")
	}
	if !CheckVerifier(keys.Verifier, keys) {
		t.Error("CheckVerifier rejected the verifier's own keys")
	}
}
