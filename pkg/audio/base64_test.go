package audio_test

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/MrWong99/huddle/pkg/audio"
)

// pattern returns n deterministic pseudo-random bytes.
func pattern(n int) []byte {
	b := make([]byte, n)
	var x uint32 = 2463534242
	for i := range b {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		b[i] = byte(x)
	}
	return b
}

func TestBase64_RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 32767, 32768, 32769, 65536, 100003} {
		in := pattern(n)
		enc := audio.EncodeBase64(in)
		if want := base64.StdEncoding.EncodeToString(in); enc != want {
			t.Errorf("len %d: encoding differs from standard base64", n)
		}
		got, err := audio.DecodeBase64(enc)
		if err != nil {
			t.Fatalf("len %d: decode: %v", n, err)
		}
		if !bytes.Equal(got, in) {
			t.Errorf("len %d: round trip mismatch", n)
		}
	}
}

func TestBase64_KnownValue(t *testing.T) {
	if got := audio.EncodeBase64([]byte("huddle")); got != "aHVkZGxl" {
		t.Errorf("EncodeBase64 = %q, want %q", got, "aHVkZGxl")
	}
}

func TestDecodeBase64_Invalid(t *testing.T) {
	if _, err := audio.DecodeBase64("not*base64"); err == nil {
		t.Error("expected error for invalid input")
	}
}
