package audio

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// codecSliceSize bounds how many bytes are pushed through the base64 codec
// per call.
const codecSliceSize = 0x8000

// EncodeBase64 returns the standard padded base64 encoding of b. The input is
// fed to a streaming encoder in slices of at most 32 KiB.
func EncodeBase64(b []byte) string {
	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(b)))
	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	for off := 0; off < len(b); off += codecSliceSize {
		end := min(off+codecSliceSize, len(b))
		// strings.Builder never fails a write.
		_, _ = enc.Write(b[off:end])
	}
	_ = enc.Close()
	return sb.String()
}

// DecodeBase64 reverses [EncodeBase64].
func DecodeBase64(s string) ([]byte, error) {
	dec := base64.NewDecoder(base64.StdEncoding, strings.NewReader(s))
	var out bytes.Buffer
	out.Grow(base64.StdEncoding.DecodedLen(len(s)))
	buf := make([]byte, codecSliceSize)
	for {
		n, err := dec.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("audio: decode base64: %w", err)
		}
	}
	return out.Bytes(), nil
}
