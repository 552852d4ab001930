package serialisation

import (
	"bytes"
	"encoding/binary"

	"github.com/always-cache/dejavu/operation"
	"github.com/cespare/xxhash/v2"
)

// FormatTag identifies payloads framed with a format header.
const FormatTag = "FORMAT"

const formatVersion = 1

var formatMagic = []byte("DJVU")

// magic, version, length, checksum
const formatHeaderSize = 4 + 1 + 8 + 8

// FormatDecorator frames payloads with a magic number, a version, the
// payload length and an xxhash checksum, so that truncated or corrupted
// entries are detected before any other decorator reads them.
// It applies to every payload.
type FormatDecorator struct{}

func (FormatDecorator) Tag() string { return FormatTag }

func (FormatDecorator) Applies(operation.Cache) bool { return true }

func (FormatDecorator) Mandatory() bool { return true }

func (FormatDecorator) Encode(b []byte) ([]byte, error) {
	out := make([]byte, formatHeaderSize, formatHeaderSize+len(b))
	copy(out, formatMagic)
	out[4] = formatVersion
	binary.BigEndian.PutUint64(out[5:13], uint64(len(b)))
	binary.BigEndian.PutUint64(out[13:21], xxhash.Sum64(b))
	return append(out, b...), nil
}

func (FormatDecorator) Decode(b []byte) ([]byte, error) {
	if len(b) < formatHeaderSize {
		return nil, newError(KindDecode, FormatTag, "payload truncated: %d bytes", len(b))
	}
	if !bytes.Equal(b[:4], formatMagic) {
		return nil, newError(KindDecode, FormatTag, "bad magic %q", b[:4])
	}
	if b[4] != formatVersion {
		return nil, newError(KindDecode, FormatTag, "unsupported version %d", b[4])
	}
	body := b[formatHeaderSize:]
	if length := binary.BigEndian.Uint64(b[5:13]); length != uint64(len(body)) {
		return nil, newError(KindDecode, FormatTag, "payload truncated: expected %d bytes, got %d", length, len(body))
	}
	if sum := binary.BigEndian.Uint64(b[13:21]); sum != xxhash.Sum64(body) {
		return nil, newError(KindDecode, FormatTag, "checksum mismatch")
	}
	return body, nil
}
