package kvstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// compressionTag records how an inline attachment was compressed before being written to badger.
// IMPORTANT: The numeric values are persisted and must never be reordered.
type compressionTag uint8

const (
	compressionNone compressionTag = iota
	compressionLZ4
	compressionZstd
)

func (t compressionTag) String() string {
	switch t {
	case compressionNone:
		return "none"
	case compressionLZ4:
		return "lz4"
	case compressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Payloads smaller than this are stored as is.
const minCompressibleSize = 128

var errIncompressible = errors.New("data is incompressible")

// zstd encoders and decoders are safe for concurrent use and expensive to create.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("kvstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("kvstore: zstd decoder initialization failed: " + err.Error())
	}
}

// selectCompression picks zstd for textual media types and lz4 for everything else. Tiny payloads
// are never compressed.
func selectCompression(data []byte, contentType string) compressionTag {
	if len(data) < minCompressibleSize {
		return compressionNone
	}
	mediaType, _, _ := strings.Cut(strings.ToLower(contentType), ";")
	mediaType = strings.TrimSpace(mediaType)
	switch {
	case strings.HasPrefix(mediaType, "text/"),
		strings.HasSuffix(mediaType, "json"),
		strings.HasSuffix(mediaType, "xml"),
		mediaType == "application/javascript",
		mediaType == "application/x-yaml",
		mediaType == "application/yaml":
		return compressionZstd
	}
	return compressionLZ4
}

// encodeAttachment compresses data for inline storage. Falls back to compressionNone when the
// compressed form would not be smaller.
func encodeAttachment(data []byte, contentType string) ([]byte, compressionTag, error) {
	tag := selectCompression(data, contentType)
	var (
		out []byte
		err error
	)
	switch tag {
	case compressionNone:
		return data, compressionNone, nil
	case compressionLZ4:
		out, err = compressLZ4(data)
	case compressionZstd:
		out, err = compressZstd(data)
	}
	if errors.Is(err, errIncompressible) {
		return data, compressionNone, nil
	} else if err != nil {
		return nil, compressionNone, err
	}
	return out, tag, nil
}

func decodeAttachment(stored []byte, tag compressionTag, size int64) ([]byte, error) {
	switch tag {
	case compressionNone:
		if int64(len(stored)) != size {
			return nil, fmt.Errorf("attachment size %d does not match expected %d", len(stored), size)
		}
		return stored, nil
	case compressionLZ4:
		return decompressLZ4(stored, int(size))
	case compressionZstd:
		return decompressZstd(stored, int(size))
	default:
		return nil, fmt.Errorf("unsupported attachment compression: %s", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// Zero means lz4 gave up on the input.
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(compressed, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
	}
	return dst, nil
}

func compressZstd(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
	}
	return out, nil
}
