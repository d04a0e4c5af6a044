package image

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CompressionType selects how region bytes are stored in an image file
type CompressionType int

const (
	// NoCompression stores region bytes as is
	NoCompression CompressionType = iota
	// ZstdCompression stores each region as one zstd frame
	ZstdCompression
)

// DefaultCompression is used by SaveFile
var DefaultCompression = ZstdCompression

// MaxRegionSize bounds the size of a region read from an image file.
const MaxRegionSize = 1 << 30

// decodeHint caps the buffer preallocated before a region is decompressed
const decodeHint = 1 << 20

var (
	// encoder and decoder for zstd are reusable and thread-safe
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxRegionSize))
)

// String returns the name stored in image headers
func (c CompressionType) String() string {
	switch c {
	case NoCompression:
		return "none"
	case ZstdCompression:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", int(c))
	}
}

// ParseCompression is the inverse of CompressionType.String
func ParseCompression(s string) (CompressionType, error) {
	switch s {
	case "", "none":
		return NoCompression, nil
	case "zstd":
		return ZstdCompression, nil
	default:
		return NoCompression, fmt.Errorf("unknown compression %q", s)
	}
}

// compress packs region bytes using the given compression
func compress(data []byte, c CompressionType) []byte {
	if c == NoCompression {
		return data
	}
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

// decompress unpacks region bytes, expecting exactly size bytes out
func decompress(data []byte, c CompressionType, size int) ([]byte, error) {
	if size <= 0 || size > MaxRegionSize {
		return nil, fmt.Errorf("region size %d out of range", size)
	}
	if c == NoCompression {
		if len(data) != size {
			return nil, fmt.Errorf("stored %d bytes, header says %d", len(data), size)
		}
		return data, nil
	}
	out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, min(size, decodeHint)))
	if err != nil {
		return nil, err
	}
	if len(out) != size {
		return nil, fmt.Errorf("decompressed %d bytes, header says %d", len(out), size)
	}
	return out, nil
}
