package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/pagecache/internal/conv"
)

// Compression selects how resident pages are encoded.
//
// Compressed pages trade CPU on every read for a smaller weight, so more
// pages fit into the same capacity. Capacity is always accounted in encoded
// bytes.
type Compression uint8

const (
	// CompressionNone stores pages as-is.
	CompressionNone Compression = iota
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4
	// CompressionZSTD uses Zstandard (better ratio).
	CompressionZSTD
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// UnmarshalText parses "none", "lz4" or "zstd".
func (c *Compression) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "none":
		*c = CompressionNone
	case "lz4":
		*c = CompressionLZ4
	case "zstd":
		*c = CompressionZSTD
	default:
		return fmt.Errorf("%w: unknown compression %q", ErrInvalidConfig, text)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (c Compression) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Encoded page layout for LZ4 and ZSTD:
//
//	[uncompressed size: u32][compressed size: u32, 0 = stored raw][payload]
const pageHeaderSize = 8

// Pages that do not shrink below this ratio are stored raw.
const minCompressionRatio = 0.9

// ErrCorruptPage is reported when a resident page fails to decode. The page
// is dropped from the cache.
var ErrCorruptPage = errors.New("corrupt cached page")

var (
	zstdEncoderPool = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			return enc
		},
	}
	zstdDecoderPool = sync.Pool{
		New: func() any {
			dec, _ := zstd.NewReader(nil)
			return dec
		},
	}
)

// encode returns the resident form of a page.
func (c Compression) encode(data []byte) []byte {
	if c == CompressionNone {
		return data
	}

	var payload []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err == nil && n > 0 {
			payload = buf[:n]
		}
	case CompressionZSTD:
		enc := zstdEncoderPool.Get().(*zstd.Encoder)
		payload = enc.EncodeAll(data, make([]byte, 0, len(data)))
		zstdEncoderPool.Put(enc)
	}

	out := make([]byte, pageHeaderSize, pageHeaderSize+len(data))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(data)))
	if payload == nil || float64(len(payload)) > float64(len(data))*minCompressionRatio {
		return append(out, data...)
	}
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(payload)))
	return append(out, payload...)
}

// decode reverses encode.
func (c Compression) decode(encoded []byte) ([]byte, error) {
	if c == CompressionNone {
		return encoded, nil
	}
	if len(encoded) < pageHeaderSize {
		return nil, ErrCorruptPage
	}

	size, err := conv.Uint32ToInt(binary.LittleEndian.Uint32(encoded[0:4]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptPage, err)
	}
	compressed, err := conv.Uint32ToInt(binary.LittleEndian.Uint32(encoded[4:8]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptPage, err)
	}
	body := encoded[pageHeaderSize:]

	if compressed == 0 {
		if len(body) != size {
			return nil, ErrCorruptPage
		}
		return body, nil
	}
	if len(body) != compressed {
		return nil, ErrCorruptPage
	}

	switch c {
	case CompressionLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptPage, err)
		}
		if n != size {
			return nil, ErrCorruptPage
		}
		return out, nil
	case CompressionZSTD:
		dec := zstdDecoderPool.Get().(*zstd.Decoder)
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptPage, err)
		}
		if len(out) != size {
			return nil, ErrCorruptPage
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrCorruptPage, c)
	}
}
