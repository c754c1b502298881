package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/kcache/internal/hash"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how blob-backed blocks are encoded.
type Compression uint8

const (
	// CompressionNone stores blocks verbatim.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression.
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses Zstandard.
	CompressionZSTD Compression = 2
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
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses the names produced by Compression.String.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	}
	return 0, fmt.Errorf("unknown compression %q", s)
}

// Frame layout: [codec u8][crc32c u32][raw length u32][payload].
// The checksum covers the decoded block.
const frameHeaderSize = 9

var errCorruptFrame = errors.New("corrupt block frame")

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// encodeFrame encodes block with c, falling back to CompressionNone when
// compression does not shrink it.
func encodeFrame(block []byte, c Compression) ([]byte, error) {
	var payload []byte
	switch c {
	case CompressionNone:
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(block)))
		n, err := lz4.CompressBlock(block, buf, nil)
		if err != nil {
			return nil, err
		}
		payload = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		payload = enc.EncodeAll(block, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("unsupported compression %v", c)
	}
	if len(payload) == 0 || len(payload) >= len(block) {
		c, payload = CompressionNone, block
	}

	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(payload))
	frame[0] = byte(c)
	binary.LittleEndian.PutUint32(frame[1:], hash.CRC32C(block))
	binary.LittleEndian.PutUint32(frame[5:], uint32(len(block)))
	return append(frame, payload...), nil
}

// decodeFrame decodes frame into dst, which must have the block size.
func decodeFrame(frame, dst []byte) error {
	if len(frame) < frameHeaderSize {
		return errCorruptFrame
	}
	c := Compression(frame[0])
	sum := binary.LittleEndian.Uint32(frame[1:])
	rawLen := binary.LittleEndian.Uint32(frame[5:])
	payload := frame[frameHeaderSize:]
	if int(rawLen) != len(dst) {
		return fmt.Errorf("%w: %d byte block in %d byte slot", errCorruptFrame, rawLen, len(dst))
	}

	switch c {
	case CompressionNone:
		if len(payload) != len(dst) {
			return errCorruptFrame
		}
		copy(dst, payload)
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return fmt.Errorf("%w: %w", errCorruptFrame, err)
		}
		if n != len(dst) {
			return errCorruptFrame
		}
	case CompressionZSTD:
		dec := getZstdDecoder()
		out, err := dec.DecodeAll(payload, dst[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return fmt.Errorf("%w: %w", errCorruptFrame, err)
		}
		if len(out) != len(dst) {
			return errCorruptFrame
		}
	default:
		return fmt.Errorf("%w: codec %d", errCorruptFrame, c)
	}

	if hash.CRC32C(dst) != sum {
		return fmt.Errorf("%w: checksum mismatch", errCorruptFrame)
	}
	return nil
}
