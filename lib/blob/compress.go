// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression algorithm of a frame.
// These values are stored on disk; changing them breaks existing data.
type CompressionTag uint8

const (
	// CompressionNone stores the payload as-is.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is LZ4 block compression: fast, modest ratio.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default level. Best for the JSON
	// transcripts that make up most stored history.
	CompressionZstd CompressionTag = 2
)

// maxDecodedSize bounds the length field accepted by Decode.
const maxDecodedSize = 256 << 20

// String returns the configuration name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses a configuration name. The empty string
// selects zstd.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd", "":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("blob: unknown compression %q", name)
	}
}

// ErrCorrupt is returned by Decode for frames that cannot be parsed.
var ErrCorrupt = errors.New("blob: corrupt frame")

// errIncompressible is returned by the compressors when the output is
// not smaller than the input.
var errIncompressible = errors.New("blob: data is incompressible")

// Encode compresses data with tag and frames the result.
func Encode(data []byte, tag CompressionTag) ([]byte, error) {
	var payload []byte
	var err error
	switch tag {
	case CompressionNone:
		payload = data
	case CompressionLZ4:
		payload, err = compressLZ4(data)
	case CompressionZstd:
		payload, err = compressZstd(data)
	default:
		return nil, fmt.Errorf("blob: unsupported compression %s", tag)
	}
	if errors.Is(err, errIncompressible) {
		tag, payload, err = CompressionNone, data, nil
	}
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 1, 1+binary.MaxVarintLen64+len(payload))
	frame[0] = byte(tag)
	frame = binary.AppendUvarint(frame, uint64(len(data)))
	return append(frame, payload...), nil
}

// Decode parses a frame produced by Encode and returns the original data.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, ErrCorrupt
	}
	tag := CompressionTag(frame[0])
	size, read := binary.Uvarint(frame[1:])
	if read <= 0 || size > maxDecodedSize {
		return nil, ErrCorrupt
	}
	payload := frame[1+read:]

	switch tag {
	case CompressionNone:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrCorrupt, len(payload), size)
		}
		return payload, nil
	case CompressionLZ4:
		return decompressLZ4(payload, int(size))
	case CompressionZstd:
		return decompressZstd(payload, int(size))
	default:
		return nil, fmt.Errorf("%w: unknown compression %s", ErrCorrupt, tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("blob: lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
	}
	if read != size {
		return nil, fmt.Errorf("%w: lz4 produced %d bytes, expected %d", ErrCorrupt, read, size)
	}
	return destination, nil
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use with
// EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blob: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blob: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("%w: zstd produced %d bytes, expected %d", ErrCorrupt, len(result), size)
	}
	return result, nil
}
