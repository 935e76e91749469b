package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/born-ml/centernet/internal/tensor"
)

// Read decodes a v2 .born stream, validating magic, version, checksum and
// tensor bounds. The data section is buffered as it arrives, so a corrupt
// size field cannot force a large allocation.
func Read(r io.Reader) (Header, map[string]*tensor.Tensor, error) {
	return read(r, -1)
}

// read decodes a stream of size bytes; a negative size means unknown.
func read(r io.Reader, size int64) (Header, map[string]*tensor.Tensor, error) {
	var header Header

	fixed := make([]byte, FixedHeaderSizeV2)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return header, nil, fmt.Errorf("failed to read fixed header: %w", err)
	}
	if string(fixed[0:4]) != MagicBytes {
		return header, nil, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint32(fixed[4:8]); v != FormatVersionV2 {
		return header, nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, v, FormatVersionV2)
	}

	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	dataSize := binary.LittleEndian.Uint64(fixed[24:32])
	if headerSize > MaxHeaderSize {
		return header, nil, ErrHeaderTooLarge
	}
	var stored [32]byte
	copy(stored[:], fixed[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize])

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return header, nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return header, nil, fmt.Errorf("failed to parse header: %w", err)
	}

	currentPos := int64(FixedHeaderSizeV2) + int64(headerSize)
	padding := (HeaderAlignment - (currentPos % HeaderAlignment)) % HeaderAlignment
	if _, err := io.CopyN(io.Discard, r, padding); err != nil {
		return header, nil, fmt.Errorf("failed to skip padding: %w", err)
	}

	if dataSize > math.MaxInt64 ||
		(size >= 0 && int64(dataSize) > size-currentPos-padding) {
		return header, nil, fmt.Errorf("%w: %d bytes declared", ErrDataTooLarge, dataSize)
	}
	var buf bytes.Buffer
	if size >= 0 {
		buf.Grow(int(dataSize))
	}
	if _, err := io.CopyN(&buf, r, int64(dataSize)); err != nil {
		return header, nil, fmt.Errorf("failed to read tensor data: %w", err)
	}
	data := buf.Bytes()
	if ComputeChecksum(data) != stored {
		return header, nil, ErrChecksumMismatch
	}

	stateDict := make(map[string]*tensor.Tensor, len(header.Tensors))
	for _, meta := range header.Tensors {
		if meta.DType != DTypeFloat32 {
			return header, nil, fmt.Errorf("%w: tensor %s has dtype %s", ErrUnsupportedDType, meta.Name, meta.DType)
		}
		if meta.Offset < 0 || meta.Size < 0 || meta.Offset+meta.Size > int64(len(data)) {
			return header, nil, fmt.Errorf("%w: tensor %s", ErrOutOfBounds, meta.Name)
		}
		raw := data[meta.Offset : meta.Offset+meta.Size]
		values := make([]float32, len(raw)/4)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		t, err := tensor.New(values, tensor.Shape(meta.Shape))
		if err != nil {
			return header, nil, fmt.Errorf("tensor %s: %w", meta.Name, err)
		}
		stateDict[meta.Name] = t
	}
	return header, stateDict, nil
}

// ReadFile opens path and decodes it with Read.
func ReadFile(path string) (Header, map[string]*tensor.Tensor, error) {
	//nolint:gosec // G304: checkpoint paths come from configuration
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return Header{}, nil, fmt.Errorf("failed to stat file: %w", err)
	}
	return read(f, info.Size())
}
