// Package codec compresses encoded frames for the wire. Every compressor is
// safe for concurrent use.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrUnknownEncoding is returned by Lookup for unsupported encoding names.
var ErrUnknownEncoding = errors.New("unknown encoding")

// Compressor applies symmetric compression to payload byte slices.
type Compressor interface {
	// Name returns the identifier advertised to viewers.
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

const (
	Raw    = "raw"
	Gzip   = "gzip"
	Snappy = "snappy"
	Zstd   = "zstd"
)

var (
	registryOnce sync.Once
	registry     map[string]Compressor
)

func compressors() map[string]Compressor {
	registryOnce.Do(func() {
		registry = map[string]Compressor{
			Raw:    rawCompressor{},
			Gzip:   gzipCompressor{},
			Snappy: snappyCompressor{},
			Zstd:   newZstdCompressor(),
		}
	})
	return registry
}

// Lookup resolves an encoding name. An empty name selects Raw.
func Lookup(name string) (Compressor, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = Raw
	}
	if c, ok := compressors()[key]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w %q (supported: %s)", ErrUnknownEncoding, name, strings.Join(Names(), ", "))
}

// Names lists the supported encodings in sorted order.
func Names() []string {
	names := make([]string, 0, len(compressors()))
	for name := range compressors() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type rawCompressor struct{}

func (rawCompressor) Name() string { return Raw }

func (rawCompressor) Compress(data []byte) ([]byte, error) { return data, nil }

func (rawCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

type gzipCompressor struct{}

func (gzipCompressor) Name() string { return Gzip }

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("gzip decompress: empty payload")
	}
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer reader.Close()
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}

// snappyCompressor uses the block format; frames are already size-bounded.
type snappyCompressor struct{}

func (snappyCompressor) Name() string { return Snappy }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return out, nil
}

type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	err     error
}

func newZstdCompressor() *zstdCompressor {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return &zstdCompressor{err: fmt.Errorf("zstd encoder: %w", err)}
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return &zstdCompressor{err: fmt.Errorf("zstd decoder: %w", err)}
	}
	return &zstdCompressor{encoder: encoder, decoder: decoder}
}

func (*zstdCompressor) Name() string { return Zstd }

func (z *zstdCompressor) Compress(data []byte) ([]byte, error) {
	if z.err != nil {
		return nil, z.err
	}
	return z.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	if z.err != nil {
		return nil, z.err
	}
	out, err := z.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}
