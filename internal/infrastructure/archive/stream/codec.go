package stream

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Codec compresses the tar stream that holds the archive entries.
type Codec interface {
	Name() string
	Extension() string
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// CodecByName resolves the COMPRESSOR setting to a codec.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "zstd", "zst":
		return ZstdCodec{}, nil
	case "xz", "lzma":
		return XZCodec{}, nil
	case "lz4":
		return LZ4Codec{}, nil
	default:
		return nil, fmt.Errorf("unknown stream codec %q", name)
	}
}

type ZstdCodec struct{}

func (ZstdCodec) Name() string      { return "zstd" }
func (ZstdCodec) Extension() string { return ".zst" }

func (ZstdCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression),
		zstd.WithEncoderConcurrency(1),
	)
}

func (ZstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

// XZCodec uses LZMA2, the same family as the default 7z method.
type XZCodec struct{}

func (XZCodec) Name() string      { return "xz" }
func (XZCodec) Extension() string { return ".xz" }

func (XZCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return xz.NewWriter(w)
}

func (XZCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := xz.NewReader(r)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(zr), nil
}

type LZ4Codec struct{}

func (LZ4Codec) Name() string      { return "lz4" }
func (LZ4Codec) Extension() string { return ".lz4" }

func (LZ4Codec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	zw := lz4.NewWriter(w)
	if err := zw.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
		return nil, err
	}
	return zw, nil
}

func (LZ4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}
