package compression

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Mode is the archive format objects are stored as.
type Mode string

// Supported modes. Unrecognised modes fall back to Text.
const (
	Gzip Mode = "gzip"
	LZO  Mode = "lzo"
	JSON Mode = "json"
	Text Mode = "text"
	Zstd Mode = "zstd"
	LZ4  Mode = "lz4"
)

// StreamFunc wraps a writer with an in-process compressor. The returned writer must be
// closed to flush the compressed stream.
type StreamFunc func(w io.Writer) (io.WriteCloser, error)

// FileCompressor compresses a file on disk and returns the path of the compressed file.
// The path is returned even on failure, so partial output can be cleaned up.
type FileCompressor interface {
	Compress(ctx context.Context, inputPath string) (string, error)
}

// Codec describes how a chunk is staged before upload. At most one of Stream and
// External is set; with neither the chunk is stored as is.
type Codec struct {
	Mode        Mode
	Extension   string
	ContentType string
	Stream      StreamFunc
	External    FileCompressor
}

// Passthrough reports whether the chunk bytes are uploaded unchanged.
func (c Codec) Passthrough() bool {
	return c.Stream == nil && c.External == nil
}

// NewCodec returns the codec of a mode. LZO needs an external compressor, see Lzop.
func NewCodec(mode Mode, external FileCompressor) (Codec, error) {
	switch mode {
	case Gzip:
		return Codec{Mode: Gzip, Extension: "gz", ContentType: "application/x-gzip", Stream: newGzipWriter}, nil
	case LZO:
		if external == nil {
			return Codec{}, fmt.Errorf("lzo compression requires an external compressor")
		}
		return Codec{Mode: LZO, Extension: "lzo", ContentType: "application/x-lzop", External: external}, nil
	case JSON:
		return Codec{Mode: JSON, Extension: "json", ContentType: "application/json"}, nil
	case Zstd:
		return Codec{Mode: Zstd, Extension: "zst", ContentType: "application/zstd", Stream: newZstdWriter}, nil
	case LZ4:
		return Codec{Mode: LZ4, Extension: "lz4", ContentType: "application/x-lz4", Stream: newLZ4Writer}, nil
	default:
		return Codec{Mode: Text, Extension: "txt", ContentType: "text/plain"}, nil
	}
}

func newGzipWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func newZstdWriter(w io.Writer) (io.WriteCloser, error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	return zw, nil
}

func newLZ4Writer(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}
