// Package chunk describes the unit of data handed to the sink by the buffering layer.
package chunk

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"
)

// Metadata is the chunk-scoped information used to render object keys.
type Metadata struct {
	// TimeKey is the start of the chunk's time bucket. Nil when chunks are not time keyed.
	TimeKey *time.Time
	// Tag is the routing tag of the records in the chunk.
	Tag string
	// Variables holds the values of custom chunk keys.
	Variables map[string]string
}

// Chunk is a read-only batch of formatted records.
// UniqueID must stay the same for every delivery attempt of the same chunk.
type Chunk interface {
	io.WriterTo
	UniqueID() []byte
	Metadata() Metadata
}

// Bytes is an in-memory chunk.
type Bytes struct {
	ID   []byte
	Meta Metadata
	Data []byte
}

// UniqueID ...
func (b Bytes) UniqueID() []byte { return b.ID }

// Metadata ...
func (b Bytes) Metadata() Metadata { return b.Meta }

// WriteTo ...
func (b Bytes) WriteTo(w io.Writer) (int64, error) {
	return io.Copy(w, bytes.NewReader(b.Data))
}

// File is a chunk backed by a file on disk. The file is opened on every WriteTo call,
// so the same File can be streamed again when the upload is retried.
type File struct {
	ID   []byte
	Meta Metadata
	Path string
}

// UniqueID ...
func (f File) UniqueID() []byte { return f.ID }

// Metadata ...
func (f File) Metadata() Metadata { return f.Meta }

// WriteTo ...
func (f File) WriteTo(w io.Writer) (int64, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return 0, fmt.Errorf("open chunk file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(w, file)
	if err != nil {
		return n, fmt.Errorf("copy chunk file: %w", err)
	}
	return n, nil
}

// TimeKeyOf floors t to the given bucket size. A non-positive timekey returns t unchanged.
func TimeKeyOf(t time.Time, timekey time.Duration) time.Time {
	if timekey <= 0 {
		return t
	}
	return time.Unix(0, t.UnixNano()-t.UnixNano()%int64(timekey)).In(t.Location())
}
