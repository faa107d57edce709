// Package transfer stages a chunk on disk, compresses it and uploads it under a resolved key.
package transfer

import (
	"context"
	"fmt"
	"os"

	"github.com/bitrise-io/go-objectsink/chunk"
	"github.com/bitrise-io/go-objectsink/chunkstate"
	"github.com/bitrise-io/go-objectsink/compression"
	"github.com/bitrise-io/go-objectsink/storage"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

const stagingPattern = "objectsink-"

// Transaction uploads chunks to a single container with a fixed codec.
type Transaction struct {
	Client    storage.Client
	Container string
	Codec     compression.Codec
	// State is cleared for a chunk once it is stored. Optional.
	State *chunkstate.Table
	// TempDir holds staging files. Empty means the system default.
	TempDir string
	Logger  log.Logger
}

// Result describes the stored object.
type Result struct {
	Key         string
	Size        int64
	ContentType string
}

// Upload stores the chunk under key. Temporary files are removed whatever the outcome.
func (t Transaction) Upload(ctx context.Context, c chunk.Chunk, key string) (Result, error) {
	tmp := &tempFiles{logger: t.Logger}
	defer tmp.release()

	stagedPath, err := t.stage(ctx, c, tmp)
	if err != nil {
		return Result{}, err
	}

	file, err := os.Open(stagedPath)
	if err != nil {
		return Result{}, fmt.Errorf("open staged file: %w", err)
	}
	tmp.trackFile(file)

	info, err := file.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("stat staged file: %w", err)
	}
	size := info.Size()
	t.Logger.Debugf("Staged object size: %s", units.HumanSizeWithPrecision(float64(size), 3))

	if err := t.Client.Put(ctx, t.Container, key, file, size, t.Codec.ContentType); err != nil {
		return Result{}, fmt.Errorf("put object: %w", err)
	}

	if t.State != nil {
		t.State.Remove(c.UniqueID())
	}

	return Result{Key: key, Size: size, ContentType: t.Codec.ContentType}, nil
}

// stage writes the chunk into a staging file and returns the path of the artifact to upload.
func (t Transaction) stage(ctx context.Context, c chunk.Chunk, tmp *tempFiles) (string, error) {
	file, err := os.CreateTemp(t.TempDir, stagingPattern)
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	tmp.trackPath(file.Name())

	switch {
	case t.Codec.Stream != nil:
		err = writeCompressed(file, c, t.Codec.Stream)
	default:
		_, err = c.WriteTo(file)
		if err != nil {
			err = fmt.Errorf("write chunk: %w", err)
		}
	}
	if closeErr := file.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close staging file: %w", closeErr)
	}
	if err != nil {
		return "", err
	}

	if t.Codec.External == nil {
		return file.Name(), nil
	}

	outputPath, err := t.Codec.External.Compress(ctx, file.Name())
	if outputPath != "" {
		tmp.trackPath(outputPath)
	}
	if err != nil {
		return "", fmt.Errorf("compress chunk: %w", err)
	}
	// The uncompressed intermediate is not needed past this point.
	tmp.releasePath(file.Name())

	return outputPath, nil
}

func writeCompressed(file *os.File, c chunk.Chunk, stream compression.StreamFunc) error {
	w, err := stream(file)
	if err != nil {
		return fmt.Errorf("create compressor: %w", err)
	}
	if _, err := c.WriteTo(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("write chunk: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("flush compressor: %w", err)
	}
	return nil
}
