package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/go-objectsink/chunk"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
)

// expandPaths resolves glob patterns to the list of regular files to upload.
func expandPaths(patterns []string, logger log.Logger) ([]string, error) {
	pathModifier := pathutil.NewPathModifier()
	pathChecker := pathutil.NewPathChecker()

	var expandedPaths []string
	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[{") {
			expandedPaths = append(expandedPaths, pattern)
			continue
		}

		base, rel := doublestar.SplitPattern(pattern)
		absBase, err := pathModifier.AbsPath(base)
		if err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), rel)
		if err != nil {
			logger.Warnf("Error in path pattern '%s': %s", pattern, err)
			continue
		}
		if len(matches) == 0 {
			logger.Warnf("No match for path pattern: %s", pattern)
			continue
		}
		for _, match := range matches {
			expandedPaths = append(expandedPaths, filepath.Join(absBase, match))
		}
	}

	var finalPaths []string
	seen := map[string]bool{}
	for _, path := range expandedPaths {
		absPath, err := pathModifier.AbsPath(path)
		if err != nil {
			logger.Warnf("Failed to parse path %s, error: %s", path, err)
			continue
		}
		if seen[absPath] {
			continue
		}

		exists, err := pathChecker.IsPathExists(absPath)
		if err != nil {
			logger.Warnf("Failed to check path %s, error: %s", absPath, err)
		}
		if !exists {
			logger.Warnf("Path doesn't exist: %s", path)
			continue
		}
		if info, err := os.Stat(absPath); err == nil && info.IsDir() {
			logger.Debugf("Skipping directory %s", absPath)
			continue
		}

		seen[absPath] = true
		finalPaths = append(finalPaths, absPath)
	}

	return finalPaths, nil
}

// newFileChunk describes a file as a chunk. The chunk id is generated once, so every
// retry of the file reuses the same `%{hex_random}` value.
func newFileChunk(path string, timekey time.Duration, tag string) (chunk.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return chunk.File{}, fmt.Errorf("stat %s: %w", path, err)
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return chunk.File{}, fmt.Errorf("generate chunk id: %w", err)
	}

	timeKey := chunk.TimeKeyOf(info.ModTime(), timekey)
	return chunk.File{
		ID:   id[:],
		Path: path,
		Meta: chunk.Metadata{
			TimeKey: &timeKey,
			Tag:     tag,
			Variables: map[string]string{
				"filename": filepath.Base(path),
			},
		},
	}, nil
}
