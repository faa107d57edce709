package transfer

import (
	"os"

	"github.com/bitrise-io/go-utils/v2/log"
)

// tempFiles releases every tracked resource exactly once. Release errors are only logged.
type tempFiles struct {
	logger log.Logger
	files  []*os.File
	paths  []string
}

func (t *tempFiles) trackFile(f *os.File) {
	t.files = append(t.files, f)
}

func (t *tempFiles) trackPath(path string) {
	for _, p := range t.paths {
		if p == path {
			return
		}
	}
	t.paths = append(t.paths, path)
}

func (t *tempFiles) releasePath(path string) {
	for i, p := range t.paths {
		if p == path {
			t.paths = append(t.paths[:i], t.paths[i+1:]...)
			t.remove(path)
			return
		}
	}
}

func (t *tempFiles) release() {
	for _, f := range t.files {
		if err := f.Close(); err != nil {
			t.logger.Debugf("Failed to close %s: %s", f.Name(), err)
		}
	}
	t.files = nil

	for _, p := range t.paths {
		t.remove(p)
	}
	t.paths = nil
}

func (t *tempFiles) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		t.logger.Debugf("Failed to remove temporary file %s: %s", path, err)
	}
}
