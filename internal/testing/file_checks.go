package testing

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// FileChecker allows chaining multiple checks on a file path.
type FileChecker struct {
	Path   string
	Checks []func(string) error
}

// NewFileChecker creates a FileChecker for the given path.
func NewFileChecker(path string) *FileChecker {
	return &FileChecker{Path: path, Checks: []func(string) error{}}
}

// CheckErrors lists the failed checks of a FileChecker, one message per line.
type CheckErrors []error

func (e CheckErrors) Error() string {
	var lines []string
	for _, err := range e {
		if err != nil {
			lines = append(lines, err.Error())
		}
	}
	return strings.Join(lines, "\n")
}

// Check runs all checks on the FileChecker's path and returns every failure.
func (fc *FileChecker) Check() error {
	var failed CheckErrors
	for _, check := range fc.Checks {
		if err := check(fc.Path); err != nil {
			failed = append(failed, err)
		}
	}

	if len(failed) == 0 {
		return nil
	}

	return failed
}

// Missing adds a check that nothing exists at the path.
func (fc *FileChecker) Missing() *FileChecker {
	fc.Checks = append(fc.Checks, func(path string) error {
		if _, err := os.Lstat(path); err == nil {
			return fmt.Errorf("expected %s to be removed, but it exists", path)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("lstat %s: %w", path, err)
		}
		return nil
	})
	return fc
}

// EmptyDir adds a check that the path is a directory without entries.
func (fc *FileChecker) EmptyDir() *FileChecker {
	fc.Checks = append(fc.Checks, func(path string) error {
		entries, err := os.ReadDir(path)
		if err != nil {
			return fmt.Errorf("read dir %s: %w", path, err)
		}
		if len(entries) > 0 {
			var names []string
			for _, e := range entries {
				names = append(names, e.Name())
			}
			return fmt.Errorf("expected %s to be empty, found %v", path, names)
		}
		return nil
	})
	return fc
}

// Content adds a check that the file at the path has the specified content.
func (fc *FileChecker) Content(content string) *FileChecker {
	fc.Checks = append(fc.Checks, func(path string) error {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return compareContent(path, content, string(b))
	})
	return fc
}

// GzipContent adds a check that the file at the path is a gzip stream of content.
func (fc *FileChecker) GzipContent(content string) *FileChecker {
	fc.Checks = append(fc.Checks, func(path string) error {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		got, err := Gunzip(b)
		if err != nil {
			return fmt.Errorf("decompress %s: %w", path, err)
		}
		return compareContent(path, content, string(got))
	})
	return fc
}

// Gunzip decompresses a gzip stream.
func Gunzip(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close() //nolint:errcheck
	return io.ReadAll(r)
}

func compareContent(path, want, got string) error {
	if got != want {
		return fmt.Errorf("file %s content mismatch\nwant:\n%q\n\ngot:\n%q", path, want, got)
	}
	return nil
}
