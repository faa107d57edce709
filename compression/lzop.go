package compression

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/log"
)

// ErrMissingDependency is returned when a compressor binary cannot be run.
var ErrMissingDependency = errors.New("compressor binary is not available")

// DependencyChecker ...
type DependencyChecker struct {
	logger     log.Logger
	cmdFactory command.Factory
}

// NewDependencyChecker ...
func NewDependencyChecker(logger log.Logger, cmdFactory command.Factory) *DependencyChecker {
	return &DependencyChecker{
		logger:     logger,
		cmdFactory: cmdFactory,
	}
}

// CheckLzop makes sure `lzop` is in PATH and runs.
func (dc *DependencyChecker) CheckLzop() error {
	cmd := dc.cmdFactory.Create("lzop", []string{"-V"}, nil)
	dc.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	if _, err := cmd.RunAndReturnTrimmedCombinedOutput(); err != nil {
		return fmt.Errorf("'lzop' utility must be in PATH for LZO compression: %w: %s", ErrMissingDependency, err)
	}
	return nil
}

// Lzop compresses files with the `lzop` binary.
type Lzop struct {
	logger     log.Logger
	cmdFactory command.Factory
}

// NewLzop ...
func NewLzop(logger log.Logger, cmdFactory command.Factory) *Lzop {
	return &Lzop{
		logger:     logger,
		cmdFactory: cmdFactory,
	}
}

// Compress writes `<inputPath>.lzo` with the fastest compression level.
func (l *Lzop) Compress(ctx context.Context, inputPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	outputPath := inputPath + ".lzo"
	cmd := l.cmdFactory.Create("lzop", []string{"-qf1", "-o", outputPath, inputPath}, nil)
	l.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return outputPath, fmt.Errorf("command failed with exit status %d (%s):\n%w", exitErr.ExitCode(), cmd.PrintableCommandArgs(), errors.New(out))
		}
		return outputPath, fmt.Errorf("executing command failed (%s): %w", cmd.PrintableCommandArgs(), err)
	}

	return outputPath, nil
}
