package keytemplate

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

var indexFormatPattern = regexp.MustCompile(`^%(0\d*)?[dxX]$`)

// ErrInvalidIndexFormat is returned for index formats other than `%[0[width]]{d,x,X}`.
var ErrInvalidIndexFormat = errors.New("index format should follow `%[flags][width]type`. `0` is the only supported flag, and is mandatory if width is specified. `d`, `x` and `X` are supported types")

// IndexFormat is a validated printf verb for the `%{index}` placeholder.
type IndexFormat string

// DefaultIndexFormat renders the index as a plain decimal number.
const DefaultIndexFormat IndexFormat = "%d"

// ParseIndexFormat validates an index format.
func ParseIndexFormat(format string) (IndexFormat, error) {
	if !indexFormatPattern.MatchString(format) {
		return "", fmt.Errorf("%q: %w", format, ErrInvalidIndexFormat)
	}
	return IndexFormat(format), nil
}

// Format renders an attempt index.
func (f IndexFormat) Format(index int) string {
	if f == "" {
		f = DefaultIndexFormat
	}
	return fmt.Sprintf(string(f), index)
}

// TimeSliceFormat returns the strftime format of `%{time_slice}` for a time bucket size.
func TimeSliceFormat(timekey time.Duration) string {
	switch {
	case timekey < time.Minute:
		return "%Y%m%d%H%M%S"
	case timekey < time.Hour:
		return "%Y%m%d%H%M"
	case timekey < 24*time.Hour:
		return "%Y%m%d%H"
	default:
		return "%Y%m%d"
	}
}

// FormatTimeSlice renders a chunk time key with the time slice format of the bucket size.
func FormatTimeSlice(timeKey time.Time, timekey time.Duration) string {
	return formatDirectives(TimeSliceFormat(timekey), timeKey)
}
