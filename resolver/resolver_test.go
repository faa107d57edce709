package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/bitrise-io/go-objectsink/keytemplate"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	log.Logger
	warnings []string
}

func (l *recordingLogger) Warnf(format string, v ...interface{}) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, v...))
}

type fakeStore struct {
	objects map[string]bool
	calls   []string
	err     error
}

func (s *fakeStore) exists(_ context.Context, key string) (bool, error) {
	s.calls = append(s.calls, key)
	if s.err != nil {
		return false, s.err
	}
	return s.objects[key], nil
}

func prepare(t *testing.T, raw string) keytemplate.Template {
	tmpl, err := keytemplate.Parse(raw)
	require.NoError(t, err)
	return tmpl.Expand(keytemplate.Values{keytemplate.Token(keytemplate.FileExtension): "gz"})
}

func indexValues(format keytemplate.IndexFormat) AttemptValues {
	return func(index int) keytemplate.Values {
		return keytemplate.Values{keytemplate.Token(keytemplate.Index): format.Format(index)}
	}
}

func TestResolve_SkipsExistingKeys(t *testing.T) {
	store := &fakeStore{objects: map[string]bool{"logs/0.gz": true}}
	r := New(false, log.NewLogger())

	res, err := r.Resolve(context.Background(), prepare(t, "logs/%{index}.%{file_extension}"), indexValues("%d"), store.exists)

	require.NoError(t, err)
	assert.Equal(t, "logs/1.gz", res.Key)
	assert.Equal(t, Accepted, res.State)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []string{"logs/0.gz", "logs/1.gz"}, store.calls)
}

func TestResolve_TerminatesOnFirstFreeKey(t *testing.T) {
	for taken := 0; taken < 12; taken++ {
		t.Run(strconv.Itoa(taken), func(t *testing.T) {
			objects := map[string]bool{}
			for i := 0; i < taken; i++ {
				objects[fmt.Sprintf("logs/%02d.gz", i)] = true
			}
			store := &fakeStore{objects: objects}

			res, err := New(false, log.NewLogger()).Resolve(context.Background(), prepare(t, "logs/%{index}.%{file_extension}"), indexValues("%02d"), store.exists)

			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("logs/%02d.gz", taken), res.Key)
			assert.False(t, objects[res.Key])
			assert.Len(t, store.calls, taken+1)
		})
	}
}

func TestResolve_DuplicatePathWithoutOverwrite(t *testing.T) {
	store := &fakeStore{objects: map[string]bool{"logs/fixed.gz": true}}
	r := New(false, log.NewLogger())

	res, err := r.Resolve(context.Background(), prepare(t, "logs/fixed.%{file_extension}"), indexValues("%d"), store.exists)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicatePath))
	var dupErr *DuplicatePathError
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, "logs/fixed.gz", dupErr.Key)
	assert.Contains(t, err.Error(), "%{index}")
	assert.Equal(t, Fatal, res.State)
	assert.Equal(t, []string{"logs/fixed.gz"}, store.calls)
}

func TestResolve_DuplicatePathWithOverwrite(t *testing.T) {
	store := &fakeStore{objects: map[string]bool{"logs/fixed.gz": true}}
	logger := &recordingLogger{Logger: log.NewLogger()}
	r := New(true, logger)

	res, err := r.Resolve(context.Background(), prepare(t, "logs/fixed.%{file_extension}"), indexValues("%d"), store.exists)

	require.NoError(t, err)
	assert.Equal(t, "logs/fixed.gz", res.Key)
	assert.Equal(t, Overwriting, res.State)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []string{"logs/fixed.gz"}, store.calls)
	require.Len(t, logger.warnings, 1)
	assert.Contains(t, logger.warnings[0], "logs/fixed.gz")
}

func TestResolve_IneffectiveAttemptPlaceholder(t *testing.T) {
	store := &fakeStore{objects: map[string]bool{"logs/abcd.gz": true}}
	values := func(int) keytemplate.Values {
		return keytemplate.Values{keytemplate.Token(keytemplate.HexRandom): "abcd"}
	}

	_, err := New(false, log.NewLogger()).Resolve(context.Background(), prepare(t, "logs/%{hex_random}.%{file_extension}"), values, store.exists)

	assert.True(t, errors.Is(err, ErrDuplicatePath))
}

func TestResolve_FreeKeyWithoutAttemptPlaceholder(t *testing.T) {
	store := &fakeStore{objects: map[string]bool{}}

	res, err := New(false, log.NewLogger()).Resolve(context.Background(), prepare(t, "logs/fixed.%{file_extension}"), indexValues("%d"), store.exists)

	require.NoError(t, err)
	assert.Equal(t, "logs/fixed.gz", res.Key)
	assert.Equal(t, Accepted, res.State)
}

func TestResolve_ExistsErrorIsReturnedUnchanged(t *testing.T) {
	transportErr := errors.New("connection reset")
	store := &fakeStore{err: transportErr}

	_, err := New(false, log.NewLogger()).Resolve(context.Background(), prepare(t, "logs/%{index}"), indexValues("%d"), store.exists)

	assert.Equal(t, transportErr, err)
}
