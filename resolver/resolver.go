// Package resolver picks an unused object key for a chunk by probing the remote store.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitrise-io/go-objectsink/keytemplate"
	"github.com/bitrise-io/go-utils/v2/log"
)

// State is the outcome of a resolution.
type State int

const (
	// Probing means existence checks are still running.
	Probing State = iota
	// Accepted means the key is not used yet.
	Accepted
	// Overwriting means the key is used and will be overwritten.
	Overwriting
	// Fatal means the key is used and the template cannot produce another one.
	Fatal
)

func (s State) String() string {
	switch s {
	case Probing:
		return "probing"
	case Accepted:
		return "accepted"
	case Overwriting:
		return "overwriting"
	default:
		return "fatal"
	}
}

// ErrDuplicatePath matches the error returned when the key format cannot produce a
// new key and overwriting is not allowed.
var ErrDuplicatePath = errors.New("duplicated path is generated")

// DuplicatePathError reports the key that collided.
type DuplicatePathError struct {
	Key string
}

func (e *DuplicatePathError) Error() string {
	return fmt.Sprintf("duplicated path is generated. Use %s in the key format: Path: %s", keytemplate.Token(keytemplate.Index), e.Key)
}

// Is ...
func (e *DuplicatePathError) Is(target error) bool {
	return target == ErrDuplicatePath
}

// ExistsFunc queries the remote store for a key.
type ExistsFunc func(ctx context.Context, key string) (bool, error)

// AttemptValues returns the per-attempt placeholder values for an attempt index.
type AttemptValues func(index int) keytemplate.Values

// Resolution is the key chosen for a chunk.
type Resolution struct {
	Key      string
	Attempts int
	State    State
}

// Resolver ...
type Resolver struct {
	overwrite bool
	logger    log.Logger
}

// New creates a Resolver. With overwrite set, a key that cannot be differentiated is
// reused instead of failing the chunk.
func New(overwrite bool, logger log.Logger) *Resolver {
	return &Resolver{overwrite: overwrite, logger: logger}
}

type attempt struct {
	index   int
	lastKey string
}

// Resolve renders candidate keys from the prepared template until one does not exist.
// Existence check errors are returned unchanged. The loop has no attempt cap: it ends
// when a key is free, or when two consecutive attempts render the same key.
func (r *Resolver) Resolve(ctx context.Context, prepared keytemplate.Template, values AttemptValues, exists ExistsFunc) (Resolution, error) {
	state := attempt{}
	for {
		key := prepared.Render(values(state.index))
		r.logger.Infof("File flushing: %s", key)

		if state.index > 0 && key == state.lastKey {
			if r.overwrite {
				r.logger.Warnf("File: %s already exists, but will overwrite!", key)
				return Resolution{Key: key, Attempts: state.index + 1, State: Overwriting}, nil
			}
			return Resolution{Key: key, Attempts: state.index + 1, State: Fatal}, &DuplicatePathError{Key: key}
		}

		found, err := exists(ctx, key)
		if err != nil {
			return Resolution{Key: key, Attempts: state.index + 1, State: Probing}, err
		}
		if !found {
			return Resolution{Key: key, Attempts: state.index + 1, State: Accepted}, nil
		}

		r.logger.Debugf("Key %s already exists", key)
		state.lastKey = key
		state.index++
	}
}
