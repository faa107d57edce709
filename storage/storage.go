// Package storage defines the object store capability the sink uploads to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Client is an object store. Implementations must report a missing object as
// (false, nil) from Exists, and wrap transport failures in TransportError.
type Client interface {
	ContainerExists(ctx context.Context, container string) (bool, error)
	CreateContainer(ctx context.Context, container string) error
	Exists(ctx context.Context, container, key string) (bool, error)
	Put(ctx context.Context, container, key string, body io.Reader, size int64, contentType string) error
}

// ErrContainerNotFound is returned by EnsureContainer when the container is missing and
// may not be created.
var ErrContainerNotFound = errors.New("the specified container does not exist")

// TransportError is a failed call to the object store.
type TransportError struct {
	Op        string
	Container string
	Key       string
	Err       error
}

func (e *TransportError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Container, e.Err)
	}
	return fmt.Sprintf("%s %s/%s: %s", e.Op, e.Container, e.Key, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// EnsureResult ...
type EnsureResult int

const (
	// ContainerOK means the container already existed.
	ContainerOK EnsureResult = iota
	// ContainerCreated means the container was missing and got created.
	ContainerCreated
)

// EnsureContainer checks that the container exists and creates it when autoCreate is set.
func EnsureContainer(ctx context.Context, client Client, container string, autoCreate bool, logger log.Logger) (EnsureResult, error) {
	exists, err := client.ContainerExists(ctx, container)
	if err != nil {
		return ContainerOK, fmt.Errorf("check container: %w", err)
	}
	if exists {
		logger.Debugf("Container %s exists", container)
		return ContainerOK, nil
	}

	if !autoCreate {
		return ContainerOK, fmt.Errorf("%w: %s", ErrContainerNotFound, container)
	}

	logger.Warnf("Creating container `%s`", container)
	if err := client.CreateContainer(ctx, container); err != nil {
		return ContainerOK, fmt.Errorf("create container: %w", err)
	}
	return ContainerCreated, nil
}
