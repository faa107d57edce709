package miniostore

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"404 response", minio.ErrorResponse{StatusCode: http.StatusNotFound}, true},
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey"}, true},
		{"wrapped 404", fmt.Errorf("stat: %w", minio.ErrorResponse{StatusCode: http.StatusNotFound}), true},
		{"forbidden", minio.ErrorResponse{StatusCode: http.StatusForbidden, Code: "AccessDenied"}, false},
		{"plain error", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNotFound(tt.err))
		})
	}
}

func TestNew(t *testing.T) {
	_, err := New(Params{}, log.NewLogger())
	require.Error(t, err)

	store, err := New(Params{Endpoint: "localhost:9000", AccessKey: "minio", SecretKey: "minio123", Region: "us-east-1"}, log.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", store.region)
}
