package swiftstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bitrise-io/go-objectsink/storage"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/ncw/swift/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnection struct {
	containerErr error
	objectErr    error
	putErr       error
	created      []string
	put          map[string]string
	contentTypes map[string]string
}

func (f *fakeConnection) Container(ctx context.Context, container string) (swift.Container, swift.Headers, error) {
	return swift.Container{Name: container}, nil, f.containerErr
}

func (f *fakeConnection) ContainerCreate(ctx context.Context, container string, h swift.Headers) error {
	f.created = append(f.created, container)
	return nil
}

func (f *fakeConnection) Object(ctx context.Context, container string, objectName string) (swift.Object, swift.Headers, error) {
	return swift.Object{Name: objectName}, nil, f.objectErr
}

func (f *fakeConnection) ObjectPut(ctx context.Context, container string, objectName string, contents io.Reader, checkHash bool, hash string, contentType string, h swift.Headers) (swift.Headers, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(contents)
	if err != nil {
		return nil, err
	}
	if f.put == nil {
		f.put = map[string]string{}
		f.contentTypes = map[string]string{}
	}
	f.put[container+"/"+objectName] = string(b)
	f.contentTypes[container+"/"+objectName] = contentType
	return swift.Headers{}, nil
}

func TestStore_ContainerExists(t *testing.T) {
	store := &Store{conn: &fakeConnection{containerErr: swift.ContainerNotFound}, logger: log.NewLogger()}
	exists, err := store.ContainerExists(context.Background(), "logs")
	require.NoError(t, err)
	assert.False(t, exists)

	store = &Store{conn: &fakeConnection{}, logger: log.NewLogger()}
	exists, err = store.ContainerExists(context.Background(), "logs")
	require.NoError(t, err)
	assert.True(t, exists)

	store = &Store{conn: &fakeConnection{containerErr: swift.AuthorizationFailed}, logger: log.NewLogger()}
	_, err = store.ContainerExists(context.Background(), "logs")
	var transportErr *storage.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.ErrorIs(t, err, swift.AuthorizationFailed)
}

func TestStore_Exists(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    bool
		wantErr bool
	}{
		{name: "found", want: true},
		{name: "not found", err: swift.ObjectNotFound},
		{name: "timeout", err: swift.TimeoutError, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &Store{conn: &fakeConnection{objectErr: tt.err}, logger: log.NewLogger()}
			got, err := store.Exists(context.Background(), "logs", "20240305/1407_0.gz")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Exists() error = %v, wantErr %v", err, tt.wantErr)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_PutAndCreate(t *testing.T) {
	conn := &fakeConnection{}
	store := &Store{conn: conn, logger: log.NewLogger()}

	require.NoError(t, store.CreateContainer(context.Background(), "logs"))
	require.NoError(t, store.Put(context.Background(), "logs", "a.gz", strings.NewReader("data"), 4, "application/x-gzip"))

	assert.Equal(t, []string{"logs"}, conn.created)
	assert.Equal(t, "data", conn.put["logs/a.gz"])
	assert.Equal(t, "application/x-gzip", conn.contentTypes["logs/a.gz"])

	conn.putErr = errors.New("broken pipe")
	err := store.Put(context.Background(), "logs", "b.gz", strings.NewReader("data"), 4, "application/x-gzip")
	var transportErr *storage.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, "b.gz", transportErr.Key)
}

func TestSwitchAccount(t *testing.T) {
	tests := []struct {
		name       string
		storageURL string
		account    string
		want       string
		wantErr    bool
	}{
		{
			name:       "keystone url",
			storageURL: "https://swift.example.com/v1/AUTH_0123abcd",
			account:    "AUTH_logs",
			want:       "https://swift.example.com/v1/AUTH_logs",
		},
		{
			name:       "trailing slash",
			storageURL: "https://swift.example.com/v1/AUTH_0123abcd/",
			account:    "AUTH_logs",
			want:       "https://swift.example.com/v1/AUTH_logs",
		},
		{
			name:       "no path",
			storageURL: "https://swift.example.com",
			account:    "AUTH_logs",
			wantErr:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := switchAccount(tt.storageURL, tt.account)
			if (err != nil) != tt.wantErr {
				t.Fatalf("switchAccount() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("switchAccount() = %v, want %v", got, tt.want)
			}
		})
	}
}

type fakeAuth struct {
	storageURL string
}

func (a *fakeAuth) Request(ctx context.Context, c *swift.Connection) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, "https://keystone.example.com/v3/auth/tokens", nil)
}

func (a *fakeAuth) Response(ctx context.Context, resp *http.Response) error { return nil }

func (a *fakeAuth) StorageUrl(internal bool) string { return a.storageURL } //nolint:revive,stylecheck

func (a *fakeAuth) Token() string { return "token" }

func (a *fakeAuth) CdnUrl() string { return "" } //nolint:revive,stylecheck

func TestAccountAuth_StorageUrl(t *testing.T) {
	inner := &fakeAuth{storageURL: "https://swift.example.com/v1/AUTH_0123abcd"}
	auth := &accountAuth{Authenticator: inner, account: "AUTH_logs", logger: log.NewLogger()}

	assert.Equal(t, "https://swift.example.com/v1/AUTH_logs", auth.StorageUrl(false))

	// a later authentication may hand out another endpoint
	inner.storageURL = "https://swift-2.example.com/v1/AUTH_0123abcd"
	assert.Equal(t, "https://swift-2.example.com/v1/AUTH_logs", auth.StorageUrl(false))
	assert.Equal(t, "token", auth.Token())

	inner.storageURL = "https://swift.example.com"
	assert.Equal(t, "https://swift.example.com", auth.StorageUrl(false))
	assert.True(t, auth.Expires().IsZero())

	expires := time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)
	auth = &accountAuth{Authenticator: &expiringAuth{fakeAuth: inner, expires: expires}, account: "AUTH_logs", logger: log.NewLogger()}
	assert.Equal(t, expires, auth.Expires())
}

type expiringAuth struct {
	*fakeAuth
	expires time.Time
}

func (a *expiringAuth) Expires() time.Time { return a.expires }
