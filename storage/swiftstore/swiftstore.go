// Package swiftstore implements storage.Client on OpenStack Swift.
package swiftstore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/bitrise-io/go-objectsink/storage"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/ncw/swift/v2"
)

// Params ...
type Params struct {
	AuthURL   string
	User      string
	APIKey    string
	Tenant    string
	Domain    string
	Region    string
	Account   string
	SSLVerify bool

	// HTTPRetries is the number of transport level retries of a single request.
	HTTPRetries int
}

type connection interface {
	Container(ctx context.Context, container string) (swift.Container, swift.Headers, error)
	ContainerCreate(ctx context.Context, container string, h swift.Headers) error
	Object(ctx context.Context, container string, objectName string) (swift.Object, swift.Headers, error)
	ObjectPut(ctx context.Context, container string, objectName string, contents io.Reader, checkHash bool, hash string, contentType string, h swift.Headers) (swift.Headers, error)
}

// Store ...
type Store struct {
	conn   connection
	logger log.Logger
}

// New authenticates against Keystone (or TempAuth) and creates a Store.
func New(ctx context.Context, params Params, logger log.Logger) (*Store, error) {
	transport := http.RoundTripper(&http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !params.SSLVerify}, //nolint:gosec
	})
	if params.HTTPRetries > 0 {
		// The retrying transport reads the whole request body into memory.
		httpClient := retryhttp.NewClient(logger)
		httpClient.RetryMax = params.HTTPRetries
		httpClient.Backoff = retryablehttp.LinearJitterBackoff
		httpClient.HTTPClient.Transport = transport
		transport = httpClient.StandardClient().Transport
	}

	conn := &swift.Connection{
		UserName:  params.User,
		ApiKey:    params.APIKey,
		AuthUrl:   params.AuthURL,
		Tenant:    params.Tenant,
		Domain:    params.Domain,
		Region:    params.Region,
		Transport: transport,
	}
	if err := conn.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("can't call Swift API. Please check your ENV OS_*, your credentials or `auth_url` configuration: %w", err)
	}

	if params.Account != "" {
		storageURL, err := switchAccount(conn.StorageUrl, params.Account)
		if err != nil {
			return nil, fmt.Errorf("switch account: %w", err)
		}
		logger.Debugf("Using Swift account %s: %s", params.Account, storageURL)
		conn.StorageUrl = storageURL
		// Re-authentication after token expiry takes the storage url from conn.Auth.
		conn.Auth = &accountAuth{Authenticator: conn.Auth, account: params.Account, logger: logger}
	}

	return &Store{conn: conn, logger: logger}, nil
}

// accountAuth points the storage url of every authentication at another account.
type accountAuth struct {
	swift.Authenticator
	account string
	logger  log.Logger
}

func (a *accountAuth) StorageUrl(internal bool) string { //nolint:revive,stylecheck
	storageURL := a.Authenticator.StorageUrl(internal)
	switched, err := switchAccount(storageURL, a.account)
	if err != nil {
		a.logger.Warnf("Failed to switch to Swift account %s: %s", a.account, err)
		return storageURL
	}
	return switched
}

// Expires reports the token expiry of the wrapped authenticator, zero if it has none.
func (a *accountAuth) Expires() time.Time {
	if e, ok := a.Authenticator.(swift.Expireser); ok {
		return e.Expires()
	}
	return time.Time{}
}

// switchAccount replaces the account segment (the last path element) of a storage URL.
func switchAccount(storageURL, account string) (string, error) {
	u, err := url.Parse(storageURL)
	if err != nil {
		return "", err
	}
	if u.Path == "" || u.Path == "/" {
		return "", fmt.Errorf("storage url has no account: %s", storageURL)
	}
	u.Path = path.Join(path.Dir(path.Clean(u.Path)), account)
	return u.String(), nil
}

// ContainerExists ...
func (s *Store) ContainerExists(ctx context.Context, container string) (bool, error) {
	_, _, err := s.conn.Container(ctx, container)
	if err != nil {
		if errors.Is(err, swift.ContainerNotFound) {
			return false, nil
		}
		return false, &storage.TransportError{Op: "get container", Container: container, Err: err}
	}
	return true, nil
}

// CreateContainer ...
func (s *Store) CreateContainer(ctx context.Context, container string) error {
	if err := s.conn.ContainerCreate(ctx, container, nil); err != nil {
		return &storage.TransportError{Op: "put container", Container: container, Err: err}
	}
	return nil
}

// Exists ...
func (s *Store) Exists(ctx context.Context, container, key string) (bool, error) {
	_, _, err := s.conn.Object(ctx, container, key)
	if err != nil {
		if errors.Is(err, swift.ObjectNotFound) {
			return false, nil
		}
		return false, &storage.TransportError{Op: "head object", Container: container, Key: key, Err: err}
	}
	return true, nil
}

// Put ...
func (s *Store) Put(ctx context.Context, container, key string, body io.Reader, size int64, contentType string) error {
	s.logger.Debugf("Uploading %d bytes to %s/%s", size, container, key)

	if _, err := s.conn.ObjectPut(ctx, container, key, body, false, "", contentType, nil); err != nil {
		return &storage.TransportError{Op: "put object", Container: container, Key: key, Err: err}
	}
	return nil
}
