// Package config holds the sink configuration: defaults, an optional YAML file and
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bitrise-io/go-objectsink/chunkstate"
	"github.com/bitrise-io/go-objectsink/keytemplate"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment variables overriding configuration fields,
// e.g. OBJECTSINK_CONTAINER or OBJECTSINK_SWIFT_ACCOUNT.
const EnvPrefix = "OBJECTSINK"

// Backends
const (
	BackendSwift = "swift"
	BackendS3    = "s3"
	BackendMinio = "minio"
)

// ErrNotDefined is wrapped by Error when a mandatory parameter has no value.
var ErrNotDefined = errors.New("not defined")

// Error is a configuration problem, detected before any chunk is written.
type Error struct {
	Param string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Param, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Secret is a credential. It is masked when printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// Config ...
type Config struct {
	Backend             string        `yaml:"backend" split_words:"true"`
	Container           string        `yaml:"container" split_words:"true"`
	Path                string        `yaml:"path" split_words:"true"`
	KeyFormat           string        `yaml:"key_format" split_words:"true"`
	StoreAs             string        `yaml:"store_as" split_words:"true"`
	AutoCreateContainer bool          `yaml:"auto_create_container" split_words:"true"`
	HexRandomLength     int           `yaml:"hex_random_length" split_words:"true"`
	IndexFormat         string        `yaml:"index_format" split_words:"true"`
	Overwrite           bool          `yaml:"overwrite" split_words:"true"`
	SSLVerify           bool          `yaml:"ssl_verify" split_words:"true"`
	Timekey             time.Duration `yaml:"timekey" split_words:"true"`
	// Timezone of the time key in key rendering. Empty means the local zone.
	Timezone string `yaml:"timezone" split_words:"true"`

	Swift SwiftConfig `yaml:"swift"`
	S3    S3Config    `yaml:"s3"`
	Minio MinioConfig `yaml:"minio"`
}

// SwiftConfig falls back to the standard OpenStack client variables.
type SwiftConfig struct {
	AuthURL     string `yaml:"auth_url" envconfig:"OS_AUTH_URL"`
	AuthUser    string `yaml:"auth_user" envconfig:"OS_USERNAME"`
	AuthAPIKey  Secret `yaml:"auth_api_key" envconfig:"OS_PASSWORD"`
	AuthTenant  string `yaml:"auth_tenant" envconfig:"OS_TENANT_NAME"`
	AuthDomain  string `yaml:"auth_domain" envconfig:"OS_USER_DOMAIN_NAME"`
	AuthRegion  string `yaml:"auth_region" envconfig:"OS_REGION_NAME"`
	Account     string `yaml:"account" split_words:"true"`
	HTTPRetries int    `yaml:"http_retries" split_words:"true"`
}

// S3Config falls back to the standard AWS variables. Without static keys the default
// AWS credential chain is used.
type S3Config struct {
	Region          string `yaml:"region" envconfig:"AWS_REGION"`
	AccessKeyID     string `yaml:"access_key_id" envconfig:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey Secret `yaml:"secret_access_key" envconfig:"AWS_SECRET_ACCESS_KEY"`
	Endpoint        string `yaml:"endpoint" split_words:"true"`
}

// MinioConfig ...
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" split_words:"true"`
	AccessKey string `yaml:"access_key" split_words:"true"`
	SecretKey Secret `yaml:"secret_key" split_words:"true"`
	Region    string `yaml:"region" split_words:"true"`
	UseSSL    bool   `yaml:"use_ssl" split_words:"true"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Backend:             BackendSwift,
		Path:                "%Y%m%d",
		KeyFormat:           "%{path}/%H%M_%{index}.%{file_extension}",
		StoreAs:             "gzip",
		AutoCreateContainer: true,
		HexRandomLength:     4,
		IndexFormat:         string(keytemplate.DefaultIndexFormat),
		SSLVerify:           true,
		Timekey:             5 * time.Minute,
		Minio:               MinioConfig{UseSSL: true},
	}
}

// Load builds the configuration from the defaults, the YAML file at path (if not empty)
// and the environment, in this order of precedence.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := Parse(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}

	return cfg, nil
}

// Parse overlays YAML content on cfg. Unknown fields are rejected.
func Parse(content []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// Location returns the zone keys are rendered in.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate reports the first configuration problem as an *Error.
func (c Config) Validate() error {
	if c.Container == "" {
		return &Error{Param: "container", Err: ErrNotDefined}
	}

	switch c.Backend {
	case BackendSwift:
		if err := c.Swift.validate(); err != nil {
			return err
		}
	case BackendS3:
		if c.S3.Region == "" {
			return &Error{Param: "s3.region", Err: fmt.Errorf("parameter or AWS_REGION variable %w", ErrNotDefined)}
		}
	case BackendMinio:
		if c.Minio.Endpoint == "" {
			return &Error{Param: "minio.endpoint", Err: ErrNotDefined}
		}
		if c.Minio.AccessKey == "" || c.Minio.SecretKey == "" {
			return &Error{Param: "minio.access_key", Err: fmt.Errorf("access and secret keys %w", ErrNotDefined)}
		}
	default:
		return &Error{Param: "backend", Err: fmt.Errorf("unknown backend %q, supported: %s, %s, %s", c.Backend, BackendSwift, BackendS3, BackendMinio)}
	}

	if c.HexRandomLength < 1 || c.HexRandomLength > chunkstate.MaxHexRandomLength {
		return &Error{Param: "hex_random_length", Err: fmt.Errorf("must be between 1 and %d, got %d", chunkstate.MaxHexRandomLength, c.HexRandomLength)}
	}

	if _, err := keytemplate.ParseIndexFormat(c.IndexFormat); err != nil {
		return &Error{Param: "index_format", Err: err}
	}

	if _, err := keytemplate.Parse(c.KeyFormat); err != nil {
		return &Error{Param: "key_format", Err: err}
	}

	if _, err := c.Location(); err != nil {
		return &Error{Param: "timezone", Err: err}
	}

	return nil
}

func (s SwiftConfig) validate() error {
	if s.AuthURL == "" {
		return &Error{Param: "auth_url", Err: fmt.Errorf("parameter or OS_AUTH_URL variable %w", ErrNotDefined)}
	}
	if s.AuthUser == "" {
		return &Error{Param: "auth_user", Err: fmt.Errorf("parameter or OS_USERNAME variable %w", ErrNotDefined)}
	}
	if s.AuthAPIKey == "" {
		return &Error{Param: "auth_api_key", Err: fmt.Errorf("parameter or OS_PASSWORD variable %w", ErrNotDefined)}
	}
	return nil
}
