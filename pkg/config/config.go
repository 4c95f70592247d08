// Package config loads SDK settings from YAML or from LAUNCHKEY_* environment
// variables and builds a transport from them.
package config

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v2"
	k8stransport "k8s.io/client-go/transport"
	"k8s.io/klog/v2"

	"github.com/iovation/launchkey-sdk-go/pkg/client"
	"github.com/iovation/launchkey-sdk-go/pkg/domain"
	"github.com/iovation/launchkey-sdk-go/pkg/keys"
	"github.com/iovation/launchkey-sdk-go/pkg/logs"
	"github.com/iovation/launchkey-sdk-go/pkg/transport"
)

// Config holds the settings needed to call the API as one entity.
type Config struct {
	// BaseURL defaults to transport.DefaultBaseURL.
	BaseURL string `yaml:"base_url,omitempty"`
	// Issuer is the entity the keys belong to, e.g. "svc:<uuid>".
	Issuer string `yaml:"issuer"`
	// PrivateKeys are paths to PEM files. The first key is the current one.
	PrivateKeys []string `yaml:"private_keys"`

	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
	ClockSkew      time.Duration `yaml:"clock_skew,omitempty"`
	MaxTokenAge    time.Duration `yaml:"max_token_age,omitempty"`
	PublicKeyTTL   time.Duration `yaml:"public_key_ttl,omitempty"`
}

// Environment variables read by LoadConfigFromEnvironment.
const (
	EnvBaseURL        = "LAUNCHKEY_BASE_URL"
	EnvIssuer         = "LAUNCHKEY_ISSUER"
	EnvPrivateKeys    = "LAUNCHKEY_PRIVATE_KEYS"
	EnvRequestTimeout = "LAUNCHKEY_REQUEST_TIMEOUT"
	EnvClockSkew      = "LAUNCHKEY_CLOCK_SKEW"
	EnvMaxTokenAge    = "LAUNCHKEY_MAX_TOKEN_AGE"
	EnvPublicKeyTTL   = "LAUNCHKEY_PUBLIC_KEY_TTL"
)

// ErrMissingEnvironmentVariables is returned by LoadConfigFromEnvironment
// when a required variable is unset.
var ErrMissingEnvironmentVariables = errors.New("missing environment variables")

// ParseConfig reads YAML config and validates it.
func ParseConfig(data []byte) (Config, error) {
	var config Config

	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return config, pkgerrors.Wrap(err, "failed to parse config")
	}

	return config, config.Validate()
}

// LoadConfigFile reads and validates the YAML file at path.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, pkgerrors.Wrapf(err, "failed to read config file %q", path)
	}

	return ParseConfig(data)
}

// LoadConfigFromEnvironment builds a Config from LAUNCHKEY_* variables.
// Variables are first loaded from envFiles, or from ./.env when it exists
// and no file is given; variables already set take precedence.
// LAUNCHKEY_PRIVATE_KEYS is a comma separated list of PEM file paths.
func LoadConfigFromEnvironment(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return Config{}, pkgerrors.Wrap(err, "failed to load environment files")
		}
	}

	var missing []string
	for _, name := range []string{EnvIssuer, EnvPrivateKeys} {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingEnvironmentVariables, strings.Join(missing, ", "))
	}

	config := Config{
		BaseURL: os.Getenv(EnvBaseURL),
		Issuer:  os.Getenv(EnvIssuer),
	}
	for _, path := range strings.Split(os.Getenv(EnvPrivateKeys), ",") {
		if path = strings.TrimSpace(path); path != "" {
			config.PrivateKeys = append(config.PrivateKeys, path)
		}
	}

	var result *multierror.Error
	for name, dst := range map[string]*time.Duration{
		EnvRequestTimeout: &config.RequestTimeout,
		EnvClockSkew:      &config.ClockSkew,
		EnvMaxTokenAge:    &config.MaxTokenAge,
		EnvPublicKeyTTL:   &config.PublicKeyTTL,
	} {
		value := os.Getenv(name)
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
			continue
		}
		*dst = d
	}
	if err := result.ErrorOrNil(); err != nil {
		return config, err
	}

	return config, config.Validate()
}

// Validate reports every problem with c.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			result = multierror.Append(result, fmt.Errorf("base_url %q must be an absolute URL", c.BaseURL))
		}
	}

	if c.Issuer == "" {
		result = multierror.Append(result, fmt.Errorf("issuer is required"))
	} else if _, err := domain.ParseEntityIdentifier(c.Issuer); err != nil {
		result = multierror.Append(result, fmt.Errorf("issuer is invalid: %w", err))
	}

	if len(c.PrivateKeys) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one private key is required"))
	}
	for i, path := range c.PrivateKeys {
		if path == "" {
			result = multierror.Append(result, fmt.Errorf("private key %d/%d has no path", i+1, len(c.PrivateKeys)))
		}
	}

	for name, d := range map[string]time.Duration{
		"request_timeout": c.RequestTimeout,
		"clock_skew":      c.ClockSkew,
		"max_token_age":   c.MaxTokenAge,
		"public_key_ttl":  c.PublicKeyTTL,
	} {
		if d < 0 {
			result = multierror.Append(result, fmt.Errorf("%s cannot be negative, got %s", name, d))
		}
	}

	return result.ErrorOrNil()
}

// Dump renders c as YAML.
func (c *Config) Dump() (string, error) {
	d, err := yaml.Marshal(c)
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to generate YAML dump of config")
	}
	return string(d), nil
}

// LoadPrivateKeys reads the configured keys into a ring.
func (c *Config) LoadPrivateKeys() (*keys.PrivateKeyRing, error) {
	if len(c.PrivateKeys) == 0 {
		return nil, fmt.Errorf("at least one private key is required")
	}

	loaded := make([]*rsa.PrivateKey, 0, len(c.PrivateKeys))
	for _, path := range c.PrivateKeys {
		key, err := keys.LoadPrivateKeyFromPEMFile(path)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to load private key %q", path)
		}
		loaded = append(loaded, key)
	}

	return keys.NewPrivateKeyRing(loaded[0], loaded[1:]...)
}

// NewTransport validates c, loads its keys and returns a transport signing as
// the configured issuer, together with the key ring it uses. overrides may
// adjust the transport options derived from c.
func (c *Config) NewTransport(ctx context.Context, overrides ...func(*transport.Options)) (*transport.HTTPTransport, *keys.PrivateKeyRing, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	issuer, err := domain.ParseEntityIdentifier(c.Issuer)
	if err != nil {
		return nil, nil, err
	}

	ring, err := c.LoadPrivateKeys()
	if err != nil {
		return nil, nil, err
	}

	timeout := c.RequestTimeout
	if timeout == 0 {
		timeout = transport.DefaultRequestTimeout
	}

	opts := transport.Options{
		BaseURL: c.BaseURL,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: k8stransport.NewDebuggingRoundTripper(http.DefaultTransport, k8stransport.DebugByContext),
		},
		Issuer:      issuer,
		PrivateKeys: ring,
		PublicKeys:  keys.NewPublicKeyStore(c.PublicKeyTTL, nil),
		ClockSkew:   c.ClockSkew,
		MaxTokenAge: c.MaxTokenAge,
	}
	for _, override := range overrides {
		override(&opts)
	}

	t, err := transport.New(opts)
	if err != nil {
		return nil, nil, err
	}

	klog.FromContext(ctx).WithName("config").V(logs.Debug).Info("created transport", "issuer", issuer, "keys", ring.KeyIDs())
	return t, ring, nil
}

// NewFactory is NewTransport followed by client.NewFactory.
func (c *Config) NewFactory(ctx context.Context, overrides ...func(*transport.Options)) (*client.Factory, error) {
	t, ring, err := c.NewTransport(ctx, overrides...)
	if err != nil {
		return nil, err
	}
	return client.NewFactory(t, ring), nil
}
