package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/ktesting"

	"github.com/iovation/launchkey-sdk-go/internal/testkeys"
	"github.com/iovation/launchkey-sdk-go/pkg/transport"

	_ "k8s.io/klog/v2/ktesting/init"
)

const issuer = "svc:c2f9d37a-2d2b-11e7-93ae-92361f002671"

func testContext(t *testing.T) context.Context {
	log := ktesting.NewLogger(t, ktesting.DefaultConfig)
	return klog.NewContext(t.Context(), log)
}

// writeKeys writes the client keys as PEM files and returns their paths,
// current key first.
func writeKeys(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()

	current := filepath.Join(dir, "current.pem")
	require.NoError(t, os.WriteFile(current, testkeys.PrivateKeyPEM(testkeys.Client()), 0o600))

	previous := filepath.Join(dir, "previous.pem")
	require.NoError(t, os.WriteFile(previous, testkeys.PKCS8PrivateKeyPEM(testkeys.ClientPrevious()), 0o600))

	return []string{current, previous}
}

// clearEnv unsets every LAUNCHKEY_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	for _, name := range []string{EnvBaseURL, EnvIssuer, EnvPrivateKeys, EnvRequestTimeout, EnvClockSkew, EnvMaxTokenAge, EnvPublicKeyTTL} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name       string
		yaml       string
		want       Config
		wantErrors []string
	}{
		{
			name: "full",
			yaml: `
base_url: https://api.example.com
issuer: ` + issuer + `
private_keys:
  - /keys/current.pem
  - /keys/previous.pem
request_timeout: 10s
clock_skew: 2s
max_token_age: 3s
public_key_ttl: 1m
`,
			want: Config{
				BaseURL:        "https://api.example.com",
				Issuer:         issuer,
				PrivateKeys:    []string{"/keys/current.pem", "/keys/previous.pem"},
				RequestTimeout: 10 * time.Second,
				ClockSkew:      2 * time.Second,
				MaxTokenAge:    3 * time.Second,
				PublicKeyTTL:   time.Minute,
			},
		},
		{
			name: "minimal",
			yaml: "issuer: " + issuer + "\nprivate_keys: [key.pem]\n",
			want: Config{Issuer: issuer, PrivateKeys: []string{"key.pem"}},
		},
		{
			name: "every problem is reported",
			yaml: "base_url: /relative\nissuer: app:123\nclock_skew: -1s\n",
			wantErrors: []string{
				`base_url "/relative" must be an absolute URL`,
				"issuer is invalid",
				"at least one private key is required",
				"clock_skew cannot be negative, got -1s",
			},
		},
		{
			name:       "missing issuer",
			yaml:       "private_keys: [key.pem, '']\n",
			wantErrors: []string{"issuer is required", "private key 2/2 has no path"},
		},
		{
			name:       "unknown field",
			yaml:       "issuer: " + issuer + "\nprivate_keys: [key.pem]\ntoken: abc\n",
			wantErrors: []string{"failed to parse config", "field token not found"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfig([]byte(tt.yaml))
			if len(tt.wantErrors) > 0 {
				require.Error(t, err)
				for _, want := range tt.wantErrors {
					assert.Contains(t, err.Error(), want)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("issuer: "+issuer+"\nprivate_keys: [key.pem]\n"), 0o600))

	got, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, issuer, got.Issuer)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Run("variables", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvIssuer, issuer)
		t.Setenv(EnvPrivateKeys, "current.pem, previous.pem,")
		t.Setenv(EnvClockSkew, "2s")
		t.Setenv(EnvPublicKeyTTL, "10m")

		got, err := LoadConfigFromEnvironment()
		require.NoError(t, err)
		assert.Equal(t, Config{
			Issuer:       issuer,
			PrivateKeys:  []string{"current.pem", "previous.pem"},
			ClockSkew:    2 * time.Second,
			PublicKeyTTL: 10 * time.Minute,
		}, got)
	})

	t.Run("env file does not override variables", func(t *testing.T) {
		clearEnv(t)
		envFile := filepath.Join(t.TempDir(), "test.env")
		require.NoError(t, os.WriteFile(envFile, []byte(
			"LAUNCHKEY_ISSUER="+issuer+"\n"+
				"LAUNCHKEY_PRIVATE_KEYS=from-file.pem\n"+
				"LAUNCHKEY_BASE_URL=https://file.example.com\n"), 0o600))
		t.Setenv(EnvBaseURL, "https://env.example.com")

		got, err := LoadConfigFromEnvironment(envFile)
		require.NoError(t, err)
		assert.Equal(t, "https://env.example.com", got.BaseURL)
		assert.Equal(t, issuer, got.Issuer)
		assert.Equal(t, []string{"from-file.pem"}, got.PrivateKeys)
	})

	t.Run("missing variables", func(t *testing.T) {
		clearEnv(t)
		t.Chdir(t.TempDir())

		_, err := LoadConfigFromEnvironment()
		require.ErrorIs(t, err, ErrMissingEnvironmentVariables)
		assert.EqualError(t, err, "missing environment variables: LAUNCHKEY_ISSUER, LAUNCHKEY_PRIVATE_KEYS")
	})

	t.Run("bad duration", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvIssuer, issuer)
		t.Setenv(EnvPrivateKeys, "key.pem")
		t.Setenv(EnvRequestTimeout, "soon")

		_, err := LoadConfigFromEnvironment()
		require.Error(t, err)
		assert.Contains(t, err.Error(), EnvRequestTimeout)
	})

	t.Run("missing env file", func(t *testing.T) {
		clearEnv(t)
		_, err := LoadConfigFromEnvironment(filepath.Join(t.TempDir(), "missing.env"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load environment files")
	})
}

func TestDump(t *testing.T) {
	c := Config{Issuer: issuer, PrivateKeys: []string{"key.pem"}, ClockSkew: 2 * time.Second}

	dump, err := c.Dump()
	require.NoError(t, err)

	got, err := ParseConfig([]byte(dump))
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestLoadPrivateKeys(t *testing.T) {
	paths := writeKeys(t)
	c := Config{Issuer: issuer, PrivateKeys: paths}

	ring, err := c.LoadPrivateKeys()
	require.NoError(t, err)
	assert.True(t, testkeys.Client().Equal(ring.Current().Key))
	assert.Len(t, ring.KeyIDs(), 2)

	c.PrivateKeys = append(c.PrivateKeys, filepath.Join(t.TempDir(), "missing.pem"))
	_, err = c.LoadPrivateKeys()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.pem")
}

func TestNewFactory(t *testing.T) {
	ctx := testContext(t)
	server := transport.NewMockAPIServer(t, testkeys.API(), &testkeys.Client().PublicKey)

	c := Config{BaseURL: server.URL(), Issuer: issuer, PrivateKeys: writeKeys(t)}
	factory, err := c.NewFactory(ctx, func(opts *transport.Options) {
		opts.HTTPClient = server.Client()
		opts.Registerer = prometheus.NewRegistry()
	})
	require.NoError(t, err)

	apiTime, err := factory.ServiceClient(uuid.MustParse("c2f9d37a-2d2b-11e7-93ae-92361f002671")).APITime(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), apiTime, time.Minute)

	_, _, err = (&Config{}).NewTransport(ctx)
	assert.Error(t, err)
}
