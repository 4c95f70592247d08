package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iovation/launchkey-sdk-go/pkg/client"
	"github.com/iovation/launchkey-sdk-go/pkg/domain"
	"github.com/iovation/launchkey-sdk-go/pkg/transport"
	"github.com/iovation/launchkey-sdk-go/pkg/version"
)

func TestSetFlagsFromEnv(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	listen := fs.String("listen", ":8080", "")
	serviceID := fs.String("service-id", "", "")
	path := fs.String("path", "/webhook", "")

	require.NoError(t, fs.Parse([]string{"--path=/from-flag"}))
	t.Setenv("LAUNCHKEY_LISTEN", ":9090")
	t.Setenv("LAUNCHKEY_SERVICE_ID", "abc")
	t.Setenv("LAUNCHKEY_PATH", "/from-env")

	setFlagsFromEnv("LAUNCHKEY_", fs)

	assert.Equal(t, ":9090", *listen)
	assert.Equal(t, "abc", *serviceID)
	assert.Equal(t, "/from-flag", *path, "flags given on the command line win")
}

func TestWebhookServiceID(t *testing.T) {
	id := uuid.MustParse("c2f9d37a-2d2b-11e7-93ae-92361f002671")

	tests := []struct {
		name      string
		flag      string
		issuer    string
		want      uuid.UUID
		wantError string
	}{
		{name: "from service issuer", issuer: "svc:" + id.String(), want: id},
		{name: "flag wins", flag: id.String(), issuer: "org:" + uuid.NewString(), want: id},
		{name: "organization issuer", issuer: "org:" + id.String(), wantError: "--service-id is required"},
		{name: "bad flag", flag: "nope", issuer: "svc:" + id.String(), wantError: "invalid --service-id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			webhookFlags.serviceID = tt.flag
			t.Cleanup(func() { webhookFlags.serviceID = "" })

			got, err := webhookServiceID(tt.issuer)
			if tt.wantError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintWebhook(t *testing.T) {
	ctx := t.Context()
	assert.NoError(t, printWebhook(ctx, &client.SessionEndWebhook{UserHash: "uh", LogoutRequested: time.Now()}))
	assert.NoError(t, printWebhook(ctx, &client.AuthorizationResponseWebhook{Response: domain.AuthResponse{AuthRequestID: "id", Authorized: true}}))
	assert.Error(t, printWebhook(ctx, nil))
}

func TestPrettyPrint(t *testing.T) {
	webhookFlags.compact = true
	t.Cleanup(func() { webhookFlags.compact = false })

	assert.Equal(t, `{"UserHash":"uh"}`, prettyPrint(struct{ UserHash string }{"uh"}))
}

func TestPrintVersion(t *testing.T) {
	var short bytes.Buffer
	printVersion(&short, false)
	assert.Contains(t, short.String(), version.SDKVersion)
	assert.NotContains(t, short.String(), "User-Agent")

	var long bytes.Buffer
	printVersion(&long, true)
	assert.Contains(t, long.String(), version.UserAgent())
	assert.Contains(t, long.String(), transport.DefaultBaseURL)
	assert.Contains(t, long.String(), "RSA-OAEP-256 + A256CBC-HS512")
}
