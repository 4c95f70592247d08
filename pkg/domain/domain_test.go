package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maxatome/go-testdeep/td"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iovation/launchkey-sdk-go/pkg/lkerror"
)

var testID = uuid.MustParse("c2f9d37a-2d2b-11e7-93ae-92361f002671")

func TestEntityIdentifier_String(t *testing.T) {
	assert.Equal(t, "svc:c2f9d37a-2d2b-11e7-93ae-92361f002671", ServiceEntity(testID).String())
	assert.Equal(t, "dir:c2f9d37a-2d2b-11e7-93ae-92361f002671", DirectoryEntity(testID).String())
	assert.Equal(t, "org:c2f9d37a-2d2b-11e7-93ae-92361f002671", OrganizationEntity(testID).String())
}

func TestParseEntityIdentifier(t *testing.T) {
	tests := []struct {
		input   string
		want    EntityIdentifier
		wantErr bool
	}{
		{input: "svc:c2f9d37a-2d2b-11e7-93ae-92361f002671", want: ServiceEntity(testID)},
		{input: "dir:c2f9d37a-2d2b-11e7-93ae-92361f002671", want: DirectoryEntity(testID)},
		{input: "org:c2f9d37a-2d2b-11e7-93ae-92361f002671", want: OrganizationEntity(testID)},
		{input: "app:c2f9d37a-2d2b-11e7-93ae-92361f002671", wantErr: true},
		{input: "svc:not-a-uuid", wantErr: true},
		{input: "c2f9d37a-2d2b-11e7-93ae-92361f002671", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseEntityIdentifier(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, lkerror.Is(err, lkerror.UnknownEntity), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEntityIdentifier_Text(t *testing.T) {
	type wrapper struct {
		Entity EntityIdentifier `json:"entity"`
	}

	data, err := json.Marshal(wrapper{Entity: DirectoryEntity(testID)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"entity":"dir:c2f9d37a-2d2b-11e7-93ae-92361f002671"}`, string(data))

	var parsed wrapper
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, DirectoryEntity(testID), parsed.Entity)

	err = json.Unmarshal([]byte(`{"entity":"xyz:1"}`), &parsed)
	assert.True(t, lkerror.Is(err, lkerror.UnknownEntity), "got %v", err)

	_, err = json.Marshal(wrapper{})
	assert.Error(t, err)
	assert.True(t, EntityIdentifier{}.IsZero())
}

func TestRequests_JSON(t *testing.T) {
	active := true
	androidKey := "a"

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{
			name:  "sessions list",
			value: DirectoryV3SessionsListPostRequest{Identifier: "UserId"},
			want:  `{"identifier":"UserId"}`,
		},
		{
			name:  "devices delete",
			value: DirectoryV3DevicesDeleteRequest{Identifier: "user", DeviceID: "device"},
			want:  `{"identifier":"user","device_id":"device"}`,
		},
		{
			name:  "directories patch",
			value: OrganizationV3DirectoriesPatchRequest{DirectoryID: testID, Active: &active, AndroidKey: &androidKey},
			want:  `{"directory_id":"c2f9d37a-2d2b-11e7-93ae-92361f002671","active":true,"android_key":"a"}`,
		},
		{
			name:  "auths post without policy",
			value: ServiceV3AuthsPostRequest{Username: "user", Context: "login"},
			want:  `{"username":"user","context":"login"}`,
		},
		{
			name:  "auths post with policy",
			value: ServiceV3AuthsPostRequest{Username: "user", Policy: &AuthPolicy{Any: 1}},
			want:  `{"username":"user","policy":{"minimum_requirements":[{"requirement":"authenticated","any":1}],"factors":[]}}`,
		},
		{
			name:  "sessions post",
			value: ServiceV3SessionsPostRequest{Username: "user", AuthRequest: &testID},
			want:  `{"username":"user","auth_request":"c2f9d37a-2d2b-11e7-93ae-92361f002671"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestResponses_JSON(t *testing.T) {
	var devices DirectoryV3DevicesListPostResponse
	require.NoError(t, json.Unmarshal([]byte(`[
		{"id":"d1","name":"phone","type":"Android","status":1},
		{"id":"d2","name":"tablet","type":"iOS","status":0}
	]`), &devices))

	td.Cmp(t, devices, td.Bag(
		td.Struct(Device{ID: "d1", Name: "phone", Type: "Android", Status: DeviceLinked}, nil),
		td.Struct(Device{ID: "d2", Name: "tablet", Type: "iOS", Status: DeviceLinkPending}, nil),
	))
	assert.Equal(t, "LINKED", devices[0].Status.String())

	var ping PublicV3PingGetResponse
	require.NoError(t, json.Unmarshal([]byte(`{"api_time":"2017-04-04T18:12:34Z"}`), &ping))
	assert.Equal(t, time.Date(2017, 4, 4, 18, 12, 34, 0, time.UTC), ping.APITime)
}

func TestParseServerSentEvent(t *testing.T) {
	t.Run("authorization response", func(t *testing.T) {
		event, err := ParseServerSentEvent([]byte(`{"service_user_hash":"suh","org_user_hash":"ouh","user_push_id":"upi","public_key_id":"pk","auth":"enc"}`))
		require.NoError(t, err)

		auth, ok := event.(*ServerSentEventAuthorizationResponse)
		require.True(t, ok, "got %T", event)
		assert.Equal(t, "suh", auth.ServiceUserHash)
		assert.Equal(t, "ouh", auth.OrgUserHash)
		assert.Equal(t, "enc", auth.Auth)
	})

	t.Run("session end", func(t *testing.T) {
		event, err := ParseServerSentEvent([]byte(`{"api_time":"2017-04-04T18:12:34Z","user_hash":"uh"}`))
		require.NoError(t, err)

		end, ok := event.(*ServerSentEventUserServiceSessionEnd)
		require.True(t, ok, "got %T", event)
		assert.Equal(t, "uh", end.UserHash)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := ParseServerSentEvent([]byte(`{"something":"else"}`))
		assert.True(t, lkerror.Is(err, lkerror.InvalidRequest), "got %v", err)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := ParseServerSentEvent([]byte(`nope`))
		assert.True(t, lkerror.Is(err, lkerror.InvalidResponse), "got %v", err)
	})
}

func TestNewAuthResponse(t *testing.T) {
	resp := ServiceV3AuthsGetResponse{ServiceUserHash: "suh", OrgUserHash: "ouh", UserPushID: "upi"}

	got := NewAuthResponse(resp, AuthPackage{AuthRequest: testID, Response: true, DeviceID: "dev"})
	assert.Equal(t, AuthResponse{
		AuthRequestID:      testID.String(),
		Authorized:         true,
		UserHash:           "suh",
		OrganizationUserID: "ouh",
		UserPushID:         "upi",
		DeviceID:           "dev",
		Type:               AuthResponseAuthorized,
	}, got)

	denied := NewAuthResponse(resp, AuthPackage{AuthRequest: testID, Type: "DENIED", Reason: "FRAUDULENT", DenialReason: "32"})
	assert.False(t, denied.Authorized)
	assert.Equal(t, AuthResponseDenied, denied.Type)
	assert.Equal(t, "32", denied.DenialReason)
}
