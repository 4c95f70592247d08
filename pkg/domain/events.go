package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/iovation/launchkey-sdk-go/pkg/lkerror"
)

// ServerSentEvent is a decoded callback delivered by the API to a webhook.
// It is one of *ServerSentEventAuthorizationResponse or
// *ServerSentEventUserServiceSessionEnd.
type ServerSentEvent interface {
	serverSentEvent()
}

// ServerSentEventAuthorizationResponse reports a user's response to an
// authorization request. It carries the same data as
// ServiceV3AuthsGetResponse.
type ServerSentEventAuthorizationResponse struct {
	ServiceV3AuthsGetResponse
}

// ServerSentEventUserServiceSessionEnd reports that a user ended their
// session with a service from their device.
type ServerSentEventUserServiceSessionEnd struct {
	APITime  time.Time `json:"api_time"`
	UserHash string    `json:"user_hash"`
}

func (*ServerSentEventAuthorizationResponse) serverSentEvent() {}
func (*ServerSentEventUserServiceSessionEnd) serverSentEvent() {}

// ParseServerSentEvent classifies and decodes a decrypted callback body.
// Bodies which are not JSON yield lkerror.InvalidResponse; JSON which matches
// no known event yields lkerror.InvalidRequest.
func ParseServerSentEvent(body []byte) (ServerSentEvent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, lkerror.New(lkerror.InvalidResponse, "server sent event body is not a JSON object", err)
	}

	switch {
	case has(fields, "service_user_hash") && has(fields, "auth"):
		event := &ServerSentEventAuthorizationResponse{}
		if err := json.Unmarshal(body, &event.ServiceV3AuthsGetResponse); err != nil {
			return nil, lkerror.New(lkerror.InvalidResponse, "failed to decode authorization response event", err)
		}
		return event, nil

	case has(fields, "api_time") && has(fields, "user_hash"):
		event := &ServerSentEventUserServiceSessionEnd{}
		if err := json.Unmarshal(body, event); err != nil {
			return nil, lkerror.New(lkerror.InvalidResponse, "failed to decode session end event", err)
		}
		return event, nil
	}

	return nil, lkerror.New(lkerror.InvalidRequest, fmt.Sprintf("unrecognized server sent event with fields %v", slices.Sorted(maps.Keys(fields))), nil)
}

func has(fields map[string]json.RawMessage, name string) bool {
	_, ok := fields[name]
	return ok
}
