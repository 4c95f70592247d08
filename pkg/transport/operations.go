package transport

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/iovation/launchkey-sdk-go/pkg/domain"
)

// ServiceV3AuthsPost creates an authorization request.
func (t *HTTPTransport) ServiceV3AuthsPost(ctx context.Context, req domain.ServiceV3AuthsPostRequest, subject domain.EntityIdentifier) (*domain.ServiceV3AuthsPostResponse, error) {
	resp := &domain.ServiceV3AuthsPostResponse{}
	_, err := t.do(ctx, call{
		operation: "ServiceV3AuthsPost",
		method:    http.MethodPost,
		path:      "/service/v3/auths",
		subject:   subject,
		request:   req,
		response:  resp,
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ServiceV3AuthsGet polls an authorization request. It returns nil and no
// error while the user has not responded yet.
func (t *HTTPTransport) ServiceV3AuthsGet(ctx context.Context, authRequestID uuid.UUID, subject domain.EntityIdentifier) (*domain.ServiceV3AuthsGetResponse, error) {
	resp := &domain.ServiceV3AuthsGetResponse{}
	status, err := t.do(ctx, call{
		operation: "ServiceV3AuthsGet",
		method:    http.MethodGet,
		path:      "/service/v3/auths/" + authRequestID.String(),
		subject:   subject,
		response:  resp,
	})
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return resp, nil
}

// ServiceV3SessionsPost starts a session for a user.
func (t *HTTPTransport) ServiceV3SessionsPost(ctx context.Context, req domain.ServiceV3SessionsPostRequest, subject domain.EntityIdentifier) error {
	_, err := t.do(ctx, call{
		operation: "ServiceV3SessionsPost",
		method:    http.MethodPost,
		path:      "/service/v3/sessions",
		subject:   subject,
		request:   req,
	})
	return err
}

// ServiceV3SessionsDelete ends a user's session.
func (t *HTTPTransport) ServiceV3SessionsDelete(ctx context.Context, req domain.ServiceV3SessionsDeleteRequest, subject domain.EntityIdentifier) error {
	_, err := t.do(ctx, call{
		operation: "ServiceV3SessionsDelete",
		method:    http.MethodDelete,
		path:      "/service/v3/sessions",
		subject:   subject,
		request:   req,
	})
	return err
}

// DirectoryV3DevicesPost begins linking a device for a user.
func (t *HTTPTransport) DirectoryV3DevicesPost(ctx context.Context, req domain.DirectoryV3DevicesPostRequest, subject domain.EntityIdentifier) (*domain.DirectoryV3DevicesPostResponse, error) {
	resp := &domain.DirectoryV3DevicesPostResponse{}
	_, err := t.do(ctx, call{
		operation: "DirectoryV3DevicesPost",
		method:    http.MethodPost,
		path:      "/directory/v3/devices",
		subject:   subject,
		request:   req,
		response:  resp,
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// DirectoryV3DevicesListPost lists a user's devices.
func (t *HTTPTransport) DirectoryV3DevicesListPost(ctx context.Context, req domain.DirectoryV3DevicesListPostRequest, subject domain.EntityIdentifier) (domain.DirectoryV3DevicesListPostResponse, error) {
	var resp domain.DirectoryV3DevicesListPostResponse
	_, err := t.do(ctx, call{
		operation: "DirectoryV3DevicesListPost",
		method:    http.MethodPost,
		path:      "/directory/v3/devices/list",
		subject:   subject,
		request:   req,
		response:  &resp,
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// DirectoryV3DevicesDelete unlinks a device.
func (t *HTTPTransport) DirectoryV3DevicesDelete(ctx context.Context, req domain.DirectoryV3DevicesDeleteRequest, subject domain.EntityIdentifier) error {
	_, err := t.do(ctx, call{
		operation: "DirectoryV3DevicesDelete",
		method:    http.MethodDelete,
		path:      "/directory/v3/devices",
		subject:   subject,
		request:   req,
	})
	return err
}

// DirectoryV3SessionsListPost lists a user's sessions across services.
func (t *HTTPTransport) DirectoryV3SessionsListPost(ctx context.Context, req domain.DirectoryV3SessionsListPostRequest, subject domain.EntityIdentifier) (domain.DirectoryV3SessionsListPostResponse, error) {
	var resp domain.DirectoryV3SessionsListPostResponse
	_, err := t.do(ctx, call{
		operation: "DirectoryV3SessionsListPost",
		method:    http.MethodPost,
		path:      "/directory/v3/sessions/list",
		subject:   subject,
		request:   req,
		response:  &resp,
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// DirectoryV3SessionsDelete ends all of a user's sessions.
func (t *HTTPTransport) DirectoryV3SessionsDelete(ctx context.Context, req domain.DirectoryV3SessionsDeleteRequest, subject domain.EntityIdentifier) error {
	_, err := t.do(ctx, call{
		operation: "DirectoryV3SessionsDelete",
		method:    http.MethodDelete,
		path:      "/directory/v3/sessions",
		subject:   subject,
		request:   req,
	})
	return err
}

// OrganizationV3DirectoriesPatch updates a directory.
func (t *HTTPTransport) OrganizationV3DirectoriesPatch(ctx context.Context, req domain.OrganizationV3DirectoriesPatchRequest, subject domain.EntityIdentifier) error {
	_, err := t.do(ctx, call{
		operation: "OrganizationV3DirectoriesPatch",
		method:    http.MethodPatch,
		path:      "/organization/v3/directories",
		subject:   subject,
		request:   req,
	})
	return err
}
