package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/iovation/launchkey-sdk-go/pkg/domain"
	"github.com/iovation/launchkey-sdk-go/pkg/keys"
	"github.com/iovation/launchkey-sdk-go/pkg/lkerror"
	"github.com/iovation/launchkey-sdk-go/pkg/logs"
)

const (
	// DefaultPollInterval is the delay between two polls of an authorization
	// request.
	DefaultPollInterval = time.Second

	// DefaultPollTimeout bounds WaitForAuthorizationResponse. It matches the
	// default lifetime of an authorization request.
	DefaultPollTimeout = 5 * time.Minute
)

var errAuthorizationPending = errors.New("authorization request is pending")

// ServiceTransport is the part of the transport used by a ServiceClient.
type ServiceTransport interface {
	Pinger
	ServiceV3AuthsPost(ctx context.Context, req domain.ServiceV3AuthsPostRequest, subject domain.EntityIdentifier) (*domain.ServiceV3AuthsPostResponse, error)
	ServiceV3AuthsGet(ctx context.Context, authRequestID uuid.UUID, subject domain.EntityIdentifier) (*domain.ServiceV3AuthsGetResponse, error)
	ServiceV3SessionsPost(ctx context.Context, req domain.ServiceV3SessionsPostRequest, subject domain.EntityIdentifier) error
	ServiceV3SessionsDelete(ctx context.Context, req domain.ServiceV3SessionsDeleteRequest, subject domain.EntityIdentifier) error
	HandleServerSentEventRequest(ctx context.Context, method, path string, headers map[string][]string, body string) (domain.ServerSentEvent, error)
}

// AuthorizationRequest identifies a created authorization request.
type AuthorizationRequest struct {
	ID uuid.UUID
	// PushPackage is set when the service handles its own push
	// notifications.
	PushPackage string
}

// ServiceClient performs the operations of a single service.
type ServiceClient struct {
	id           domain.EntityIdentifier
	transport    ServiceTransport
	privateKeys  *keys.PrivateKeyRing
	ping         *PingCache
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// ServiceOption configures a ServiceClient.
type ServiceOption func(*ServiceClient)

// WithPollInterval sets the delay between polls in
// WaitForAuthorizationResponse.
func WithPollInterval(d time.Duration) ServiceOption {
	return func(c *ServiceClient) { c.pollInterval = d }
}

// WithPollTimeout sets how long WaitForAuthorizationResponse polls before
// giving up.
func WithPollTimeout(d time.Duration) ServiceOption {
	return func(c *ServiceClient) { c.pollTimeout = d }
}

// WithPingCache replaces the client's ping cache.
func WithPingCache(p *PingCache) ServiceOption {
	return func(c *ServiceClient) { c.ping = p }
}

// NewServiceClient returns a client for the service serviceID. privateKeys
// must hold the keys auth packages are encrypted for.
func NewServiceClient(serviceID uuid.UUID, transport ServiceTransport, privateKeys *keys.PrivateKeyRing, opts ...ServiceOption) *ServiceClient {
	c := &ServiceClient{
		id:           domain.ServiceEntity(serviceID),
		transport:    transport,
		privateKeys:  privateKeys,
		pollInterval: DefaultPollInterval,
		pollTimeout:  DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ping == nil {
		c.ping = NewPingCache(transport, DefaultPingTTL)
	}
	return c
}

// ID returns the service's entity identifier.
func (c *ServiceClient) ID() domain.EntityIdentifier {
	return c.id
}

// APITime returns the API's current time, using a cached ping response when
// possible.
func (c *ServiceClient) APITime(ctx context.Context) (time.Time, error) {
	return c.ping.APITime(ctx)
}

// Authorize asks the user to authorize a request. Only req.Username is
// required.
func (c *ServiceClient) Authorize(ctx context.Context, req domain.ServiceV3AuthsPostRequest) (*AuthorizationRequest, error) {
	if req.Username == "" {
		return nil, lkerror.New(lkerror.InvalidRequest, "username cannot be empty", nil)
	}

	resp, err := c.transport.ServiceV3AuthsPost(ctx, req, c.id)
	if err != nil {
		return nil, err
	}

	klog.FromContext(ctx).WithName("client").V(logs.Debug).Info("created authorization request", "service", c.id, "authRequest", resp.AuthRequest)
	return &AuthorizationRequest{ID: resp.AuthRequest, PushPackage: resp.PushPackage}, nil
}

// GetAuthorizationResponse returns the user's response to an authorization
// request, or nil while the user has not responded.
func (c *ServiceClient) GetAuthorizationResponse(ctx context.Context, authRequestID uuid.UUID) (*domain.AuthResponse, error) {
	resp, err := c.transport.ServiceV3AuthsGet(ctx, authRequestID, c.id)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}

	authResponse, err := c.authResponse(*resp)
	if err != nil {
		return nil, err
	}

	if authResponse.AuthRequestID != authRequestID.String() {
		return nil, lkerror.Newf(lkerror.InvalidResponse, nil, "auth package is for request %s, expected %s", authResponse.AuthRequestID, authRequestID)
	}

	return authResponse, nil
}

// WaitForAuthorizationResponse polls GetAuthorizationResponse until the user
// responds. Retryable errors are retried; any other error ends polling. When
// the poll timeout elapses first, the error is of kind
// lkerror.AuthorizationRequestTimedOut.
func (c *ServiceClient) WaitForAuthorizationResponse(ctx context.Context, authRequestID uuid.UUID) (*domain.AuthResponse, error) {
	logger := klog.FromContext(ctx).WithName("client").WithValues("authRequest", authRequestID)

	operation := func() (*domain.AuthResponse, error) {
		resp, err := c.GetAuthorizationResponse(ctx, authRequestID)
		switch {
		case err != nil && !lkerror.Retryable(err):
			return nil, backoff.Permanent(err)
		case err != nil:
			logger.V(logs.Debug).Info("retrying after error", "err", err)
			return nil, err
		case resp == nil:
			logger.V(logs.Trace).Info("authorization request is pending")
			return nil, errAuthorizationPending
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.pollInterval)),
		backoff.WithMaxElapsedTime(c.pollTimeout),
	)
	if errors.Is(err, errAuthorizationPending) {
		return nil, lkerror.Newf(lkerror.AuthorizationRequestTimedOut, nil, "no response to authorization request %s after %s", authRequestID, c.pollTimeout)
	}
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// SessionStart tells the API that the user has started a session.
// authRequestID links the session to the authorization which started it and
// may be nil.
func (c *ServiceClient) SessionStart(ctx context.Context, username string, authRequestID *uuid.UUID) error {
	if username == "" {
		return lkerror.New(lkerror.InvalidRequest, "username cannot be empty", nil)
	}
	return c.transport.ServiceV3SessionsPost(ctx, domain.ServiceV3SessionsPostRequest{Username: username, AuthRequest: authRequestID}, c.id)
}

// SessionEnd tells the API that the user's session has ended.
func (c *ServiceClient) SessionEnd(ctx context.Context, username string) error {
	if username == "" {
		return lkerror.New(lkerror.InvalidRequest, "username cannot be empty", nil)
	}
	return c.transport.ServiceV3SessionsDelete(ctx, domain.ServiceV3SessionsDeleteRequest{Username: username}, c.id)
}

// WebhookPackage is the result of HandleWebhook. It is one of
// *AuthorizationResponseWebhook or *SessionEndWebhook.
type WebhookPackage interface {
	webhookPackage()
}

// AuthorizationResponseWebhook carries a user's response delivered to the
// webhook.
type AuthorizationResponseWebhook struct {
	Response domain.AuthResponse
}

// SessionEndWebhook reports that a user ended their session from their device.
type SessionEndWebhook struct {
	UserHash        string
	LogoutRequested time.Time
}

func (*AuthorizationResponseWebhook) webhookPackage() {}
func (*SessionEndWebhook) webhookPackage()            {}

// HandleWebhook verifies and decodes a callback received by the service's
// webhook. method and path are those of the received request.
func (c *ServiceClient) HandleWebhook(ctx context.Context, method, path string, headers map[string][]string, body string) (WebhookPackage, error) {
	event, err := c.transport.HandleServerSentEventRequest(ctx, method, path, headers, body)
	if err != nil {
		return nil, err
	}

	switch e := event.(type) {
	case *domain.ServerSentEventAuthorizationResponse:
		resp, err := c.authResponse(e.ServiceV3AuthsGetResponse)
		if err != nil {
			return nil, err
		}
		return &AuthorizationResponseWebhook{Response: *resp}, nil

	case *domain.ServerSentEventUserServiceSessionEnd:
		return &SessionEndWebhook{UserHash: e.UserHash, LogoutRequested: e.APITime}, nil
	}

	return nil, lkerror.New(lkerror.InvalidRequest, fmt.Sprintf("unsupported server sent event %T", event), nil)
}

func (c *ServiceClient) authResponse(resp domain.ServiceV3AuthsGetResponse) (*domain.AuthResponse, error) {
	pkg, err := decryptAuthPackage(c.privateKeys, resp)
	if err != nil {
		return nil, err
	}

	authResponse := domain.NewAuthResponse(resp, pkg)
	return &authResponse, nil
}
