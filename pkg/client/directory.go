package client

import (
	"context"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/iovation/launchkey-sdk-go/pkg/domain"
	"github.com/iovation/launchkey-sdk-go/pkg/lkerror"
	"github.com/iovation/launchkey-sdk-go/pkg/logs"
)

// DirectoryTransport is the part of the transport used by a DirectoryClient.
type DirectoryTransport interface {
	DirectoryV3DevicesPost(ctx context.Context, req domain.DirectoryV3DevicesPostRequest, subject domain.EntityIdentifier) (*domain.DirectoryV3DevicesPostResponse, error)
	DirectoryV3DevicesListPost(ctx context.Context, req domain.DirectoryV3DevicesListPostRequest, subject domain.EntityIdentifier) (domain.DirectoryV3DevicesListPostResponse, error)
	DirectoryV3DevicesDelete(ctx context.Context, req domain.DirectoryV3DevicesDeleteRequest, subject domain.EntityIdentifier) error
	DirectoryV3SessionsListPost(ctx context.Context, req domain.DirectoryV3SessionsListPostRequest, subject domain.EntityIdentifier) (domain.DirectoryV3SessionsListPostResponse, error)
	DirectoryV3SessionsDelete(ctx context.Context, req domain.DirectoryV3SessionsDeleteRequest, subject domain.EntityIdentifier) error
}

// DirectoryClient manages the users and devices of a directory.
type DirectoryClient struct {
	id        domain.EntityIdentifier
	transport DirectoryTransport
}

// NewDirectoryClient returns a client for the directory directoryID.
func NewDirectoryClient(directoryID uuid.UUID, transport DirectoryTransport) *DirectoryClient {
	return &DirectoryClient{id: domain.DirectoryEntity(directoryID), transport: transport}
}

// ID returns the directory's entity identifier.
func (c *DirectoryClient) ID() domain.EntityIdentifier {
	return c.id
}

// LinkDevice starts linking a new device for the user. The returned QR code
// and code are shown to the user for the duration of ttl seconds; zero
// selects the API default.
func (c *DirectoryClient) LinkDevice(ctx context.Context, userID string, ttl int) (*domain.DirectoryV3DevicesPostResponse, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	if ttl < 0 {
		return nil, lkerror.Newf(lkerror.InvalidRequest, nil, "ttl cannot be negative, got %d", ttl)
	}

	resp, err := c.transport.DirectoryV3DevicesPost(ctx, domain.DirectoryV3DevicesPostRequest{Identifier: userID, TTL: ttl}, c.id)
	if err != nil {
		return nil, err
	}

	klog.FromContext(ctx).WithName("client").V(logs.Debug).Info("started device link", "directory", c.id, "deviceID", resp.DeviceID)
	return resp, nil
}

// GetLinkedDevices returns the user's devices.
func (c *DirectoryClient) GetLinkedDevices(ctx context.Context, userID string) ([]domain.Device, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	return c.transport.DirectoryV3DevicesListPost(ctx, domain.DirectoryV3DevicesListPostRequest{Identifier: userID}, c.id)
}

// UnlinkDevice removes one of the user's devices.
func (c *DirectoryClient) UnlinkDevice(ctx context.Context, userID, deviceID string) error {
	if err := requireUserID(userID); err != nil {
		return err
	}
	if deviceID == "" {
		return lkerror.New(lkerror.InvalidRequest, "device ID cannot be empty", nil)
	}
	return c.transport.DirectoryV3DevicesDelete(ctx, domain.DirectoryV3DevicesDeleteRequest{Identifier: userID, DeviceID: deviceID}, c.id)
}

// EndAllServiceSessions ends the user's sessions with every service of the
// directory.
func (c *DirectoryClient) EndAllServiceSessions(ctx context.Context, userID string) error {
	if err := requireUserID(userID); err != nil {
		return err
	}
	return c.transport.DirectoryV3SessionsDelete(ctx, domain.DirectoryV3SessionsDeleteRequest{Identifier: userID}, c.id)
}

// GetAllServiceSessions returns the user's sessions with the directory's
// services.
func (c *DirectoryClient) GetAllServiceSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	return c.transport.DirectoryV3SessionsListPost(ctx, domain.DirectoryV3SessionsListPostRequest{Identifier: userID}, c.id)
}

func requireUserID(userID string) error {
	if userID == "" {
		return lkerror.New(lkerror.InvalidRequest, "user ID cannot be empty", nil)
	}
	return nil
}
