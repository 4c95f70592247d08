package client

import (
	"context"

	"github.com/google/uuid"

	"github.com/iovation/launchkey-sdk-go/pkg/domain"
	"github.com/iovation/launchkey-sdk-go/pkg/lkerror"
)

// OrganizationTransport is the part of the transport used by an
// OrganizationClient.
type OrganizationTransport interface {
	OrganizationV3DirectoriesPatch(ctx context.Context, req domain.OrganizationV3DirectoriesPatchRequest, subject domain.EntityIdentifier) error
}

// DirectoryUpdate lists the directory settings to change. Nil fields are left
// unchanged.
type DirectoryUpdate struct {
	Active     *bool
	AndroidKey *string
	IOSP12     *string
}

// OrganizationClient manages the directories of an organization.
type OrganizationClient struct {
	id        domain.EntityIdentifier
	transport OrganizationTransport
}

// NewOrganizationClient returns a client for the organization orgID.
func NewOrganizationClient(orgID uuid.UUID, transport OrganizationTransport) *OrganizationClient {
	return &OrganizationClient{id: domain.OrganizationEntity(orgID), transport: transport}
}

// ID returns the organization's entity identifier.
func (c *OrganizationClient) ID() domain.EntityIdentifier {
	return c.id
}

// UpdateDirectory changes the settings of one of the organization's
// directories.
func (c *OrganizationClient) UpdateDirectory(ctx context.Context, directoryID uuid.UUID, update DirectoryUpdate) error {
	if directoryID == uuid.Nil {
		return lkerror.New(lkerror.InvalidRequest, "directory ID cannot be empty", nil)
	}

	return c.transport.OrganizationV3DirectoriesPatch(ctx, domain.OrganizationV3DirectoriesPatchRequest{
		DirectoryID: directoryID,
		Active:      update.Active,
		AndroidKey:  update.AndroidKey,
		IOSP12:      update.IOSP12,
	}, c.id)
}
